package session

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
)

// stderrTail bounds how much of a tool's stderr is kept for error messages.
const stderrTail = 4096

// Runner starts external tools.
type Runner interface {
	// Run executes a command to completion. A non-zero exit is an
	// *ExternalToolError.
	Run(ctx context.Context, name string, args ...string) error
	// Start launches a long-lived command. It is not bound to a context:
	// once launched, the capture daemon is only ended through its control
	// channel or killed during cleanup.
	Start(name string, args ...string) (Process, error)
}

// Process is a running external command.
type Process interface {
	// Poll reports whether the process has exited without blocking. Once it
	// has, err describes a non-zero exit.
	Poll() (exited bool, err error)
	Wait() error
	Signal(sig os.Signal) error
	Kill() error
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args and waits for it.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stderr = stderr
	cmd.Stdout = os.Stdout
	return toolError(name, args, cmd.Run(), stderr)
}

// Start launches name with args in the background.
func (ExecRunner) Start(name string, args ...string) (Process, error) {
	cmd := exec.Command(name, args...)
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stderr = stderr
	cmd.Stdout = os.Stdout
	if err := cmd.Start(); err != nil {
		return nil, toolError(name, args, err, stderr)
	}

	p := &execProcess{cmd: cmd, name: name, args: args, stderr: stderr, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	name   string
	args   []string
	stderr *tailBuffer
	done   chan struct{}
	err    error
}

func (p *execProcess) Poll() (bool, error) {
	select {
	case <-p.done:
		return true, toolError(p.name, p.args, p.err, p.stderr)
	default:
		return false, nil
	}
}

func (p *execProcess) Wait() error {
	<-p.done
	return toolError(p.name, p.args, p.err, p.stderr)
}

func (p *execProcess) Signal(sig os.Signal) error {
	if err := p.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *execProcess) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// toolError converts an exec error into an *ExternalToolError.
func toolError(name string, args []string, err error, stderr *tailBuffer) error {
	if err == nil {
		return nil
	}
	te := &ExternalToolError{Tool: name, Args: args, ExitCode: -1, Err: err, Stderr: stderr.String()}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		te.ExitCode = exitErr.ExitCode()
	}
	return te
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
