package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
)

// Operator prompts.
const (
	PromptStartRun = "Press <Enter> for acquisition."
	PromptStopRun  = "Press Enter to end ultrasession."
)

// Prompter blocks until the operator confirms.
type Prompter interface {
	Prompt(ctx context.Context, message string) error
}

// LinePrompter prints a message and waits for a line on its input.
type LinePrompter struct {
	in  io.Reader
	out io.Writer

	once    sync.Once
	lines   chan error
	readErr error // Set before lines is closed
}

// NewLinePrompter creates a LinePrompter reading from in and writing to out.
func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{in: in, out: out}
}

// Prompt waits for Enter or ctx cancellation. A closed input is io.EOF.
func (p *LinePrompter) Prompt(ctx context.Context, message string) error {
	p.once.Do(p.startReader)
	fmt.Fprint(p.out, message)

	select {
	case err, ok := <-p.lines:
		fmt.Fprintln(p.out)
		if !ok {
			return p.readErr
		}
		return err
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return ctx.Err()
	}
}

// startReader reads lines in the background so a cancelled prompt does not
// swallow the next Enter. The goroutine exits at the first read error.
func (p *LinePrompter) startReader() {
	// One slot lets the goroutine finish after EOF even if no prompt is waiting.
	p.lines = make(chan error, 1)
	go func() {
		defer close(p.lines)
		r := bufio.NewReader(p.in)
		for {
			if _, err := r.ReadString('\n'); err != nil {
				p.readErr = err
				p.lines <- err
				return
			}
			p.lines <- nil
		}
	}()
}
