package session

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harrison/ultrasession/internal/config"
	"github.com/harrison/ultrasession/internal/models"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const (
	testRate     = 10000
	testFrames   = 10000
	pulseEvery   = 1000
	pulseSamples = 20
)

// pulseSource emits two channels: silence on 0 and a pulse train on 1.
type pulseSource struct {
	frame int
	total int
}

func (s *pulseSource) ReadFrames(buf []int) (int, error) {
	n := 0
	for n+1 < len(buf) && s.frame < s.total {
		buf[n] = 0
		if s.frame >= pulseEvery && s.frame%pulseEvery < pulseSamples {
			buf[n+1] = math.MaxInt16 / 2
		} else {
			buf[n+1] = 0
		}
		n += 2
		s.frame++
	}
	if s.frame >= s.total {
		return n, io.EOF
	}
	return n, nil
}

func newPulseRecorder() Recorder {
	return NewStreamRecorder(&pulseSource{total: testFrames}, testRate, 2)
}

type call struct {
	name string
	args []string
}

// fakeRunner plays ultracomm and sox.
type fakeRunner struct {
	mu        sync.Mutex
	calls     []call
	freezeErr error
	soxErr    error
	exitErr   error // returned by the capture process after END
	procs     []*fakeProcess
	ended     chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{ended: make(chan struct{}, 16)}
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) error {
	r.mu.Lock()
	r.calls = append(r.calls, call{name, args})
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if contains(args, "--freeze-only") {
		return r.freezeErr
	}
	if contains(args, "remix") {
		if r.soxErr != nil {
			return r.soxErr
		}
		return os.WriteFile(args[1], []byte("RIFF"), 0644)
	}
	return nil
}

func (r *fakeRunner) Start(name string, args ...string) (Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{name, args})
	p := &fakeProcess{runner: r, exitErr: r.exitErr}
	r.procs = append(r.procs, p)
	return p, nil
}

func (r *fakeRunner) lastProcess() *fakeProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.procs) == 0 {
		return nil
	}
	return r.procs[len(r.procs)-1]
}

func (r *fakeRunner) commandLines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.calls {
		out = append(out, c.name+" "+strings.Join(c.args, " "))
	}
	return out
}

// fakeProcess exits once the control channel received END, or when killed.
type fakeProcess struct {
	mu      sync.Mutex
	runner  *fakeRunner
	exited  bool
	killed  bool
	exitErr error
}

func (p *fakeProcess) end() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exited = true
}

func (p *fakeProcess) Poll() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.exited {
		return false, nil
	}
	if p.killed {
		return true, errors.New("killed")
	}
	return true, p.exitErr
}

func (p *fakeProcess) Wait() error {
	for {
		if exited, err := p.Poll(); exited {
			return err
		}
		time.Sleep(time.Millisecond)
	}
}

func (p *fakeProcess) Signal(os.Signal) error { return nil }

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	p.exited = true
	return nil
}

func (p *fakeProcess) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// fakeDialer connects to the most recent fake capture process.
type fakeDialer struct {
	runner   *fakeRunner
	failures int // attempts that fail before a connection succeeds, -1 for always
	mu       sync.Mutex
	attempts int
	written  []string
}

func (d *fakeDialer) Address() string { return "fake.sock" }

func (d *fakeDialer) Dial() (io.WriteCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if d.failures < 0 || d.attempts <= d.failures {
		return nil, errors.New("connection refused")
	}
	return &fakeConn{dialer: d, proc: d.runner.lastProcess()}, nil
}

type fakeConn struct {
	dialer *fakeDialer
	proc   *fakeProcess
	closed bool
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.dialer.mu.Lock()
	c.dialer.written = append(c.dialer.written, string(p))
	c.dialer.mu.Unlock()
	if string(p) == EndToken && c.proc != nil {
		c.proc.end()
	}
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

// scriptedPrompter records prompts and can fail on a given message.
type scriptedPrompter struct {
	mu       sync.Mutex
	messages []string
	failOn   string
	failErr  error
	onPrompt func(message string)
}

func (p *scriptedPrompter) Prompt(ctx context.Context, message string) error {
	p.mu.Lock()
	p.messages = append(p.messages, message)
	p.mu.Unlock()
	if p.onPrompt != nil {
		p.onPrompt(message)
	}
	if p.failOn == message {
		return p.failErr
	}
	return nil
}

// trackingRecorder wraps a Recorder and remembers whether it was closed.
type trackingRecorder struct {
	Recorder
	mu     sync.Mutex
	closed bool
}

func (t *trackingRecorder) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return t.Recorder.Close()
}

type fakeMetrics struct {
	mu     sync.Mutex
	stages []string
	runs   []models.Run
	pulses []int
}

func (m *fakeMetrics) ObserveStage(stage string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, stage)
}

func (m *fakeMetrics) RecordRun(run models.Run, pulses int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	m.pulses = append(m.pulses, pulses)
}

type fakeIndexer struct {
	sessions []string
	runs     []models.Run
}

func (ix *fakeIndexer) IndexRun(ctx context.Context, sessionID string, run models.Run) error {
	ix.sessions = append(ix.sessions, sessionID)
	ix.runs = append(ix.runs, run)
	return nil
}

// steppingClock advances one second per call so runs get distinct directories.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 5, 6, 14, 8, 9, 0, time.FixedZone("PDT", -7*3600))
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur := t
		t = t.Add(time.Second)
		return cur
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("ULTRASESSION_HOME", "")
	cfg := config.DefaultConfig()
	cfg.ProjectDir = t.TempDir()
	cfg.Connect.Interval = 2 * time.Millisecond
	cfg.Connect.Timeout = 40 * time.Millisecond
	cfg.PollInterval = time.Millisecond
	return cfg
}

func writeParams(t *testing.T) string {
	t.Helper()
	path := t.TempDir() + "/imaging.cfg"
	require.NoError(t, os.WriteFile(path, []byte("b-depth = 80\nb-gain = 50 # percent\n"), 0644))
	return path
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// acquisitionStages is the acquisition state machine order.
func acquisitionStages() []Stage {
	return []Stage{
		StageFreeze,
		StageStartStream,
		StageLaunchCapture,
		StageConnectChannel,
		StageAwaitStopSignal,
		StageSendEndToken,
		StageAwaitCaptureExit,
		StageStopStream,
	}
}

func readManifest(t *testing.T, path string) *Manifest {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var m Manifest
	require.NoError(t, yaml.Unmarshal(data, &m))
	return &m
}
