package session

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Recorder streams the instrument's audio to a WAV file while the capture
// daemon runs.
type Recorder interface {
	Start(wavPath string) error
	// Stop ends recording. It is safe to call more than once.
	Stop() error
	// Close releases the output file. It is safe to call more than once,
	// and implies Stop.
	Close() error
}

// RecorderFactory creates a fresh Recorder for each run.
type RecorderFactory func() Recorder

// CommandRecorder records through an external program that takes the output
// path as its last argument, e.g. "rec -q -c 2 <wav>".
type CommandRecorder struct {
	Runner  Runner
	Command []string
	Grace   time.Duration // Time allowed after SIGINT before the recorder is killed

	mu   sync.Mutex
	proc Process
}

// NewCommandRecorder creates a CommandRecorder with a two second grace period.
func NewCommandRecorder(runner Runner, command []string) *CommandRecorder {
	return &CommandRecorder{Runner: runner, Command: command, Grace: 2 * time.Second}
}

// Start launches the recorder.
func (r *CommandRecorder) Start(wavPath string) error {
	if len(r.Command) == 0 {
		return errors.New("recorder command is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc != nil {
		return errors.New("recorder already started")
	}

	args := append(append([]string{}, r.Command[1:]...), wavPath)
	proc, err := r.Runner.Start(r.Command[0], args...)
	if err != nil {
		return err
	}
	r.proc = proc
	return nil
}

// Stop interrupts the recorder so it finalizes the WAV header, and kills it
// if it does not exit within the grace period.
func (r *CommandRecorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc == nil {
		return nil
	}
	proc := r.proc
	r.proc = nil

	if exited, err := proc.Poll(); exited {
		return err
	}
	if err := proc.Signal(os.Interrupt); err != nil {
		return fmt.Errorf("interrupt recorder: %w", err)
	}

	deadline := time.Now().Add(r.Grace)
	for time.Now().Before(deadline) {
		if exited, _ := proc.Poll(); exited {
			// Recorders exit non-zero on SIGINT; the file is complete either way.
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("kill recorder: %w", err)
	}
	proc.Wait()
	return nil
}

// Close stops the recorder if it is still running.
func (r *CommandRecorder) Close() error {
	return r.Stop()
}

// FrameSource yields interleaved 16-bit frames for a StreamRecorder.
type FrameSource interface {
	// ReadFrames fills buf with interleaved samples and returns how many it
	// wrote. io.EOF ends the stream.
	ReadFrames(buf []int) (int, error)
}

// ProcessSource is a FrameSource fed by an external process. The recorder
// starts it with the recording, interrupts it on Stop and drains what it
// wrote before closing it.
type ProcessSource interface {
	FrameSource
	Start() error
	Interrupt() error
	Close() error
}

// StreamRecorder records in-process: a goroutine pulls samples from Source
// and encodes them to a 16-bit PCM WAV.
type StreamRecorder struct {
	Source     FrameSource
	SampleRate int
	Channels   int
	ChunkSize  int           // Samples per read, all channels included
	Grace      time.Duration // Time a ProcessSource gets to flush after Interrupt

	mu      sync.Mutex
	file    *os.File
	enc     *wav.Encoder
	stop    chan struct{}
	done    chan struct{}
	err     error
	stopped bool
}

// NewStreamRecorder creates a StreamRecorder reading 1024 frames at a time.
func NewStreamRecorder(src FrameSource, sampleRate, channels int) *StreamRecorder {
	return &StreamRecorder{
		Source:     src,
		SampleRate: sampleRate,
		Channels:   channels,
		ChunkSize:  1024 * channels,
		Grace:      2 * time.Second,
	}
}

// Start creates wavPath and begins streaming.
func (r *StreamRecorder) Start(wavPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		return errors.New("recorder already started")
	}
	if r.Channels < 1 || r.SampleRate < 1 {
		return fmt.Errorf("invalid stream format: %d channels at %d Hz", r.Channels, r.SampleRate)
	}

	f, err := os.Create(wavPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", wavPath, err)
	}
	enc := wav.NewEncoder(f, r.SampleRate, 16, r.Channels, 1)
	// An empty write emits the headers, so a recording that never receives a
	// sample is still a valid WAV.
	empty := &audio.IntBuffer{Format: &audio.Format{NumChannels: r.Channels, SampleRate: r.SampleRate}, SourceBitDepth: 16}
	if err := enc.Write(empty); err != nil {
		f.Close()
		os.Remove(wavPath)
		return fmt.Errorf("write wav header: %w", err)
	}
	if ps, ok := r.Source.(ProcessSource); ok {
		if err := ps.Start(); err != nil {
			f.Close()
			os.Remove(wavPath)
			return err
		}
	}
	r.file = f
	r.enc = enc
	r.err = nil
	r.stopped = false
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	go r.stream()
	return nil
}

func (r *StreamRecorder) stream() {
	defer close(r.done)

	size := r.ChunkSize
	if size < r.Channels {
		size = r.Channels
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: r.Channels, SampleRate: r.SampleRate},
		Data:           make([]int, size),
		SourceBitDepth: 16,
	}
	data := buf.Data

	for {
		select {
		case <-r.stop:
			return
		default:
		}

		n, err := r.Source.ReadFrames(data)
		if n > 0 {
			buf.Data = data[:n-n%r.Channels]
			if werr := r.enc.Write(buf); werr != nil {
				r.err = fmt.Errorf("encode audio: %w", werr)
				return
			}
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			select {
			case <-r.stop:
				// The source was closed under the read while stopping.
			default:
				r.err = fmt.Errorf("read frames: %w", err)
			}
			return
		}
	}
}

// Stop ends the streaming goroutine and reports its error, if any.
func (r *StreamRecorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopLocked()
}

func (r *StreamRecorder) stopLocked() error {
	if r.file == nil || r.stopped {
		return nil
	}
	r.stopped = true

	ps, ok := r.Source.(ProcessSource)
	if !ok {
		close(r.stop)
		<-r.done
		return r.err
	}

	// Let the producer flush: interrupt it and read until EOF, then close
	// it even if it ignored the interrupt.
	intErr := ps.Interrupt()
	select {
	case <-r.done:
	case <-time.After(r.Grace):
	}
	close(r.stop)
	closeErr := ps.Close()
	<-r.done
	return errors.Join(r.err, intErr, closeErr)
}

// Close stops streaming, writes the final WAV header and closes the file.
func (r *StreamRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	stopErr := r.stopLocked()
	encErr := r.enc.Close()
	fileErr := r.file.Close()
	r.file = nil
	r.enc = nil
	return errors.Join(stopErr, encErr, fileErr)
}

// CommandSource runs a program that writes raw interleaved little-endian
// 16-bit PCM to its stdout, e.g. "arecord -q -t raw -f S16_LE -c 2 -r 44100".
type CommandSource struct {
	Command []string

	cmd    *exec.Cmd
	out    *bufio.Reader
	stderr *tailBuffer
	raw    []byte
	closed bool
}

// NewCommandSource creates a CommandSource for command.
func NewCommandSource(command []string) *CommandSource {
	return &CommandSource{Command: command}
}

// Start launches the program.
func (s *CommandSource) Start() error {
	if len(s.Command) == 0 {
		return errors.New("stream command is empty")
	}
	if s.cmd != nil {
		return errors.New("stream source already started")
	}
	name, args := s.Command[0], s.Command[1:]
	cmd := exec.Command(name, args...)
	s.stderr = &tailBuffer{max: stderrTail}
	cmd.Stderr = s.stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stream stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return toolError(name, args, err, s.stderr)
	}
	s.cmd = cmd
	s.out = bufio.NewReaderSize(stdout, 64*1024)
	return nil
}

// ReadFrames decodes up to len(buf) samples. A trailing odd byte is dropped.
func (s *CommandSource) ReadFrames(buf []int) (int, error) {
	if s.out == nil {
		return 0, errors.New("stream source not started")
	}
	need := 2 * len(buf)
	if cap(s.raw) < need {
		s.raw = make([]byte, need)
	}
	raw := s.raw[:need]

	n, err := io.ReadFull(s.out, raw)
	for i := 0; i < n/2; i++ {
		buf[i] = int(int16(binary.LittleEndian.Uint16(raw[2*i:])))
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return n / 2, err
}

// Interrupt asks the program to finish.
func (s *CommandSource) Interrupt() error {
	if s.cmd == nil {
		return nil
	}
	if err := s.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("interrupt stream command: %w", err)
	}
	return nil
}

// Close kills the program if it is still running and reaps it. It is safe
// to call more than once.
func (s *CommandSource) Close() error {
	if s.cmd == nil || s.closed {
		return nil
	}
	s.closed = true
	if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill stream command: %w", err)
	}
	// Capture tools exit non-zero when interrupted; the samples already read
	// are complete either way.
	s.cmd.Wait()
	return nil
}
