// Package session drives an acquisition session: for every stimulus it runs
// the capture daemon and the audio recorder through a fixed state machine,
// then copies the parameter file, splits the audio channels and extracts the
// sync pulses into the run directory.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/harrison/ultrasession/internal/acq"
	"github.com/harrison/ultrasession/internal/config"
	"github.com/harrison/ultrasession/internal/filelock"
	"github.com/harrison/ultrasession/internal/models"
	"github.com/harrison/ultrasession/internal/syncpulse"
)

// Logger receives session events.
type Logger interface {
	LogTrace(message string)
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)
	LogRunStart(index, total int, stimulus string)
	LogStage(runTimestamp, stage string)
	LogRunComplete(run models.Run, completed, total int)
	LogSessionSummary(result models.SessionResult)
}

// Metrics receives stage timings and run outcomes.
type Metrics interface {
	ObserveStage(stage string, d time.Duration)
	RecordRun(run models.Run, pulses int)
}

// RunIndexer stores processed runs, e.g. in the catalog.
type RunIndexer interface {
	IndexRun(ctx context.Context, sessionID string, run models.Run) error
}

// Options are the per-session choices made on the command line.
type Options struct {
	ParamsFile     string // Imaging parameter file passed to the capture daemon
	CaptureCommand string // Overrides the configured ultracomm command
	Randomize      bool   // Shuffle stimuli before the session
	Prompt         bool   // Ask the operator before each run and before ending it
}

// Controller runs acquisition sessions. A Controller is not safe for
// concurrent use; only one session may run per experiment directory.
type Controller struct {
	cfg         *config.Config
	opts        Options
	kind        acq.Kind
	extractor   *syncpulse.Extractor
	logger      Logger
	runner      Runner
	dialer      Dialer
	newRecorder RecorderFactory
	prompter    Prompter
	rng         *rand.Rand
	now         func() time.Time
	observer    StateObserver
	metrics     Metrics
	indexer     RunIndexer
	sessionID   string
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the event logger.
func WithLogger(l Logger) Option { return func(c *Controller) { c.logger = l } }

// WithRunner replaces the os/exec runner.
func WithRunner(r Runner) Option { return func(c *Controller) { c.runner = r } }

// WithDialer replaces the Unix socket dialer.
func WithDialer(d Dialer) Option { return func(c *Controller) { c.dialer = d } }

// WithRecorder replaces the command recorder factory.
func WithRecorder(f RecorderFactory) Option { return func(c *Controller) { c.newRecorder = f } }

// WithPrompter replaces the stdin prompter.
func WithPrompter(p Prompter) Option { return func(c *Controller) { c.prompter = p } }

// WithRand sets the shuffle source.
func WithRand(r *rand.Rand) Option { return func(c *Controller) { c.rng = r } }

// WithClock sets the clock used for run timestamps.
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// WithObserver registers a stage observer.
func WithObserver(o StateObserver) Option { return func(c *Controller) { c.observer = o } }

// WithMetrics registers a metrics sink.
func WithMetrics(m Metrics) Option { return func(c *Controller) { c.metrics = m } }

// WithIndexer registers a run indexer.
func WithIndexer(ix RunIndexer) Option { return func(c *Controller) { c.indexer = ix } }

// WithSessionID overrides the generated session ID.
func WithSessionID(id string) Option { return func(c *Controller) { c.sessionID = id } }

// NewController validates cfg and opts and builds a Controller.
func NewController(cfg *config.Config, opts Options, options ...Option) (*Controller, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if opts.ParamsFile == "" {
		return nil, errors.New("params file is required")
	}
	if _, err := os.Stat(opts.ParamsFile); err != nil {
		return nil, fmt.Errorf("params file: %w", err)
	}
	if opts.CaptureCommand == "" {
		opts.CaptureCommand = cfg.Ultracomm
	}
	kind, err := acq.LookupKind(cfg.ArtifactKind)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:  cfg,
		opts: opts,
		kind: kind,
		extractor: syncpulse.NewExtractor(syncpulse.Settings{
			Channel:     cfg.Sync.Channel,
			Threshold:   cfg.Sync.Threshold,
			MinDuration: cfg.Sync.MinDuration,
		}),
		runner:    ExecRunner{},
		dialer:    UnixDialer{Path: cfg.ControlSocket, Timeout: cfg.Connect.Interval},
		prompter:  NewLinePrompter(os.Stdin, os.Stdout),
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:       time.Now,
		sessionID: uuid.NewString(),
	}
	for _, o := range options {
		o(c)
	}
	if c.logger == nil {
		c.logger = nopLogger{}
	}
	if c.newRecorder == nil {
		c.newRecorder = defaultRecorders(cfg, c.runner)
	}
	return c, nil
}

// defaultRecorders builds the recorder factory selected by cfg.Recorder.
func defaultRecorders(cfg *config.Config, runner Runner) RecorderFactory {
	if cfg.Recorder == config.RecorderModeStream {
		stream := cfg.Stream
		return func() Recorder {
			return NewStreamRecorder(NewCommandSource(stream.Command), stream.SampleRate, stream.Channels)
		}
	}
	command := cfg.RecorderCommand
	return func() Recorder { return NewCommandRecorder(runner, command) }
}

// SessionID returns the identifier recorded in logs, the manifest and the catalog.
func (c *Controller) SessionID() string {
	return c.sessionID
}

// Run acquires one run per stimulus. It stops at the first failure; the
// returned result always lists the runs attempted so far.
func (c *Controller) Run(ctx context.Context, stimuli []string) (*models.SessionResult, error) {
	started := time.Now()
	order := append([]string(nil), stimuli...)
	if c.opts.Randomize {
		c.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	result := &models.SessionResult{SessionID: c.sessionID, Planned: len(order)}

	lock, err := filelock.LockExperiment(c.cfg.ProjectDir)
	if err != nil {
		return result, err
	}
	defer lock.Unlock()

	c.logger.LogInfo(fmt.Sprintf("Session %s: %d acquisitions into %s", c.sessionID, len(order), c.cfg.ProjectDir))

	err = c.runAll(ctx, order, result)
	result.Duration = time.Since(started)
	result.Err = err
	c.logger.LogSessionSummary(*result)
	c.writeManifest(started, order, result)
	return result, err
}

func (c *Controller) runAll(ctx context.Context, order []string, result *models.SessionResult) error {
	for i, stim := range order {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("session interrupted: %w", err)
		}
		if c.opts.Prompt {
			if err := c.prompter.Prompt(ctx, PromptStartRun); err != nil {
				return fmt.Errorf("session interrupted: %w", err)
			}
		}

		run, pulses, err := c.runOne(ctx, i+1, len(order), stim)
		if run != nil {
			result.Runs = append(result.Runs, *run)
			if c.metrics != nil {
				c.metrics.RecordRun(*run, pulses)
			}
		}
		if err != nil {
			c.logger.LogError(err.Error())
			return err
		}

		result.Completed++
		c.logger.LogRunComplete(*run, result.Completed, result.Planned)
		if c.indexer != nil {
			if err := c.indexer.IndexRun(context.WithoutCancel(ctx), c.sessionID, *run); err != nil {
				c.logger.LogWarn(fmt.Sprintf("could not catalog run %s: %v", run.Timestamp, err))
			}
		}
	}
	return nil
}

// runOne acquires and post-processes a single run.
func (c *Controller) runOne(ctx context.Context, index, total int, stim string) (*models.Run, int, error) {
	ts := acq.NewTimestamp(c.now())
	runDir := filepath.Join(c.cfg.ProjectDir, ts)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, 0, fmt.Errorf("could not create %s: %w", runDir, err)
	}

	run := &models.Run{
		Timestamp: ts,
		Dir:       runDir,
		Stimulus:  stim,
		ImageFile: c.kind.ImagePath(runDir, ts),
		AudioFile: c.kind.AudioPath(runDir, ts),
		Status:    models.RunFailed,
		StartedAt: time.Now(),
	}
	c.logger.LogRunStart(index, total, stim)

	err := c.acquire(ctx, run)
	if err == nil {
		run.Status = models.RunAcquired
	}

	// Post-processing runs even if the stop prompt was interrupted, so the
	// captured data is kept.
	var pulses int
	if err == nil {
		pulses, err = c.postProcess(context.WithoutCancel(ctx), run)
		if err == nil {
			run.Status = models.RunProcessed
		}
	}
	run.Duration = time.Since(run.StartedAt)
	return run, pulses, err
}

// postProcess copies the sidecars, splits the audio channels and writes the
// sync table.
func (c *Controller) postProcess(ctx context.Context, run *models.Run) (int, error) {
	clock := c.stageClock(run.Timestamp)
	defer clock.finish()

	clock.enter(StageCopyParams)
	run.ParamsFile = filepath.Join(run.Dir, acq.DefaultParamsFile)
	c.logger.LogInfo(fmt.Sprintf("Copying %s to %s", c.opts.ParamsFile, run.ParamsFile))
	params, err := os.ReadFile(c.opts.ParamsFile)
	if err != nil {
		return 0, c.stageError(run, StageCopyParams, fmt.Errorf("could not copy parameter file: %w", err))
	}
	if err := filelock.AtomicWrite(run.ParamsFile, params); err != nil {
		return 0, c.stageError(run, StageCopyParams, fmt.Errorf("could not copy parameter file: %w", err))
	}
	if err := filelock.AtomicWrite(filepath.Join(run.Dir, acq.StimulusFile), []byte(run.Stimulus)); err != nil {
		return 0, c.stageError(run, StageCopyParams, fmt.Errorf("could not create %s: %w", acq.StimulusFile, err))
	}

	clock.enter(StageSplitChannels)
	c.logger.LogInfo("Separating audio channels")
	for _, ch := range c.cfg.SplitChannels {
		out := c.kind.ChannelPath(run.Dir, run.Timestamp, ch)
		if err := c.runner.Run(ctx, c.cfg.SoxCommand, run.AudioFile, out, "remix", strconv.Itoa(ch)); err != nil {
			return 0, c.stageError(run, StageSplitChannels, err)
		}
	}

	clock.enter(StageExtractSync)
	c.logger.LogInfo(fmt.Sprintf("Creating synchronization table for %s", run.AudioFile))
	res, err := c.extractor.Export(run.AudioFile)
	if err != nil {
		return 0, c.stageError(run, StageExtractSync, err)
	}
	run.SyncFile = res.Path
	c.logger.LogInfo(fmt.Sprintf("Found %d synchronization pulses.", res.Count()))
	if res.MinInterval.Valid {
		c.logger.LogInfo(fmt.Sprintf("Frame durations range [%0.4f %0.4f].", res.MinInterval.Value, res.MaxInterval.Value))
	}
	return res.Count(), nil
}

func (c *Controller) stageError(run *models.Run, stage Stage, err error) error {
	return &StageError{Stage: stage, Timestamp: run.Timestamp, Err: err}
}

func (c *Controller) writeManifest(started time.Time, order []string, result *models.SessionResult) {
	path, err := config.GetManifestPath(c.cfg.ProjectDir, c.sessionID)
	if err != nil {
		c.logger.LogWarn(fmt.Sprintf("could not write session manifest: %v", err))
		return
	}
	m := &Manifest{
		SessionID:  c.sessionID,
		StartedAt:  started,
		Duration:   result.Duration.Round(time.Millisecond).String(),
		ProjectDir: c.cfg.ProjectDir,
		ParamsFile: c.opts.ParamsFile,
		Ultracomm:  c.opts.CaptureCommand,
		Randomized: c.opts.Randomize,
		Stimuli:    order,
	}
	for _, run := range result.Runs {
		m.Runs = append(m.Runs, newManifestRun(run))
	}
	if result.Err != nil {
		m.Error = result.Err.Error()
	}
	if err := WriteManifest(path, m); err != nil {
		c.logger.LogWarn(fmt.Sprintf("could not write session manifest: %v", err))
		return
	}
	c.logger.LogDebug(fmt.Sprintf("Session manifest written to %s", path))
}

// stageClock announces stage transitions and times each stage.
type stageClock struct {
	c       *Controller
	ts      string
	current Stage
	started time.Time
	active  bool
}

func (c *Controller) stageClock(ts string) *stageClock {
	return &stageClock{c: c, ts: ts}
}

func (s *stageClock) enter(stage Stage) {
	s.finish()
	s.current, s.started, s.active = stage, time.Now(), true
	s.c.logger.LogStage(s.ts, stage.String())
	if s.c.observer != nil {
		s.c.observer(s.ts, stage)
	}
}

func (s *stageClock) finish() {
	if s.active && s.c.metrics != nil {
		s.c.metrics.ObserveStage(s.current.String(), time.Since(s.started))
	}
	s.active = false
}

type nopLogger struct{}

func (nopLogger) LogTrace(string)                        {}
func (nopLogger) LogDebug(string)                        {}
func (nopLogger) LogInfo(string)                         {}
func (nopLogger) LogWarn(string)                         {}
func (nopLogger) LogError(string)                        {}
func (nopLogger) LogRunStart(int, int, string)           {}
func (nopLogger) LogStage(string, string)                {}
func (nopLogger) LogRunComplete(models.Run, int, int)    {}
func (nopLogger) LogSessionSummary(models.SessionResult) {}
