package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/harrison/ultrasession/internal/acq"
	"github.com/harrison/ultrasession/internal/config"
	"github.com/harrison/ultrasession/internal/filelock"
	"github.com/harrison/ultrasession/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	cfg      *config.Config
	params   string
	runner   *fakeRunner
	dialer   *fakeDialer
	prompter *scriptedPrompter
	metrics  *fakeMetrics
	indexer  *fakeIndexer
	stages   []Stage
	recs     []*trackingRecorder
}

func newHarness(t *testing.T) *harness {
	runner := newFakeRunner()
	return &harness{
		cfg:      testConfig(t),
		params:   writeParams(t),
		runner:   runner,
		dialer:   &fakeDialer{runner: runner},
		prompter: &scriptedPrompter{},
		metrics:  &fakeMetrics{},
		indexer:  &fakeIndexer{},
	}
}

func (h *harness) controller(t *testing.T, opts Options, extra ...Option) *Controller {
	t.Helper()
	if opts.ParamsFile == "" {
		opts.ParamsFile = h.params
	}
	options := []Option{
		WithRunner(h.runner),
		WithDialer(h.dialer),
		WithPrompter(h.prompter),
		WithClock(steppingClock()),
		WithMetrics(h.metrics),
		WithIndexer(h.indexer),
		WithSessionID("test-session"),
		WithRecorder(func() Recorder {
			rec := &trackingRecorder{Recorder: newPulseRecorder()}
			h.recs = append(h.recs, rec)
			return rec
		}),
		WithObserver(func(ts string, stage Stage) { h.stages = append(h.stages, stage) }),
	}
	c, err := NewController(h.cfg, opts, append(options, extra...)...)
	require.NoError(t, err)
	return c
}

// runDirs lists run directories in timestamp order.
func runDirs(t *testing.T, projectDir string) []string {
	t.Helper()
	entries, err := os.ReadDir(projectDir)
	require.NoError(t, err)
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			if _, err := acq.ParseTimestamp(e.Name()); err == nil {
				dirs = append(dirs, filepath.Join(projectDir, e.Name()))
			}
		}
	}
	sort.Strings(dirs)
	return dirs
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRunThreeStimuliInFileOrder(t *testing.T) {
	h := newHarness(t)
	stimFile := filepath.Join(t.TempDir(), "stims.txt")
	require.NoError(t, os.WriteFile(stimFile, []byte("apa\nbepa  \ncepa\n"), 0644))
	stims, err := ReadStimuli(stimFile)
	require.NoError(t, err)

	c := h.controller(t, Options{Randomize: false, Prompt: false})
	result, err := c.Run(context.Background(), stims)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Planned)
	assert.Equal(t, 3, result.Completed)
	assert.Equal(t, "test-session", result.SessionID)

	dirs := runDirs(t, h.cfg.ProjectDir)
	require.Len(t, dirs, 3)

	wantParams := readFile(t, h.params)
	for i, dir := range dirs {
		ts := filepath.Base(dir)
		assert.Equal(t, wantParams, readFile(t, filepath.Join(dir, "params.cfg")))
		assert.Equal(t, []string{"apa", "bepa", "cepa"}[i], readFile(t, filepath.Join(dir, "stim.txt")))
		assert.FileExists(t, filepath.Join(dir, ts+".bpr.wav"))
		assert.FileExists(t, filepath.Join(dir, ts+".bpr.ch1.wav"))
		assert.FileExists(t, filepath.Join(dir, ts+".bpr.ch2.wav"))

		sync := readFile(t, filepath.Join(dir, ts+".bpr.sync.txt"))
		assert.True(t, strings.HasPrefix(sync, "0.1000\t0\n0.2000\t1\n"), "sync table: %q", sync)
		assert.Equal(t, 9, strings.Count(sync, "\n"))

		run := result.Runs[i]
		assert.Equal(t, models.RunProcessed, run.Status)
		assert.Equal(t, ts, run.Timestamp)
		assert.Equal(t, filepath.Join(dir, ts+".bpr.sync.txt"), run.SyncFile)
	}

	assert.Equal(t, []int{9, 9, 9}, h.metrics.pulses)
	assert.Len(t, h.indexer.runs, 3)
	assert.Equal(t, "test-session", h.indexer.sessions[0])

	manifestPath := filepath.Join(h.cfg.ProjectDir, config.StateDirName, "session-test-session.yaml")
	m := readManifest(t, manifestPath)
	assert.Equal(t, []string{"apa", "bepa", "cepa"}, m.Stimuli)
	require.Len(t, m.Runs, 3)
	assert.Equal(t, models.RunProcessed, m.Runs[2].Status)
	assert.Empty(t, m.Error)

	_, err = os.Stat(filepath.Join(h.cfg.ProjectDir, filelock.ExperimentLockName))
	assert.NoError(t, err)
}

func TestRunInvokesToolsWithExpectedArguments(t *testing.T) {
	h := newHarness(t)
	c := h.controller(t, Options{CaptureCommand: "/opt/ultracomm"})

	result, err := c.Run(context.Background(), []string{""})
	require.NoError(t, err)
	run := result.Runs[0]

	lines := h.runner.commandLines()
	require.Len(t, lines, 4)
	assert.Equal(t, "/opt/ultracomm --params "+h.params+" --freeze-only", lines[0])
	assert.Equal(t, "/opt/ultracomm --params "+h.params+" --output "+run.ImageFile+" --named-pipe", lines[1])
	assert.Equal(t, "sox "+run.AudioFile+" "+filepath.Join(run.Dir, run.Timestamp+".bpr.ch1.wav")+" remix 1", lines[2])
	assert.Equal(t, "sox "+run.AudioFile+" "+filepath.Join(run.Dir, run.Timestamp+".bpr.ch2.wav")+" remix 2", lines[3])

	assert.Equal(t, []string{"END"}, h.dialer.written)
	assert.Equal(t, "", readFile(t, filepath.Join(run.Dir, "stim.txt")))
}

func TestStageOrder(t *testing.T) {
	h := newHarness(t)
	c := h.controller(t, Options{})

	_, err := c.Run(context.Background(), []string{"apa"})
	require.NoError(t, err)

	want := append(acquisitionStages(), StageCopyParams, StageSplitChannels, StageExtractSync)
	assert.Equal(t, want, h.stages)

	var names []string
	for _, s := range want {
		names = append(names, s.String())
	}
	assert.Equal(t, names, h.metrics.stages)
}

func TestPromptsAroundEachRun(t *testing.T) {
	h := newHarness(t)
	c := h.controller(t, Options{Prompt: true})

	_, err := c.Run(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{PromptStartRun, PromptStopRun, PromptStartRun, PromptStopRun}, h.prompter.messages)
}

func TestNoPromptSkipsStopSignal(t *testing.T) {
	h := newHarness(t)
	c := h.controller(t, Options{Prompt: false})

	_, err := c.Run(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Empty(t, h.prompter.messages)
	assert.Contains(t, h.stages, StageAwaitStopSignal)
}

func TestRandomizeUsesInjectedSource(t *testing.T) {
	stims := []string{"a", "b", "c", "d", "e", "f"}
	want := append([]string(nil), stims...)
	rand.New(rand.NewPCG(7, 11)).Shuffle(len(want), func(i, j int) { want[i], want[j] = want[j], want[i] })

	h := newHarness(t)
	c := h.controller(t, Options{Randomize: true}, WithRand(rand.New(rand.NewPCG(7, 11))))
	result, err := c.Run(context.Background(), stims)
	require.NoError(t, err)

	var got []string
	for _, dir := range runDirs(t, h.cfg.ProjectDir) {
		got = append(got, readFile(t, filepath.Join(dir, "stim.txt")))
	}
	assert.Equal(t, want, got)
	assert.ElementsMatch(t, stims, got)
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, stims, "input slice must not be shuffled in place")
	assert.Equal(t, 6, result.Completed)
}

func TestFreezeFailureStopsSession(t *testing.T) {
	h := newHarness(t)
	h.runner.freezeErr = &ExternalToolError{Tool: "ultracomm", ExitCode: 1}
	c := h.controller(t, Options{})

	result, err := c.Run(context.Background(), []string{"a", "b", "c"})
	require.Error(t, err)

	stage, ok := FailedStage(err)
	require.True(t, ok)
	assert.Equal(t, StageFreeze, stage)
	assert.True(t, IsExternalToolError(err))

	require.Len(t, result.Runs, 1)
	assert.Equal(t, models.RunFailed, result.Runs[0].Status)
	assert.Equal(t, 0, result.Completed)
	assert.Len(t, h.runner.commandLines(), 1, "nothing is launched after a failed freeze")
	assert.Empty(t, h.recs, "recorder is never created")

	m := readManifest(t, filepath.Join(h.cfg.ProjectDir, config.StateDirName, "session-test-session.yaml"))
	assert.Contains(t, m.Error, "FREEZE")
}

func TestConnectionTimeoutReleasesResources(t *testing.T) {
	h := newHarness(t)
	h.dialer.failures = -1
	c := h.controller(t, Options{})

	_, err := c.Run(context.Background(), []string{"a"})
	require.Error(t, err)

	assert.True(t, IsConnectionTimeoutError(err))
	stage, _ := FailedStage(err)
	assert.Equal(t, StageConnectChannel, stage)

	var cte *ConnectionTimeoutError
	require.True(t, errors.As(err, &cte))
	assert.Greater(t, cte.Attempts, 1)

	require.Len(t, h.recs, 1)
	assert.True(t, h.recs[0].closed, "recorder closed on failure")
	assert.True(t, h.runner.lastProcess().wasKilled(), "capture daemon killed on failure")
}

func TestCaptureNonZeroExit(t *testing.T) {
	h := newHarness(t)
	h.runner.exitErr = &ExternalToolError{Tool: "ultracomm", ExitCode: 3}
	c := h.controller(t, Options{})

	result, err := c.Run(context.Background(), []string{"a"})
	require.Error(t, err)
	stage, _ := FailedStage(err)
	assert.Equal(t, StageAwaitCaptureExit, stage)
	assert.True(t, h.recs[0].closed)
	assert.False(t, h.runner.lastProcess().wasKilled(), "exited daemon is not killed")
	assert.Equal(t, models.RunFailed, result.Runs[0].Status)
}

func TestChannelSplitFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.runner.soxErr = &ExternalToolError{Tool: "sox", ExitCode: 2, Stderr: "sox FAIL formats"}
	c := h.controller(t, Options{})

	result, err := c.Run(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	stage, _ := FailedStage(err)
	assert.Equal(t, StageSplitChannels, stage)
	assert.Contains(t, err.Error(), "sox exited with status: 2")

	require.Len(t, result.Runs, 1, "no further stimuli after a post-processing failure")
	assert.Equal(t, models.RunAcquired, result.Runs[0].Status)
	assert.Len(t, runDirs(t, h.cfg.ProjectDir), 1)
	assert.Empty(t, h.indexer.runs)
}

func TestCancelBeforeFirstRun(t *testing.T) {
	h := newHarness(t)
	c := h.controller(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := c.Run(ctx, []string{"a"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, result.Runs)
	assert.Empty(t, runDirs(t, h.cfg.ProjectDir))
}

func TestInterruptedStopPromptKeepsData(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.prompter.failOn = PromptStopRun
	h.prompter.failErr = context.Canceled
	h.prompter.onPrompt = func(message string) {
		if message == PromptStopRun {
			cancel()
		}
	}
	c := h.controller(t, Options{Prompt: true})

	result, err := c.Run(ctx, []string{"a", "b"})
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, result.Runs, 1)
	assert.Equal(t, models.RunProcessed, result.Runs[0].Status, "interrupted run is still post-processed")
	assert.Equal(t, []string{"END"}, h.dialer.written)
	assert.FileExists(t, result.Runs[0].SyncFile)
}

func TestExperimentAlreadyLocked(t *testing.T) {
	h := newHarness(t)
	lock, err := filelock.LockExperiment(h.cfg.ProjectDir)
	require.NoError(t, err)
	defer lock.Unlock()

	c := h.controller(t, Options{})
	_, err = c.Run(context.Background(), []string{"a"})
	require.ErrorIs(t, err, filelock.ErrLocked)
	assert.Empty(t, h.runner.commandLines())
}

func TestExistingRunDirectoryIsReused(t *testing.T) {
	h := newHarness(t)
	ts := acq.NewTimestamp(steppingClock()())
	require.NoError(t, os.MkdirAll(filepath.Join(h.cfg.ProjectDir, ts), 0755))

	c := h.controller(t, Options{})
	result, err := c.Run(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, ts, result.Runs[0].Timestamp)
	assert.Len(t, runDirs(t, h.cfg.ProjectDir), 1)
}

func TestNewControllerValidation(t *testing.T) {
	cfg := testConfig(t)

	_, err := NewController(nil, Options{ParamsFile: "x"})
	assert.Error(t, err)

	_, err = NewController(cfg, Options{})
	assert.ErrorContains(t, err, "params file is required")

	_, err = NewController(cfg, Options{ParamsFile: filepath.Join(t.TempDir(), "missing.cfg")})
	assert.ErrorContains(t, err, "params file")

	cfg.ArtifactKind = "avi"
	_, err = NewController(cfg, Options{ParamsFile: writeParams(t)})
	assert.Error(t, err)

	cfg = testConfig(t)
	c, err := NewController(cfg, Options{ParamsFile: writeParams(t)})
	require.NoError(t, err)
	assert.Equal(t, cfg.Ultracomm, c.opts.CaptureCommand)
	assert.NotEmpty(t, c.SessionID())
}

func TestNewControllerRecorderMode(t *testing.T) {
	cfg := testConfig(t)
	c, err := NewController(cfg, Options{ParamsFile: writeParams(t)})
	require.NoError(t, err)
	cmdRec, ok := c.newRecorder().(*CommandRecorder)
	require.True(t, ok, "command recorder by default")
	assert.Equal(t, cfg.RecorderCommand, cmdRec.Command)

	cfg.Recorder = config.RecorderModeStream
	cfg.Stream = config.StreamConfig{Command: []string{"parec", "--raw"}, SampleRate: 48000, Channels: 2}
	c, err = NewController(cfg, Options{ParamsFile: writeParams(t)})
	require.NoError(t, err)
	streamRec, ok := c.newRecorder().(*StreamRecorder)
	require.True(t, ok)
	assert.Equal(t, 48000, streamRec.SampleRate)
	assert.Equal(t, 2, streamRec.Channels)
	src, ok := streamRec.Source.(*CommandSource)
	require.True(t, ok)
	assert.Equal(t, []string{"parec", "--raw"}, src.Command)
	assert.NotSame(t, streamRec, c.newRecorder(), "a fresh recorder per run")
}
