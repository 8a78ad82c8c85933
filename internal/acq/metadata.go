// Package acq models completed acquisition runs.
//
// A run is a directory named by its acquisition timestamp, optionally nested
// below directories that encode experiment conditions. Metadata derives every
// descriptive attribute of a run from that directory: the raw image header,
// the parameter and stimulus sidecars, the sync sidecar and the runtime
// variables implied by the run's position in the tree. Each attribute is
// computed on first access and cached; missing sidecars make the dependent
// attribute unavailable instead of failing.
package acq

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/harrison/ultrasession/internal/models"
	"github.com/harrison/ultrasession/internal/syncpulse"
)

// Sidecar file names inside a run directory.
const (
	StimulusFile = "stim.txt"
	VersionsFile = "versions.txt"
)

// Metadata is a read-only view over one completed run.
type Metadata struct {
	Timestamp Timestamp
	ExpDir    string
	Dir       string
	Kind      Kind

	paramsFile string

	headerOnce sync.Once
	header     models.Optional[ImageHeader]

	paramsOnce sync.Once
	params     models.Optional[map[string]string]

	stimOnce sync.Once
	stimulus models.Optional[string]

	versionsOnce sync.Once
	versions     models.Optional[string]

	pulsesOnce sync.Once
	pulses     models.Optional[[]models.SyncPulse]

	rateOnce  sync.Once
	frameRate models.Optional[float64]

	varsOnce sync.Once
	vars     RuntimeVars
	varsErr  error
}

// Option configures Metadata.
type Option func(*Metadata)

// WithParamsFile overrides the parameter sidecar name.
func WithParamsFile(name string) Option {
	return func(m *Metadata) {
		m.paramsFile = name
	}
}

// Open locates the run called timestamp anywhere below expDir.
func Open(expDir, timestamp string, kind Kind, opts ...Option) (*Metadata, error) {
	if _, err := ParseTimestamp(timestamp); err != nil {
		return nil, err
	}
	dir, err := FindRunDir(expDir, timestamp)
	if err != nil {
		return nil, err
	}
	return OpenDir(expDir, dir, kind, opts...)
}

// OpenDir wraps a run directory whose location is already known. The
// directory name must be a valid timestamp.
func OpenDir(expDir, runDir string, kind Kind, opts ...Option) (*Metadata, error) {
	if kind == nil {
		return nil, errors.New("artifact kind is required")
	}
	absExp, err := filepath.Abs(expDir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", expDir, err)
	}
	absRun, err := filepath.Abs(runDir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", runDir, err)
	}

	ts, err := ParseTimestamp(filepath.Base(absRun))
	if err != nil {
		return nil, err
	}

	m := &Metadata{
		Timestamp:  ts,
		ExpDir:     absExp,
		Dir:        absRun,
		Kind:       kind,
		paramsFile: DefaultParamsFile,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// errFound stops the directory walk early.
var errFound = errors.New("found")

// FindRunDir walks expDir for a directory named timestamp.
func FindRunDir(expDir, timestamp string) (string, error) {
	root, err := filepath.Abs(expDir)
	if err != nil {
		return "", err
	}

	var found string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == timestamp {
			found = path
			return errFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		return "", fmt.Errorf("search %s: %w", expDir, err)
	}
	if found == "" {
		return "", fmt.Errorf("run %s not found under %s", timestamp, expDir)
	}
	return found, nil
}

// ImagePath is the raw capture file.
func (m *Metadata) ImagePath() string {
	return m.Kind.ImagePath(m.Dir, m.Timestamp.Name)
}

// AudioPath is the audio container.
func (m *Metadata) AudioPath() string {
	return m.Kind.AudioPath(m.Dir, m.Timestamp.Name)
}

// SyncPath is the sync sidecar.
func (m *Metadata) SyncPath() string {
	return m.Kind.SyncPath(m.Dir, m.Timestamp.Name)
}

// RuntimeVarsPath is the variable declaration file of the experiment.
func (m *Metadata) RuntimeVarsPath() string {
	return filepath.Join(m.ExpDir, RuntimeVarsFile)
}

// Header returns the raw image header, unavailable when the capture file is
// missing or unreadable.
func (m *Metadata) Header() models.Optional[ImageHeader] {
	m.headerOnce.Do(func() {
		h, err := m.Kind.ReadHeader(m.ImagePath())
		if err == nil {
			m.header = models.Some(h)
		}
	})
	return m.header
}

// Params returns the imaging parameter dictionary.
func (m *Metadata) Params() models.Optional[map[string]string] {
	m.paramsOnce.Do(func() {
		p, err := ReadParams(filepath.Join(m.Dir, m.paramsFile))
		if err == nil {
			m.params = models.Some(p)
		}
	})
	return m.params
}

// Stimulus returns the stimulus text.
func (m *Metadata) Stimulus() models.Optional[string] {
	m.stimOnce.Do(func() {
		m.stimulus = readOptionalText(filepath.Join(m.Dir, StimulusFile))
	})
	return m.stimulus
}

// Versions returns the tool-version text.
func (m *Metadata) Versions() models.Optional[string] {
	m.versionsOnce.Do(func() {
		m.versions = readOptionalText(filepath.Join(m.Dir, VersionsFile))
	})
	return m.versions
}

// Pulses returns the sync tier: one entry per labeled pulse.
func (m *Metadata) Pulses() models.Optional[[]models.SyncPulse] {
	m.pulsesOnce.Do(func() {
		p, err := syncpulse.ReadSyncFile(m.SyncPath())
		if err == nil {
			m.pulses = models.Some(p)
		}
	})
	return m.pulses
}

// PulseCount returns the number of labeled pulses.
func (m *Metadata) PulseCount() models.Optional[int] {
	p, ok := m.Pulses().Get()
	if !ok {
		return models.None[int]()
	}
	return models.Some(len(p))
}

// PulseDurations returns the shortest and longest pulse duration.
func (m *Metadata) PulseDurations() (models.Optional[float64], models.Optional[float64]) {
	p, ok := m.Pulses().Get()
	if !ok {
		return models.None[float64](), models.None[float64]()
	}
	return syncpulse.IntervalRange(p)
}

// FrameRate returns pulses per second over the span of the sync tier.
func (m *Metadata) FrameRate() models.Optional[float64] {
	m.rateOnce.Do(func() {
		p, ok := m.Pulses().Get()
		if !ok || len(p) < 2 {
			return
		}
		span := p[len(p)-1].Time - p[0].Time
		if span > 0 {
			m.frameRate = models.Some(float64(len(p)) / span)
		}
	})
	return m.frameRate
}

// RuntimeVars returns the experiment conditions of the run. A missing
// declaration file yields an empty list.
func (m *Metadata) RuntimeVars() (RuntimeVars, error) {
	m.varsOnce.Do(func() {
		names, err := ReadRuntimeVarNames(m.RuntimeVarsPath())
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				m.varsErr = err
			}
			return
		}
		m.vars, m.varsErr = InferRuntimeVars(m.ExpDir, m.Dir, names)
	})
	return m.vars, m.varsErr
}

func readOptionalText(path string) models.Optional[string] {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.None[string]()
	}
	return models.Some(string(data))
}
