package acq

import (
	"fmt"
	"strings"

	"github.com/harrison/ultrasession/internal/models"
)

// Summary is a flat snapshot of every Metadata attribute, suitable for
// printing, cataloguing and reporting.
type Summary struct {
	Timestamp   string                             `yaml:"timestamp"`
	UTCOffset   string                             `yaml:"utc_offset"`
	Dir         string                             `yaml:"dir"`
	Kind        string                             `yaml:"kind"`
	Frames      models.Optional[int]               `yaml:"n_frames"`
	ImageWidth  models.Optional[int]               `yaml:"image_w"`
	ImageHeight models.Optional[int]               `yaml:"image_h"`
	Probe       models.Optional[int]               `yaml:"probe"`
	Params      models.Optional[map[string]string] `yaml:"imaging_params"`
	Stimulus    models.Optional[string]            `yaml:"stimulus"`
	Versions    models.Optional[string]            `yaml:"versions"`
	PulseCount  models.Optional[int]               `yaml:"n_pulse_idx"`
	PulseMin    models.Optional[float64]           `yaml:"pulse_min"`
	PulseMax    models.Optional[float64]           `yaml:"pulse_max"`
	FrameRate   models.Optional[float64]           `yaml:"framerate"`
	RuntimeVars RuntimeVars                        `yaml:"runtime_vars"`
}

// Gather computes every attribute of the run. Only a runtime-variable
// declaration file that exists but cannot be read is reported as an error.
func (m *Metadata) Gather() (*Summary, error) {
	s := &Summary{
		Timestamp: m.Timestamp.Name,
		UTCOffset: m.Timestamp.UTCOffset,
		Dir:       m.Dir,
		Kind:      m.Kind.Name(),
		Params:    m.Params(),
		Stimulus:  m.Stimulus(),
		Versions:  m.Versions(),
		FrameRate: m.FrameRate(),
	}

	if h, ok := m.Header().Get(); ok {
		s.Frames = models.Some(h.Frames)
		s.ImageWidth = models.Some(h.Width)
		s.ImageHeight = models.Some(h.Height)
		s.Probe = models.Some(h.Probe)
	}

	s.PulseCount = m.PulseCount()
	s.PulseMin, s.PulseMax = m.PulseDurations()

	vars, err := m.RuntimeVars()
	if err != nil {
		return nil, fmt.Errorf("runtime variables for %s: %w", m.Timestamp.Name, err)
	}
	s.RuntimeVars = vars
	return s, nil
}

// Field returns a summary attribute by its YAML name, falling back to
// runtime variables.
func (s *Summary) Field(name string) (interface{}, bool) {
	switch name {
	case "timestamp":
		return s.Timestamp, true
	case "utc_offset":
		return s.UTCOffset, true
	case "dir":
		return s.Dir, true
	case "kind":
		return s.Kind, true
	case "n_frames":
		return s.Frames, true
	case "image_w":
		return s.ImageWidth, true
	case "image_h":
		return s.ImageHeight, true
	case "probe":
		return s.Probe, true
	case "imaging_params":
		return s.Params, true
	case "stimulus":
		return s.Stimulus, true
	case "versions":
		return s.Versions, true
	case "n_pulse_idx":
		return s.PulseCount, true
	case "pulse_min":
		return s.PulseMin, true
	case "pulse_max":
		return s.PulseMax, true
	case "framerate":
		return s.FrameRate, true
	case "runtime_vars":
		return s.RuntimeVars, true
	}
	if v, ok := s.RuntimeVars.Get(name); ok {
		return v, true
	}
	return nil, false
}

// summaryFields lists the YAML names Field understands, in document order.
var summaryFields = []string{
	"timestamp", "utc_offset", "dir", "kind",
	"n_frames", "image_w", "image_h", "probe", "imaging_params",
	"stimulus", "versions",
	"n_pulse_idx", "pulse_min", "pulse_max", "framerate",
	"runtime_vars",
}

// FieldNames returns every name Field accepts: the summary attributes
// followed by the declared runtime variables.
func (s *Summary) FieldNames() []string {
	return append(append([]string{}, summaryFields...), s.RuntimeVars.Names()...)
}

// Fields returns the named attributes in order. The first unknown name is
// reported as an error.
func (s *Summary) Fields(names ...string) ([]interface{}, error) {
	out := make([]interface{}, len(names))
	for i, n := range names {
		v, ok := s.Field(n)
		if !ok {
			return nil, fmt.Errorf("unknown field %q (known: %s)", n, strings.Join(s.FieldNames(), ", "))
		}
		out[i] = v
	}
	return out, nil
}
