package syncpulse

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/harrison/ultrasession/internal/filelock"
	"github.com/harrison/ultrasession/internal/models"
)

// SidecarSuffix replaces the .wav extension of the audio container.
const SidecarSuffix = ".sync.txt"

// Settings configures pulse extraction.
type Settings struct {
	Channel     int     // Zero-based sync channel
	Threshold   float64 // Normalized amplitude threshold
	MinDuration float64 // Seconds a run must exceed to count as a pulse
}

// DefaultSettings matches the pulse-stretcher hardware, whose pulses last
// about 1 ms on channel 1.
func DefaultSettings() Settings {
	return Settings{
		Channel:     1,
		Threshold:   0.2,
		MinDuration: 0.0005,
	}
}

// Result describes an exported sync sidecar.
type Result struct {
	Path        string
	SampleRate  int
	Pulses      []models.SyncPulse
	MinInterval models.Optional[float64] // Shortest inter-pulse duration in seconds
	MaxInterval models.Optional[float64] // Longest inter-pulse duration in seconds
}

// Count returns the number of detected pulses.
func (r *Result) Count() int {
	return len(r.Pulses)
}

// Extractor runs ExportSyncFile with fixed settings.
type Extractor struct {
	settings Settings
}

// NewExtractor creates an Extractor bound to settings.
func NewExtractor(settings Settings) *Extractor {
	return &Extractor{settings: settings}
}

// Export writes the sync sidecar for audioPath.
func (e *Extractor) Export(audioPath string) (*Result, error) {
	return ExportSyncFile(audioPath, e.settings.Channel, e.settings.Threshold, e.settings.MinDuration)
}

// SidecarPath derives the sync sidecar path from an audio container path.
func SidecarPath(audioPath string) string {
	return strings.TrimSuffix(audioPath, ".wav") + SidecarSuffix
}

// RoundTime rounds seconds half-to-even to 4 decimal places.
func RoundTime(seconds float64) float64 {
	return math.RoundToEven(seconds*1e4) / 1e4
}

// ExportSyncFile detects pulses on channel of audioPath and writes one
// "<time>\t<index>" line per pulse to the sidecar next to it.
func ExportSyncFile(audioPath string, channel int, threshold, minDuration float64) (*Result, error) {
	samples, rate, err := LoadChannel(audioPath, channel)
	if err != nil {
		return nil, err
	}
	if rate <= 0 {
		return nil, fmt.Errorf("%s: invalid sample rate %d", audioPath, rate)
	}

	starts := DetectPulses(samples, threshold, minDuration*float64(rate))

	result := &Result{
		Path:       SidecarPath(audioPath),
		SampleRate: rate,
		Pulses:     make([]models.SyncPulse, len(starts)),
	}

	var buf bytes.Buffer
	for i, s := range starts {
		t := RoundTime(float64(s) / float64(rate))
		result.Pulses[i] = models.SyncPulse{Sample: s, Time: t, Index: i}
		fmt.Fprintf(&buf, "%0.4f\t%d\n", t, i)
	}
	result.MinInterval, result.MaxInterval = IntervalRange(result.Pulses)

	if err := filelock.AtomicWrite(result.Path, buf.Bytes()); err != nil {
		return nil, fmt.Errorf("write sync sidecar: %w", err)
	}
	return result, nil
}

// IntervalRange returns the shortest and longest gap between consecutive
// pulses. Both are unavailable with fewer than two pulses.
func IntervalRange(pulses []models.SyncPulse) (models.Optional[float64], models.Optional[float64]) {
	if len(pulses) < 2 {
		return models.None[float64](), models.None[float64]()
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 1; i < len(pulses); i++ {
		d := pulses[i].Time - pulses[i-1].Time
		lo = math.Min(lo, d)
		hi = math.Max(hi, d)
	}
	return models.Some(lo), models.Some(hi)
}

// ReadSyncFile parses a sync sidecar. Blank lines are ignored; the sample
// index of a pulse read back from a sidecar is unknown and left at zero.
func ReadSyncFile(path string) ([]models.SyncPulse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pulses []models.SyncPulse
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%s:%d: want 2 fields, got %d", path, lineNo, len(fields))
		}
		t, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad time: %w", path, lineNo, err)
		}
		idx, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad index: %w", path, lineNo, err)
		}
		pulses = append(pulses, models.SyncPulse{Time: t, Index: idx})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return pulses, nil
}
