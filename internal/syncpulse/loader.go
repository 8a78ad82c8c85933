package syncpulse

import (
	"fmt"
	"math"
	"os"

	"github.com/go-audio/wav"
)

// BitDepth is the only sample width accepted for sync extraction.
const BitDepth = 16

// PCMToFloat converts signed 16-bit samples to floating point in [-1, 1).
// Samples are divided by the magnitude of the most negative int16 rather
// than the maximum, so math.MinInt16 maps to exactly -1.0 and nothing clips.
func PCMToFloat(samples []int16) []float64 {
	out := make([]float64, len(samples))
	scale := -float64(math.MinInt16)
	for i, s := range samples {
		out[i] = float64(s) / scale
	}
	return out
}

// LoadChannel reads an interleaved 16-bit WAV container and returns the
// requested zero-based channel as normalized samples plus the sample rate.
func LoadChannel(path string, channel int) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open audio %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%s is not a valid WAV container", path)
	}
	if dec.BitDepth != BitDepth {
		return nil, 0, fmt.Errorf("%s: unsupported bit depth %d, want %d", path, dec.BitDepth, BitDepth)
	}

	nchans := int(dec.NumChans)
	if channel < 0 || channel >= nchans {
		return nil, 0, fmt.Errorf("%s: channel %d out of range (%d channels)", path, channel, nchans)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", path, err)
	}

	frames := len(buf.Data) / nchans
	pcm := make([]int16, frames)
	for i := 0; i < frames; i++ {
		pcm[i] = int16(buf.Data[i*nchans+channel])
	}

	return PCMToFloat(pcm), int(dec.SampleRate), nil
}
