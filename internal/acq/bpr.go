package acq

import (
	"encoding/binary"
	"fmt"
	"os"
)

// BPRHeader is the fixed header of an Ultrasonix .bpr capture: 19
// little-endian int32 values preceding the frame data.
type BPRHeader struct {
	Type        int32 // Data type
	Frames      int32 // Number of frames
	Width       int32 // Samples per line
	Height      int32 // Scan lines
	SampleSize  int32 // Bits per sample
	ULX, ULY    int32 // Region of interest corners
	URX, URY    int32
	BRX, BRY    int32
	BLX, BLY    int32
	Probe       int32 // Probe identifier
	TxFrequency int32 // Transmit frequency, Hz
	SampleFreq  int32 // Sampling frequency, Hz
	DataRate    int32 // Frame rate or pulse repetition
	LineDensity int32
	Extra       int32
}

// BPRHeaderSize is the encoded size of BPRHeader in bytes.
const BPRHeaderSize = 19 * 4

// ReadBPRHeader reads the header at the start of path.
func ReadBPRHeader(path string) (*BPRHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var h BPRHeader
	if err := binary.Read(f, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("read bpr header %s: %w", path, err)
	}
	if h.Frames < 0 || h.Width < 0 || h.Height < 0 {
		return nil, fmt.Errorf("bpr header %s: negative dimensions", path)
	}
	return &h, nil
}

// BPRKind is the Ultrasonix raw B-mode pre-scan-conversion format.
type BPRKind struct{}

var bprPaths = basePaths{ext: "bpr"}

// Name implements Kind.
func (BPRKind) Name() string { return "bpr" }

// ImagePath implements Kind.
func (BPRKind) ImagePath(runDir, timestamp string) string {
	return bprPaths.ImagePath(runDir, timestamp)
}

// AudioPath implements Kind.
func (BPRKind) AudioPath(runDir, timestamp string) string {
	return bprPaths.AudioPath(runDir, timestamp)
}

// ChannelPath implements Kind.
func (BPRKind) ChannelPath(runDir, timestamp string, channel int) string {
	return bprPaths.ChannelPath(runDir, timestamp, channel)
}

// SyncPath implements Kind.
func (BPRKind) SyncPath(runDir, timestamp string) string {
	return bprPaths.SyncPath(runDir, timestamp)
}

// ReadHeader implements Kind.
func (BPRKind) ReadHeader(imagePath string) (ImageHeader, error) {
	h, err := ReadBPRHeader(imagePath)
	if err != nil {
		return ImageHeader{}, err
	}
	return ImageHeader{
		Frames: int(h.Frames),
		Width:  int(h.Width),
		Height: int(h.Height),
		Probe:  int(h.Probe),
	}, nil
}
