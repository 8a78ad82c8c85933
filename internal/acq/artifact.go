package acq

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
)

// ImageHeader is the subset of a raw image header that metadata exposes.
type ImageHeader struct {
	Frames int `yaml:"frames"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	Probe  int `yaml:"probe"`
}

// Kind is one raw image artifact type. Each kind derives its own file names
// and knows how to read its own header, so adding an instrument format means
// registering a new Kind.
type Kind interface {
	// Name is the type discriminator used in file names, e.g. "bpr".
	Name() string
	// ImagePath is the raw capture file of the run.
	ImagePath(runDir, timestamp string) string
	// AudioPath is the audio container recorded alongside the capture.
	AudioPath(runDir, timestamp string) string
	// ChannelPath is the single-channel file split from AudioPath (1-based).
	ChannelPath(runDir, timestamp string, channel int) string
	// SyncPath is the sync sidecar derived from AudioPath.
	SyncPath(runDir, timestamp string) string
	// ReadHeader reads the frame and geometry header of the raw capture.
	ReadHeader(imagePath string) (ImageHeader, error)
}

var (
	kindsMu sync.RWMutex
	kinds   = map[string]Kind{}
)

// DefaultKind is the artifact kind produced by the capture daemon.
const DefaultKind = "bpr"

func init() {
	RegisterKind(BPRKind{})
}

// RegisterKind makes k available to LookupKind, replacing any kind with
// the same name.
func RegisterKind(k Kind) {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	kinds[k.Name()] = k
}

// LookupKind returns the registered kind called name.
func LookupKind(name string) (Kind, error) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	k, ok := kinds[name]
	if !ok {
		return nil, fmt.Errorf("unknown artifact kind %q (known: %v)", name, kindNames())
	}
	return k, nil
}

// kindNames must be called with kindsMu held.
func kindNames() []string {
	names := make([]string, 0, len(kinds))
	for n := range kinds {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// basePaths implements the shared naming scheme:
// <ts>.<kind>, <ts>.<kind>.wav, <ts>.<kind>.ch<N>.wav, <ts>.<kind>.sync.txt.
type basePaths struct {
	ext string
}

func (b basePaths) ImagePath(runDir, timestamp string) string {
	return filepath.Join(runDir, timestamp+"."+b.ext)
}

func (b basePaths) AudioPath(runDir, timestamp string) string {
	return b.ImagePath(runDir, timestamp) + ".wav"
}

func (b basePaths) ChannelPath(runDir, timestamp string, channel int) string {
	return fmt.Sprintf("%s.ch%d.wav", b.ImagePath(runDir, timestamp), channel)
}

func (b basePaths) SyncPath(runDir, timestamp string) string {
	return b.ImagePath(runDir, timestamp) + ".sync.txt"
}
