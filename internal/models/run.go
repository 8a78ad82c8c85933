package models

import "time"

// Run status constants
const (
	RunAcquired  = "ACQUIRED"  // Capture and audio stream finished
	RunProcessed = "PROCESSED" // Channel split and sync sidecar written
	RunFailed    = "FAILED"    // A stage failed; the run directory may be incomplete
)

// Run represents one timestamped acquisition attempt and its directory of artifacts.
type Run struct {
	Timestamp  string    // Directory name, e.g. 2015-03-04T101530-0800
	Dir        string    // Absolute run directory
	Stimulus   string    // Stimulus text, may be empty
	ParamsFile string    // Copy of the parameter file used
	ImageFile  string    // Raw capture file written by the capture daemon
	AudioFile  string    // Multi-channel audio container
	SyncFile   string    // Sync sidecar derived from AudioFile
	Status     string    // ACQUIRED, PROCESSED or FAILED
	StartedAt  time.Time // When the acquisition state machine began
	Duration   time.Duration
}

// SessionResult represents the aggregate result of a session.
type SessionResult struct {
	SessionID string
	Planned   int           // Number of stimuli planned
	Completed int           // Number of fully processed runs
	Runs      []Run         // Runs in acquisition order, including a failed last run
	Duration  time.Duration // Total session time
	Err       error         // First failure, nil on success
}
