package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConnectionTimeoutError is returned when the capture daemon's control
// channel could not be opened within the connect timeout.
type ConnectionTimeoutError struct {
	Address  string        // Control channel address
	Timeout  time.Duration // Configured bound, measured from the first attempt
	Attempts int           // Number of dial attempts made
	Err      error         // Last dial error
}

// Error implements the error interface for ConnectionTimeoutError.
func (e *ConnectionTimeoutError) Error() string {
	msg := fmt.Sprintf("could not connect to control channel %s after %v (%d attempts)", e.Address, e.Timeout, e.Attempts)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the last dial error.
func (e *ConnectionTimeoutError) Unwrap() error {
	return e.Err
}

// ExternalToolError reports a failed external command: ultracomm, the
// recorder or sox.
type ExternalToolError struct {
	Tool     string   // Command name
	Args     []string // Command arguments
	ExitCode int      // Exit status, -1 when the process never ran or was killed
	Stderr   string   // Tail of the command's stderr
	Err      error    // Underlying error (optional)
}

// Error implements the error interface for ExternalToolError.
func (e *ExternalToolError) Error() string {
	var sb strings.Builder
	if e.ExitCode >= 0 {
		sb.WriteString(fmt.Sprintf("%s exited with status: %d", e.Tool, e.ExitCode))
	} else {
		sb.WriteString(fmt.Sprintf("%s failed", e.Tool))
	}
	if e.Err != nil && e.ExitCode < 0 {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		sb.WriteString(fmt.Sprintf(" (stderr: %s)", stderr))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error wrapping support.
func (e *ExternalToolError) Unwrap() error {
	return e.Err
}

// CommandLine returns the tool and its arguments joined with spaces.
func (e *ExternalToolError) CommandLine() string {
	return strings.Join(append([]string{e.Tool}, e.Args...), " ")
}

// StageError wraps a failure with the stage it happened in and the run it
// belongs to.
type StageError struct {
	Stage     Stage
	Timestamp string // Run timestamp
	Err       error
}

// Error implements the error interface for StageError.
func (e *StageError) Error() string {
	return fmt.Sprintf("run %s: %s: %v", e.Timestamp, e.Stage, e.Err)
}

// Unwrap returns the underlying error for error wrapping support.
func (e *StageError) Unwrap() error {
	return e.Err
}

// IsConnectionTimeoutError checks if the error is or wraps a ConnectionTimeoutError.
func IsConnectionTimeoutError(err error) bool {
	var ce *ConnectionTimeoutError
	return errors.As(err, &ce)
}

// IsExternalToolError checks if the error is or wraps an ExternalToolError.
func IsExternalToolError(err error) bool {
	var te *ExternalToolError
	return errors.As(err, &te)
}

// FailedStage returns the stage recorded in err, if any.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return 0, false
}
