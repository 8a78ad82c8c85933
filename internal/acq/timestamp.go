package acq

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// TimestampLayout is the run directory layout: local time to the second
// followed by a signed UTC offset, with the colons of ISO 8601 removed.
const TimestampLayout = "2006-01-02T150405-0700"

// timestampRe requires the offset hours to be 00-12 and minutes 00-59.
var timestampRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T\d{6})([-+](?:0\d|1[012])[0-5]\d)$`)

// TimestampFormatError reports a run directory name that is not a valid
// acquisition timestamp.
type TimestampFormatError struct {
	Name string
	Err  error // Underlying parse error (optional)
}

// Error implements the error interface for TimestampFormatError.
func (e *TimestampFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("incorrect timestamp for path %q: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("incorrect timestamp for path %q", e.Name)
}

// Unwrap returns the underlying parse error.
func (e *TimestampFormatError) Unwrap() error {
	return e.Err
}

// IsTimestampFormatError checks if the error is or wraps a TimestampFormatError.
func IsTimestampFormatError(err error) bool {
	var te *TimestampFormatError
	return errors.As(err, &te)
}

// Timestamp is a parsed run directory name.
type Timestamp struct {
	Name      string    // Original directory name
	Time      time.Time // Instant, in the recorded offset
	UTCOffset string    // Signed offset token, e.g. -0800
}

// String returns the directory name.
func (t Timestamp) String() string {
	return t.Name
}

// ParseTimestamp validates a run directory name.
func ParseTimestamp(name string) (Timestamp, error) {
	m := timestampRe.FindStringSubmatch(name)
	if m == nil {
		return Timestamp{}, &TimestampFormatError{Name: name}
	}
	parsed, err := time.Parse(TimestampLayout, name)
	if err != nil {
		return Timestamp{}, &TimestampFormatError{Name: name, Err: err}
	}
	return Timestamp{Name: name, Time: parsed, UTCOffset: m[2]}, nil
}

// maxOffset is the largest UTC offset a run directory name can carry.
const maxOffset = 12*3600 + 59*60

// NewTimestamp formats now as a run directory name, dropping sub-second
// precision. Zones ahead of +12:59 or behind -12:59 (e.g. Pacific/Kiritimati)
// are written in UTC so the name always parses back.
func NewTimestamp(now time.Time) string {
	if _, off := now.Zone(); off > maxOffset || off < -maxOffset {
		now = now.UTC()
	}
	return now.Truncate(time.Second).Format(TimestampLayout)
}
