package cmd

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
)

// Exit codes returned by Execute.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// ArgumentError reports invalid command-line usage.
type ArgumentError struct {
	Msg string
	Err error
}

func (e *ArgumentError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}

// IsArgumentError checks if an error is an ArgumentError.
func IsArgumentError(err error) bool {
	var argErr *ArgumentError
	return errors.As(err, &argErr)
}

// ExitCode maps an error returned by a command to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case IsArgumentError(err):
		return ExitUsage
	default:
		return ExitFailure
	}
}

// exactArgs is cobra.ExactArgs returning an ArgumentError.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return &ArgumentError{Msg: err.Error()}
		}
		return nil
	}
}

// asUsageError classifies cobra's own usage failures.
func asUsageError(err error) error {
	if err == nil || IsArgumentError(err) {
		return err
	}
	msg := err.Error()
	if strings.HasPrefix(msg, "unknown command") || strings.HasPrefix(msg, "unknown flag") ||
		strings.HasPrefix(msg, "unknown shorthand flag") {
		return &ArgumentError{Msg: msg}
	}
	return err
}
