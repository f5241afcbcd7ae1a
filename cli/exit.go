package cli

import (
	"errors"
	"fmt"
)

// Exit codes for the rallylink command. Values above 1 follow sysexits.h.
const (
	ExitSuccess         = 0  // every pair attempted, individual misses included
	ExitUsage           = 1  // missing or malformed flags, bad config
	ExitCSVNotFound     = 66 // the csv file could not be opened
	ExitTransportFailed = 69 // Rally could not be reached while linking
	ExitScopeFailed     = 78 // workspace or project could not be resolved
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitUsage for errors that carry no code, which covers cobra's flag errors.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitUsage
}
