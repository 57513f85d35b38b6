// Package exitcode defines structured exit codes for netlaunch commands.
// Scripts that drive netlaunch can branch on the code instead of parsing
// error messages.
//
// # Exit Code Ranges
//
//   - 0: Success
//   - 1-9: General errors (usage, internal)
//   - 10-19: Config errors
//   - 30-39: Network errors
//   - 40-49: Timeout errors
//   - 50-59: Daemon state errors
//
// # Usage
//
//	return exitcode.Wrap(exitcode.ErrNetwork, "send failed", err)
//	code := exitcode.Code(err)  // ErrGeneral for non-coded errors
package exitcode

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

const (
	// Success indicates the command completed successfully.
	Success = 0

	// General errors (1-9)
	ErrGeneral  = 1 // General/unknown error
	ErrUsage    = 2 // Invalid arguments or usage
	ErrInternal = 3 // Internal error (bug)

	// Config errors (10-19)
	ErrConfigNotFound = 10 // Config file missing
	ErrConfigInvalid  = 11 // Config file does not parse or validate

	// Network (30-39)
	ErrNetwork = 30 // Send or connect failure

	// Timeout errors (40-49)
	ErrTimeout = 40 // Operation timed out

	// Daemon state errors (50-59)
	ErrNotRunning     = 50 // Daemon not running
	ErrAlreadyRunning = 51 // Daemon already running
	ErrAlreadyExists  = 52 // File already exists
)

// Error wraps an error with a specific exit code.
type Error struct {
	Code    int
	Message string
	Cause   error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new coded error.
func New(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new coded error with printf-style formatting.
func Newf(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a code and message.
func Wrap(code int, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Code extracts the exit code from an error.
// Returns ErrGeneral (1) if the error doesn't have a code.
func Code(err error) int {
	if err == nil {
		return Success
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrGeneral
}

// Is checks if an error has a specific exit code.
func Is(err error, code int) bool {
	return Code(err) == code
}

// ConfigError classifies an error from loading the config file.
func ConfigError(path string, err error) *Error {
	if errors.Is(err, fs.ErrNotExist) {
		return Newf(ErrConfigNotFound, "config not found: %s (run 'netlaunch config init')", path)
	}
	return Wrap(ErrConfigInvalid, "invalid config", err)
}
