package trigger

import (
	"errors"
	"fmt"
)

// ErrMalformedPayload is returned for payloads that are not valid UTF-8 text.
// Malformed payloads are dropped, never surfaced to the user.
var ErrMalformedPayload = errors.New("payload is not valid UTF-8 text")

// BindError reports that a listener endpoint could not be acquired
// (port in use, invalid address). It is fatal for the current session attempt.
type BindError struct {
	Protocol string
	Address  string
	Err      error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("binding %s %s: %v", e.Protocol, e.Address, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// TransportError reports a receive, accept or read failure that was not
// caused by the session's own cancellation.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// LaunchError reports that a target could not be started, or that it exited
// before presenting a window.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launching %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// IsBindError reports whether err is (or wraps) a *BindError.
func IsBindError(err error) bool {
	var bindErr *BindError
	return errors.As(err, &bindErr)
}
