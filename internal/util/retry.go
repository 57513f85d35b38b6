package util

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"
)

// RetryConfig controls how often an outbound send is attempted.
type RetryConfig struct {
	// Attempts is the total number of tries, including the first (default 3).
	Attempts int

	// Delay is the wait before the second try. It doubles after every
	// retry (default 100ms).
	Delay time.Duration

	// MaxDelay caps the wait between tries (default 2s).
	MaxDelay time.Duration
}

// DefaultRetryConfig returns the settings used by `netlaunch send`.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts: 3,
		Delay:    100 * time.Millisecond,
		MaxDelay: 2 * time.Second,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.Attempts <= 0 {
		c.Attempts = def.Attempts
	}
	if c.Delay <= 0 {
		c.Delay = def.Delay
	}
	if c.MaxDelay < c.Delay {
		c.MaxDelay = max(def.MaxDelay, c.Delay)
	}
	return c
}

// Retry calls fn until it succeeds, ctx ends, fn fails with an error that is
// permanent or not transient, or the attempts run out. It returns the last
// error fn produced, or ctx's error if ctx ended first.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	delay := cfg.Delay

	var err error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = fn(); err == nil {
			return nil
		}
		if IsPermanent(err) || !IsTransient(err) || attempt == cfg.Attempts {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(2*delay, cfg.MaxDelay)
	}
}

// transientErrnos are socket errors a later attempt can get past, such as a
// TCP listener that has not bound yet.
var transientErrnos = []syscall.Errno{
	syscall.ECONNREFUSED,
	syscall.ECONNRESET,
	syscall.EPIPE,
	syscall.ENOBUFS,
	syscall.ENETUNREACH,
	syscall.EHOSTUNREACH,
}

// IsTransient reports whether err is a network failure worth another try:
// a refused or reset connection, an unreachable network, or a timeout.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// Windows reports Winsock codes that do not match the errnos above.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "refused") || strings.Contains(msg, "forcibly closed")
}

// PermanentError marks an error that must not be retried, such as an
// unresolvable host.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err was marked with MarkPermanent.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}

// MarkPermanent wraps err so that Retry gives up on it immediately.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
