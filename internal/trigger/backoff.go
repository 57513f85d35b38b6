package trigger

import (
	"sync"
	"time"
)

// BackoffMultiplier is the exponential growth factor between bind attempts.
const BackoffMultiplier = 2.0

// BindBackoff tracks consecutive bind failures per listener and hands out
// exponentially growing delays so an unavailable port is never retried in a
// hot loop. It is in-memory only; a restart of netlaunch starts fresh.
type BindBackoff struct {
	initial time.Duration
	max     time.Duration

	mu        sync.Mutex
	listeners map[string]*BindFailures
}

// BindFailures is the failure history of one listener.
type BindFailures struct {
	// Count is the number of consecutive failed binds.
	Count int `json:"count"`

	// FirstFailure is when the current failure sequence began.
	FirstFailure time.Time `json:"first_failure"`

	// LastFailure is the most recent failed bind.
	LastFailure time.Time `json:"last_failure"`

	// LastError is the message of the most recent failure.
	LastError string `json:"last_error,omitempty"`
}

// NewBindBackoff creates a tracker whose first delay is initial and whose
// delays never exceed max.
func NewBindBackoff(initial, max time.Duration) *BindBackoff {
	if initial <= 0 {
		initial = time.Second
	}
	if max < initial {
		max = initial
	}
	return &BindBackoff{
		initial:   initial,
		max:       max,
		listeners: make(map[string]*BindFailures),
	}
}

// RecordFailure records a failed bind for id and returns how long to wait
// before the next attempt.
func (b *BindBackoff) RecordFailure(id string, err error) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	info := b.listeners[id]
	if info == nil {
		info = &BindFailures{FirstFailure: now}
		b.listeners[id] = info
	}
	info.Count++
	info.LastFailure = now
	if err != nil {
		info.LastError = err.Error()
	}
	return b.calculate(info.Count)
}

// RecordSuccess resets the failure history of id after a successful bind.
func (b *BindBackoff) RecordSuccess(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, id)
}

// Status returns a copy of the failure history of id, or nil if the last
// bind succeeded.
func (b *BindBackoff) Status(id string) *BindFailures {
	b.mu.Lock()
	defer b.mu.Unlock()

	if info := b.listeners[id]; info != nil {
		copy := *info
		return &copy
	}
	return nil
}

// Delay returns the delay that currently applies to id.
func (b *BindBackoff) Delay(id string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	info := b.listeners[id]
	if info == nil || info.Count == 0 {
		return 0
	}
	return b.calculate(info.Count)
}

// calculate returns initial * multiplier^(count-1), capped at max.
func (b *BindBackoff) calculate(count int) time.Duration {
	backoff := float64(b.initial)
	for i := 1; i < count; i++ {
		backoff *= BackoffMultiplier
		if backoff >= float64(b.max) {
			return b.max
		}
	}
	return time.Duration(backoff)
}
