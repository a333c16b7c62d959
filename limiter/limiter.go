// Package limiter implements GCRA admission control with pluggable state
// stores. All stores run the same arithmetic: a theoretical arrival time
// (TAT) per key advances by one emission interval per admitted cell, and a
// request is rejected while it sits more than the burst offset in the
// future.
package limiter

import (
	"context"
	"time"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	// RetryAfter is how long the caller must wait before the next cell can
	// be admitted; zero when Allowed.
	RetryAfter time.Duration
}

// Store holds GCRA state for keys. Implementations must be safe for
// concurrent use.
type Store interface {
	// Admit runs the GCRA update for key with the given burst capacity and
	// per-cell refill period.
	Admit(ctx context.Context, key string, capacity int64, refill time.Duration) (Decision, error)
}

// gcra computes the next TAT and the decision given the stored TAT. Shared
// by the in-memory store and mirrored by the Redis script.
func gcra(storedTAT, now int64, capacity int64, refill time.Duration) (newTAT int64, d Decision) {
	emission := int64(refill)
	if emission <= 0 {
		emission = 1
	}
	burstOffset := emission * capacity

	tat := storedTAT
	if tat < now {
		tat = now
	}
	newTAT = tat + emission

	allowAt := newTAT - burstOffset
	if now < allowAt {
		return storedTAT, Decision{Allowed: false, RetryAfter: time.Duration(allowAt - now)}
	}
	return newTAT, Decision{Allowed: true}
}

// RetryAfterSeconds rounds the wait up to whole seconds for the Retry-After
// header, with a one second floor so clients always back off.
func RetryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Disabled is a Store that admits everything.
type Disabled struct{}

func (Disabled) Admit(context.Context, string, int64, time.Duration) (Decision, error) {
	return Decision{Allowed: true}, nil
}
