// Package job holds queue-side domain policies: retry backoff, leases,
// and the availability notifier workers block on.
package job

import (
	"errors"
	"fmt"
	"time"
)

// Retry defaults for notification jobs.
const (
	DefaultMaxAttempts = 5
	DefaultBackoffBase = 2 * time.Second
)

// ErrInvalidBackoffBase indicates the configured backoff base is not positive.
var ErrInvalidBackoffBase = errors.New("backoff base must be positive")

// RetryPolicy computes the delay before a failed job becomes waiting again.
// Delays double per attempt: base, 2*base, 4*base, ...
type RetryPolicy struct {
	base        time.Duration
	maxAttempts int
}

// NewRetryPolicy constructs a RetryPolicy. Non-positive maxAttempts falls
// back to the default attempt ceiling.
func NewRetryPolicy(base time.Duration, maxAttempts int) (*RetryPolicy, error) {
	if base <= 0 {
		return nil, ErrInvalidBackoffBase
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &RetryPolicy{base: base, maxAttempts: maxAttempts}, nil
}

// MustNewRetryPolicy constructs a RetryPolicy and panics on error. Use
// only with sanitized configuration values.
func MustNewRetryPolicy(base time.Duration, maxAttempts int) *RetryPolicy {
	p, err := NewRetryPolicy(base, maxAttempts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast on invalid startup configuration
		panic(fmt.Sprintf("failed to create RetryPolicy: %v", err))
	}
	return p
}

// MaxAttempts returns the attempt ceiling before a job is terminally failed.
func (p *RetryPolicy) MaxAttempts() int {
	if p == nil {
		return DefaultMaxAttempts
	}
	return p.maxAttempts
}

// Base returns the first retry delay.
func (p *RetryPolicy) Base() time.Duration {
	if p == nil {
		return DefaultBackoffBase
	}
	return p.base
}

// Delay returns the backoff before retry number attempt (1-based: the
// delay after the attempt-th failure). Attempts beyond the ceiling keep
// the last delay so callers never see a shrinking schedule.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	base := p.Base()
	if attempt < 1 {
		attempt = 1
	}
	capped := attempt
	if max := p.MaxAttempts(); capped > max {
		capped = max
	}
	return base << (capped - 1)
}
