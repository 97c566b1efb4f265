package job

import (
	"errors"
	"time"
)

// ErrInvalidDefaultLease indicates the configured default lease duration is not positive.
var ErrInvalidDefaultLease = errors.New("default lease must be positive")

// LeasePolicy normalises lease durations for job reservations into whole seconds.
type LeasePolicy struct {
	defaultLease time.Duration
}

// NewLeasePolicy constructs a LeasePolicy with the provided default lease duration.
func NewLeasePolicy(defaultLease time.Duration) (*LeasePolicy, error) {
	if defaultLease <= 0 {
		return nil, ErrInvalidDefaultLease
	}
	return &LeasePolicy{defaultLease: defaultLease}, nil
}

// Default returns the configured default lease duration.
func (p *LeasePolicy) Default() time.Duration {
	if p == nil {
		return 0
	}
	return p.defaultLease
}

// Resolve converts a requested lease into whole seconds. Zero means "use
// the default"; sub-second and negative requests clamp to one second.
// The second return reports whether clamping happened.
func (p *LeasePolicy) Resolve(request time.Duration) (int, bool) {
	d := request
	if d == 0 && p != nil {
		d = p.defaultLease
	}
	seconds := int64(d / time.Second)
	if seconds <= 0 {
		return 1, true
	}
	return int(seconds), false
}
