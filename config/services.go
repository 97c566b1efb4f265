package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeWorker runs the notification delivery worker.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeReaper runs the retention reaper.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeWorker,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeWorker, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, worker, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// QueueConfig contains notification queue configuration.
type QueueConfig struct {
	// DefaultLease is the lease duration for reserved jobs. A worker that
	// stops heartbeating loses its job after this long.
	DefaultLease time.Duration `env:"QUEUE_DEFAULT_LEASE" envDefault:"30s"`

	// DefaultTTL is how long a queued notification stays deliverable before
	// it is abandoned as stale. Zero disables expiry.
	DefaultTTL time.Duration `env:"QUEUE_DEFAULT_TTL" envDefault:"6h"`

	// BackoffBase is the delay before the first retry; subsequent retries double it.
	BackoffBase time.Duration `env:"QUEUE_BACKOFF_BASE" envDefault:"2s"`

	// MaxAttempts is the number of delivery attempts before a job fails permanently.
	MaxAttempts int `env:"QUEUE_MAX_ATTEMPTS" envDefault:"5"`
}

// Sanitize applies guardrails to queue configuration values.
func (q *QueueConfig) Sanitize() {
	if q.DefaultLease < 5*time.Second {
		q.DefaultLease = 5 * time.Second
	}
	if q.DefaultTTL < 0 {
		q.DefaultTTL = 0
	}
	if q.BackoffBase < time.Second {
		q.BackoffBase = time.Second
	}
	if q.MaxAttempts < 1 {
		q.MaxAttempts = 1
	}
}

// WorkerConfig contains notification worker configuration.
type WorkerConfig struct {
	// Concurrency is the number of worker goroutines draining the queue.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"5"`

	// JobLease is the duration to lease a notification job.
	JobLease time.Duration `env:"WORKER_JOB_LEASE" envDefault:"30s"`

	// PollInterval bounds how long a worker blocks waiting for a wakeup
	// before re-checking the queue. Requeued jobs have no notify signal,
	// so this interval is their pickup latency ceiling.
	PollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"15s"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.JobLease < 5*time.Second {
		w.JobLease = 5 * time.Second
	}
	if w.PollInterval < time.Second {
		w.PollInterval = time.Second
	}
}

// DispatchConfig contains per-job fan-out configuration.
type DispatchConfig struct {
	// Concurrency is the number of simultaneous push sends within one job.
	// Values above MaxConcurrency are clamped by the dispatcher.
	Concurrency int `env:"DISPATCH_CONCURRENCY" envDefault:"10"`
}

// Sanitize applies guardrails to dispatch configuration values.
func (d *DispatchConfig) Sanitize() {
	if d.Concurrency < 1 {
		d.Concurrency = 1
	}
}

// ReaperConfig contains retention reaper configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// CompletedMaxAge is the maximum age for completed jobs before deletion.
	CompletedMaxAge time.Duration `env:"REAPER_COMPLETED_MAX_AGE" envDefault:"168h"` // 7 days

	// FailedMaxAge is the maximum age for failed jobs before deletion.
	FailedMaxAge time.Duration `env:"REAPER_FAILED_MAX_AGE" envDefault:"336h"` // 14 days

	// KeepCompleted is the number of most recent completed jobs retained
	// regardless of age, so operators always have recent history.
	KeepCompleted int `env:"REAPER_KEEP_COMPLETED" envDefault:"500"`

	// KeepFailed is the number of most recent failed jobs retained regardless of age.
	KeepFailed int `env:"REAPER_KEEP_FAILED" envDefault:"500"`

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`

	// DisabledRetention is how long a disabled push subscription is kept
	// before deletion, giving browsers a window to re-subscribe.
	DisabledRetention time.Duration `env:"REAPER_DISABLED_RETENTION" envDefault:"720h"` // 30 days

	// TrackerRetentionHours is the age, in hours, past which in-memory
	// error and performance records are dropped. Zero disables pruning.
	TrackerRetentionHours int `env:"REAPER_TRACKER_RETENTION_HOURS" envDefault:"24"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.CompletedMaxAge < 1*time.Hour {
		r.CompletedMaxAge = 1 * time.Hour
	}
	if r.FailedMaxAge < 1*time.Hour {
		r.FailedMaxAge = 1 * time.Hour
	}
	if r.KeepCompleted < 0 {
		r.KeepCompleted = 0
	}
	if r.KeepFailed < 0 {
		r.KeepFailed = 0
	}

	// Enforce batch size bounds to prevent excessive locks or inefficiency
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}

	if r.DisabledRetention < 24*time.Hour {
		r.DisabledRetention = 24 * time.Hour
	}
	if r.TrackerRetentionHours < 0 {
		r.TrackerRetentionHours = 0
	}
}
