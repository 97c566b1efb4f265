package config

import (
	"reflect"
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:  "single service - http",
			input: "http",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP: true,
			},
			expectError: false,
		},
		{
			name:  "single service - worker",
			input: "worker",
			expected: map[ServiceMode]bool{
				ServiceModeWorker: true,
			},
			expectError: false,
		},
		{
			name:  "single service - reaper",
			input: "reaper",
			expected: map[ServiceMode]bool{
				ServiceModeReaper: true,
			},
			expectError: false,
		},
		{
			name:  "all services",
			input: "http,worker,reaper",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:   true,
				ServiceModeWorker: true,
				ServiceModeReaper: true,
			},
			expectError: false,
		},
		{
			name:  "services with spaces",
			input: " http , worker ",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:   true,
				ServiceModeWorker: true,
			},
			expectError: false,
		},
		{
			name:  "duplicate services",
			input: "worker,worker,http",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:   true,
				ServiceModeWorker: true,
			},
			expectError: false,
		},
		{
			name:        "empty string",
			input:       "",
			expectError: true,
		},
		{
			name:        "invalid service name",
			input:       "http,scheduler",
			expectError: true,
		},
		{
			name:        "only commas",
			input:       ",,,",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServices(tt.input)
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error for input %q, got none", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("ParseServices(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestAppConfigDefaults(t *testing.T) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parsing defaults: %v", err)
	}
	cfg.Sanitize()

	if cfg.Services != "http" {
		t.Errorf("Services default = %q, want %q", cfg.Services, "http")
	}
	if cfg.Worker.Concurrency != 5 {
		t.Errorf("Worker.Concurrency default = %d, want 5", cfg.Worker.Concurrency)
	}
	if cfg.Dispatch.Concurrency != 10 {
		t.Errorf("Dispatch.Concurrency default = %d, want 10", cfg.Dispatch.Concurrency)
	}
	if cfg.Queue.MaxAttempts != 5 {
		t.Errorf("Queue.MaxAttempts default = %d, want 5", cfg.Queue.MaxAttempts)
	}
	if cfg.Queue.BackoffBase != 2*time.Second {
		t.Errorf("Queue.BackoffBase default = %v, want 2s", cfg.Queue.BackoffBase)
	}
	if cfg.Reaper.DisabledRetention != 720*time.Hour {
		t.Errorf("Reaper.DisabledRetention default = %v, want 720h", cfg.Reaper.DisabledRetention)
	}
	if cfg.Postgres.Port != 5432 {
		t.Errorf("Postgres.Port default = %d, want 5432", cfg.Postgres.Port)
	}
}

func TestQueueConfigSanitize(t *testing.T) {
	cfg := QueueConfig{
		DefaultLease: time.Second,
		DefaultTTL:   -time.Hour,
		BackoffBase:  0,
		MaxAttempts:  0,
	}
	cfg.Sanitize()

	if cfg.DefaultLease != 5*time.Second {
		t.Errorf("DefaultLease = %v, want 5s floor", cfg.DefaultLease)
	}
	if cfg.DefaultTTL != 0 {
		t.Errorf("DefaultTTL = %v, want 0", cfg.DefaultTTL)
	}
	if cfg.BackoffBase != time.Second {
		t.Errorf("BackoffBase = %v, want 1s floor", cfg.BackoffBase)
	}
	if cfg.MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d, want 1 floor", cfg.MaxAttempts)
	}
}

func TestWorkerConfigSanitize(t *testing.T) {
	cfg := WorkerConfig{Concurrency: 0, JobLease: time.Second, PollInterval: 0}
	cfg.Sanitize()

	if cfg.Concurrency != 1 {
		t.Errorf("Concurrency = %d, want 1 floor", cfg.Concurrency)
	}
	if cfg.JobLease != 5*time.Second {
		t.Errorf("JobLease = %v, want 5s floor", cfg.JobLease)
	}
	if cfg.PollInterval != time.Second {
		t.Errorf("PollInterval = %v, want 1s floor", cfg.PollInterval)
	}
}

func TestReaperConfigSanitize(t *testing.T) {
	cfg := ReaperConfig{
		Interval:          time.Second,
		CompletedMaxAge:   time.Minute,
		FailedMaxAge:      time.Minute,
		KeepCompleted:     -1,
		KeepFailed:        -5,
		BatchSize:         50000,
		DisabledRetention: time.Hour,
	}
	cfg.Sanitize()

	if cfg.Interval != time.Minute {
		t.Errorf("Interval = %v, want 1m floor", cfg.Interval)
	}
	if cfg.CompletedMaxAge != time.Hour {
		t.Errorf("CompletedMaxAge = %v, want 1h floor", cfg.CompletedMaxAge)
	}
	if cfg.KeepCompleted != 0 || cfg.KeepFailed != 0 {
		t.Errorf("Keep counts = %d/%d, want 0 floors", cfg.KeepCompleted, cfg.KeepFailed)
	}
	if cfg.BatchSize != 10000 {
		t.Errorf("BatchSize = %d, want 10000 cap", cfg.BatchSize)
	}
	if cfg.DisabledRetention != 24*time.Hour {
		t.Errorf("DisabledRetention = %v, want 24h floor", cfg.DisabledRetention)
	}
}

func TestObservabilityMetricsSanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{Enabled: true, StatsdAddress: "   "}
	cfg.Sanitize()

	if cfg.Enabled {
		t.Error("Enabled should be forced off when the address is blank")
	}
	if cfg.IsEnabled() {
		t.Error("IsEnabled should be false when the address is blank")
	}
}
