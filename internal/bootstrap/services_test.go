package bootstrap

import (
	"sort"
	"testing"

	"github.com/stagepass/notify/config"
)

func TestErrorChannelCapacity(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{
			name: "no services enabled",
			want: 0,
		},
		{
			name:  "http only",
			modes: []config.ServiceMode{config.ServiceModeHTTP},
			want:  1,
		},
		{
			name:  "worker and reaper",
			modes: []config.ServiceMode{config.ServiceModeWorker, config.ServiceModeReaper},
			want:  2,
		},
		{
			name: "all services enabled",
			modes: []config.ServiceMode{
				config.ServiceModeHTTP,
				config.ServiceModeWorker,
				config.ServiceModeReaper,
			},
			want: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			if got := errorChannelCapacity(enabled); got != tt.want {
				t.Fatalf("errorChannelCapacity(%v) = %d, want %d", tt.modes, got, tt.want)
			}
		})
	}
}

func TestErrorChannelBufferSize(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{
			name: "no services enabled",
			want: 1,
		},
		{
			name:  "http only",
			modes: []config.ServiceMode{config.ServiceModeHTTP},
			want:  2,
		},
		{
			name: "all services enabled",
			modes: []config.ServiceMode{
				config.ServiceModeHTTP,
				config.ServiceModeWorker,
				config.ServiceModeReaper,
			},
			want: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			if got := errorChannelBufferSize(enabled); got != tt.want {
				t.Fatalf("errorChannelBufferSize(%v) = %d, want %d", tt.modes, got, tt.want)
			}
		})
	}
}

func TestEnabledServiceNames(t *testing.T) {
	cfg := &config.AppConfig{Services: "http, worker"}

	names := EnabledServiceNames(cfg)
	sort.Strings(names)

	if len(names) != 2 || names[0] != "http" || names[1] != "worker" {
		t.Fatalf("unexpected service names: %v", names)
	}
}

func TestEnabledServiceNamesInvalidConfig(t *testing.T) {
	cfg := &config.AppConfig{Services: "http,bogus"}

	if names := EnabledServiceNames(cfg); len(names) != 0 {
		t.Fatalf("expected empty names for invalid config, got %v", names)
	}
}
