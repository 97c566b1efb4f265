package config

import (
	"strings"
	"time"
)

// PushConfig contains push gateway delivery configuration.
type PushConfig struct {
	// Authorization is the value sent in the Authorization header to the
	// push gateway (VAPID bearer credentials minted out of band).
	Authorization string `env:"PUSH_AUTHORIZATION"`

	// ContactEmail identifies the sender to push services per the Web Push
	// protocol, sent as the From header.
	ContactEmail string `env:"PUSH_CONTACT_EMAIL" envDefault:"ops@stagepass.example"`

	// Timeout bounds a single delivery attempt to one endpoint.
	Timeout time.Duration `env:"PUSH_TIMEOUT" envDefault:"10s"`

	// DefaultTTL is the push-service retention hint for undeliverable
	// devices, sent as the TTL header.
	DefaultTTL time.Duration `env:"PUSH_DEFAULT_TTL" envDefault:"24h"`

	// IconURL and BadgeURL decorate rendered notifications. Empty values
	// leave the fields unset.
	IconURL  string `env:"PUSH_ICON_URL"`
	BadgeURL string `env:"PUSH_BADGE_URL"`
}

// Sanitize applies guardrails to push configuration values.
func (p *PushConfig) Sanitize() {
	p.Authorization = strings.TrimSpace(p.Authorization)
	p.ContactEmail = strings.TrimSpace(p.ContactEmail)
	if p.Timeout <= 0 {
		p.Timeout = 10 * time.Second
	}
	if p.DefaultTTL <= 0 {
		p.DefaultTTL = 24 * time.Hour
	}
}
