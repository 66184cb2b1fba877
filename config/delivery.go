package config

import (
	"strings"
	"time"
)

// DeliveryConfig contains delivery provider configuration.
type DeliveryConfig struct {
	// BaseURL is the root URL of the messaging provider API.
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8380"`

	// Token authenticates requests to the provider. Optional for local
	// development providers.
	Token string `env:"TOKEN"`

	// Timeout bounds a single delivery request.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`

	// GuardTTL is how long a per-delivery guard key is held.
	GuardTTL time.Duration `env:"GUARD_TTL" envDefault:"30s"`
}

// Sanitize applies guardrails to delivery configuration values.
func (d *DeliveryConfig) Sanitize() {
	d.BaseURL = strings.TrimRight(strings.TrimSpace(d.BaseURL), "/")
	d.Token = strings.TrimSpace(d.Token)
	if d.Timeout <= 0 {
		d.Timeout = 10 * time.Second
	}
	if d.GuardTTL < 5*time.Second {
		d.GuardTTL = 5 * time.Second
	}
}
