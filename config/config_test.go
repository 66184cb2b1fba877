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
			name:  "single service - scheduler",
			input: "scheduler",
			expected: map[ServiceMode]bool{
				ServiceModeScheduler: true,
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
			input: "scheduler,reaper",
			expected: map[ServiceMode]bool{
				ServiceModeScheduler: true,
				ServiceModeReaper:    true,
			},
			expectError: false,
		},
		{
			name:  "services with spaces",
			input: " scheduler , reaper ",
			expected: map[ServiceMode]bool{
				ServiceModeScheduler: true,
				ServiceModeReaper:    true,
			},
			expectError: false,
		},
		{
			name:  "duplicate services",
			input: "scheduler,scheduler,reaper",
			expected: map[ServiceMode]bool{
				ServiceModeScheduler: true,
				ServiceModeReaper:    true,
			},
			expectError: false,
		},
		{
			name:        "empty string",
			input:       "",
			expected:    nil,
			expectError: true,
		},
		{
			name:        "only spaces and commas",
			input:       " , , ",
			expected:    nil,
			expectError: true,
		},
		{
			name:        "invalid service name",
			input:       "scheduler,invalid-service",
			expected:    nil,
			expectError: true,
		},
		{
			name:        "http is not a valid mode",
			input:       "http",
			expected:    nil,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("ParseServices(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestValidServiceModes(t *testing.T) {
	modes := ValidServiceModes()
	if len(modes) != 2 {
		t.Fatalf("ValidServiceModes() returned %d modes, want 2", len(modes))
	}
	for _, mode := range modes {
		if _, err := ParseServices(string(mode)); err != nil {
			t.Errorf("ParseServices(%q) failed for valid mode: %v", mode, err)
		}
	}
}

func TestAppConfigDefaults(t *testing.T) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("env.Parse failed: %v", err)
	}
	cfg.Sanitize()

	if cfg.Services != "scheduler" {
		t.Errorf("Services default = %q, want %q", cfg.Services, "scheduler")
	}
	if !cfg.IsSchedulerEnabled() {
		t.Error("scheduler should be enabled by default")
	}
	if cfg.IsReaperEnabled() {
		t.Error("reaper should not be enabled by default")
	}
	if cfg.Postgres.Host != "localhost" {
		t.Errorf("Postgres.Host default = %q, want %q", cfg.Postgres.Host, "localhost")
	}
	if cfg.Postgres.Port != 5432 {
		t.Errorf("Postgres.Port default = %d, want 5432", cfg.Postgres.Port)
	}
	if !cfg.Postgres.RunMigrationsOnStart {
		t.Error("RunMigrationsOnStart should default to true")
	}
	if cfg.Scheduler.Interval != 5*time.Minute {
		t.Errorf("Scheduler.Interval default = %v, want 5m", cfg.Scheduler.Interval)
	}
	if cfg.Scheduler.BatchSize != 25 {
		t.Errorf("Scheduler.BatchSize default = %d, want 25", cfg.Scheduler.BatchSize)
	}
	if cfg.Scheduler.Concurrency != 4 {
		t.Errorf("Scheduler.Concurrency default = %d, want 4", cfg.Scheduler.Concurrency)
	}
	if cfg.Scheduler.JobLease != 30*time.Second {
		t.Errorf("Scheduler.JobLease default = %v, want 30s", cfg.Scheduler.JobLease)
	}
	if cfg.Delivery.Timeout != 10*time.Second {
		t.Errorf("Delivery.Timeout default = %v, want 10s", cfg.Delivery.Timeout)
	}
	if cfg.Observability.Notifications.Webhook.Username != "nudged" {
		t.Errorf("Webhook.Username default = %q, want %q", cfg.Observability.Notifications.Webhook.Username, "nudged")
	}
}

func TestSchedulerConfigSanitize(t *testing.T) {
	cfg := SchedulerConfig{
		Interval:    time.Millisecond,
		BatchSize:   0,
		Concurrency: -1,
		JobLease:    time.Second,
		JobTimeout:  0,
	}
	cfg.Sanitize()

	if cfg.Interval < time.Second {
		t.Errorf("Interval not clamped: %v", cfg.Interval)
	}
	if cfg.BatchSize < 1 {
		t.Errorf("BatchSize not clamped: %d", cfg.BatchSize)
	}
	if cfg.Concurrency < 1 {
		t.Errorf("Concurrency not clamped: %d", cfg.Concurrency)
	}
	if cfg.JobLease < 5*time.Second {
		t.Errorf("JobLease not clamped: %v", cfg.JobLease)
	}
	if cfg.JobLease < cfg.JobTimeout {
		t.Errorf("JobLease %v must cover JobTimeout %v", cfg.JobLease, cfg.JobTimeout)
	}
}

func TestSchedulerConfigSanitizeLeaseCoversTimeout(t *testing.T) {
	cfg := SchedulerConfig{
		Interval:    time.Minute,
		BatchSize:   10,
		Concurrency: 2,
		JobLease:    10 * time.Second,
		JobTimeout:  time.Minute,
	}
	cfg.Sanitize()

	if cfg.JobLease != time.Minute {
		t.Errorf("JobLease = %v, want %v (raised to JobTimeout)", cfg.JobLease, time.Minute)
	}
}

func TestReaperConfigSanitize(t *testing.T) {
	cfg := ReaperConfig{
		Interval:        time.Second,
		CompletedMaxAge: time.Minute,
		FailedMaxAge:    0,
		BatchSize:       50000,
	}
	cfg.Sanitize()

	if cfg.Interval < time.Minute {
		t.Errorf("Interval not clamped: %v", cfg.Interval)
	}
	if cfg.CompletedMaxAge < time.Hour {
		t.Errorf("CompletedMaxAge not clamped: %v", cfg.CompletedMaxAge)
	}
	if cfg.FailedMaxAge < time.Hour {
		t.Errorf("FailedMaxAge not clamped: %v", cfg.FailedMaxAge)
	}
	if cfg.BatchSize > 10000 {
		t.Errorf("BatchSize not clamped: %d", cfg.BatchSize)
	}
}

func TestDeliveryConfigSanitize(t *testing.T) {
	cfg := DeliveryConfig{
		BaseURL:  "  https://provider.example.com/  ",
		Token:    " tok ",
		Timeout:  0,
		GuardTTL: time.Second,
	}
	cfg.Sanitize()

	if cfg.BaseURL != "https://provider.example.com" {
		t.Errorf("BaseURL not normalised: %q", cfg.BaseURL)
	}
	if cfg.Token != "tok" {
		t.Errorf("Token not trimmed: %q", cfg.Token)
	}
	if cfg.Timeout <= 0 {
		t.Errorf("Timeout not defaulted: %v", cfg.Timeout)
	}
	if cfg.GuardTTL < 5*time.Second {
		t.Errorf("GuardTTL not clamped: %v", cfg.GuardTTL)
	}
}

func TestObservabilityNotificationsSanitize(t *testing.T) {
	t.Run("disabled parent disables webhook", func(t *testing.T) {
		cfg := ObservabilityNotificationsConfig{
			Enabled: false,
			Webhook: WebhookNotificationConfig{Enabled: true, URL: "https://hooks.example.com/x"},
		}
		cfg.Sanitize()
		if cfg.Webhook.Enabled {
			t.Error("webhook should be disabled when notifications are disabled")
		}
	})

	t.Run("webhook without url is disabled", func(t *testing.T) {
		cfg := ObservabilityNotificationsConfig{
			Enabled: true,
			Webhook: WebhookNotificationConfig{Enabled: true, URL: "   "},
		}
		cfg.Sanitize()
		if cfg.Webhook.Enabled {
			t.Error("webhook without URL should be disabled")
		}
	})

	t.Run("valid webhook stays enabled", func(t *testing.T) {
		cfg := ObservabilityNotificationsConfig{
			Enabled: true,
			Webhook: WebhookNotificationConfig{Enabled: true, URL: "https://hooks.example.com/x"},
		}
		cfg.Sanitize()
		if !cfg.Webhook.Enabled {
			t.Error("configured webhook should stay enabled")
		}
		if cfg.Webhook.Username != "nudged" {
			t.Errorf("Username not defaulted: %q", cfg.Webhook.Username)
		}
	})
}

func TestMetricsConfigSanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{Enabled: true, StatsdAddress: "   "}
	cfg.Sanitize()
	if cfg.IsEnabled() {
		t.Error("metrics without address should be disabled")
	}

	cfg = ObservabilityMetricsConfig{Enabled: true, StatsdAddress: "127.0.0.1:8125"}
	cfg.Sanitize()
	if !cfg.IsEnabled() {
		t.Error("metrics with address should stay enabled")
	}
}
