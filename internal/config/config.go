// Package config loads and validates driftwatch configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/driftwatch/internal/models"
)

// Config is the top-level driftwatch configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Log         LogConfig         `yaml:"log"`
	Environment string            `yaml:"environment"`
	Detection   DetectionConfig   `yaml:"detection"`
	Suppression SuppressionConfig `yaml:"suppression"`
	Notify      NotifyConfig      `yaml:"notify"`
	Webhook     WebhookConfig     `yaml:"webhook"`
	Flags       FlagsConfig       `yaml:"flags"`
}

// ServerConfig contains listener settings.
type ServerConfig struct {
	HTTPAddress    string `yaml:"http_address"`    // trigger API listen address (default: :8080)
	MetricsAddress string `yaml:"metrics_address"` // Prometheus listen address (default: :9091)
}

// DatabaseConfig contains SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"` // database file path (default: driftwatch.db)
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: info)
}

// MetricWindows overrides the built-in detection windows for one metric.
type MetricWindows struct {
	RecentWindowDays   int `yaml:"recent_window_days"`
	BaselineWindowDays int `yaml:"baseline_window_days"`
	MinVolume          int `yaml:"min_volume"`
}

// DetectionConfig tunes the signal detector.
type DetectionConfig struct {
	// Metrics maps a metric name to window overrides. Missing metrics or
	// zero fields use the metric's built-in defaults.
	Metrics map[string]MetricWindows `yaml:"metrics"`
}

// WindowsFor resolves the effective detection windows for a metric.
func (d DetectionConfig) WindowsFor(m models.Metric) MetricWindows {
	spec := m.Spec()
	w := MetricWindows{
		RecentWindowDays:   spec.RecentWindowDays,
		BaselineWindowDays: spec.BaselineWindowDays,
		MinVolume:          spec.MinVolume,
	}
	o, ok := d.Metrics[string(m)]
	if !ok {
		return w
	}
	if o.RecentWindowDays > 0 {
		w.RecentWindowDays = o.RecentWindowDays
	}
	if o.BaselineWindowDays > 0 {
		w.BaselineWindowDays = o.BaselineWindowDays
	}
	if o.MinVolume > 0 {
		w.MinVolume = o.MinVolume
	}
	return w
}

// SuppressionConfig tunes the suppression engine. Defaults match the
// hardcoded values of the predecessor system exactly.
type SuppressionConfig struct {
	CooldownHours          int `yaml:"cooldown_hours"`            // default: 4
	NoiseLookbackDays      int `yaml:"noise_lookback_days"`       // default: 30
	NoiseStrikeCount       int `yaml:"noise_strike_count"`        // default: 2
	ContextCacheTTLMinutes int `yaml:"context_cache_ttl_minutes"` // default: 15
}

// Cooldown returns the cooldown window as a duration.
func (s SuppressionConfig) Cooldown() time.Duration {
	return time.Duration(s.CooldownHours) * time.Hour
}

// NoiseLookback returns the judgment lookback window as a duration.
func (s SuppressionConfig) NoiseLookback() time.Duration {
	return time.Duration(s.NoiseLookbackDays) * 24 * time.Hour
}

// ContextCacheTTL returns the suppression-context cache TTL.
func (s SuppressionConfig) ContextCacheTTL() time.Duration {
	return time.Duration(s.ContextCacheTTLMinutes) * time.Minute
}

// SMTPConfig contains outbound mail settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// NotifyConfig tunes the notification dispatcher.
type NotifyConfig struct {
	// DefaultRecipient backs the fallback email channel used when a
	// tenant has no enabled channels.
	DefaultRecipient string     `yaml:"default_recipient"`
	DeepLinkBaseURL  string     `yaml:"deep_link_base_url"`
	AttachPDF        bool       `yaml:"attach_pdf"`
	SMTP             SMTPConfig `yaml:"smtp"`
	// DispatchTimeoutSeconds bounds each outbound channel call.
	DispatchTimeoutSeconds int `yaml:"dispatch_timeout_seconds"` // default: 10
	// RatePerMinute caps notifications sent per minute, 0 disables.
	RatePerMinute int `yaml:"rate_per_minute"` // default: 60
}

// DispatchTimeout returns the per-call timeout as a duration.
func (n NotifyConfig) DispatchTimeout() time.Duration {
	return time.Duration(n.DispatchTimeoutSeconds) * time.Second
}

// WebhookConfig tunes the webhook delivery subsystem.
type WebhookConfig struct {
	MaxAttempts          int `yaml:"max_attempts"`           // default: 5
	TimeoutSeconds       int `yaml:"timeout_seconds"`        // default: 30
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"` // default: 60
	SweepRatePerSecond   int `yaml:"sweep_rate_per_second"`  // default: 10
}

// Timeout returns the per-delivery timeout as a duration.
func (w WebhookConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// SweepInterval returns the retry sweep period as a duration.
func (w WebhookConfig) SweepInterval() time.Duration {
	return time.Duration(w.SweepIntervalSeconds) * time.Second
}

// FlagsConfig tunes the feature rollout gate.
type FlagsConfig struct {
	// DefaultEnabled is the result for flags that do not exist.
	DefaultEnabled bool `yaml:"default_enabled"`
	// OverrideCacheTTLSeconds caps override lookups per actor.
	OverrideCacheTTLSeconds int `yaml:"override_cache_ttl_seconds"` // default: 60
}

// OverrideCacheTTL returns the override cache TTL as a duration.
func (f FlagsConfig) OverrideCacheTTL() time.Duration {
	return time.Duration(f.OverrideCacheTTLSeconds) * time.Second
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.HTTPAddress == "" {
		c.Server.HTTPAddress = ":8080"
	}
	if c.Server.MetricsAddress == "" {
		c.Server.MetricsAddress = ":9091"
	}
	if c.Database.Path == "" {
		c.Database.Path = "driftwatch.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Environment == "" {
		c.Environment = "production"
	}
	if c.Suppression.CooldownHours == 0 {
		c.Suppression.CooldownHours = 4
	}
	if c.Suppression.NoiseLookbackDays == 0 {
		c.Suppression.NoiseLookbackDays = 30
	}
	if c.Suppression.NoiseStrikeCount == 0 {
		c.Suppression.NoiseStrikeCount = 2
	}
	if c.Suppression.ContextCacheTTLMinutes == 0 {
		c.Suppression.ContextCacheTTLMinutes = 15
	}
	if c.Notify.DispatchTimeoutSeconds == 0 {
		c.Notify.DispatchTimeoutSeconds = 10
	}
	if c.Notify.RatePerMinute == 0 {
		c.Notify.RatePerMinute = 60
	}
	if c.Webhook.MaxAttempts == 0 {
		c.Webhook.MaxAttempts = 5
	}
	if c.Webhook.TimeoutSeconds == 0 {
		c.Webhook.TimeoutSeconds = 30
	}
	if c.Webhook.SweepIntervalSeconds == 0 {
		c.Webhook.SweepIntervalSeconds = 60
	}
	if c.Webhook.SweepRatePerSecond == 0 {
		c.Webhook.SweepRatePerSecond = 10
	}
	if c.Flags.OverrideCacheTTLSeconds == 0 {
		c.Flags.OverrideCacheTTLSeconds = 60
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.HTTPAddress == "" {
		return fmt.Errorf("server.http_address is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Suppression.NoiseStrikeCount < 1 {
		return fmt.Errorf("suppression.noise_strike_count must be at least 1")
	}
	if c.Webhook.MaxAttempts < 1 {
		return fmt.Errorf("webhook.max_attempts must be at least 1")
	}
	for name, w := range c.Detection.Metrics {
		if w.RecentWindowDays < 0 || w.BaselineWindowDays < 0 || w.MinVolume < 0 {
			return fmt.Errorf("detection.metrics.%s: negative window override", name)
		}
	}
	return nil
}
