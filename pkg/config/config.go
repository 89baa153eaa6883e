// Package config provides the configuration system for nicesync.
// A single Config structure covers the API credentials, stream selection,
// and the http/retry/poll/observability sections; values come from a YAML
// or JSON file with ${ENV_VAR} substitution applied before parsing.
package config

import (
	"time"

	"github.com/streamkit/nicesync/pkg/errors"
	jsonutil "github.com/streamkit/nicesync/pkg/json"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for a sync run.
type Config struct {
	// StartDate is the initial watermark for streams with no bookmark,
	// ISO-8601 / RFC 3339.
	StartDate string `yaml:"start_date" json:"start_date"`
	// APIKey is the access key id used for authentication
	APIKey string `yaml:"api_key" json:"api_key"`
	// APISecret is the access key secret used for authentication
	APISecret string `yaml:"api_secret" json:"api_secret"`
	// APICluster selects the regional API host (e.g. "e32")
	APICluster string `yaml:"api_cluster" json:"api_cluster"`
	// APIVersion selects the reporting API version
	APIVersion string `yaml:"api_version" json:"api_version"`
	// AuthDomain selects the identity-provider host
	AuthDomain string `yaml:"auth_domain" json:"auth_domain"`
	// UserAgent is sent on every request
	UserAgent string `yaml:"user_agent" json:"user_agent"`

	// Streams selects which registered streams to sync; empty selects all
	Streams []string `yaml:"streams" json:"streams"`

	// Periods overrides the window granularity per stream id
	Periods Periods `yaml:"periods" json:"periods"`

	HTTP          HTTPConfig          `yaml:"http" json:"http"`
	Retry         RetryConfig         `yaml:"retry" json:"retry"`
	Poll          PollConfig          `yaml:"poll_settings" json:"poll_settings"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// Periods maps stream ids to a window granularity ("days", "hours",
// "minutes"). Accepts either a mapping or, for compatibility with older
// configs, a JSON object encoded as a string.
type Periods map[string]string

// UnmarshalYAML implements yaml.Unmarshaler
func (p *Periods) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.MappingNode:
		m := map[string]string{}
		if err := value.Decode(&m); err != nil {
			return err
		}
		*p = m
		return nil
	case yaml.ScalarNode:
		if value.Value == "" {
			*p = nil
			return nil
		}
		m := map[string]string{}
		if err := jsonutil.Unmarshal([]byte(value.Value), &m); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "periods string is not a JSON object")
		}
		*p = m
		return nil
	default:
		return errors.New(errors.ErrorTypeConfig, "periods must be a mapping or a JSON string")
	}
}

// HTTPConfig contains transport settings for the API session.
type HTTPConfig struct {
	// RequestTimeoutSeconds bounds each HTTP request
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" json:"request_timeout_seconds"`
	// ConnectTimeoutSeconds bounds connection establishment
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds" json:"connect_timeout_seconds"`
	// IdleTimeoutSeconds closes inactive pooled connections
	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds" json:"idle_timeout_seconds"`
	// MaxIdleConns caps the connection pool
	MaxIdleConns int `yaml:"max_idle_conns" json:"max_idle_conns"`
}

// RequestTimeout returns the request timeout as a duration
func (h HTTPConfig) RequestTimeout() time.Duration {
	return time.Duration(h.RequestTimeoutSeconds) * time.Second
}

// ConnectTimeout returns the connect timeout as a duration
func (h HTTPConfig) ConnectTimeout() time.Duration {
	return time.Duration(h.ConnectTimeoutSeconds) * time.Second
}

// IdleTimeout returns the idle timeout as a duration
func (h HTTPConfig) IdleTimeout() time.Duration {
	return time.Duration(h.IdleTimeoutSeconds) * time.Second
}

// RetryConfig contains the backoff settings for retryable API errors.
type RetryConfig struct {
	// MaxAttempts caps total attempts, first try included
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	// InitialDelaySeconds is the first backoff delay
	InitialDelaySeconds int `yaml:"initial_delay_seconds" json:"initial_delay_seconds"`
	// MaxDelaySeconds caps the backoff delay
	MaxDelaySeconds int `yaml:"max_delay_seconds" json:"max_delay_seconds"`
	// Multiplier grows the delay between attempts
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
}

// InitialDelay returns the initial backoff delay as a duration
func (r RetryConfig) InitialDelay() time.Duration {
	return time.Duration(r.InitialDelaySeconds) * time.Second
}

// MaxDelay returns the backoff cap as a duration
func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelaySeconds) * time.Second
}

// PollConfig contains the export-job poll loop settings.
type PollConfig struct {
	// DelaySeconds is the sleep between status polls
	DelaySeconds int `yaml:"delay_seconds" json:"delay_seconds"`
	// TimeoutSeconds is the wall-clock budget per job
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// Delay returns the poll delay as a duration
func (p PollConfig) Delay() time.Duration {
	return time.Duration(p.DelaySeconds) * time.Second
}

// Timeout returns the poll timeout as a duration
func (p PollConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// ObservabilityConfig contains logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogEncoding selects the log format (json, console)
	LogEncoding string `yaml:"log_encoding" json:"log_encoding"`
	// TracingEnabled activates span export to stderr
	TracingEnabled bool `yaml:"tracing_enabled" json:"tracing_enabled"`
	// TracingSampleRate controls trace sampling (0.0-1.0)
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
	// MetricsAddr exposes Prometheus metrics when non-empty (e.g. ":9090")
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// Default returns a Config with production defaults. Loading a file
// overlays onto these values.
func Default() *Config {
	return &Config{
		APIVersion: "21.0",
		AuthDomain: "na1",
		HTTP: HTTPConfig{
			RequestTimeoutSeconds: 60,
			ConnectTimeoutSeconds: 10,
			IdleTimeoutSeconds:    90,
			MaxIdleConns:          10,
		},
		Retry: RetryConfig{
			MaxAttempts:         8,
			InitialDelaySeconds: 2,
			MaxDelaySeconds:     60,
			Multiplier:          2.0,
		},
		Poll: PollConfig{
			DelaySeconds:   5,
			TimeoutSeconds: 300,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogEncoding:       "json",
			TracingEnabled:    false,
			TracingSampleRate: 1.0,
		},
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"start_date", c.StartDate},
		{"api_key", c.APIKey},
		{"api_secret", c.APISecret},
		{"api_cluster", c.APICluster},
		{"user_agent", c.UserAgent},
	}
	for _, r := range required {
		if r.value == "" {
			return errors.Newf(errors.ErrorTypeConfig, "%s is required", r.name)
		}
	}

	if _, err := time.Parse(time.RFC3339, c.StartDate); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "start_date must be RFC 3339")
	}

	for stream, period := range c.Periods {
		switch period {
		case "days", "hours", "minutes":
		default:
			return errors.Newf(errors.ErrorTypeConfig, "periods.%s: unknown period %q", stream, period)
		}
	}

	if c.Retry.MaxAttempts <= 0 {
		return errors.New(errors.ErrorTypeConfig, "retry.max_attempts must be positive")
	}
	if c.Retry.Multiplier < 1 {
		return errors.New(errors.ErrorTypeConfig, "retry.multiplier must be >= 1")
	}
	if c.Poll.DelaySeconds <= 0 {
		return errors.New(errors.ErrorTypeConfig, "poll_settings.delay_seconds must be positive")
	}
	if c.Poll.TimeoutSeconds <= 0 {
		return errors.New(errors.ErrorTypeConfig, "poll_settings.timeout_seconds must be positive")
	}
	if c.Observability.TracingSampleRate < 0 || c.Observability.TracingSampleRate > 1 {
		return errors.New(errors.ErrorTypeConfig, "observability.tracing_sample_rate must be within [0, 1]")
	}

	return nil
}

// StartTime returns the parsed start_date. Validate must have passed.
func (c *Config) StartTime() time.Time {
	t, _ := time.Parse(time.RFC3339, c.StartDate)
	return t.UTC()
}

// SelectedStreams reports whether the given stream id is selected.
func (c *Config) SelectedStreams(id string) bool {
	if len(c.Streams) == 0 {
		return true
	}
	for _, s := range c.Streams {
		if s == id {
			return true
		}
	}
	return false
}

// Period returns the effective window granularity for a stream,
// falling back to the supplied default.
func (c *Config) Period(streamID, fallback string) string {
	if p, ok := c.Periods[streamID]; ok {
		return p
	}
	return fallback
}
