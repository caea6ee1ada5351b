// Package config loads and validates the callsim configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/simhire/callsim/pkg/audioio"
	"github.com/simhire/callsim/pkg/persona"
)

// Config is the complete daemon configuration.
type Config struct {
	Session  SessionConfig   `yaml:"session"`
	Capture  audioio.Config  `yaml:"capture"`
	Playback audioio.Config  `yaml:"playback"`
	Persona  persona.Persona `yaml:"persona"`
	Call     CallConfig      `yaml:"call"`
	Web      WebConfig       `yaml:"web"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// SessionConfig configures the remote voice service connection.
type SessionConfig struct {
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	Voice    string `yaml:"voice"`
	// HandshakeTimeout bounds the dial plus setup exchange, in seconds.
	HandshakeTimeout int `yaml:"handshake_timeout"`
}

// CallConfig tunes call lifecycle timing.
type CallConfig struct {
	// MaxDuration caps a call, in seconds. Zero means unlimited.
	MaxDuration int `yaml:"max_duration"`
	// ApologyDelay is how long the scripted apology stays on the line
	// before the call auto-terminates, in seconds.
	ApologyDelay int `yaml:"apology_delay"`
	// ResultDelay is how long to hold the final transcript before
	// returning it, in seconds.
	ResultDelay int `yaml:"result_delay"`
}

// WebConfig configures the observability dashboard.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// MetricsConfig configures the Prometheus side listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a runnable configuration: mock-free audio autodetection,
// dashboard and metrics off, sane call timing.
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			HandshakeTimeout: 15,
		},
		Capture:  audioio.DefaultCaptureConfig(),
		Playback: audioio.DefaultPlaybackConfig(),
		Persona:  persona.Default("customer support specialist"),
		Call: CallConfig{
			ApologyDelay: 3,
			ResultDelay:  2,
		},
		Web:     WebConfig{Address: ":8080"},
		Metrics: MetricsConfig{Address: ":9091"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path, applies environment overrides, and
// validates the result. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto file values. The API key in
// particular should come from the environment, not from a file on disk.
func (c *Config) applyEnv() {
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		c.Session.APIKey = v
	}
	if v := os.Getenv("CALLSIM_ENDPOINT"); v != "" {
		c.Session.Endpoint = v
	}
	if v := os.Getenv("CALLSIM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}
	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback config: %w", err)
	}
	if err := c.Call.Validate(); err != nil {
		return fmt.Errorf("call config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if c.Web.Enabled && c.Web.Address == "" {
		return fmt.Errorf("web config: address cannot be empty when enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics config: address cannot be empty when enabled")
	}
	return nil
}

func (s *SessionConfig) Validate() error {
	if s.HandshakeTimeout < 1 {
		return fmt.Errorf("handshake_timeout must be at least 1 second, got %d", s.HandshakeTimeout)
	}
	return nil
}

func (c *CallConfig) Validate() error {
	if c.MaxDuration < 0 {
		return fmt.Errorf("max_duration cannot be negative, got %d", c.MaxDuration)
	}
	if c.ApologyDelay < 0 {
		return fmt.Errorf("apology_delay cannot be negative, got %d", c.ApologyDelay)
	}
	if c.ResultDelay < 0 {
		return fmt.Errorf("result_delay cannot be negative, got %d", c.ResultDelay)
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}
	switch l.Format {
	case "json", "text":
	default:
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}
	return nil
}

// GetHandshakeTimeout returns the handshake timeout as a time.Duration.
func (s *SessionConfig) GetHandshakeTimeout() time.Duration {
	return time.Duration(s.HandshakeTimeout) * time.Second
}

// GetMaxDuration returns the call duration cap as a time.Duration.
func (c *CallConfig) GetMaxDuration() time.Duration {
	return time.Duration(c.MaxDuration) * time.Second
}

// GetApologyDelay returns the apology hold time as a time.Duration.
func (c *CallConfig) GetApologyDelay() time.Duration {
	return time.Duration(c.ApologyDelay) * time.Second
}

// GetResultDelay returns the transcript hold time as a time.Duration.
func (c *CallConfig) GetResultDelay() time.Duration {
	return time.Duration(c.ResultDelay) * time.Second
}
