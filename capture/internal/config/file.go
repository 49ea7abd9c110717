// Package config loads uxai configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration shared by uxaid and uxwatch.
type Config struct {
	Capture       CaptureConfig       `yaml:"capture"`
	Predictor     PredictorConfig     `yaml:"predictor"`
	Sinks         []SinkConfig        `yaml:"sinks"`
	Server        ServerConfig        `yaml:"server"`
	Store         StoreConfig         `yaml:"store"`
	Observability ObservabilityConfig `yaml:"observability"`
	Browser       BrowserConfig       `yaml:"browser"`
	Log           LogConfig           `yaml:"log"`
}

// CaptureConfig tunes each capture engine.
type CaptureConfig struct {
	InferenceInterval time.Duration `yaml:"inference_interval"`
	Layout            string        `yaml:"layout"` // compact | full | 1 | 2
	HistoryLimit      int           `yaml:"history_limit"`
	QueueSize         int           `yaml:"queue_size"`
}

// PredictorConfig points at the model server. An empty URL leaves engines
// without a model; they capture and encode but never classify.
type PredictorConfig struct {
	URL        string        `yaml:"url"`
	HealthURL  string        `yaml:"health_url"`
	Timeout    time.Duration `yaml:"timeout"`
	PublicOnly bool          `yaml:"public_only"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type         string `yaml:"type"` // stdout | webhook | store | redis
	URL          string `yaml:"url"`  // webhook, redis
	AllowPrivate bool   `yaml:"allow_private"`
	Retries      int    `yaml:"retries"`
	Stream       string `yaml:"stream"`  // redis
	MaxLen       int64  `yaml:"max_len"` // redis, approximate trim
}

// ServerConfig controls the ingest daemon.
type ServerConfig struct {
	Listen         string        `yaml:"listen"`
	PublicURL      string        `yaml:"public_url"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
	MaxSessions    int           `yaml:"max_sessions"`
	MaxBatch       int           `yaml:"max_batch"`
	MaxBody        int64         `yaml:"max_body"`
	MaxConns       int           `yaml:"max_conns"`  // 0 = unlimited
	RateLimit      int           `yaml:"rate_limit"` // session creations per minute per IP
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MCPQuic        MCPQuicConfig `yaml:"mcp_quic"`
}

// MCPQuicConfig enables the MCP tools over QUIC. An empty Addr disables it;
// without Cert/Key a self-signed certificate is generated.
type MCPQuicConfig struct {
	Addr string `yaml:"addr"`
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

// StoreConfig locates the telemetry database.
type StoreConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"` // 0 keeps everything
}

// ObservabilityConfig locates the metrics database.
type ObservabilityConfig struct {
	Path          string        `yaml:"path"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	Retention     time.Duration `yaml:"retention"`
}

// BrowserConfig controls the Chrome instance used by uxwatch.
type BrowserConfig struct {
	Remote  string        `yaml:"remote"`
	Bin     string        `yaml:"bin"`
	Stealth string        `yaml:"stealth"` // headless | headful
	Timeout time.Duration `yaml:"timeout"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
}

// LoadFile reads a YAML configuration file and applies defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

func (c *Config) ApplyDefaults() {
	if c.Capture.InferenceInterval <= 0 {
		c.Capture.InferenceInterval = 5 * time.Second
	}
	if c.Capture.Layout == "" {
		c.Capture.Layout = "full"
	}
	if c.Capture.QueueSize <= 0 {
		c.Capture.QueueSize = 1024
	}
	if c.Predictor.Timeout <= 0 {
		c.Predictor.Timeout = 10 * time.Second
	}
	for i := range c.Sinks {
		if c.Sinks[i].Retries <= 0 {
			c.Sinks[i].Retries = 3
		}
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8470"
	}
	if c.Server.SessionTTL <= 0 {
		c.Server.SessionTTL = 30 * time.Minute
	}
	if c.Server.TokenTTL <= 0 {
		c.Server.TokenTTL = 12 * time.Hour
	}
	if c.Server.MaxSessions <= 0 {
		c.Server.MaxSessions = 1000
	}
	if c.Server.MaxBatch <= 0 {
		c.Server.MaxBatch = 500
	}
	if c.Server.MaxBody <= 0 {
		c.Server.MaxBody = 1 << 20
	}
	if c.Store.Path == "" {
		c.Store.Path = "db/uxai.db"
	}
	if c.Observability.Path == "" {
		c.Observability.Path = "db/uxai_obs.db"
	}
	if c.Observability.FlushInterval <= 0 {
		c.Observability.FlushInterval = 5 * time.Second
	}
	if c.Observability.BufferSize <= 0 {
		c.Observability.BufferSize = 100
	}
	if c.Observability.Retention <= 0 {
		c.Observability.Retention = 7 * 24 * time.Hour
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.Timeout <= 0 {
		c.Browser.Timeout = 30 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate checks values defaults cannot fix.
func (c *Config) Validate() error {
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout", "store":
		case "webhook", "redis":
			if s.URL == "" {
				return fmt.Errorf("config: sinks[%d]: %s requires url", i, s.Type)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	if (c.Server.MCPQuic.Cert == "") != (c.Server.MCPQuic.Key == "") {
		return errors.New("config: server.mcp_quic: cert and key go together")
	}
	switch c.Browser.Stealth {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.stealth: unknown mode %q", c.Browser.Stealth)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a level name to slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: log level: %w", err)
	}
	return l, nil
}
