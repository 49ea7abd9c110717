package capture

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/uxai/capture/encode"
	"github.com/hazyhaar/uxai/capture/internal/config"
	"github.com/hazyhaar/uxai/capture/predict"
)

// FileConfig is the YAML configuration shared by the binaries.
type FileConfig = config.Config

// SinkConfigEntry is one entry of FileConfig.Sinks.
type SinkConfigEntry = config.SinkConfig

// MCPQuicConfig is the server.mcp_quic section.
type MCPQuicConfig = config.MCPQuicConfig

// LoadConfigFile reads and validates a YAML configuration file.
func LoadConfigFile(path string) (*FileConfig, error) { return config.LoadFile(path) }

// ParseConfig decodes YAML configuration.
func ParseConfig(data []byte) (*FileConfig, error) { return config.Parse(data) }

// DefaultConfig returns a configuration with defaults applied.
func DefaultConfig() *FileConfig { return config.Default() }

// ParseLevel maps a log level name to slog.Level.
func ParseLevel(s string) (slog.Level, error) { return config.ParseLevel(s) }

// EngineConfig derives the per-engine Config from the capture section.
// Callbacks and the predictor are left for the caller.
func EngineConfig(fc *FileConfig) (Config, error) {
	layout, err := encode.ParseLayout(fc.Capture.Layout)
	if err != nil {
		return Config{}, fmt.Errorf("capture: config: %w", err)
	}
	return Config{
		InferenceInterval: fc.Capture.InferenceInterval,
		Layout:            layout,
		HistoryLimit:      fc.Capture.HistoryLimit,
		QueueSize:         fc.Capture.QueueSize,
	}, nil
}

// NewPredictor builds the HTTP model client from the predictor section. It
// returns nil when no URL is configured.
func NewPredictor(fc *FileConfig, logger *slog.Logger) (*predict.HTTP, error) {
	pc := fc.Predictor
	if pc.URL == "" {
		return nil, nil
	}
	opts := []predict.HTTPOption{
		predict.WithHTTPClient(&http.Client{Timeout: pc.Timeout}),
		predict.WithLogger(logger),
	}
	if pc.HealthURL != "" {
		opts = append(opts, predict.WithHealthURL(pc.HealthURL))
	}
	if pc.PublicOnly {
		opts = append(opts, predict.WithPublicOnly())
	}
	p, err := predict.NewHTTP(pc.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("capture: predictor: %w", err)
	}
	return p, nil
}

// BuildSinks instantiates the configured sinks. store backs the "store"
// type; it is required only when such a sink is configured.
func BuildSinks(fc *FileConfig, logger *slog.Logger, store Sink) ([]Sink, error) {
	var out []Sink
	for i, sc := range fc.Sinks {
		switch sc.Type {
		case "stdout":
			out = append(out, NewStdoutSink(nil))
		case "webhook":
			wh, err := NewWebhookSink(sc.URL, WebhookOptions{
				Retries:      sc.Retries,
				AllowPrivate: sc.AllowPrivate,
				Logger:       logger,
			})
			if err != nil {
				return nil, fmt.Errorf("capture: sinks[%d]: %w", i, err)
			}
			out = append(out, wh)
		case "redis":
			rs, err := NewRedisSink(sc.URL, sc.Stream, sc.MaxLen)
			if err != nil {
				return nil, fmt.Errorf("capture: sinks[%d]: %w", i, err)
			}
			out = append(out, rs)
		case "store":
			if store == nil {
				return nil, fmt.Errorf("capture: sinks[%d]: store sink configured without a store", i)
			}
			out = append(out, store)
		default:
			return nil, fmt.Errorf("capture: sinks[%d]: unknown type %q", i, sc.Type)
		}
	}
	return out, nil
}
