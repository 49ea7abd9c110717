package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/uxai/capture/snapshot"
	"github.com/hazyhaar/uxai/horosafe"
)

// HTTP calls a model server speaking the TensorFlow Serving REST shape:
// POST {"instances":[window]} and read {"predictions":[[scores...]]}.
type HTTP struct {
	url          string
	healthURL    string
	client       *http.Client
	logger       *slog.Logger
	probeEvery   time.Duration
	allowPrivate bool
	ready        atomic.Bool
}

// HTTPOption configures an HTTP predictor.
type HTTPOption func(*HTTP)

// WithHealthURL sets the URL probed for readiness. Default: the predict URL
// with GET.
func WithHealthURL(u string) HTTPOption {
	return func(h *HTTP) { h.healthURL = u }
}

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithProbeInterval sets the readiness probe period. Default: 200ms.
func WithProbeInterval(d time.Duration) HTTPOption {
	return func(h *HTTP) { h.probeEvery = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(h *HTTP) { h.logger = l }
}

// WithPublicOnly rejects model URLs resolving to private addresses.
func WithPublicOnly() HTTPOption {
	return func(h *HTTP) { h.allowPrivate = false }
}

// NewHTTP validates url and returns a predictor that is not ready until a
// probe or a prediction succeeds.
func NewHTTP(url string, opts ...HTTPOption) (*HTTP, error) {
	h := &HTTP{
		url:          url,
		client:       &http.Client{Timeout: 10 * time.Second},
		logger:       slog.Default(),
		probeEvery:   200 * time.Millisecond,
		allowPrivate: true,
	}
	for _, o := range opts {
		o(h)
	}
	if h.healthURL == "" {
		h.healthURL = url
	}
	if err := horosafe.ValidateEndpoint(h.url, h.allowPrivate); err != nil {
		return nil, fmt.Errorf("predict: model url: %w", err)
	}
	if err := horosafe.ValidateEndpoint(h.healthURL, h.allowPrivate); err != nil {
		return nil, fmt.Errorf("predict: health url: %w", err)
	}
	return h, nil
}

func (h *HTTP) Ready() bool { return h.ready.Load() }

// Probe checks the health URL once and updates readiness.
func (h *HTTP) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		h.ready.Store(false)
		return false
	}
	resp.Body.Close()
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	h.ready.Store(ok)
	return ok
}

// WaitReady probes until the model answers or ctx is done. The windower
// never calls this; binaries run it in the background at startup.
func (h *HTTP) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(h.probeEvery)
	defer ticker.Stop()
	for {
		if h.Probe(ctx) {
			h.logger.Info("predict: model ready", "url", h.url)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type predictRequest struct {
	Instances [][]snapshot.Vector `json:"instances"`
}

type predictResponse struct {
	Predictions [][]float64 `json:"predictions"`
	Error       string      `json:"error,omitempty"`
}

func (h *HTTP) Predict(ctx context.Context, window []snapshot.Vector) ([]float64, error) {
	body, err := json.Marshal(predictRequest{Instances: [][]snapshot.Vector{window}})
	if err != nil {
		return nil, fmt.Errorf("predict: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("predict: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("predict: request: %w", err)
	}
	defer resp.Body.Close()

	data, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return nil, fmt.Errorf("predict: read: %w", err)
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		h.ready.Store(false)
		return nil, ErrNotReady
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("predict: status %d", resp.StatusCode)
	}

	var out predictResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("predict: decode: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("predict: model error: %s", out.Error)
	}
	if len(out.Predictions) != 1 {
		return nil, fmt.Errorf("predict: got %d predictions, want 1", len(out.Predictions))
	}
	h.ready.Store(true)
	return out.Predictions[0], nil
}
