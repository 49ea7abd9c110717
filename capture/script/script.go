// Package script embeds the page-side capture snippet and decodes the event
// batches it sends back, either through a browser runtime binding or an
// HTTP POST to the ingest daemon.
package script

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/uxai/capture/snapshot"
)

//go:embed capture.js
var source string

// DefaultBinding is the runtime binding name used by browser sources.
const DefaultBinding = "__uxai_binding"

// Options are passed to the snippet as its only argument.
type Options struct {
	// Binding, when set and present on window, receives each batch as a
	// JSON array string. It takes precedence over Endpoint.
	Binding string `json:"binding,omitempty"`
	// Endpoint receives POST {"events":[...]}.
	Endpoint string `json:"endpoint,omitempty"`
	// Token is sent as a bearer token to Endpoint.
	Token string `json:"token,omitempty"`
	// FlushMs is the batching period. Zero delivers every event at once
	// through a binding, or every 50 ms to an endpoint.
	FlushMs  int    `json:"flush_ms,omitempty"`
	MaxBatch int    `json:"max_batch,omitempty"`
}

// Source returns the snippet as a JavaScript function expression taking
// Options. Suitable for rod's Page.Eval.
func Source() string { return strings.TrimSpace(source) }

// Snippet returns a self-invoking statement installing the capture
// listeners with o.
func Snippet(o Options) (string, error) {
	if o.Binding == "" && o.Endpoint == "" {
		return "", errors.New("script: binding or endpoint required")
	}
	arg, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("script: marshal options: %w", err)
	}
	return "(" + Source() + ")(" + string(arg) + ");", nil
}

// Batch is the HTTP request body sent by the snippet.
type Batch struct {
	Events []snapshot.Event `json:"events"`
}

// Decode parses a batch sent by the snippet: either a bare JSON array of
// events (binding) or a Batch object (HTTP).
func Decode(data []byte) ([]snapshot.Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("script: empty batch")
	}
	if data[0] == '[' {
		var evs []snapshot.Event
		if err := json.Unmarshal(data, &evs); err != nil {
			return nil, fmt.Errorf("script: decode events: %w", err)
		}
		return evs, nil
	}
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("script: decode batch: %w", err)
	}
	return b.Events, nil
}
