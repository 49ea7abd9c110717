// Package sink defines the export backends for closed snapshots and
// classifications.
package sink

import (
	"context"

	"github.com/hazyhaar/uxai/capture/snapshot"
)

// Sink delivers capture output to a backend (stdout, webhook, SQLite,
// in-process callback).
type Sink interface {
	SendSnapshot(ctx context.Context, c snapshot.Closed) error
	SendClassification(ctx context.Context, c snapshot.Classification) error
	Close() error
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const (
	typeSnapshot       = "snapshot"
	typeClassification = "classification"
)
