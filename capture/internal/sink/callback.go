package sink

import (
	"context"

	"github.com/hazyhaar/uxai/capture/snapshot"
)

// SnapshotFunc is called for each closed snapshot.
type SnapshotFunc func(ctx context.Context, c snapshot.Closed) error

// ClassificationFunc is called for each classification.
type ClassificationFunc func(ctx context.Context, c snapshot.Classification) error

// Callback delivers output as in-process function calls. Either handler
// may be nil.
type Callback struct {
	onSnapshot       SnapshotFunc
	onClassification ClassificationFunc
}

func NewCallback(onSnapshot SnapshotFunc, onClassification ClassificationFunc) *Callback {
	return &Callback{onSnapshot: onSnapshot, onClassification: onClassification}
}

func (c *Callback) SendSnapshot(ctx context.Context, s snapshot.Closed) error {
	if c.onSnapshot != nil {
		return c.onSnapshot(ctx, s)
	}
	return nil
}

func (c *Callback) SendClassification(ctx context.Context, cl snapshot.Classification) error {
	if c.onClassification != nil {
		return c.onClassification(ctx, cl)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
