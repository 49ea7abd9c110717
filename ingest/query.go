package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/uxai/capture/snapshot"
	"github.com/hazyhaar/uxai/observability"
	"github.com/hazyhaar/uxai/store"
)

// SessionList is the admin view of sessions.
type SessionList struct {
	Live   []SessionStatus  `json:"live"`
	Stored []*store.Session `json:"stored,omitempty"`
}

// Sessions lists live sessions and, with a store, the most recent
// recorded ones.
func (s *Server) Sessions(ctx context.Context, limit int) (*SessionList, error) {
	out := &SessionList{Live: s.Live()}
	if s.cfg.Store == nil {
		return out, nil
	}
	stored, err := s.cfg.Store.ListSessions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	out.Stored = stored
	return out, nil
}

// Vectors returns the vectors of a session after seq afterSeq. Stored rows
// win; a live session without stored rows answers from engine history.
func (s *Server) Vectors(ctx context.Context, id string, afterSeq, limit int) ([]store.VectorRow, error) {
	if s.cfg.Store != nil {
		rows, err := s.cfg.Store.Vectors(ctx, id, afterSeq, limit)
		if err != nil {
			return nil, fmt.Errorf("ingest: %w", err)
		}
		if len(rows) > 0 {
			return rows, nil
		}
	}

	e, err := s.lookup(id)
	if err != nil {
		return nil, s.recorded(ctx, id, err)
	}
	hist := e.eng.History(0)
	// History may have been trimmed; sequence numbers count every vector.
	trimmed := max(e.eng.Encoded()-len(hist), 0)
	var rows []store.VectorRow
	for i, v := range hist {
		seq := trimmed + i + 1
		if seq <= afterSeq {
			continue
		}
		rows = append(rows, store.VectorRow{SessionID: id, Seq: seq, Layout: e.layout.Version, Vector: v})
		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return rows, nil
}

// Classifications returns the classifications of a session. A live
// session without stored rows answers with labels only.
func (s *Server) Classifications(ctx context.Context, id string, limit int) ([]snapshot.Classification, error) {
	if s.cfg.Store != nil {
		out, err := s.cfg.Store.Classifications(ctx, id, limit)
		if err != nil {
			return nil, fmt.Errorf("ingest: %w", err)
		}
		if len(out) > 0 {
			return out, nil
		}
	}

	e, err := s.lookup(id)
	if err != nil {
		return nil, s.recorded(ctx, id, err)
	}
	var out []snapshot.Classification
	for i, l := range e.eng.Labels() {
		out = append(out, snapshot.Classification{SessionID: id, Seq: i + 1, Label: l})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// recorded maps a missing live session to nil when the store knows it, so
// ended sessions with no rows answer with an empty list.
func (s *Server) recorded(ctx context.Context, id string, notLive error) error {
	if s.cfg.Store == nil {
		return notLive
	}
	_, err := s.cfg.Store.GetSession(ctx, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return notLive
	default:
		return fmt.Errorf("ingest: %w", err)
	}
}

// LabelCounts tallies a session's labels. Stored classifications win over
// the live label history.
func (s *Server) LabelCounts(ctx context.Context, id string) (map[snapshot.Label]int, error) {
	if s.cfg.Store != nil {
		counts, err := s.cfg.Store.LabelCounts(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("ingest: %w", err)
		}
		if len(counts) > 0 {
			return counts, nil
		}
	}

	e, err := s.lookup(id)
	if err != nil {
		if err := s.recorded(ctx, id, err); err != nil {
			return nil, err
		}
		return map[snapshot.Label]int{}, nil
	}
	counts := make(map[snapshot.Label]int)
	for _, l := range e.eng.Labels() {
		counts[l]++
	}
	return counts, nil
}

// Timeline returns the lifecycle events logged for a session, oldest first.
func (s *Server) Timeline(ctx context.Context, id string) ([]observability.SessionEvent, error) {
	evs, err := s.cfg.Events.History(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	if len(evs) == 0 {
		if _, err := s.lookup(id); err != nil {
			return nil, s.recorded(ctx, id, err)
		}
	}
	return evs, nil
}

// MetricSeries returns the datapoints of one capture metric recorded within
// the last since, newest first. Zero since means no lower bound.
func (s *Server) MetricSeries(ctx context.Context, name string, since time.Duration, limit int) ([]*observability.Metric, error) {
	var from time.Time
	if since > 0 {
		from = s.now().Add(-since)
	}
	out, err := s.cfg.Metrics.Query(ctx, name, from, time.Time{}, limit)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	return out, nil
}
