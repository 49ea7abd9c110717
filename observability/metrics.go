// Package observability records capture-pipeline metrics and session
// lifecycle events into SQLite.
//
// Persistence is async: Record appends to an in-memory buffer that a
// background goroutine flushes in one transaction. Callers on the capture
// loop never wait on the database.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Metric names emitted by the capture engine.
const (
	MetricSnapshotsEncoded   = "uxai_snapshots_encoded"
	MetricEventsDropped      = "uxai_events_dropped"
	MetricInferenceMs        = "uxai_inference_ms"
	MetricInferenceAbandoned = "uxai_inference_abandoned"
	MetricSinkErrors         = "uxai_sink_errors"
)

// Metric is a single timeseries datapoint.
type Metric struct {
	Name      string            `json:"name"`
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Unit      string            `json:"unit,omitempty"` // "count", "milliseconds"
}

// MetricsOption configures a MetricsManager.
type MetricsOption func(*MetricsManager)

// WithMetricsLogger sets the logger used for flush failures.
func WithMetricsLogger(l *slog.Logger) MetricsOption {
	return func(mm *MetricsManager) { mm.logger = l }
}

// WithMaxBuffer caps buffered datapoints; beyond it Record drops.
func WithMaxBuffer(n int) MetricsOption {
	return func(mm *MetricsManager) { mm.maxBuffer = n }
}

// MetricsManager buffers metrics and flushes them to SQLite in batches.
type MetricsManager struct {
	db            *sql.DB
	logger        *slog.Logger
	bufferSize    int
	maxBuffer     int
	flushInterval time.Duration

	mu      sync.Mutex
	buffer  []*Metric
	dropped int64
	flush   chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewMetricsManager starts a manager that flushes every flushInterval, or as
// soon as bufferSize datapoints are pending. Typical values: 100, 5s.
func NewMetricsManager(db *sql.DB, bufferSize int, flushInterval time.Duration, opts ...MetricsOption) *MetricsManager {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	mm := &MetricsManager{
		db:            db,
		logger:        slog.Default(),
		bufferSize:    bufferSize,
		maxBuffer:     bufferSize * 10,
		flushInterval: flushInterval,
		buffer:        make([]*Metric, 0, bufferSize),
		flush:         make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(mm)
	}
	go mm.flushLoop()
	return mm
}

// Record queues m. It never blocks on I/O; a full buffer drops the datapoint.
func (mm *MetricsManager) Record(m *Metric) {
	if mm == nil || m == nil {
		return
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	mm.mu.Lock()
	if len(mm.buffer) >= mm.maxBuffer {
		mm.dropped++
		mm.mu.Unlock()
		return
	}
	mm.buffer = append(mm.buffer, m)
	full := len(mm.buffer) >= mm.bufferSize
	mm.mu.Unlock()

	if full {
		select {
		case mm.flush <- struct{}{}:
		default:
		}
	}
}

// Count records a counter increment tagged with a session.
func (mm *MetricsManager) Count(name, sessionID string, n float64) {
	mm.Record(&Metric{Name: name, Value: n, Unit: "count", Labels: sessionLabels(sessionID)})
}

// Duration records an elapsed time in milliseconds tagged with a session.
func (mm *MetricsManager) Duration(name, sessionID string, d time.Duration) {
	mm.Record(&Metric{
		Name:   name,
		Value:  float64(d) / float64(time.Millisecond),
		Unit:   "milliseconds",
		Labels: sessionLabels(sessionID),
	})
}

func sessionLabels(sessionID string) map[string]string {
	if sessionID == "" {
		return nil
	}
	return map[string]string{"session_id": sessionID}
}

// Dropped returns how many datapoints were discarded on overflow.
func (mm *MetricsManager) Dropped() int64 {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.dropped
}

// Query retrieves metrics filtered by name and time range, newest first.
// Empty name means all metrics; zero times are unbounded.
func (mm *MetricsManager) Query(ctx context.Context, name string, since, until time.Time, limit int) ([]*Metric, error) {
	if mm == nil {
		return nil, nil
	}
	q := "SELECT metric_name, timestamp, value, labels, unit FROM metrics_timeseries WHERE 1=1"
	args := make([]any, 0, 4)
	if name != "" {
		q += " AND metric_name = ?"
		args = append(args, name)
	}
	if !since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, since.UnixMilli())
	}
	if !until.IsZero() {
		q += " AND timestamp <= ?"
		args = append(args, until.UnixMilli())
	}
	q += " ORDER BY timestamp DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := mm.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query metrics: %w", err)
	}
	defer rows.Close()

	var out []*Metric
	for rows.Next() {
		var (
			m          Metric
			ts         int64
			labelsJSON sql.NullString
			unit       sql.NullString
		)
		if err := rows.Scan(&m.Name, &ts, &m.Value, &labelsJSON, &unit); err != nil {
			return nil, fmt.Errorf("observability: scan metric: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts)
		m.Unit = unit.String
		if labelsJSON.Valid {
			_ = json.Unmarshal([]byte(labelsJSON.String), &m.Labels)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Sum adds up every datapoint of name, optionally restricted to one session.
func (mm *MetricsManager) Sum(ctx context.Context, name, sessionID string) (float64, error) {
	q := "SELECT COALESCE(SUM(value), 0) FROM metrics_timeseries WHERE metric_name = ?"
	args := []any{name}
	if sessionID != "" {
		q += " AND json_extract(labels, '$.session_id') = ?"
		args = append(args, sessionID)
	}
	var total float64
	if err := mm.db.QueryRowContext(ctx, q, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("observability: sum %s: %w", name, err)
	}
	return total, nil
}

// Cleanup deletes datapoints older than retention.
func (mm *MetricsManager) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).UnixMilli()
	res, err := mm.db.ExecContext(ctx, "DELETE FROM metrics_timeseries WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup metrics: %w", err)
	}
	return res.RowsAffected()
}

// Close flushes what is pending and stops the background goroutine.
func (mm *MetricsManager) Close() error {
	mm.once.Do(func() { close(mm.stop) })
	<-mm.done
	return nil
}

func (mm *MetricsManager) flushLoop() {
	defer close(mm.done)
	ticker := time.NewTicker(mm.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-mm.stop:
			mm.flushPending()
			return
		case <-ticker.C:
			mm.flushPending()
		case <-mm.flush:
			mm.flushPending()
		}
	}
}

func (mm *MetricsManager) flushPending() {
	mm.mu.Lock()
	if len(mm.buffer) == 0 {
		mm.mu.Unlock()
		return
	}
	batch := mm.buffer
	mm.buffer = make([]*Metric, 0, mm.bufferSize)
	mm.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := mm.db.BeginTx(ctx, nil)
	if err != nil {
		mm.logger.Error("observability: begin tx", "error", err)
		return
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metrics_timeseries (metric_name, timestamp, value, labels, unit) VALUES (?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		mm.logger.Error("observability: prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, m := range batch {
		var labelsJSON sql.NullString
		if len(m.Labels) > 0 {
			if b, err := json.Marshal(m.Labels); err == nil {
				labelsJSON = sql.NullString{String: string(b), Valid: true}
			}
		}
		if _, err := stmt.ExecContext(ctx, m.Name, m.Timestamp.UnixMilli(), m.Value, labelsJSON, m.Unit); err != nil {
			mm.logger.Error("observability: insert", "error", err, "metric", m.Name)
		}
	}
	if err := tx.Commit(); err != nil {
		mm.logger.Error("observability: commit", "error", err)
	}
}
