package observability

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/hazyhaar/uxai/dbopen"
	"github.com/hazyhaar/uxai/idgen"

	_ "modernc.org/sqlite"
)

func setupObsDB(t *testing.T) *sql.DB {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestInit_CreatesTables(t *testing.T) {
	db := setupObsDB(t)
	for _, table := range []string{"metrics_timeseries", "session_events"} {
		var n int
		db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n)
		if n != 1 {
			t.Fatalf("table %s not found", table)
		}
	}
	if err := Init(db); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestMetricsManager_RecordAndQuery(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour)

	mm.Count(MetricSnapshotsEncoded, "sess_1", 1)
	mm.Count(MetricSnapshotsEncoded, "sess_1", 1)
	mm.Count(MetricSnapshotsEncoded, "sess_2", 1)
	mm.Duration(MetricInferenceMs, "sess_1", 40*time.Millisecond)
	mm.Close()

	ctx := context.Background()
	got, err := mm.Query(ctx, MetricSnapshotsEncoded, time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("snapshots encoded rows: got %d, want 3", len(got))
	}
	sum, err := mm.Sum(ctx, MetricSnapshotsEncoded, "sess_1")
	if err != nil {
		t.Fatal(err)
	}
	if sum != 2 {
		t.Fatalf("sum for sess_1: got %v, want 2", sum)
	}
	inf, _ := mm.Query(ctx, MetricInferenceMs, time.Time{}, time.Time{}, 1)
	if len(inf) != 1 || inf[0].Value != 40 || inf[0].Unit != "milliseconds" {
		t.Fatalf("inference metric: got %+v", inf)
	}
	if inf[0].Labels["session_id"] != "sess_1" {
		t.Fatalf("labels: got %v", inf[0].Labels)
	}
}

func TestMetricsManager_FlushOnFullBuffer(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 2, time.Hour)
	defer mm.Close()

	mm.Count(MetricEventsDropped, "", 1)
	mm.Count(MetricEventsDropped, "", 1)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var n int
		db.QueryRow("SELECT COUNT(*) FROM metrics_timeseries").Scan(&n)
		if n == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("buffer was not flushed after reaching bufferSize")
}

func TestMetricsManager_OverflowDrops(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 1000, time.Hour, WithMaxBuffer(2))
	mm.Count(MetricEventsDropped, "", 1)
	mm.Count(MetricEventsDropped, "", 1)
	mm.Count(MetricEventsDropped, "", 1)
	if got := mm.Dropped(); got != 1 {
		t.Fatalf("dropped: got %d, want 1", got)
	}
	mm.Close()
}

func TestMetricsManager_NilSafe(t *testing.T) {
	var mm *MetricsManager
	mm.Count(MetricSnapshotsEncoded, "s", 1)
}

func TestMetricsManager_Cleanup(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour)
	mm.Record(&Metric{Name: "old", Timestamp: time.Now().Add(-48 * time.Hour), Value: 1})
	mm.Record(&Metric{Name: "new", Value: 1})
	mm.Close()

	n, err := mm.Cleanup(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("cleanup removed %d, want 1", n)
	}
}

func TestEventLogger_History(t *testing.T) {
	db := setupObsDB(t)
	l := NewEventLogger(db, WithEventIDGenerator(idgen.Sequential("evt_")))
	ctx := context.Background()

	if err := l.Log(ctx, "sess_1", ActionSessionCreated, map[string]any{"layout": 2}); err != nil {
		t.Fatal(err)
	}
	if err := l.Log(ctx, "sess_1", ActionSessionStopped, nil); err != nil {
		t.Fatal(err)
	}
	if err := l.Log(ctx, "sess_2", ActionSessionReaped, nil); err != nil {
		t.Fatal(err)
	}

	evs, err := l.History(ctx, "sess_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 2 {
		t.Fatalf("events: got %d, want 2", len(evs))
	}
	if evs[0].ID != "evt_1" || evs[0].Action != ActionSessionCreated || evs[1].Action != ActionSessionStopped {
		t.Fatalf("order: got %+v", evs)
	}
	if evs[0].Details["layout"] != float64(2) {
		t.Fatalf("details: got %v", evs[0].Details)
	}
}
