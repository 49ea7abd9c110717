package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/uxai/capture/snapshot"
	"github.com/hazyhaar/uxai/dbopen"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testStore(t *testing.T) *Store {
	t.Helper()
	return New(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)))
}

func closed(session string, seq int, v ...float64) snapshot.Closed {
	created := t0.Add(time.Duration(seq-1) * 200 * time.Millisecond)
	return snapshot.Closed{
		SessionID: session,
		Layout:    2,
		Snapshot: snapshot.Snapshot{
			ID:       fmt.Sprintf("snp_%s_%d", session, seq),
			Seq:      seq,
			Clicks:   []snapshot.Click{{X: 1, Y: 2, T: 3}},
			Context:  snapshot.Context{CreatedAt: created, Quota: 200 * time.Millisecond},
			ClosedAt: created.Add(200 * time.Millisecond),
		},
		Vector: v,
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, Session{ID: "sess_1", Origin: "https://shop.example", Layout: 2, CreatedAt: t0}); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Second insert is ignored.
	if err := s.CreateSession(ctx, Session{ID: "sess_1", Origin: "other"}); err != nil {
		t.Fatalf("create again: %v", err)
	}
	got, err := s.GetSession(ctx, "sess_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Origin != "https://shop.example" || got.State != "active" || got.EndedAt != nil {
		t.Fatalf("get: got %+v", got)
	}

	if err := s.EndSession(ctx, "sess_1", "stopped", t0.Add(time.Minute)); err != nil {
		t.Fatalf("end: %v", err)
	}
	got, _ = s.GetSession(ctx, "sess_1")
	if got.State != "stopped" || got.EndedAt == nil || !got.EndedAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("after end: got %+v", got)
	}

	if _, err := s.GetSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing: got %v, want ErrNotFound", err)
	}
	if err := s.EndSession(ctx, "missing", "stopped", t0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("end missing: got %v, want ErrNotFound", err)
	}
}

func TestListSessions_NewestFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		s.CreateSession(ctx, Session{ID: id, CreatedAt: t0.Add(time.Duration(i) * time.Second)})
	}
	list, err := s.ListSessions(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "c" || list[1].ID != "b" {
		t.Fatalf("list: got %d sessions starting with %q", len(list), list[0].ID)
	}
}

func TestSendSnapshot_Vectors(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for seq := 1; seq <= 3; seq++ {
		if err := s.SendSnapshot(ctx, closed("sess_1", seq, float64(seq), 0.5)); err != nil {
			t.Fatalf("send %d: %v", seq, err)
		}
	}
	// Parent session row is created on demand.
	if _, err := s.GetSession(ctx, "sess_1"); err != nil {
		t.Fatalf("implicit session: %v", err)
	}

	rows, err := s.Vectors(ctx, "sess_1", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("vectors after seq 1: got %d, want 2", len(rows))
	}
	if rows[0].Seq != 2 || rows[0].Vector[0] != 2 || rows[1].Vector[1] != 0.5 {
		t.Fatalf("vectors: got %+v", rows)
	}
	if got := rows[0].ClosedAt.Sub(rows[0].CreatedAt); got != 200*time.Millisecond {
		t.Fatalf("duration: got %v", got)
	}
	if rows[0].Layout != 2 {
		t.Fatalf("layout: got %d", rows[0].Layout)
	}
}

func TestSendClassification(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	labels := []snapshot.Label{snapshot.LabelEngaged, snapshot.LabelIdle, snapshot.LabelEngaged}
	for i, l := range labels {
		c := snapshot.Classification{
			ID:        "cls_" + string(rune('a'+i)),
			SessionID: "sess_1",
			Seq:       i + 1,
			Label:     l,
			Scores:    []float64{0.1, 0.2, 0.3, 0.2, 0.2},
			At:        t0.Add(time.Duration(i+1) * 5 * time.Second),
			Window:    25,
		}
		if err := s.SendClassification(ctx, c); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	got, err := s.Classifications(ctx, "sess_1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[1].Label != snapshot.LabelIdle || got[2].Window != 25 || len(got[0].Scores) != 5 {
		t.Fatalf("classifications: got %+v", got)
	}

	counts, err := s.LabelCounts(ctx, "sess_1")
	if err != nil {
		t.Fatal(err)
	}
	if counts[snapshot.LabelEngaged] != 2 || counts[snapshot.LabelIdle] != 1 {
		t.Fatalf("counts: got %v", counts)
	}
}

func TestPurge_CascadesToData(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.CreateSession(ctx, Session{ID: "old", CreatedAt: t0})
	s.CreateSession(ctx, Session{ID: "new", CreatedAt: t0.Add(48 * time.Hour)})
	s.SendSnapshot(ctx, closed("old", 1, 1))
	s.SendSnapshot(ctx, closed("new", 1, 1))
	s.EndSession(ctx, "old", "stopped", t0.Add(time.Hour))
	s.EndSession(ctx, "new", "stopped", t0.Add(49*time.Hour))

	n, err := s.Purge(ctx, t0.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("purged: got %d, want 1", n)
	}
	if rows, _ := s.Vectors(ctx, "old", 0, 0); len(rows) != 0 {
		t.Fatalf("orphan vectors: got %d", len(rows))
	}
	if rows, _ := s.Vectors(ctx, "new", 0, 0); len(rows) != 1 {
		t.Fatalf("kept vectors: got %d, want 1", len(rows))
	}
}

func TestPurge_KeepsLiveSessions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.CreateSession(ctx, Session{ID: "live", CreatedAt: t0})
	s.SendSnapshot(ctx, closed("live", 1, 1))

	n, err := s.Purge(ctx, t0.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("purged: got %d, want 0", n)
	}
	if rows, _ := s.Vectors(ctx, "live", 0, 0); len(rows) != 1 {
		t.Fatalf("live vectors: got %d, want 1", len(rows))
	}
}

func TestCreateSession_AfterFirstSnapshot(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SendSnapshot(ctx, closed("early", 1, 1)); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateSession(ctx, Session{ID: "early", Origin: "https://shop.example", Layout: 1, CreatedAt: t0}); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetSession(ctx, "early")
	if err != nil {
		t.Fatal(err)
	}
	if got.Origin != "https://shop.example" || got.Layout != 1 {
		t.Fatalf("session: origin=%q layout=%d, want the registered values", got.Origin, got.Layout)
	}
	if rows, _ := s.Vectors(ctx, "early", 0, 0); len(rows) != 1 {
		t.Fatalf("vectors: got %d, want 1", len(rows))
	}
}
