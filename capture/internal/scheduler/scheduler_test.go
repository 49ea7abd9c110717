package scheduler

import (
	"testing"
	"time"

	"github.com/hazyhaar/uxai/capture/encode"
	"github.com/hazyhaar/uxai/capture/internal/accumulate"
	"github.com/hazyhaar/uxai/capture/internal/normalize"
	"github.com/hazyhaar/uxai/capture/internal/session"
	"github.com/hazyhaar/uxai/capture/snapshot"
	"github.com/hazyhaar/uxai/idgen"
)

const interval = 200 * time.Millisecond

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	snaps []snapshot.Snapshot
	vecs  []snapshot.Vector
}

func (r *recorder) emit(s snapshot.Snapshot, v snapshot.Vector) {
	r.snaps = append(r.snaps, s)
	r.vecs = append(r.vecs, v)
}

func newScheduler(t *testing.T) (*Scheduler, *accumulate.Accumulator, *recorder) {
	t.Helper()
	acc := accumulate.New(session.New("sess_1"), interval, idgen.Sequential("snp_"))
	rec := &recorder{}
	return New(acc, encode.New(encode.Full), rec.emit), acc, rec
}

func TestStart_OpensWithoutEmitting(t *testing.T) {
	s, acc, rec := newScheduler(t)
	if s.State() != Idle {
		t.Fatalf("initial: got %s, want idle", s.State())
	}
	if err := s.Start(t0); err != nil {
		t.Fatal(err)
	}
	if s.State() != Active || !acc.IsOpen() || len(rec.vecs) != 0 {
		t.Fatalf("after Start: state=%s open=%v emitted=%d", s.State(), acc.IsOpen(), len(rec.vecs))
	}
	if err := s.Start(t0); err != ErrAlreadyStarted {
		t.Fatalf("second Start: got %v, want ErrAlreadyStarted", err)
	}
}

func TestTick_OneVectorPerInterval(t *testing.T) {
	s, _, rec := newScheduler(t)
	s.Start(t0)
	for i := 1; i <= 10; i++ {
		s.Tick(t0.Add(time.Duration(i) * interval))
	}
	if len(rec.vecs) != 10 {
		t.Fatalf("vectors: got %d, want 10", len(rec.vecs))
	}
	for i, snap := range rec.snaps {
		if snap.Seq != i+1 {
			t.Fatalf("seq %d: got %d", i, snap.Seq)
		}
		if got := snap.ClosedAt.Sub(snap.Context.CreatedAt); got != interval {
			t.Fatalf("snapshot %d lasted %v, want %v", i, got, interval)
		}
	}
}

func TestTick_EventsLandInCurrentSnapshot(t *testing.T) {
	s, acc, rec := newScheduler(t)
	s.Start(t0)
	acc.Record(normalize.Event{Kind: normalize.KindClick, X: 100, Y: 50})
	s.Tick(t0.Add(interval))
	s.Tick(t0.Add(2 * interval))

	if len(rec.snaps[0].Clicks) != 1 || len(rec.snaps[1].Clicks) != 0 {
		t.Fatalf("clicks: first=%d second=%d", len(rec.snaps[0].Clicks), len(rec.snaps[1].Clicks))
	}
	if got := rec.vecs[0][encode.Full.Index(encode.FieldClicks)]; got != 1 {
		t.Fatalf("encoded clicks: got %v, want 1", got)
	}
}

func TestHideShow(t *testing.T) {
	s, acc, rec := newScheduler(t)
	s.Start(t0)
	s.Tick(t0.Add(interval))

	hideAt := t0.Add(interval + 50*time.Millisecond)
	if !s.Hide(hideAt) {
		t.Fatal("Hide from Active should succeed")
	}
	if len(rec.vecs) != 2 {
		t.Fatalf("hide must emit the in-flight snapshot: got %d vectors, want 2", len(rec.vecs))
	}
	if s.State() != Hidden || acc.IsOpen() {
		t.Fatalf("after Hide: state=%s open=%v", s.State(), acc.IsOpen())
	}
	if s.Tick(hideAt.Add(interval)) {
		t.Fatal("Tick while Hidden should be ignored")
	}
	if acc.Record(normalize.Event{Kind: normalize.KindClick}) {
		t.Fatal("events must be dropped while Hidden")
	}
	if s.Hide(hideAt) {
		t.Fatal("Hide while Hidden should be ignored")
	}

	showAt := hideAt.Add(3 * time.Second)
	if !s.Show(showAt) {
		t.Fatal("Show from Hidden should succeed")
	}
	cur := acc.Current()
	if cur == nil || cur.Context.Hidden != 3*time.Second {
		t.Fatalf("resumed snapshot: %+v", cur)
	}
	if len(rec.vecs) != 2 {
		t.Fatalf("Show must not emit: got %d vectors", len(rec.vecs))
	}
	s.Tick(showAt.Add(interval))
	if got := rec.snaps[2].Context.Hidden; got != 3*time.Second {
		t.Fatalf("hidden duration on emitted snapshot: got %v", got)
	}
	if s.Show(showAt) {
		t.Fatal("Show while Active should be ignored")
	}
}

func TestStop_DiscardsInFlight(t *testing.T) {
	s, acc, rec := newScheduler(t)
	s.Start(t0)
	acc.Record(normalize.Event{Kind: normalize.KindClick})
	if !s.Stop() {
		t.Fatal("Stop should succeed")
	}
	if len(rec.vecs) != 0 || acc.IsOpen() {
		t.Fatalf("stop emitted=%d open=%v", len(rec.vecs), acc.IsOpen())
	}
	if s.Tick(t0.Add(interval)) || s.Show(t0) || s.Hide(t0) || s.Stop() {
		t.Fatal("Stopped must accept no transition")
	}
	if err := s.Start(t0); err == nil {
		t.Fatal("Start after Stop should fail")
	}
}

func TestStop_FromHidden(t *testing.T) {
	s, _, rec := newScheduler(t)
	s.Start(t0)
	s.Hide(t0.Add(10 * time.Millisecond))
	s.Stop()
	if s.State() != Stopped || len(rec.vecs) != 1 {
		t.Fatalf("state=%s vectors=%d", s.State(), len(rec.vecs))
	}
}
