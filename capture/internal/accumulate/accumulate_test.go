package accumulate

import (
	"testing"
	"time"

	"github.com/hazyhaar/uxai/capture/internal/normalize"
	"github.com/hazyhaar/uxai/capture/internal/session"
	"github.com/hazyhaar/uxai/capture/snapshot"
	"github.com/hazyhaar/uxai/idgen"
)

func newAcc() *Accumulator {
	return New(session.New("sess_1"), 200*time.Millisecond, idgen.Sequential("snp_"))
}

func TestRecord_NoSnapshotOpen(t *testing.T) {
	a := newAcc()
	if a.Record(normalize.Event{Kind: normalize.KindClick, X: 1, Y: 1}) {
		t.Fatal("Record without open snapshot should not store")
	}
	a.Record(normalize.Event{Kind: normalize.KindMove, X: 30, Y: 40})
	a.Record(normalize.Event{Kind: normalize.KindCross, Entering: false})
	sess := a.Session()
	if !sess.HasPointer || sess.Pointer.X != 30 || sess.Over {
		t.Fatalf("tracking while closed: %+v", sess)
	}
}

func TestOpen_SeedsFromSession(t *testing.T) {
	a := newAcc()
	a.Record(normalize.Event{Kind: normalize.KindMove, X: 5, Y: 6})
	a.Record(normalize.Event{Kind: normalize.KindScroll, ScrollY: 90})
	a.Record(normalize.Event{Kind: normalize.KindMetrics, Width: 1024, Height: 768, DocLength: 5000})

	now := time.Unix(10, 0)
	s := a.Open(now, 2*time.Second)
	if s.ID != "snp_1" || s.Seq != 1 {
		t.Fatalf("id/seq: %q %d", s.ID, s.Seq)
	}
	c := s.Context
	if c.Pointer != (snapshot.Point{X: 5, Y: 6}) || c.ScrollY != 90 || c.Width != 1024 || c.DocLength != 5000 {
		t.Fatalf("context: %+v", c)
	}
	if c.Hidden != 2*time.Second || !c.CreatedAt.Equal(now) || c.Quota != 200*time.Millisecond {
		t.Fatalf("context: %+v", c)
	}
}

func TestRecord_ClampsPerCategory(t *testing.T) {
	a := newAcc()
	a.Open(time.Unix(0, 0), 0)
	a.Record(normalize.Event{Kind: normalize.KindKey, Key: snapshot.KeyAlpha, T: 50})
	a.Record(normalize.Event{Kind: normalize.KindKey, Key: snapshot.KeyAlpha, T: 40})
	a.Record(normalize.Event{Kind: normalize.KindKey, Key: snapshot.KeyNumber, T: 10})
	a.Record(normalize.Event{Kind: normalize.KindScroll, T: 70, ScrollY: 1})
	a.Record(normalize.Event{Kind: normalize.KindScroll, T: 60, ScrollY: 2})

	s := a.Current()
	if got := s.Alpha; len(got) != 2 || got[1] != 50 {
		t.Fatalf("alpha: got %v, want [50 50]", got)
	}
	if got := s.Number; len(got) != 1 || got[0] != 10 {
		t.Fatalf("number should not be clamped by alpha: got %v", got)
	}
	if s.Scrolls[1].T != 70 {
		t.Fatalf("scroll T: got %v, want 70", s.Scrolls[1].T)
	}
}

func TestClose_DetachesSnapshot(t *testing.T) {
	a := newAcc()
	a.Open(time.Unix(0, 0), 0)
	a.Record(normalize.Event{Kind: normalize.KindClick, X: 100, Y: 50, T: 5})

	closed, ok := a.Close(time.Unix(0, int64(200*time.Millisecond)))
	if !ok {
		t.Fatal("Close reported nothing open")
	}
	if a.IsOpen() || a.Current() != nil {
		t.Fatal("accumulator still holds a snapshot after Close")
	}
	if a.Record(normalize.Event{Kind: normalize.KindClick, X: 1, Y: 1}) {
		t.Fatal("event stored after Close")
	}
	if len(closed.Clicks) != 1 || closed.ClosedAt.IsZero() {
		t.Fatalf("closed: %+v", closed)
	}
	if _, ok := a.Close(time.Now()); ok {
		t.Fatal("second Close should report false")
	}
}

func TestDiscard(t *testing.T) {
	a := newAcc()
	a.Open(time.Unix(0, 0), 0)
	a.Discard()
	if a.IsOpen() {
		t.Fatal("snapshot still open after Discard")
	}
}

func TestRecord_CrossCarriesInstant(t *testing.T) {
	a := newAcc()
	a.Open(time.Unix(0, 0), 0)
	at := time.Unix(0, int64(120*time.Millisecond))
	a.Record(normalize.Event{Kind: normalize.KindCross, Entering: false, T: 120, At: at})
	c := a.Current().Crosses
	if len(c) != 1 || c[0].Entering || !c[0].At.Equal(at) {
		t.Fatalf("crosses: %+v", c)
	}
	if a.Session().Over {
		t.Fatal("over flag not updated")
	}
}
