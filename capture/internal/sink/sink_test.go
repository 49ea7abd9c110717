package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/uxai/capture/snapshot"
)

func closed(seq int) snapshot.Closed {
	return snapshot.Closed{
		SessionID: "sess_1",
		Layout:    2,
		Snapshot:  snapshot.Snapshot{ID: "snp_x", Seq: seq},
		Vector:    snapshot.Vector{1, 2, 3},
	}
}

func TestStdout_Envelopes(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	ctx := context.Background()
	if err := s.SendSnapshot(ctx, closed(1)); err != nil {
		t.Fatal(err)
	}
	if err := s.SendClassification(ctx, snapshot.Classification{SessionID: "sess_1", Label: snapshot.LabelIdle}); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines: got %d, want 2", len(lines))
	}
	var env struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	json.Unmarshal([]byte(lines[0]), &env)
	if env.Type != "snapshot" {
		t.Fatalf("first type: got %q", env.Type)
	}
	json.Unmarshal([]byte(lines[1]), &env)
	if env.Type != "classification" || !strings.Contains(string(env.Data), `"idle"`) {
		t.Fatalf("second: %s", lines[1])
	}
}

func TestRouter_FanOutAndFirstError(t *testing.T) {
	errBoom := errors.New("boom")
	var a, b int
	r := NewRouter(nil,
		NewCallback(func(context.Context, snapshot.Closed) error { a++; return errBoom }, nil),
		NewCallback(func(context.Context, snapshot.Closed) error { b++; return nil }, nil),
	)
	if err := r.SendSnapshot(context.Background(), closed(1)); !errors.Is(err, errBoom) {
		t.Fatalf("got %v, want boom", err)
	}
	if a != 1 || b != 1 {
		t.Fatalf("deliveries: a=%d b=%d, want 1/1", a, b)
	}
	if err := r.SendClassification(context.Background(), snapshot.Classification{}); err != nil {
		t.Fatalf("nil handlers should be no-ops: %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("Len: got %d", r.Len())
	}
}

func TestAsync_DeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var seqs []int
	inner := NewCallback(func(_ context.Context, c snapshot.Closed) error {
		mu.Lock()
		seqs = append(seqs, c.Snapshot.Seq)
		mu.Unlock()
		return nil
	}, nil)
	a := NewAsync(inner, 16, nil, nil)
	for i := 1; i <= 10; i++ {
		a.SendSnapshot(context.Background(), closed(i))
	}
	a.Close()
	if len(seqs) != 10 {
		t.Fatalf("delivered: got %d, want 10", len(seqs))
	}
	for i, s := range seqs {
		if s != i+1 {
			t.Fatalf("order: got %v", seqs)
		}
	}
	if err := a.SendSnapshot(context.Background(), closed(11)); err != nil {
		t.Fatalf("send after close: %v", err)
	}
	a.Close()
}

func TestAsync_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	inner := NewCallback(func(context.Context, snapshot.Closed) error {
		<-release
		return nil
	}, nil)
	var drops atomic.Int64
	a := NewAsync(inner, 2, nil, func() { drops.Add(1) })

	start := time.Now()
	for i := 0; i < 10; i++ {
		a.SendSnapshot(context.Background(), closed(i))
	}
	if time.Since(start) > time.Second {
		t.Fatal("sends blocked on a slow sink")
	}
	// One item is held by the worker, two are queued.
	if got := a.Dropped(); got < 7 {
		t.Fatalf("dropped: got %d, want at least 7", got)
	}
	if drops.Load() != a.Dropped() {
		t.Fatalf("onDrop calls %d != Dropped %d", drops.Load(), a.Dropped())
	}
	close(release)
	a.Close()
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh, err := NewWebhook(srv.URL, WithWebhookAllowPrivate(), WithWebhookBackoff(time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if err := wh.SendSnapshot(context.Background(), closed(4)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("hits: got %d, want 3", hits.Load())
	}
	if !strings.Contains(string(body), `"type":"snapshot"`) {
		t.Fatalf("body: %s", body)
	}
}

func TestWebhook_ClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	wh, _ := NewWebhook(srv.URL, WithWebhookAllowPrivate(), WithWebhookBackoff(time.Millisecond))
	if err := wh.SendClassification(context.Background(), snapshot.Classification{}); err == nil {
		t.Fatal("expected error on 400")
	}
	if hits.Load() != 1 {
		t.Fatalf("hits: got %d, want 1", hits.Load())
	}
}

func TestWebhook_RejectsPrivateByDefault(t *testing.T) {
	if _, err := NewWebhook("http://127.0.0.1:9/hook"); err == nil {
		t.Fatal("expected loopback target to be rejected")
	}
}
