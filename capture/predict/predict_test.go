package predict

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/uxai/capture/snapshot"
)

func TestFunc(t *testing.T) {
	f := Func(func(_ context.Context, w []snapshot.Vector) ([]float64, error) {
		return []float64{float64(len(w)), 0, 0, 0, 0}, nil
	})
	if !f.Ready() {
		t.Fatal("Func should be ready")
	}
	got, err := f.Predict(context.Background(), make([]snapshot.Vector, 3))
	if err != nil || got[0] != 3 {
		t.Fatalf("got %v, %v", got, err)
	}
	var nilF Func
	if nilF.Ready() {
		t.Fatal("nil Func should not be ready")
	}
}

func TestDeferred(t *testing.T) {
	var d Deferred
	if d.Ready() {
		t.Fatal("empty Deferred should not be ready")
	}
	if _, err := d.Predict(context.Background(), nil); !errors.Is(err, ErrNotReady) {
		t.Fatalf("got %v, want ErrNotReady", err)
	}
	d.Set(Func(func(context.Context, []snapshot.Vector) ([]float64, error) {
		return []float64{1, 2, 3, 4, 5}, nil
	}))
	if !d.Ready() {
		t.Fatal("Deferred should be ready after Set")
	}
}

func modelServer(t *testing.T, healthy *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			if !healthy.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{"model_version_status":[{"state":"AVAILABLE"}]}`))
			return
		}
		var req struct {
			Instances [][][]float64 `json:"instances"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Instances) != 1 || len(req.Instances[0]) != 25 || len(req.Instances[0][0]) != 23 {
			http.Error(w, "bad shape", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"predictions":[[0.1,0.2,0.5,0.1,0.1]]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func window(n, width int) []snapshot.Vector {
	w := make([]snapshot.Vector, n)
	for i := range w {
		w[i] = make(snapshot.Vector, width)
	}
	return w
}

func TestHTTP_ProbeAndPredict(t *testing.T) {
	var healthy atomic.Bool
	srv := modelServer(t, &healthy)
	p, err := NewHTTP(srv.URL, WithProbeInterval(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if p.Ready() || p.Probe(context.Background()) {
		t.Fatal("should not be ready while the model loads")
	}
	healthy.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}

	scores, err := p.Predict(ctx, window(25, 23))
	if err != nil {
		t.Fatal(err)
	}
	label, _, _ := snapshot.ArgMax(scores)
	if label != snapshot.LabelIdle {
		t.Fatalf("label: got %s, want idle", label)
	}
}

func TestHTTP_BadShape(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := modelServer(t, &healthy)
	p, _ := NewHTTP(srv.URL)
	if _, err := p.Predict(context.Background(), window(3, 7)); err == nil {
		t.Fatal("expected error for rejected window")
	}
}

func TestHTTP_PublicOnlyRejectsLoopback(t *testing.T) {
	if _, err := NewHTTP("http://127.0.0.1:8501/v1/models/uxai:predict", WithPublicOnly()); err == nil {
		t.Fatal("expected loopback model URL to be rejected")
	}
	if _, err := NewHTTP("file:///tmp/model"); err == nil {
		t.Fatal("expected non-http scheme to be rejected")
	}
}
