package ingest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/uxai/auth"
	"github.com/hazyhaar/uxai/dbopen"
	"github.com/hazyhaar/uxai/observability"
)

const adminKey = "admin-key-for-tests"

func testAPI(t *testing.T, mutate ...func(*Config)) (*Server, *httptest.Server) {
	t.Helper()
	hash, err := auth.HashAdminKey(adminKey)
	if err != nil {
		t.Fatal(err)
	}
	mutate = append([]func(*Config){func(c *Config) { c.AdminKeyHash = hash }}, mutate...)
	s := testServer(t, mutate...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func do(t *testing.T, method, url, token string, body []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func create(t *testing.T, ts *httptest.Server) SessionCreated {
	t.Helper()
	resp, body := do(t, http.MethodPost, ts.URL+"/v1/sessions", "", []byte(`{"origin":"https://a.example","layout":"full"}`))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d: %s", resp.StatusCode, body)
	}
	var c SessionCreated
	if err := json.Unmarshal(body, &c); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestHealthz(t *testing.T) {
	_, ts := testAPI(t)
	resp, body := do(t, http.MethodGet, ts.URL+"/healthz", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"ok"`) {
		t.Fatalf("healthz: %d %s", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("security headers missing")
	}
}

func TestAPI_SessionLifecycle(t *testing.T) {
	s, ts := testAPI(t)
	c := create(t, ts)
	if c.Layout != 2 || len(c.Fields) != 23 {
		t.Fatalf("created: %+v", c)
	}
	base := ts.URL + "/v1/sessions/" + c.ID

	resp, body := do(t, http.MethodPost, base+"/events", c.Token,
		[]byte(`{"events":[{"type":"mousemove","ts":1,"x":10,"y":20},{"type":"keydown","ts":2,"key":"a"}]}`))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("events: %d %s", resp.StatusCode, body)
	}
	var res ObserveResult
	json.Unmarshal(body, &res)
	if res.Accepted != 2 {
		t.Fatalf("accepted: %+v", res)
	}
	waitEncoded(t, s, c.ID, 1)

	resp, body = do(t, http.MethodGet, base, c.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d %s", resp.StatusCode, body)
	}
	var st SessionStatus
	json.Unmarshal(body, &st)
	if st.Encoded < 1 || st.State != "active" {
		t.Fatalf("status: %+v", st)
	}

	resp, _ = do(t, http.MethodDelete, base, c.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodPost, base+"/events", c.Token, []byte(`[]`))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("events after delete: got %d, want 404", resp.StatusCode)
	}
}

func TestAPI_EventsAuth(t *testing.T) {
	_, ts := testAPI(t)
	a := create(t, ts)
	b := create(t, ts)
	url := ts.URL + "/v1/sessions/" + a.ID + "/events"
	batch := []byte(`[{"type":"click","ts":1,"x":1,"y":1}]`)

	if resp, _ := do(t, http.MethodPost, url, "", batch); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: got %d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodPost, url, "garbage", batch); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: got %d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodPost, url, b.Token, batch); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("other session token: got %d", resp.StatusCode)
	}
}

func TestAPI_EventsRejected(t *testing.T) {
	_, ts := testAPI(t, func(c *Config) { c.MaxBatch = 1 })
	c := create(t, ts)
	url := ts.URL + "/v1/sessions/" + c.ID + "/events"

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"events":`, http.StatusBadRequest},
		{"empty", ``, http.StatusBadRequest},
		{"too many", `[{"type":"click","ts":1},{"type":"click","ts":2}]`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, http.MethodPost, url, c.Token, []byte(tt.body))
			if resp.StatusCode != tt.want {
				t.Fatalf("got %d, want %d: %s", resp.StatusCode, tt.want, body)
			}
		})
	}
}

func TestAPI_BodyLimit(t *testing.T) {
	_, ts := testAPI(t, func(c *Config) { c.MaxBody = 64 })
	c := create(t, ts)
	big := `[` + strings.Repeat(`{"type":"click","ts":1},`, 20) + `{"type":"click","ts":1}]`
	resp, _ := do(t, http.MethodPost, ts.URL+"/v1/sessions/"+c.ID+"/events", c.Token, []byte(big))
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("got %d, want 413", resp.StatusCode)
	}
}

func TestAPI_CaptureScript(t *testing.T) {
	_, ts := testAPI(t, func(c *Config) { c.PublicURL = "https://ux.example/" })
	c := create(t, ts)
	url := ts.URL + "/v1/sessions/" + c.ID + "/capture.js"

	resp, body := do(t, http.MethodGet, url+"?token="+c.Token, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("script: %d %s", resp.StatusCode, body)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/javascript") {
		t.Fatalf("content type: %q", resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(string(body), "https://ux.example/v1/sessions/"+c.ID+"/events") {
		t.Fatal("snippet does not post to the session endpoint")
	}

	if resp, _ := do(t, http.MethodGet, url, "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: got %d", resp.StatusCode)
	}
	other := create(t, ts)
	if resp, _ := do(t, http.MethodGet, url+"?token="+other.Token, "", nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign token: got %d", resp.StatusCode)
	}
}

func TestAPI_AdminRoutes(t *testing.T) {
	s, ts := testAPI(t, withStore(t))
	c := create(t, ts)
	s.Observe(c.ID, moves(2))
	waitEncoded(t, s, c.ID, 1)

	admin := func(method, url, key string) (*http.Response, []byte) {
		req, _ := http.NewRequest(method, url, nil)
		if key != "" {
			req.Header.Set("X-Admin-Key", key)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp, body
	}

	if resp, _ := admin(http.MethodGet, ts.URL+"/v1/sessions", ""); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("list without key: got %d", resp.StatusCode)
	}
	if resp, _ := admin(http.MethodGet, ts.URL+"/v1/sessions", "wrong"); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("list with wrong key: got %d", resp.StatusCode)
	}

	resp, body := admin(http.MethodGet, ts.URL+"/v1/sessions", adminKey)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", resp.StatusCode, body)
	}
	var list SessionList
	json.Unmarshal(body, &list)
	if len(list.Live) != 1 || len(list.Stored) != 1 {
		t.Fatalf("list: %+v", list)
	}

	resp, body = admin(http.MethodGet, ts.URL+"/v1/sessions/"+c.ID+"/vectors?limit=10", adminKey)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("vectors: %d %s", resp.StatusCode, body)
	}
	var rows []struct {
		Seq    int       `json:"seq"`
		Vector []float64 `json:"vector"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		t.Fatalf("decode vectors: %v: %s", err, body)
	}
	if len(rows) == 0 || len(rows) > 10 || len(rows[0].Vector) != 23 {
		t.Fatalf("vectors: %+v", rows)
	}

	resp, _ = admin(http.MethodGet, ts.URL+"/v1/sessions/sess_missing/classifications", adminKey)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("classifications of unknown session: got %d", resp.StatusCode)
	}
	// Page tokens are not admin keys.
	if resp, _ := do(t, http.MethodGet, ts.URL+"/v1/sessions/"+c.ID+"/vectors", c.Token, nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("vectors with page token: got %d", resp.StatusCode)
	}
}

func TestAPI_CORS(t *testing.T) {
	_, ts := testAPI(t, func(c *Config) { c.AllowedOrigins = []string{"https://a.example"} })

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/v1/sessions", nil)
	req.Header.Set("Origin", "https://a.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "https://a.example" {
		t.Fatalf("preflight: %d %q", resp.StatusCode, resp.Header.Get("Access-Control-Allow-Origin"))
	}

	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/v1/sessions", strings.NewReader(`{}`))
	req.Header.Set("Origin", "https://evil.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign origin: got %d", resp.StatusCode)
	}
}

func TestAPI_CreateRateLimited(t *testing.T) {
	_, ts := testAPI(t, func(c *Config) { c.RateLimit = 1 })
	create(t, ts)
	resp, _ := do(t, http.MethodPost, ts.URL+"/v1/sessions", "", nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second create: got %d, want 429", resp.StatusCode)
	}
}

func TestAPI_Metrics(t *testing.T) {
	_, ts := testAPI(t)
	c := create(t, ts)
	do(t, http.MethodPost, ts.URL+"/v1/sessions/"+c.ID+"/events", c.Token, []byte(`[{"type":"click","ts":1},{"type":"click","ts":2}]`))
	do(t, http.MethodDelete, ts.URL+"/v1/sessions/"+c.ID, c.Token, nil)

	resp, body := do(t, http.MethodGet, ts.URL+"/metrics", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %d", resp.StatusCode)
	}
	for _, want := range []string{
		"uxai_sessions_created_total 1",
		`uxai_sessions_ended_total{action="stopped"} 1`,
		`uxai_events_total{outcome="accepted"} 2`,
		"uxai_sessions_live 0",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestAPI_TimelineAndMetrics(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(observability.Schema))
	mm := observability.NewMetricsManager(db, 100, time.Hour)
	_, ts := testAPI(t, func(c *Config) {
		c.Events = observability.NewEventLogger(db)
		c.Metrics = mm
	})
	c := create(t, ts)

	get := func(url string) (*http.Response, []byte) {
		req, _ := http.NewRequest(http.MethodGet, url, nil)
		req.Header.Set("X-Admin-Key", adminKey)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp, body
	}

	resp, body := get(ts.URL + "/v1/sessions/" + c.ID + "/timeline")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("timeline: %d %s", resp.StatusCode, body)
	}
	var evs []observability.SessionEvent
	if err := json.Unmarshal(body, &evs); err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 || evs[0].Action != observability.ActionSessionCreated || evs[0].Details["origin"] != "https://a.example" {
		t.Fatalf("timeline: %+v", evs)
	}
	if resp, _ := get(ts.URL + "/v1/sessions/sess_missing/timeline"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("timeline of unknown session: got %d", resp.StatusCode)
	}

	mm.Count(observability.MetricEventsDropped, c.ID, 4)
	mm.Close()

	resp, body = get(ts.URL + "/v1/metrics/" + observability.MetricEventsDropped + "?since=1h")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metric: %d %s", resp.StatusCode, body)
	}
	var points []observability.Metric
	if err := json.Unmarshal(body, &points); err != nil {
		t.Fatal(err)
	}
	if len(points) != 1 || points[0].Value != 4 || points[0].Labels["session_id"] != c.ID {
		t.Fatalf("metric points: %+v", points)
	}
	if resp, _ := get(ts.URL + "/v1/metrics/x?since=soon"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad since: got %d", resp.StatusCode)
	}
}
