package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/uxai/auth"
	"github.com/hazyhaar/uxai/capture/script"
	"github.com/hazyhaar/uxai/shield"
)

// Handler returns the HTTP API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	for _, mw := range shield.DefaultStack(s.logger, s.cfg.MaxBody) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.Len()})
	})

	r.Handle("/metrics", s.prom.handler())

	page := auth.RequireSession(s.cfg.Secret, func(r *http.Request) string { return chi.URLParam(r, "id") })
	admin := auth.RequireAdmin(s.cfg.AdminKeyHash)

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Use(shield.CORS(s.cfg.AllowedOrigins))

		r.With(s.limiter.Middleware).Post("/", s.handleCreate)
		r.With(admin).Get("/", s.handleList)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/capture.js", s.handleScript)

			r.Group(func(r chi.Router) {
				r.Use(page)
				r.Get("/", s.handleStatus)
				r.Delete("/", s.handleStop)
				r.Post("/events", s.handleEvents)
			})

			r.Group(func(r chi.Router) {
				r.Use(admin)
				r.Get("/vectors", s.handleVectors)
				r.Get("/classifications", s.handleClassifications)
				r.Get("/timeline", s.handleTimeline)
			})
		})
	})

	r.With(admin).Get("/v1/metrics/{name}", s.handleMetric)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
	r.With(admin).Handle("/mcp", mcpHandler)

	return r
}

type createRequest struct {
	Origin string `json:"origin"`
	Layout string `json:"layout"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if req.Origin == "" {
		req.Origin = r.Header.Get("Origin")
	}
	created, err := s.CreateSession(r.Context(), req.Origin, req.Layout)
	switch {
	case errors.Is(err, ErrTooManySessions):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	evs, err := script.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.Observe(chi.URLParam(r, "id"), evs)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	st, err := s.StopSession(r.Context(), chi.URLParam(r, "id"), "stopped")
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleScript serves the capture snippet bound to one session. Script tags
// cannot send headers, so the token comes in the query string.
func (s *Server) handleScript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	token := r.URL.Query().Get("token")
	claims, err := auth.ValidateToken(s.cfg.Secret, token)
	if err != nil {
		http.Error(w, "invalid session token", http.StatusUnauthorized)
		return
	}
	if claims.SessionID != id {
		http.Error(w, "token not valid for this session", http.StatusForbidden)
		return
	}
	if _, err := s.lookup(id); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	js, err := script.Snippet(script.Options{
		Endpoint: s.baseURL(r) + "/v1/sessions/" + id + "/events",
		Token:    token,
		MaxBatch: s.cfg.MaxBatch,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	io.WriteString(w, js)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.Sessions(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleVectors(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Vectors(r.Context(), chi.URLParam(r, "id"), queryInt(r, "after", 0), queryInt(r, "limit", 1000))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleClassifications(w http.ResponseWriter, r *http.Request) {
	out, err := s.Classifications(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 1000))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	evs, err := s.Timeline(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

// handleMetric serves GET /v1/metrics/{name}?since=1h&limit=100.
func (s *Server) handleMetric(w http.ResponseWriter, r *http.Request) {
	var since time.Duration
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		since = d
	}
	out, err := s.MetricSeries(r.Context(), chi.URLParam(r, "name"), since, queryInt(r, "limit", 1000))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return strings.TrimSuffix(s.cfg.PublicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBatchTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}
