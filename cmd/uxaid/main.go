// Command uxaid runs capture engines for browser pages: pages open a
// session, post raw interaction events, and uxaid encodes them into vectors,
// classifies them and exports the results to the configured sinks.
package main

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/uxai/auth"
	"github.com/hazyhaar/uxai/capture"
	"github.com/hazyhaar/uxai/dbopen"
	"github.com/hazyhaar/uxai/ingest"
	"github.com/hazyhaar/uxai/mcpquic"
	"github.com/hazyhaar/uxai/observability"
	"github.com/hazyhaar/uxai/store"
)

func main() {
	configPath := flag.String("config", env("UXAI_CONFIG", ""), "YAML configuration file")
	flag.Parse()

	cfg := capture.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = capture.LoadConfigFile(*configPath); err != nil {
			slog.Error("load config", "error", err)
			os.Exit(1)
		}
	}

	lvl, _ := capture.ParseLevel(cfg.Log.Level)
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	secretInput := os.Getenv("UXAI_SESSION_SECRET")
	if secretInput == "" {
		slog.Error("UXAI_SESSION_SECRET is required")
		os.Exit(1)
	}
	// 32-byte token secret whatever the input length.
	secretHash := sha256.Sum256([]byte(secretInput))
	secret := secretHash[:]

	var adminHash string
	if key := os.Getenv("UXAI_ADMIN_KEY"); key != "" {
		h, err := auth.HashAdminKey(key)
		if err != nil {
			slog.Error("hash admin key", "error", err)
			os.Exit(1)
		}
		adminHash = h
	} else {
		slog.Warn("UXAI_ADMIN_KEY not set, admin routes and /mcp are disabled")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Telemetry store.
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		slog.Error("store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Observability DB.
	obsDB, err := dbopen.Open(cfg.Observability.Path, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("observability db", "error", err)
		os.Exit(1)
	}
	defer obsDB.Close()
	if err := observability.Init(obsDB); err != nil {
		slog.Error("observability init", "error", err)
		os.Exit(1)
	}
	metrics := observability.NewMetricsManager(obsDB, cfg.Observability.BufferSize, cfg.Observability.FlushInterval,
		observability.WithMetricsLogger(logger))
	defer metrics.Close()
	events := observability.NewEventLogger(obsDB)

	sinks, err := capture.BuildSinks(cfg, logger, st)
	if err != nil {
		slog.Error("sinks", "error", err)
		os.Exit(1)
	}
	defer func() {
		for _, s := range sinks {
			if s == capture.Sink(st) {
				continue
			}
			if err := s.Close(); err != nil {
				slog.Warn("close sink", "error", err)
			}
		}
	}()

	model, err := capture.NewPredictor(cfg, logger)
	if err != nil {
		slog.Error("predictor", "error", err)
		os.Exit(1)
	}
	ingestCfg := ingest.Config{
		Sinks:          sinks,
		Store:          st,
		Secret:         secret,
		AdminKeyHash:   adminHash,
		PublicURL:      cfg.Server.PublicURL,
		SessionTTL:     cfg.Server.SessionTTL,
		TokenTTL:       cfg.Server.TokenTTL,
		MaxSessions:    cfg.Server.MaxSessions,
		MaxBatch:       cfg.Server.MaxBatch,
		MaxBody:        cfg.Server.MaxBody,
		RateLimit:      cfg.Server.RateLimit,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        metrics,
		Events:         events,
		Logger:         logger,
	}
	if ingestCfg.Engine, err = capture.EngineConfig(cfg); err != nil {
		slog.Error("engine config", "error", err)
		os.Exit(1)
	}
	if model != nil {
		ingestCfg.Predictor = model
		go func() {
			if err := model.WaitReady(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("model never became ready", "error", err)
			}
		}()
	} else {
		slog.Warn("no predictor configured, sessions will not be classified")
	}

	srv, err := ingest.New(ingestCfg)
	if err != nil {
		slog.Error("ingest", "error", err)
		os.Exit(1)
	}
	defer srv.Close()
	go srv.Run(ctx)

	go housekeeping(ctx, st, metrics, cfg)

	if qc := cfg.Server.MCPQuic; qc.Addr != "" {
		startMCPQuic(ctx, srv, qc, logger)
	}

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		slog.Error("listen", "addr", cfg.Server.Listen, "error", err)
		os.Exit(1)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		slog.Info("uxaid starting", "addr", ln.Addr().String(), "layout", cfg.Capture.Layout,
			"inference_interval", cfg.Capture.InferenceInterval)
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
}

func startMCPQuic(ctx context.Context, srv *ingest.Server, qc capture.MCPQuicConfig, logger *slog.Logger) {
	var (
		tlsCfg *tls.Config
		err    error
	)
	if qc.Cert != "" {
		tlsCfg, err = mcpquic.ServerTLSConfig(qc.Cert, qc.Key)
	} else {
		tlsCfg, err = mcpquic.SelfSignedTLSConfig()
	}
	if err != nil {
		slog.Error("MCP QUIC TLS", "error", err)
		return
	}
	ql, err := mcpquic.NewListener(qc.Addr, tlsCfg, srv.MCPServer(), logger)
	if err != nil {
		slog.Error("MCP QUIC listener", "error", err)
		return
	}
	go func() {
		<-ctx.Done()
		ql.Close()
	}()
	go func() {
		if err := ql.Serve(ctx); err != nil && ctx.Err() == nil {
			slog.Error("MCP QUIC", "error", err)
		}
	}()
}

// housekeeping logs capture totals and trims old metrics and, when a
// retention is configured, old telemetry.
func housekeeping(ctx context.Context, st *store.Store, mm *observability.MetricsManager, cfg *capture.FileConfig) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		encoded, _ := mm.Sum(ctx, observability.MetricSnapshotsEncoded, "")
		dropped, _ := mm.Sum(ctx, observability.MetricEventsDropped, "")
		slog.Info("capture totals", "snapshots_encoded", encoded, "events_dropped", dropped)

		if n, err := mm.Cleanup(ctx, cfg.Observability.Retention); err != nil {
			slog.Warn("metrics cleanup", "error", err)
		} else if n > 0 {
			slog.Info("metrics cleanup", "deleted", n)
		}
		if cfg.Store.Retention <= 0 {
			continue
		}
		if n, err := st.Purge(ctx, time.Now().Add(-cfg.Store.Retention)); err != nil {
			slog.Warn("store purge", "error", err)
		} else if n > 0 {
			slog.Info("store purge", "sessions", n)
		}
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
