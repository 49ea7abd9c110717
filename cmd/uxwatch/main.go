// Command uxwatch opens a page in Chrome, captures the interaction events of
// whoever drives it, and prints closed snapshots and classifications as JSON
// lines on stdout.
//
//	uxwatch [-config uxai.yaml] [-for 5m] https://example.com
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hazyhaar/uxai/capture"
	"github.com/hazyhaar/uxai/capture/snapshot"
)

func main() {
	configPath := flag.String("config", os.Getenv("UXAI_CONFIG"), "YAML configuration file")
	duration := flag.Duration("for", 0, "stop after this long (0 = until interrupted)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: uxwatch [flags] <url>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	pageURL := flag.Arg(0)

	cfg := capture.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = capture.LoadConfigFile(*configPath); err != nil {
			slog.Error("load config", "error", err)
			os.Exit(1)
		}
	}

	// Logs go to stderr, stdout carries the JSON lines.
	lvl, _ := capture.ParseLevel(cfg.Log.Level)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	sinks := []capture.Sink{capture.NewStdoutSink(os.Stdout)}
	// uxwatch has no database; store sinks only make sense under uxaid.
	for i, sc := range cfg.Sinks {
		if sc.Type == "store" || sc.Type == "stdout" {
			continue
		}
		extra := *cfg
		extra.Sinks = cfg.Sinks[i : i+1]
		built, err := capture.BuildSinks(&extra, logger, nil)
		if err != nil {
			slog.Error("sinks", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, built...)
	}
	defer func() {
		for _, s := range sinks {
			s.Close()
		}
	}()

	engCfg, err := capture.EngineConfig(cfg)
	if err != nil {
		slog.Error("engine config", "error", err)
		os.Exit(1)
	}
	engCfg.InferenceCallback = func(labels []snapshot.Label) {
		slog.Info("classified", "label", labels[len(labels)-1], "total", len(labels))
	}

	model, err := capture.NewPredictor(cfg, logger)
	if err != nil {
		slog.Error("predictor", "error", err)
		os.Exit(1)
	}
	if model != nil {
		engCfg.Predictor = model
		go model.WaitReady(ctx)
	}

	eng, err := capture.New(engCfg, capture.WithLogger(logger), capture.WithSink(sinks...))
	if err != nil {
		slog.Error("engine", "error", err)
		os.Exit(1)
	}
	defer eng.Stop()

	src, err := capture.NewBrowserSource(pageURL, cfg, logger)
	if err != nil {
		slog.Error("browser source", "error", err)
		os.Exit(1)
	}

	slog.Info("uxwatch starting", "url", pageURL, "session_id", eng.SessionID(), "layout", eng.Layout().Name)
	if err := eng.Attach(ctx, src); err != nil && !errors.Is(err, capture.ErrStopped) && ctx.Err() == nil {
		slog.Error("capture", "error", err)
		eng.Stop()
		os.Exit(1)
	}
	st := eng.Stats()
	slog.Info("uxwatch stopped", "events", st.Events, "encoded", st.Encoded, "classifications", st.Classifications)
}
