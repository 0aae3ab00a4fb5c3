package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leakwatch.app/sentry/common/logger"
	"leakwatch.app/sentry/core/config"
	"leakwatch.app/sentry/core/db"
	"leakwatch.app/sentry/internal/export"
	"leakwatch.app/sentry/internal/metrics"
	"leakwatch.app/sentry/internal/store"
)

// The exporter runs the SIEM export walk on its own schedule, separate
// from the API server. Run it once for backfills or on an interval as a
// forwarding daemon.
func main() {
	mode := flag.String("mode", "", "destination to export to (splunk, elastic, generic, file); defaults to EXPORT_MODE")
	interval := flag.Duration("interval", 0, "run continuously, exporting every interval; 0 runs once and exits")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "sentry exporter starting", "env", cfg.Env, "mode", *mode, "interval", *interval)

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	stores := store.NewStores(database.Pool())
	m := metrics.New()
	walker := export.NewWalker(stores.Events(), stores.Cursors(), cfg.Export.PageLimit, m, slog.Default())
	exporter := export.NewService(walker, stores.Cursors(), cfg.Export)

	if *interval <= 0 {
		summary, err := exporter.Export(ctx, *mode)
		report(ctx, summary, err)
		if err != nil {
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	// First pass immediately, then on the ticker.
	summary, err := exporter.Export(ctx, *mode)
	report(ctx, summary, err)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(context.Background(), "exporter shutting down")
			return
		case <-ticker.C:
			summary, err := exporter.Export(ctx, *mode)
			report(ctx, summary, err)
		}
	}
}

func report(ctx context.Context, summary *export.Summary, err error) {
	if err != nil {
		slog.ErrorContext(ctx, "export run failed", "error", err)
		return
	}
	slog.InfoContext(ctx, "export run complete",
		"destination", summary.Destination,
		"pages", summary.Pages,
		"sent", summary.Sent,
		"cursor", summary.Cursor)
}
