// Package scan drives the detection pipeline: connectors feed text items
// through the pattern matcher and normalizer into the dedup gate, and new
// events fan out through the dispatcher.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"leakwatch.app/sentry/common/logger"
	"leakwatch.app/sentry/internal/connector"
	"leakwatch.app/sentry/internal/detect"
	"leakwatch.app/sentry/internal/dispatch"
	"leakwatch.app/sentry/internal/metrics"
	"leakwatch.app/sentry/internal/store"
)

// cursorLayout matches the export cursor precision.
const cursorLayout = time.RFC3339Nano

// Result counts one run across all connectors.
type Result struct {
	Scanned    int `json:"scanned"`
	Matched    int `json:"matched"`
	New        int `json:"new"`
	Duplicates int `json:"duplicates"`
}

// Runner owns one scan cycle. Each connector keeps a "scan:<platform>"
// cursor so repeated runs only fetch what changed.
type Runner struct {
	connectors []connector.Connector
	rules      *detect.Ruleset
	events     store.EventStore
	cursors    store.CursorStore
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewRunner(
	rules *detect.Ruleset,
	events store.EventStore,
	cursors store.CursorStore,
	dispatcher *dispatch.Dispatcher,
	m *metrics.Metrics,
	log *slog.Logger,
) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		rules:      rules,
		events:     events,
		cursors:    cursors,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     log,
	}
}

// Register adds a connector to the scan cycle.
func (r *Runner) Register(c connector.Connector) {
	r.connectors = append(r.connectors, c)
}

// Platforms returns the registered connector platforms.
func (r *Runner) Platforms() []string {
	out := make([]string, 0, len(r.connectors))
	for _, c := range r.connectors {
		out = append(out, c.Platform())
	}
	return out
}

// Run scans every registered connector once. A failing connector is
// logged and skipped; the others still run.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	result := &Result{}
	for _, c := range r.connectors {
		if err := r.runConnector(ctx, c, result); err != nil {
			r.logger.ErrorContext(ctx, "connector scan failed", "platform", c.Platform(), "error", err)
		}
	}
	r.logger.InfoContext(ctx, "scan cycle done",
		"scanned", result.Scanned, "matched", result.Matched, "new", result.New, "duplicates", result.Duplicates)
	return result, nil
}

func (r *Runner) runConnector(ctx context.Context, c connector.Connector, result *Result) error {
	platform := c.Platform()
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Platform:  logger.Ptr(platform),
		Component: "sentry.scan",
	})

	cursorKey := "scan:" + platform
	prev, since := r.loadCursor(ctx, cursorKey)

	items, err := c.Fetch(ctx, since)
	if err != nil {
		return fmt.Errorf("fetching items: %w", err)
	}

	var maxModified time.Time
	if since != nil {
		maxModified = *since
	}

	for i := range items {
		item := &items[i]
		result.Scanned++
		if r.metrics != nil {
			r.metrics.ItemsScanned.Inc()
		}
		if item.ModifiedAt.After(maxModified) {
			maxModified = item.ModifiedAt
		}

		detections := r.rules.Match(item.Text)
		if len(detections) == 0 {
			continue
		}
		result.Matched++

		event := detect.Normalize(platform, item.Container, item.Pointer, item.Text, detections, item.Meta)
		created, err := r.events.InsertIfAbsent(ctx, event)
		if err != nil {
			return fmt.Errorf("recording event: %w", err)
		}
		if !created {
			result.Duplicates++
			if r.metrics != nil {
				r.metrics.EventsDuplicate.Inc()
			}
			r.logger.DebugContext(ctx, "duplicate suppressed", "fingerprint", event.Fingerprint)
			continue
		}

		result.New++
		if r.metrics != nil {
			r.metrics.EventsNew.Inc()
		}
		r.dispatcher.Dispatch(ctx, event)
	}

	if !maxModified.IsZero() && (since == nil || maxModified.After(*since)) {
		next := maxModified.UTC().Format(cursorLayout)
		if err := r.cursors.Set(ctx, cursorKey, next, prev); err != nil {
			return fmt.Errorf("advancing scan cursor: %w", err)
		}
	}
	return nil
}

func (r *Runner) loadCursor(ctx context.Context, key string) (string, *time.Time) {
	cur, err := r.cursors.Get(ctx, key)
	if err != nil {
		return "", nil
	}
	since, err := time.Parse(cursorLayout, cur.Value)
	if err != nil {
		return cur.Value, nil
	}
	return cur.Value, &since
}
