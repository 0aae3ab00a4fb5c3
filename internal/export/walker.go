package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"leakwatch.app/sentry/common/logger"
	"leakwatch.app/sentry/internal/ecs"
	"leakwatch.app/sentry/internal/metrics"
	"leakwatch.app/sentry/internal/store"
)

// cursorLayout keeps nanosecond precision so two events in the same
// second cannot straddle the resume point.
const cursorLayout = time.RFC3339Nano

const pagePause = 200 * time.Millisecond

// Summary reports what one walk shipped.
type Summary struct {
	Destination string `json:"destination"`
	Pages       int    `json:"pages"`
	Sent        int    `json:"sent"`
	Cursor      string `json:"cursor,omitempty"`
}

// Walker streams stored events to one SIEM sink, resuming from the
// destination's persisted cursor. The cursor advances only after the sink
// accepted a page, so a failed page is re-sent on the next run.
type Walker struct {
	events    store.EventStore
	cursors   store.CursorStore
	pageLimit int32
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewWalker(events store.EventStore, cursors store.CursorStore, pageLimit int32, m *metrics.Metrics, log *slog.Logger) *Walker {
	if pageLimit <= 0 {
		pageLimit = 500
	}
	if log == nil {
		log = slog.Default()
	}
	return &Walker{
		events:    events,
		cursors:   cursors,
		pageLimit: pageLimit,
		metrics:   m,
		logger:    log,
	}
}

// Run walks forward from the sink's cursor until the store has no newer
// events, pausing briefly between pages.
func (w *Walker) Run(ctx context.Context, sink SIEMSink) (*Summary, error) {
	dest := sink.Key()
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Destination: logger.Ptr(dest),
		Component:   "sentry.export",
	})

	prev, since, err := w.loadCursor(ctx, dest)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Destination: dest, Cursor: prev}
	for {
		events, err := w.events.ListAfter(ctx, since, w.pageLimit)
		if err != nil {
			return summary, fmt.Errorf("listing events: %w", err)
		}
		if len(events) == 0 {
			break
		}

		records := make([]ecs.Record, 0, len(events))
		for i := range events {
			records = append(records, ecs.FromEvent(&events[i]))
		}

		if err := sink.Send(ctx, records); err != nil {
			// Cursor untouched: this page is re-sent next run.
			return summary, fmt.Errorf("sending page to %s: %w", dest, err)
		}

		last := events[len(events)-1].FoundAt.UTC()
		next := last.Format(cursorLayout)
		if err := w.cursors.Set(ctx, dest, next, prev); err != nil {
			return summary, fmt.Errorf("advancing cursor: %w", err)
		}

		prev = next
		since = &last
		summary.Pages++
		summary.Sent += len(records)
		summary.Cursor = next
		if w.metrics != nil {
			w.metrics.ExportedRecords.WithLabelValues(dest).Add(float64(len(records)))
		}
		w.logger.InfoContext(ctx, "export page shipped", "records", len(records), "cursor", next)

		if int32(len(events)) < w.pageLimit {
			break
		}

		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		case <-time.After(pagePause):
		}
	}

	return summary, nil
}

func (w *Walker) loadCursor(ctx context.Context, dest string) (string, *time.Time, error) {
	cur, err := w.cursors.Get(ctx, dest)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("loading cursor: %w", err)
	}

	since, err := time.Parse(cursorLayout, cur.Value)
	if err != nil {
		// A corrupt cursor restarts the stream rather than wedging it.
		w.logger.WarnContext(ctx, "unparseable cursor, restarting from beginning", "value", cur.Value)
		return cur.Value, nil, nil
	}
	return cur.Value, &since, nil
}
