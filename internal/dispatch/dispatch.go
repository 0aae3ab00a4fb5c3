package dispatch

import (
	"context"
	"log/slog"

	"leakwatch.app/sentry/common/logger"
	"leakwatch.app/sentry/internal/metrics"
	"leakwatch.app/sentry/internal/model"
	"leakwatch.app/sentry/internal/store"
)

// Sink delivers a newly recorded event to one outbound destination.
// Deliver must be idempotent per event: sinks consult the event's sync
// status markers and skip work that already happened.
type Sink interface {
	Name() string
	Eligible(event *model.Event) bool
	Deliver(ctx context.Context, event *model.Event) error
}

// Dispatcher fans a new event out to every registered sink. A failing
// sink never blocks the others; failures are logged and counted, and the
// event stays eligible for redispatch.
type Dispatcher struct {
	sinks   []Sink
	events  store.EventStore
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(events store.EventStore, m *metrics.Metrics, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		events:  events,
		metrics: m,
		logger:  log,
	}
}

// Register appends a sink. Sinks run in registration order.
func (d *Dispatcher) Register(s Sink) {
	d.sinks = append(d.sinks, s)
}

// Sinks returns the names of the registered sinks.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Dispatch runs every eligible sink against the event. It returns the
// number of sinks that failed; the event itself is never rolled back.
func (d *Dispatcher) Dispatch(ctx context.Context, event *model.Event) int {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Fingerprint: logger.Ptr(event.Fingerprint),
		Platform:    logger.Ptr(event.Platform),
		Component:   "sentry.dispatch",
	})

	sc := logger.StartSpan(ctx, "dispatch.fan_out")
	defer sc.End()
	ctx = sc.Context()

	failed := 0
	for _, sink := range d.sinks {
		if !sink.Eligible(event) {
			continue
		}
		sctx := logger.WithLogFields(ctx, logger.LogFields{Sink: logger.Ptr(sink.Name())})
		if err := sink.Deliver(sctx, event); err != nil {
			failed++
			sc.RecordError(err)
			if d.metrics != nil {
				d.metrics.SinkFailures.WithLabelValues(sink.Name()).Inc()
			}
			d.logger.ErrorContext(sctx, "sink delivery failed", "error", err)
			continue
		}
		if d.metrics != nil {
			d.metrics.SinkDeliveries.WithLabelValues(sink.Name()).Inc()
		}
		d.logger.InfoContext(sctx, "sink delivery done")
	}
	return failed
}

// Redispatch re-runs the fan-out for stored events that never completed a
// sync. Called on startup so a crash between insert and delivery does not
// strand events; sink-level idempotency markers prevent double side effects.
func (d *Dispatcher) Redispatch(ctx context.Context, limit int32) (int, error) {
	events, err := d.events.ListUnsynced(ctx, limit)
	if err != nil {
		return 0, err
	}
	for i := range events {
		d.Dispatch(ctx, &events[i])
	}
	if len(events) > 0 {
		d.logger.InfoContext(ctx, "redispatched unsynced events", "count", len(events))
	}
	return len(events), nil
}
