package store

import (
	"context"
	"time"

	"leakwatch.app/sentry/internal/model"
)

// TicketSink names a ticket-tracker integration owning one status column.
type TicketSink string

const (
	TicketSinkJira       TicketSink = "jira"
	TicketSinkGLPI       TicketSink = "glpi"
	TicketSinkServiceNow TicketSink = "servicenow"
)

// EventFilter narrows event listings. Zero values mean "don't filter".
type EventFilter struct {
	Platform string
	Severity string
	Label    string
	Since    *time.Time
	Until    *time.Time
	Cursor   *time.Time // exclusive upper bound on found_at (newest-first paging)
	Limit    int32
}

// EventStore is the dedup gate plus the queries the pipeline needs on top
// of it. InsertIfAbsent is the only write path for detection payloads;
// status setters mutate their own column exactly once.
type EventStore interface {
	// InsertIfAbsent atomically inserts the event unless one with the same
	// fingerprint exists. Returns true when this call created the row.
	InsertIfAbsent(ctx context.Context, ev *model.Event) (bool, error)

	GetByFingerprint(ctx context.Context, fingerprint string) (*model.Event, error)

	// List returns events newest-first according to the filter.
	List(ctx context.Context, filter EventFilter) ([]model.Event, error)

	// ListAfter returns events strictly after the cursor timestamp in
	// ascending detection order, for the export walker.
	ListAfter(ctx context.Context, cursor *time.Time, limit int32) ([]model.Event, error)

	// ListUnsynced returns events no sink has touched yet, oldest first,
	// for crash-recovery redispatch.
	ListUnsynced(ctx context.Context, limit int32) ([]model.Event, error)

	// SetTicketRef records a remote ticket identifier for the sink. The
	// write applies only if the column is still null; returns whether it
	// was applied.
	SetTicketRef(ctx context.Context, fingerprint string, sink TicketSink, ref string) (bool, error)

	// SetSlackMessage records the posted alert's channel and message ts.
	SetSlackMessage(ctx context.Context, fingerprint, channel, ts string) (bool, error)

	// MarkSlackWebhook stamps the webhook-transport dedupe marker.
	MarkSlackWebhook(ctx context.Context, fingerprint string, at time.Time) (bool, error)
}

type SubscriptionStore interface {
	Create(ctx context.Context, sub *model.Subscription) error
	GetByID(ctx context.Context, id int64) (*model.Subscription, error)
	List(ctx context.Context) ([]model.Subscription, error)
	ListEnabled(ctx context.Context) ([]model.Subscription, error)
	Delete(ctx context.Context, id int64) error
}

// DeliveryStore is append-only.
type DeliveryStore interface {
	Create(ctx context.Context, d *model.Delivery) error
	ListByFingerprint(ctx context.Context, fingerprint string, limit int32) ([]model.Delivery, error)
}

type CursorStore interface {
	Get(ctx context.Context, destinationKey string) (*model.Cursor, error)

	// Set persists a new cursor value. When prev is non-empty the update is
	// conditional on the stored value still being prev, so a competing
	// walker cannot cause a lost update.
	Set(ctx context.Context, destinationKey, value, prev string) error
}
