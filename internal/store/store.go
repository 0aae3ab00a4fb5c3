// Package store persists events, webhook subscriptions, delivery audit rows
// and export cursors in PostgreSQL. Queries are written directly against
// pgx; both the pool and an open transaction satisfy Querier.
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNotFound = errors.New("not found")

// Querier is the subset of pgx satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Stores bundles the per-entity stores behind their interfaces.
type Stores struct {
	events        EventStore
	subscriptions SubscriptionStore
	deliveries    DeliveryStore
	cursors       CursorStore
}

func NewStores(q Querier) *Stores {
	return &Stores{
		events:        newEventStore(q),
		subscriptions: newSubscriptionStore(q),
		deliveries:    newDeliveryStore(q),
		cursors:       newCursorStore(q),
	}
}

func (s *Stores) Events() EventStore               { return s.events }
func (s *Stores) Subscriptions() SubscriptionStore { return s.subscriptions }
func (s *Stores) Deliveries() DeliveryStore        { return s.deliveries }
func (s *Stores) Cursors() CursorStore             { return s.cursors }
