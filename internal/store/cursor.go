package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"leakwatch.app/sentry/internal/model"
)

// ErrCursorConflict means a conditional cursor update lost a race with
// another walker for the same destination.
var ErrCursorConflict = errors.New("cursor was advanced by another writer")

type cursorStore struct {
	q Querier
}

func newCursorStore(q Querier) CursorStore {
	return &cursorStore{q: q}
}

func (s *cursorStore) Get(ctx context.Context, destinationKey string) (*model.Cursor, error) {
	var c model.Cursor
	row := s.q.QueryRow(ctx, `
		SELECT destination_key, value, updated_at
		FROM export_cursors WHERE destination_key = $1`, destinationKey)
	if err := row.Scan(&c.DestinationKey, &c.Value, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *cursorStore) Set(ctx context.Context, destinationKey, value, prev string) error {
	if prev == "" {
		_, err := s.q.Exec(ctx, `
			INSERT INTO export_cursors (destination_key, value, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (destination_key)
			DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
			destinationKey, value)
		return err
	}

	// Conditional on the previous value so concurrent walkers for the same
	// destination cannot silently clobber each other's progress.
	tag, err := s.q.Exec(ctx, `
		UPDATE export_cursors SET value = $2, updated_at = now()
		WHERE destination_key = $1 AND value = $3`,
		destinationKey, value, prev)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("destination %s: %w", destinationKey, ErrCursorConflict)
	}
	return nil
}
