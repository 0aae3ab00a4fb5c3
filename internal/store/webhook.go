package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"leakwatch.app/sentry/internal/model"
)

type subscriptionStore struct {
	q Querier
}

func newSubscriptionStore(q Querier) SubscriptionStore {
	return &subscriptionStore{q: q}
}

func (s *subscriptionStore) Create(ctx context.Context, sub *model.Subscription) error {
	filters, err := json.Marshal(sub.Filters)
	if err != nil {
		return fmt.Errorf("marshal filters: %w", err)
	}
	row := s.q.QueryRow(ctx, `
		INSERT INTO webhook_subscriptions (id, url, secret, filters, enabled)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		sub.ID, sub.URL, sub.Secret, filters, sub.Enabled)
	return row.Scan(&sub.CreatedAt)
}

func (s *subscriptionStore) GetByID(ctx context.Context, id int64) (*model.Subscription, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, url, secret, filters, enabled, created_at
		FROM webhook_subscriptions WHERE id = $1`, id)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sub, nil
}

func (s *subscriptionStore) List(ctx context.Context) ([]model.Subscription, error) {
	return s.querySubscriptions(ctx, `
		SELECT id, url, secret, filters, enabled, created_at
		FROM webhook_subscriptions ORDER BY created_at DESC`)
}

func (s *subscriptionStore) ListEnabled(ctx context.Context) ([]model.Subscription, error) {
	return s.querySubscriptions(ctx, `
		SELECT id, url, secret, filters, enabled, created_at
		FROM webhook_subscriptions WHERE enabled ORDER BY created_at`)
}

func (s *subscriptionStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *subscriptionStore) querySubscriptions(ctx context.Context, sql string, args ...any) ([]model.Subscription, error) {
	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	var (
		sub     model.Subscription
		filters []byte
	)
	if err := row.Scan(&sub.ID, &sub.URL, &sub.Secret, &filters, &sub.Enabled, &sub.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(filters, &sub.Filters); err != nil {
		return nil, fmt.Errorf("unmarshal filters: %w", err)
	}
	return &sub, nil
}

type deliveryStore struct {
	q Querier
}

func newDeliveryStore(q Querier) DeliveryStore {
	return &deliveryStore{q: q}
}

func (s *deliveryStore) Create(ctx context.Context, d *model.Delivery) error {
	row := s.q.QueryRow(ctx, `
		INSERT INTO webhook_deliveries (id, webhook_id, url, event_fingerprint,
			status, http_status, response_excerpt)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		d.ID, d.WebhookID, d.URL, d.EventFingerprint, string(d.Status),
		d.HTTPStatus, d.ResponseExcerpt)
	return row.Scan(&d.CreatedAt)
}

func (s *deliveryStore) ListByFingerprint(ctx context.Context, fingerprint string, limit int32) ([]model.Delivery, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.Query(ctx, `
		SELECT id, webhook_id, url, event_fingerprint, status, http_status,
			response_excerpt, created_at
		FROM webhook_deliveries WHERE event_fingerprint = $1
		ORDER BY created_at DESC LIMIT $2`, fingerprint, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Delivery
	for rows.Next() {
		var (
			d      model.Delivery
			status string
		)
		if err := rows.Scan(&d.ID, &d.WebhookID, &d.URL, &d.EventFingerprint,
			&status, &d.HTTPStatus, &d.ResponseExcerpt, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Status = model.DeliveryStatus(status)
		out = append(out, d)
	}
	return out, rows.Err()
}
