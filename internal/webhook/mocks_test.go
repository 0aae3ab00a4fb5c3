package webhook_test

import (
	"context"

	"leakwatch.app/sentry/internal/model"
	"leakwatch.app/sentry/internal/store"
)

type mockSubscriptionStore struct {
	createFn      func(ctx context.Context, sub *model.Subscription) error
	listEnabledFn func(ctx context.Context) ([]model.Subscription, error)
	created       []*model.Subscription
	deletedIDs    []int64
}

func (m *mockSubscriptionStore) Create(ctx context.Context, sub *model.Subscription) error {
	m.created = append(m.created, sub)
	if m.createFn != nil {
		return m.createFn(ctx, sub)
	}
	return nil
}

func (m *mockSubscriptionStore) GetByID(ctx context.Context, id int64) (*model.Subscription, error) {
	for _, sub := range m.created {
		if sub.ID == id {
			return sub, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockSubscriptionStore) List(ctx context.Context) ([]model.Subscription, error) {
	out := make([]model.Subscription, 0, len(m.created))
	for _, sub := range m.created {
		out = append(out, *sub)
	}
	return out, nil
}

func (m *mockSubscriptionStore) ListEnabled(ctx context.Context) ([]model.Subscription, error) {
	if m.listEnabledFn != nil {
		return m.listEnabledFn(ctx)
	}
	return m.List(ctx)
}

func (m *mockSubscriptionStore) Delete(ctx context.Context, id int64) error {
	m.deletedIDs = append(m.deletedIDs, id)
	return nil
}

type mockDeliveryStore struct {
	createFn func(ctx context.Context, d *model.Delivery) error
	created  []model.Delivery
}

func (m *mockDeliveryStore) Create(ctx context.Context, d *model.Delivery) error {
	m.created = append(m.created, *d)
	if m.createFn != nil {
		return m.createFn(ctx, d)
	}
	return nil
}

func (m *mockDeliveryStore) ListByFingerprint(ctx context.Context, fingerprint string, limit int32) ([]model.Delivery, error) {
	var out []model.Delivery
	for _, d := range m.created {
		if d.EventFingerprint == fingerprint {
			out = append(out, d)
		}
	}
	return out, nil
}
