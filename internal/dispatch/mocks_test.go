package dispatch_test

import (
	"context"
	"time"

	"leakwatch.app/sentry/internal/model"
	"leakwatch.app/sentry/internal/store"
)

type mockSink struct {
	name       string
	eligibleFn func(event *model.Event) bool
	deliverFn  func(ctx context.Context, event *model.Event) error
	delivered  []string
}

func (m *mockSink) Name() string { return m.name }

func (m *mockSink) Eligible(event *model.Event) bool {
	if m.eligibleFn != nil {
		return m.eligibleFn(event)
	}
	return true
}

func (m *mockSink) Deliver(ctx context.Context, event *model.Event) error {
	m.delivered = append(m.delivered, event.Fingerprint)
	if m.deliverFn != nil {
		return m.deliverFn(ctx, event)
	}
	return nil
}

type mockEventStore struct {
	insertIfAbsentFn func(ctx context.Context, ev *model.Event) (bool, error)
	listUnsyncedFn   func(ctx context.Context, limit int32) ([]model.Event, error)
}

func (m *mockEventStore) InsertIfAbsent(ctx context.Context, ev *model.Event) (bool, error) {
	if m.insertIfAbsentFn != nil {
		return m.insertIfAbsentFn(ctx, ev)
	}
	return true, nil
}

func (m *mockEventStore) GetByFingerprint(ctx context.Context, fingerprint string) (*model.Event, error) {
	return nil, store.ErrNotFound
}

func (m *mockEventStore) List(ctx context.Context, filter store.EventFilter) ([]model.Event, error) {
	return nil, nil
}

func (m *mockEventStore) ListAfter(ctx context.Context, cursor *time.Time, limit int32) ([]model.Event, error) {
	return nil, nil
}

func (m *mockEventStore) ListUnsynced(ctx context.Context, limit int32) ([]model.Event, error) {
	if m.listUnsyncedFn != nil {
		return m.listUnsyncedFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockEventStore) SetTicketRef(ctx context.Context, fingerprint string, sink store.TicketSink, ref string) (bool, error) {
	return true, nil
}

func (m *mockEventStore) SetSlackMessage(ctx context.Context, fingerprint, channel, ts string) (bool, error) {
	return true, nil
}

func (m *mockEventStore) MarkSlackWebhook(ctx context.Context, fingerprint string, at time.Time) (bool, error) {
	return true, nil
}
