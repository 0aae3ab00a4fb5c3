// Package webhook implements the outbound webhook surface: a registry of
// subscriber endpoints and the deliverer that posts signed canonical
// records to every matching subscriber.
package webhook

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"leakwatch.app/sentry/common/id"
	"leakwatch.app/sentry/internal/model"
	"leakwatch.app/sentry/internal/store"
)

type RegisterParams struct {
	URL     string
	Secret  string
	Filters model.SubscriptionFilters
}

// Registry manages webhook subscriptions.
type Registry interface {
	Register(ctx context.Context, params RegisterParams) (*model.Subscription, error)
	List(ctx context.Context) ([]model.Subscription, error)
	Get(ctx context.Context, subID int64) (*model.Subscription, error)
	Remove(ctx context.Context, subID int64) error
}

type registry struct {
	subs store.SubscriptionStore
}

func NewRegistry(subs store.SubscriptionStore) Registry {
	return &registry{subs: subs}
}

func (r *registry) Register(ctx context.Context, params RegisterParams) (*model.Subscription, error) {
	target := strings.TrimSpace(params.URL)
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook url %q", params.URL)
	}

	sub := &model.Subscription{
		ID:      id.New(),
		URL:     target,
		Secret:  strings.TrimSpace(params.Secret),
		Filters: params.Filters,
		Enabled: true,
	}
	if err := r.subs.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("creating subscription: %w", err)
	}
	return sub, nil
}

func (r *registry) List(ctx context.Context) ([]model.Subscription, error) {
	return r.subs.List(ctx)
}

func (r *registry) Get(ctx context.Context, subID int64) (*model.Subscription, error) {
	return r.subs.GetByID(ctx, subID)
}

func (r *registry) Remove(ctx context.Context, subID int64) error {
	return r.subs.Delete(ctx, subID)
}

// Matches reports whether an event passes a subscription's filters. An
// empty filter set matches everything; the labels filter wants at least
// one overlap with the event's detection labels.
func Matches(event *model.Event, f model.SubscriptionFilters) bool {
	if f.Platform != nil && !strings.EqualFold(*f.Platform, event.Platform) {
		return false
	}
	if f.Severity != nil && !strings.EqualFold(*f.Severity, string(event.Severity)) {
		return false
	}
	if len(f.Labels) > 0 {
		have := make(map[string]struct{})
		for _, l := range event.Labels() {
			have[l] = struct{}{}
		}
		hit := false
		for _, want := range f.Labels {
			if _, ok := have[want]; ok {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}
