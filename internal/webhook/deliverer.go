package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"leakwatch.app/sentry/common/logger"
	"leakwatch.app/sentry/internal/ecs"
	"leakwatch.app/sentry/internal/metrics"
	"leakwatch.app/sentry/internal/model"
	"leakwatch.app/sentry/internal/store"
)

const (
	headerEvent       = "X-Sentry-Event"
	headerFingerprint = "X-Sentry-Fingerprint"
	headerSignature   = "X-Sentry-Signature"

	deliveryTimeout = 10 * time.Second
	excerptLimit    = 500
	errorLimit      = 300
)

// Deliverer posts the canonical record of an event to every enabled
// subscription whose filters match. Each attempt leaves exactly one
// delivery record; a failing endpoint never blocks the others.
type Deliverer struct {
	subs       store.SubscriptionStore
	deliveries store.DeliveryStore
	client     *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewDeliverer(subs store.SubscriptionStore, deliveries store.DeliveryStore, m *metrics.Metrics, log *slog.Logger) *Deliverer {
	if log == nil {
		log = slog.Default()
	}
	return &Deliverer{
		subs:       subs,
		deliveries: deliveries,
		client:     &http.Client{Timeout: deliveryTimeout},
		metrics:    m,
		logger:     log,
	}
}

func (d *Deliverer) Name() string { return "webhooks" }

func (d *Deliverer) Eligible(*model.Event) bool { return true }

// Deliver broadcasts the event to all matching subscriptions.
func (d *Deliverer) Deliver(ctx context.Context, event *model.Event) error {
	_, err := d.Broadcast(ctx, event)
	return err
}

// Broadcast posts to every matching subscription and returns the delivery
// records written. The error reflects infrastructure problems only;
// subscriber-side failures are captured in the records.
func (d *Deliverer) Broadcast(ctx context.Context, event *model.Event) ([]model.Delivery, error) {
	subs, err := d.subs.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}

	body, err := json.Marshal(ecs.FromEvent(event))
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	var out []model.Delivery
	for i := range subs {
		sub := &subs[i]
		if !Matches(event, sub.Filters) {
			continue
		}
		delivery := d.deliverOne(ctx, event, sub, body)
		if err := d.deliveries.Create(ctx, &delivery); err != nil {
			d.logger.ErrorContext(ctx, "recording delivery failed", "error", err)
		}
		if d.metrics != nil {
			d.metrics.WebhookDeliveries.WithLabelValues(string(delivery.Status)).Inc()
		}
		out = append(out, delivery)
	}
	return out, nil
}

func (d *Deliverer) deliverOne(ctx context.Context, event *model.Event, sub *model.Subscription, body []byte) model.Delivery {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Fingerprint: logger.Ptr(event.Fingerprint),
		WebhookID:   logger.Ptr(sub.ID),
		Component:   "sentry.webhook",
	})

	delivery := model.Delivery{
		ID:               uuid.NewString(),
		WebhookID:        sub.ID,
		URL:              sub.URL,
		EventFingerprint: event.Fingerprint,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		delivery.Status = model.DeliveryStatusError
		delivery.ResponseExcerpt = excerpt(err.Error(), errorLimit)
		return delivery
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerEvent, "finding")
	req.Header.Set(headerFingerprint, event.Fingerprint)
	if sub.Secret != "" {
		req.Header.Set(headerSignature, Sign(sub.Secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		delivery.Status = model.DeliveryStatusError
		delivery.ResponseExcerpt = excerpt(err.Error(), errorLimit)
		d.logger.WarnContext(ctx, "webhook delivery error", "error", err)
		return delivery
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, excerptLimit))
	delivery.HTTPStatus = &resp.StatusCode
	delivery.ResponseExcerpt = excerpt(string(respBody), excerptLimit)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		delivery.Status = model.DeliveryStatusSent
		d.logger.InfoContext(ctx, "webhook delivered", "http_status", resp.StatusCode)
	} else {
		delivery.Status = model.DeliveryStatusFailed
		d.logger.WarnContext(ctx, "webhook rejected", "http_status", resp.StatusCode)
	}
	return delivery
}

// Sign computes the payload signature subscribers verify:
// hex HMAC-SHA256 of the raw body, prefixed with the scheme.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func excerpt(s string, limit int) *string {
	if len(s) > limit {
		s = s[:limit]
	}
	if s == "" {
		return nil
	}
	return &s
}
