package model

import "time"

// SubscriptionFilters narrow which events a webhook subscriber receives.
// An absent field means "don't care", not "must be empty".
type SubscriptionFilters struct {
	Platform *string  `json:"platform,omitempty"`
	Severity *string  `json:"severity,omitempty"`
	Labels   []string `json:"labels,omitempty"`
}

// Subscription is a registered webhook receiver.
type Subscription struct {
	ID        int64               `json:"id"`
	URL       string              `json:"url"`
	Secret    string              `json:"-"`
	Filters   SubscriptionFilters `json:"filters"`
	Enabled   bool                `json:"enabled"`
	CreatedAt time.Time           `json:"created_at"`
}

type DeliveryStatus string

const (
	DeliveryStatusSent   DeliveryStatus = "sent"
	DeliveryStatusFailed DeliveryStatus = "failed"
	DeliveryStatusError  DeliveryStatus = "error"
)

// Delivery is an append-only audit record of a single webhook delivery
// attempt. Never updated after insert.
type Delivery struct {
	ID               string         `json:"id"`
	WebhookID        int64          `json:"webhook_id"`
	URL              string         `json:"url"`
	EventFingerprint string         `json:"event_fingerprint"`
	Status           DeliveryStatus `json:"status"`
	HTTPStatus       *int           `json:"http_status,omitempty"`
	ResponseExcerpt  *string        `json:"response_excerpt,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}
