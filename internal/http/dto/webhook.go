package dto

import (
	"leakwatch.app/sentry/internal/model"
)

type CreateWebhookRequest struct {
	URL     string                    `json:"url" binding:"required"`
	Secret  string                    `json:"secret"`
	Filters model.SubscriptionFilters `json:"filters"`
}

type CreateWebhookResponse struct {
	OK bool  `json:"ok"`
	ID int64 `json:"id,string"`
}

type ListWebhooksResponse struct {
	OK       bool                 `json:"ok"`
	Webhooks []model.Subscription `json:"webhooks"`
}

type RedeliverResponse struct {
	OK         bool             `json:"ok"`
	Deliveries []model.Delivery `json:"deliveries"`
}

type DeliveriesResponse struct {
	OK         bool             `json:"ok"`
	Deliveries []model.Delivery `json:"deliveries"`
}
