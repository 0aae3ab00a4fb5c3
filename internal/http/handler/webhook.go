package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"leakwatch.app/sentry/internal/http/dto"
	"leakwatch.app/sentry/internal/model"
	"leakwatch.app/sentry/internal/store"
	"leakwatch.app/sentry/internal/webhook"
)

// Broadcaster is the slice of the deliverer the handler needs.
type Broadcaster interface {
	Broadcast(ctx context.Context, event *model.Event) ([]model.Delivery, error)
}

type WebhookHandler struct {
	registry    webhook.Registry
	broadcaster Broadcaster
	events      store.EventStore
	deliveries  store.DeliveryStore
}

func NewWebhookHandler(registry webhook.Registry, broadcaster Broadcaster, events store.EventStore, deliveries store.DeliveryStore) *WebhookHandler {
	return &WebhookHandler{
		registry:    registry,
		broadcaster: broadcaster,
		events:      events,
		deliveries:  deliveries,
	}
}

func (h *WebhookHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	sub, err := h.registry.Register(ctx, webhook.RegisterParams{
		URL:     req.URL,
		Secret:  req.Secret,
		Filters: req.Filters,
	})
	if err != nil {
		slog.WarnContext(ctx, "webhook registration rejected", "error", err)
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	c.JSON(http.StatusCreated, dto.CreateWebhookResponse{OK: true, ID: sub.ID})
}

func (h *WebhookHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	subs, err := h.registry.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "listing webhooks failed", "error", err)
		fail(c, http.StatusInternalServerError, "failed to list webhooks")
		return
	}
	if subs == nil {
		subs = []model.Subscription{}
	}

	c.JSON(http.StatusOK, dto.ListWebhooksResponse{OK: true, Webhooks: subs})
}

func (h *WebhookHandler) Delete(c *gin.Context) {
	ctx := c.Request.Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid webhook id")
		return
	}

	if err := h.registry.Remove(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fail(c, http.StatusNotFound, "not found")
			return
		}
		slog.ErrorContext(ctx, "deleting webhook failed", "error", err)
		fail(c, http.StatusInternalServerError, "failed to delete webhook")
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Redeliver replays one stored event to every matching subscription.
func (h *WebhookHandler) Redeliver(c *gin.Context) {
	ctx := c.Request.Context()

	event, err := h.events.GetByFingerprint(ctx, c.Param("fingerprint"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fail(c, http.StatusNotFound, "not found")
			return
		}
		slog.ErrorContext(ctx, "fetching event failed", "error", err)
		fail(c, http.StatusInternalServerError, "failed to fetch event")
		return
	}

	deliveries, err := h.broadcaster.Broadcast(ctx, event)
	if err != nil {
		slog.ErrorContext(ctx, "redelivery failed", "error", err)
		fail(c, http.StatusInternalServerError, "failed to redeliver")
		return
	}
	if deliveries == nil {
		deliveries = []model.Delivery{}
	}

	c.JSON(http.StatusOK, dto.RedeliverResponse{OK: true, Deliveries: deliveries})
}

// Deliveries lists the delivery audit trail for one event.
func (h *WebhookHandler) Deliveries(c *gin.Context) {
	ctx := c.Request.Context()

	deliveries, err := h.deliveries.ListByFingerprint(ctx, c.Param("fingerprint"), 100)
	if err != nil {
		slog.ErrorContext(ctx, "listing deliveries failed", "error", err)
		fail(c, http.StatusInternalServerError, "failed to list deliveries")
		return
	}
	if deliveries == nil {
		deliveries = []model.Delivery{}
	}

	c.JSON(http.StatusOK, dto.DeliveriesResponse{OK: true, Deliveries: deliveries})
}
