package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"leakwatch.app/sentry/internal/ecs"
	"leakwatch.app/sentry/internal/http/dto"
	"leakwatch.app/sentry/internal/store"
	"leakwatch.app/sentry/internal/stream"
)

type EventHandler struct {
	events    store.EventStore
	newReader func() *stream.Reader
}

// NewEventHandler wires the read side of the event surface. newReader may
// be nil, which disables the live stream endpoint.
func NewEventHandler(events store.EventStore, newReader func() *stream.Reader) *EventHandler {
	return &EventHandler{events: events, newReader: newReader}
}

func (h *EventHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	var q dto.ListEventsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	filter := store.EventFilter{
		Platform: q.Platform,
		Severity: q.Severity,
		Label:    q.Label,
		Limit:    q.Limit,
	}
	filter.Since = parseTime(q.Since)
	filter.Until = parseTime(q.Until)
	filter.Cursor = parseTime(q.Cursor)

	events, err := h.events.List(ctx, filter)
	if err != nil {
		slog.ErrorContext(ctx, "listing events failed", "error", err)
		fail(c, http.StatusInternalServerError, "failed to list events")
		return
	}

	records := make([]ecs.Record, 0, len(events))
	for i := range events {
		records = append(records, ecs.FromEvent(&events[i]))
	}

	var next *string
	if len(events) > 0 {
		// Nano precision: the follow-up query is strict (found_at < cursor),
		// so a truncated cursor would skip events inside the boundary second.
		cur := events[len(events)-1].FoundAt.UTC().Format(time.RFC3339Nano)
		next = &cur
	}

	c.JSON(http.StatusOK, dto.ListEventsResponse{
		OK:         true,
		Count:      len(records),
		NextCursor: next,
		Events:     records,
	})
}

func (h *EventHandler) Get(c *gin.Context) {
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

	c.JSON(http.StatusOK, dto.EventResponse{OK: true, Event: ecs.FromEvent(event)})
}

// Stream tails new events as server-sent events until the client leaves.
func (h *EventHandler) Stream(c *gin.Context) {
	if h.newReader == nil {
		fail(c, http.StatusServiceUnavailable, "live stream is not configured")
		return
	}

	ctx := c.Request.Context()
	reader := h.newReader()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		events, err := reader.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.WarnContext(ctx, "stream read failed", "error", err)
			return
		}

		for i := range events {
			rec := ecs.FromEvent(&events[i])
			data, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "event: sentry.finding\nid: %s\ndata: %s\n\n", events[i].Fingerprint, data)
		}
		if len(events) > 0 {
			c.Writer.Flush()
		}
	}
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
