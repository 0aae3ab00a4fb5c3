package dto

import (
	"leakwatch.app/sentry/internal/ecs"
)

// ListEventsQuery binds the query parameters of GET /integrations/events.
// The cursor is the found_at of the last record from the previous page.
type ListEventsQuery struct {
	Platform string `form:"platform"`
	Severity string `form:"severity"`
	Label    string `form:"label"`
	Since    string `form:"since"`
	Until    string `form:"until"`
	Cursor   string `form:"cursor"`
	Limit    int32  `form:"limit,default=100" binding:"omitempty,gte=1,lte=1000"`
}

type ListEventsResponse struct {
	OK         bool         `json:"ok"`
	Count      int          `json:"count"`
	NextCursor *string      `json:"next_cursor"`
	Events     []ecs.Record `json:"events"`
}

type EventResponse struct {
	OK    bool       `json:"ok"`
	Event ecs.Record `json:"event"`
}
