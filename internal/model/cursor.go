package model

import "time"

// Cursor is an opaque resume token owned by exactly one export destination.
// The walker advances it only after the destination accepted the page that
// ends at Value.
type Cursor struct {
	DestinationKey string    `json:"destination_key"`
	Value          string    `json:"value"`
	UpdatedAt      time.Time `json:"updated_at"`
}
