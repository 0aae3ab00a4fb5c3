// Package connector defines the source connector contract: each connector
// pulls recently changed text items from one platform for the scan runner
// to match against the ruleset.
package connector

import (
	"context"
	"time"

	"leakwatch.app/sentry/internal/model"
)

// Item is one scannable piece of text with enough addressing to build a
// stable fingerprint. Pointer identifies the item inside its container
// (an issue key, a note ID) and must not change between scans.
type Item struct {
	Container  model.Container
	Pointer    string
	Text       string
	ModifiedAt time.Time
	Meta       map[string]string
}

// Connector fetches items modified after since. A nil since means a full
// scan from the beginning of history.
type Connector interface {
	Platform() string
	Fetch(ctx context.Context, since *time.Time) ([]Item, error)
}
