// Package bus announces new events on NATS so downstream consumers can
// react without polling the API.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"leakwatch.app/sentry/internal/model"
)

// Publisher publishes the canonical event record, one message per new
// event. Fingerprint and severity ride in headers so consumers can filter
// without decoding the body.
type Publisher struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

func NewPublisher(nc *nats.Conn, subject string, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{nc: nc, subject: subject, logger: log}
}

func (p *Publisher) Name() string { return "bus" }

func (p *Publisher) Eligible(*model.Event) bool { return p.nc != nil }

func (p *Publisher) Deliver(ctx context.Context, event *model.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := nats.NewMsg(p.subject)
	msg.Header.Set("Fingerprint", event.Fingerprint)
	msg.Header.Set("Severity", string(event.Severity))
	msg.Header.Set("Platform", event.Platform)
	msg.Data = body

	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.subject, err)
	}
	p.logger.DebugContext(ctx, "event published to bus", "subject", p.subject)
	return nil
}
