// Package stream publishes new events onto a capped Redis stream and
// reads them back for live consumers (the SSE endpoint).
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"leakwatch.app/sentry/internal/model"
)

const fieldBody = "event"

// Publisher appends each new event to the stream. It implements the
// dispatch sink contract; live tailing is best-effort so a Redis outage
// only costs the live feed, not the event.
type Publisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *slog.Logger
}

func NewPublisher(client *redis.Client, stream string, maxLen int64, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{client: client, stream: stream, maxLen: maxLen, logger: log}
}

func (p *Publisher) Name() string { return "stream" }

func (p *Publisher) Eligible(*model.Event) bool { return p.client != nil }

func (p *Publisher) Deliver(ctx context.Context, event *model.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			fieldBody:     string(body),
			"fingerprint": event.Fingerprint,
			"severity":    string(event.Severity),
		},
	}).Err(); err != nil {
		return fmt.Errorf("appending to stream: %w", err)
	}

	p.logger.DebugContext(ctx, "event appended to stream", "stream", p.stream)
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}

// Reader tails the stream from "now" on behalf of one SSE subscriber.
type Reader struct {
	client *redis.Client
	stream string
	lastID string
	block  time.Duration
}

func NewReader(client *redis.Client, stream string) *Reader {
	return &Reader{
		client: client,
		stream: stream,
		lastID: "$",
		block:  5 * time.Second,
	}
}

// Next blocks until new events arrive or the context ends. A nil slice
// with nil error means the block timed out; callers loop.
func (r *Reader) Next(ctx context.Context) ([]model.Event, error) {
	streams, err := r.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{r.stream, r.lastID},
		Count:   100,
		Block:   r.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading stream: %w", err)
	}

	var events []model.Event
	for _, s := range streams {
		for _, msg := range s.Messages {
			r.lastID = msg.ID
			raw, ok := msg.Values[fieldBody].(string)
			if !ok {
				continue
			}
			var ev model.Event
			if err := json.Unmarshal([]byte(raw), &ev); err != nil {
				continue
			}
			events = append(events, ev)
		}
	}
	return events, nil
}
