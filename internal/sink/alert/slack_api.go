package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/slack-go/slack"

	"leakwatch.app/sentry/core/config"
	"leakwatch.app/sentry/internal/model"
	"leakwatch.app/sentry/internal/retry"
	"leakwatch.app/sentry/internal/store"
)

// slackAPI is the slice of the Slack Web API the sink touches.
type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
}

// APISink posts alert messages through the Slack Web API. The posted
// message's channel and ts become the event's dedupe marker.
type APISink struct {
	cfg          config.SlackAlertConfig
	dashboardURL string
	events       store.EventStore
	api          slackAPI
	channels     *lru.Cache[string, string]
	retry        retry.Policy
	logger       *slog.Logger
}

func NewAPISink(cfg config.SlackAlertConfig, dashboardURL string, events store.EventStore, log *slog.Logger) (*APISink, error) {
	if log == nil {
		log = slog.Default()
	}
	cache, err := lru.New[string, string](128)
	if err != nil {
		return nil, err
	}
	return &APISink{
		cfg:          cfg,
		dashboardURL: dashboardURL,
		events:       events,
		api:          slack.New(cfg.Token),
		channels:     cache,
		retry:        retry.Default(),
		logger:       log,
	}, nil
}

func (s *APISink) Name() string { return "slack_api" }

func (s *APISink) Eligible(event *model.Event) bool {
	return s.cfg.Configured() && event.Severity.Rank() >= s.cfg.MinSeverity.Rank()
}

func (s *APISink) Deliver(ctx context.Context, event *model.Event) error {
	if event.Status.Slack != nil && event.Status.Slack.TS != "" {
		return nil
	}

	target := Route(s.cfg.Routing, s.cfg.DefaultChannel, event)
	if target == "" {
		s.logger.WarnContext(ctx, "no alert channel resolved, skipping")
		return nil
	}

	channelID, err := s.resolveChannel(ctx, target)
	if err != nil {
		return fmt.Errorf("resolving channel %q: %w", target, err)
	}

	var postedChannel, ts string
	err = s.retry.Do(ctx, func() error {
		var err error
		postedChannel, ts, err = s.api.PostMessageContext(ctx, channelID,
			slack.MsgOptionText(fallbackText(event), false),
			slack.MsgOptionBlocks(buildBlocks(event, s.dashboardURL)...),
		)
		if err != nil {
			var rle *slack.RateLimitedError
			if errors.As(err, &rle) {
				return &retry.After{Err: err, Wait: rle.RetryAfter}
			}
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("posting alert: %w", err)
	}

	updated, err := s.events.SetSlackMessage(ctx, event.Fingerprint, postedChannel, ts)
	if err != nil {
		return fmt.Errorf("recording alert message: %w", err)
	}
	if !updated {
		s.logger.WarnContext(ctx, "alert already recorded, posted a duplicate", "channel", postedChannel, "ts", ts)
		return nil
	}
	event.Status.Slack = &model.SlackRef{Channel: postedChannel, TS: ts}
	s.logger.InfoContext(ctx, "alert posted", "channel", postedChannel, "ts", ts)
	return nil
}

// resolveChannel maps "#name" to a channel ID, paging through the
// conversations list once and caching hits. IDs pass through untouched.
func (s *APISink) resolveChannel(ctx context.Context, ref string) (string, error) {
	if strings.HasPrefix(ref, "C") || strings.HasPrefix(ref, "G") {
		return ref, nil
	}
	name := strings.TrimSpace(strings.TrimPrefix(ref, "#"))
	if name == "" {
		return "", fmt.Errorf("empty channel reference")
	}
	if id, ok := s.channels.Get(name); ok {
		return id, nil
	}

	cursor := ""
	for {
		channels, next, err := s.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Types:  []string{"public_channel", "private_channel"},
			Limit:  200,
			Cursor: cursor,
		})
		if err != nil {
			return "", err
		}
		for _, ch := range channels {
			if ch.Name == name {
				s.channels.Add(name, ch.ID)
				return ch.ID, nil
			}
		}
		if next == "" {
			return "", fmt.Errorf("channel %q not found", name)
		}
		cursor = next
	}
}
