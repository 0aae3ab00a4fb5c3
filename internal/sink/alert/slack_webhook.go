package alert

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/slack-go/slack"

	"leakwatch.app/sentry/core/config"
	"leakwatch.app/sentry/internal/model"
	"leakwatch.app/sentry/internal/retry"
	"leakwatch.app/sentry/internal/store"
)

// WebhookSink posts alerts through Slack incoming webhooks. It needs no
// token; the routing table maps straight to webhook URLs.
type WebhookSink struct {
	cfg          config.SlackWebhookConfig
	dashboardURL string
	events       store.EventStore
	client       *http.Client
	retry        retry.Policy
	logger       *slog.Logger
}

func NewWebhookSink(cfg config.SlackWebhookConfig, dashboardURL string, events store.EventStore, log *slog.Logger) *WebhookSink {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookSink{
		cfg:          cfg,
		dashboardURL: dashboardURL,
		events:       events,
		client:       &http.Client{Timeout: 10 * time.Second},
		retry:        retry.Default(),
		logger:       log,
	}
}

func (s *WebhookSink) Name() string { return "slack_webhook" }

func (s *WebhookSink) Eligible(event *model.Event) bool {
	return s.cfg.Configured() && event.Severity.Rank() >= s.cfg.MinSeverity.Rank()
}

func (s *WebhookSink) Deliver(ctx context.Context, event *model.Event) error {
	if event.Status.SlackWebhookAt != nil {
		return nil
	}

	url := Route(s.cfg.Routing, s.cfg.DefaultURL, event)
	if url == "" {
		s.logger.WarnContext(ctx, "no webhook url resolved, skipping")
		return nil
	}

	msg := &slack.WebhookMessage{
		Text:   fallbackText(event),
		Blocks: &slack.Blocks{BlockSet: buildBlocks(event, s.dashboardURL)},
	}

	err := s.retry.Do(ctx, func() error {
		return slack.PostWebhookCustomHTTPContext(ctx, url, s.client, msg)
	})
	if err != nil {
		return fmt.Errorf("posting webhook alert: %w", err)
	}

	now := time.Now().UTC()
	updated, err := s.events.MarkSlackWebhook(ctx, event.Fingerprint, now)
	if err != nil {
		return fmt.Errorf("recording webhook alert: %w", err)
	}
	if !updated {
		s.logger.WarnContext(ctx, "webhook alert already recorded, posted a duplicate")
		return nil
	}
	event.Status.SlackWebhookAt = &now
	s.logger.InfoContext(ctx, "webhook alert posted")
	return nil
}
