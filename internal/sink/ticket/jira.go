package ticket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"leakwatch.app/sentry/core/config"
	"leakwatch.app/sentry/internal/model"
	"leakwatch.app/sentry/internal/retry"
	"leakwatch.app/sentry/internal/store"
)

// JiraSink files one Jira issue per event via the REST v2 create endpoint.
type JiraSink struct {
	cfg          config.JiraConfig
	dashboardURL string
	events       store.EventStore
	client       *http.Client
	retry        retry.Policy
	logger       *slog.Logger
}

func NewJiraSink(cfg config.JiraConfig, dashboardURL string, events store.EventStore, log *slog.Logger) *JiraSink {
	if log == nil {
		log = slog.Default()
	}
	return &JiraSink{
		cfg:          cfg,
		dashboardURL: dashboardURL,
		events:       events,
		client:       &http.Client{Timeout: 30 * time.Second},
		retry:        retry.Default(),
		logger:       log,
	}
}

func (s *JiraSink) Name() string { return string(store.TicketSinkJira) }

func (s *JiraSink) Eligible(event *model.Event) bool {
	return s.cfg.Enabled() && meetsMinSeverity(event, s.cfg.MinSeverity)
}

type jiraCreateRequest struct {
	Fields jiraFields `json:"fields"`
}

type jiraFields struct {
	Project     jiraProject   `json:"project"`
	Summary     string        `json:"summary"`
	IssueType   jiraIssueType `json:"issuetype"`
	Description string        `json:"description"`
	Labels      []string      `json:"labels"`
}

type jiraProject struct {
	Key string `json:"key"`
}

type jiraIssueType struct {
	Name string `json:"name"`
}

type jiraCreateResponse struct {
	Key string `json:"key"`
}

func (s *JiraSink) Deliver(ctx context.Context, event *model.Event) error {
	if event.Status.JiraKey != nil {
		return nil
	}

	summary := summaryFor(event)
	if len(summary) > 255 {
		summary = summary[:255]
	}
	payload := jiraCreateRequest{
		Fields: jiraFields{
			Project:     jiraProject{Key: s.cfg.Project},
			Summary:     summary,
			IssueType:   jiraIssueType{Name: s.cfg.IssueType},
			Description: descriptionFor(event, s.dashboardURL),
			Labels:      labelsFor(event),
		},
	}

	key, err := s.createIssue(ctx, payload)
	if err != nil {
		return fmt.Errorf("creating jira issue: %w", err)
	}

	updated, err := s.events.SetTicketRef(ctx, event.Fingerprint, store.TicketSinkJira, key)
	if err != nil {
		return fmt.Errorf("recording jira key: %w", err)
	}
	if !updated {
		// Another dispatcher filed first; ours is a stray.
		s.logger.WarnContext(ctx, "jira issue already linked, created a duplicate", "key", key)
		return nil
	}
	event.Status.JiraKey = &key
	s.logger.InfoContext(ctx, "jira issue created", "key", key)
	return nil
}

func (s *JiraSink) createIssue(ctx context.Context, payload jiraCreateRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal issue payload: %w", err)
	}

	var key string
	err = s.retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Server+"/rest/api/2/issue", bytes.NewReader(body))
		if err != nil {
			return &retry.Permanent{Err: err}
		}
		req.SetBasicAuth(s.cfg.Username, s.cfg.APIToken)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 400))
			err := fmt.Errorf("jira returned %d: %s", resp.StatusCode, excerpt)
			if retry.RetryableStatus(resp.StatusCode) {
				return &retry.After{Err: err, Wait: retry.RetryAfter(resp.Header, 0)}
			}
			return &retry.Permanent{Err: err}
		}

		var out jiraCreateResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return &retry.Permanent{Err: fmt.Errorf("decode jira response: %w", err)}
		}
		if out.Key == "" {
			return &retry.Permanent{Err: fmt.Errorf("jira response missing issue key")}
		}
		key = out.Key
		return nil
	})
	return key, err
}
