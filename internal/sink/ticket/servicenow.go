package ticket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"leakwatch.app/sentry/core/config"
	"leakwatch.app/sentry/internal/model"
	"leakwatch.app/sentry/internal/retry"
	"leakwatch.app/sentry/internal/store"
)

// ServiceNowSink files incidents through the Table API.
type ServiceNowSink struct {
	cfg          config.ServiceNowConfig
	dashboardURL string
	events       store.EventStore
	client       *http.Client
	retry        retry.Policy
	logger       *slog.Logger
}

func NewServiceNowSink(cfg config.ServiceNowConfig, dashboardURL string, events store.EventStore, log *slog.Logger) *ServiceNowSink {
	if log == nil {
		log = slog.Default()
	}
	return &ServiceNowSink{
		cfg:          cfg,
		dashboardURL: dashboardURL,
		events:       events,
		client:       &http.Client{Timeout: 30 * time.Second},
		retry:        retry.Default(),
		logger:       log,
	}
}

func (s *ServiceNowSink) Name() string { return string(store.TicketSinkServiceNow) }

func (s *ServiceNowSink) Eligible(event *model.Event) bool {
	return s.cfg.Enabled() && meetsMinSeverity(event, s.cfg.MinSeverity)
}

func snowUrgency(sev model.Severity) string {
	switch sev {
	case model.SeverityHigh, model.SeverityCritical:
		return "1"
	case model.SeverityLow:
		return "3"
	default:
		return "2"
	}
}

func (s *ServiceNowSink) Deliver(ctx context.Context, event *model.Event) error {
	if event.Status.SnowSysID != nil {
		return nil
	}

	payload := map[string]string{
		"short_description": fmt.Sprintf("[Sentry] %s in %s/%s", event.PrimaryLabel(), event.Platform, containerName(event)),
		"description":       descriptionFor(event, s.dashboardURL),
		"category":          "security",
		"subcategory":       "data_leak",
		"urgency":           snowUrgency(event.Severity),
	}
	if s.cfg.AssignmentGroup != "" {
		payload["assignment_group"] = s.cfg.AssignmentGroup
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal incident payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/now/table/%s", strings.TrimRight(s.cfg.InstanceURL, "/"), s.cfg.Table)

	var sysID string
	err = s.retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return &retry.Permanent{Err: err}
		}
		req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 400))
			err := fmt.Errorf("servicenow returned %d: %s", resp.StatusCode, excerpt)
			if retry.RetryableStatus(resp.StatusCode) {
				return &retry.After{Err: err, Wait: retry.RetryAfter(resp.Header, 0)}
			}
			return &retry.Permanent{Err: err}
		}

		var out struct {
			Result struct {
				SysID string `json:"sys_id"`
			} `json:"result"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return &retry.Permanent{Err: fmt.Errorf("decode servicenow response: %w", err)}
		}
		if out.Result.SysID == "" {
			return &retry.Permanent{Err: fmt.Errorf("servicenow response missing sys_id")}
		}
		sysID = out.Result.SysID
		return nil
	})
	if err != nil {
		return fmt.Errorf("creating servicenow incident: %w", err)
	}

	updated, err := s.events.SetTicketRef(ctx, event.Fingerprint, store.TicketSinkServiceNow, sysID)
	if err != nil {
		return fmt.Errorf("recording servicenow sys_id: %w", err)
	}
	if !updated {
		s.logger.WarnContext(ctx, "servicenow incident already linked, created a duplicate", "sys_id", sysID)
		return nil
	}
	event.Status.SnowSysID = &sysID
	s.logger.InfoContext(ctx, "servicenow incident created", "sys_id", sysID)
	return nil
}
