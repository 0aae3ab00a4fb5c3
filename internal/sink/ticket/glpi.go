package ticket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"leakwatch.app/sentry/core/config"
	"leakwatch.app/sentry/internal/model"
	"leakwatch.app/sentry/internal/retry"
	"leakwatch.app/sentry/internal/store"
)

// GLPISink files tickets through the GLPI REST API. Every delivery opens
// its own session token and closes it afterwards.
type GLPISink struct {
	cfg          config.GLPIConfig
	dashboardURL string
	events       store.EventStore
	client       *http.Client
	retry        retry.Policy
	logger       *slog.Logger
}

func NewGLPISink(cfg config.GLPIConfig, dashboardURL string, events store.EventStore, log *slog.Logger) *GLPISink {
	if log == nil {
		log = slog.Default()
	}
	return &GLPISink{
		cfg:          cfg,
		dashboardURL: dashboardURL,
		events:       events,
		client:       &http.Client{Timeout: 30 * time.Second},
		retry:        retry.Default(),
		logger:       log,
	}
}

func (s *GLPISink) Name() string { return string(store.TicketSinkGLPI) }

func (s *GLPISink) Eligible(event *model.Event) bool {
	return s.cfg.Enabled() && meetsMinSeverity(event, s.cfg.MinSeverity)
}

// GLPI priorities run 1..5.
func glpiPriority(sev model.Severity) int {
	switch sev {
	case model.SeverityLow:
		return 2
	case model.SeverityHigh:
		return 5
	case model.SeverityCritical:
		return 5
	default:
		return 3
	}
}

func (s *GLPISink) Deliver(ctx context.Context, event *model.Event) error {
	if event.Status.GLPIID != nil {
		return nil
	}

	base := strings.TrimRight(s.cfg.URL, "/")

	session, err := s.startSession(ctx, base)
	if err != nil {
		return fmt.Errorf("glpi session: %w", err)
	}
	defer s.endSession(base, session)

	ticketID, err := s.createTicket(ctx, base, session, event)
	if err != nil {
		return fmt.Errorf("creating glpi ticket: %w", err)
	}

	ref := strconv.Itoa(ticketID)
	updated, err := s.events.SetTicketRef(ctx, event.Fingerprint, store.TicketSinkGLPI, ref)
	if err != nil {
		return fmt.Errorf("recording glpi id: %w", err)
	}
	if !updated {
		s.logger.WarnContext(ctx, "glpi ticket already linked, created a duplicate", "id", ticketID)
		return nil
	}
	event.Status.GLPIID = &ref
	s.logger.InfoContext(ctx, "glpi ticket created", "id", ticketID)
	return nil
}

func (s *GLPISink) startSession(ctx context.Context, base string) (string, error) {
	body, err := json.Marshal(map[string]string{"user_token": s.cfg.UserToken})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/apirest.php/initSession", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("App-Token", s.cfg.AppToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 400))
		return "", fmt.Errorf("initSession returned %d: %s", resp.StatusCode, excerpt)
	}

	var out struct {
		SessionToken string `json:"session_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode initSession response: %w", err)
	}
	if out.SessionToken == "" {
		return "", fmt.Errorf("initSession response missing session token")
	}
	return out.SessionToken, nil
}

// endSession is best-effort; a leaked session expires server-side.
func (s *GLPISink) endSession(base, session string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/apirest.php/killSession", nil)
	if err != nil {
		return
	}
	req.Header.Set("App-Token", s.cfg.AppToken)
	req.Header.Set("Session-Token", session)
	if resp, err := s.client.Do(req); err == nil {
		resp.Body.Close()
	}
}

func (s *GLPISink) createTicket(ctx context.Context, base, session string, event *model.Event) (int, error) {
	input := map[string]any{
		"name":     fmt.Sprintf("[Sentry] %s in %s/%s", event.PrimaryLabel(), event.Platform, containerName(event)),
		"content":  descriptionFor(event, s.dashboardURL),
		"priority": glpiPriority(event.Severity),
	}
	if s.cfg.EntityID > 0 {
		input["entities_id"] = s.cfg.EntityID
	}
	body, err := json.Marshal(map[string]any{"input": []any{input}})
	if err != nil {
		return 0, err
	}

	var ticketID int
	err = s.retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/apirest.php/Ticket", bytes.NewReader(body))
		if err != nil {
			return &retry.Permanent{Err: err}
		}
		req.Header.Set("App-Token", s.cfg.AppToken)
		req.Header.Set("Session-Token", session)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 400))
			err := fmt.Errorf("glpi returned %d: %s", resp.StatusCode, excerpt)
			if retry.RetryableStatus(resp.StatusCode) {
				return &retry.After{Err: err, Wait: retry.RetryAfter(resp.Header, 0)}
			}
			return &retry.Permanent{Err: err}
		}

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err != nil {
			return &retry.Permanent{Err: err}
		}
		id, ok := parseGLPITicketID(raw)
		if !ok {
			return &retry.Permanent{Err: fmt.Errorf("could not parse ticket id from response: %s", raw)}
		}
		ticketID = id
		return nil
	})
	return ticketID, err
}

// parseGLPITicketID handles the response shapes GLPI deployments return:
// a bare object with an id, or a list of created items.
func parseGLPITicketID(raw []byte) (int, bool) {
	var obj struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.ID > 0 {
		return obj.ID, true
	}

	var list []struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 && list[0].ID > 0 {
		return list[0].ID, true
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		for _, key := range []string{"added", "items", "result", "data"} {
			if inner, ok := wrapped[key]; ok {
				if err := json.Unmarshal(inner, &list); err == nil && len(list) > 0 && list[0].ID > 0 {
					return list[0].ID, true
				}
			}
		}
	}
	return 0, false
}
