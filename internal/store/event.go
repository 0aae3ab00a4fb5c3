package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"leakwatch.app/sentry/internal/model"
)

type eventStore struct {
	q Querier
}

func newEventStore(q Querier) EventStore {
	return &eventStore{q: q}
}

const eventColumns = `fingerprint, platform, container, found_at, severity, detections,
	snippet_redacted, source_meta, state, jira_key, glpi_id, snow_sys_id,
	slack_channel, slack_ts, slack_webhook_at, last_sync_at, created_at`

func (s *eventStore) InsertIfAbsent(ctx context.Context, ev *model.Event) (bool, error) {
	container, err := json.Marshal(ev.Container)
	if err != nil {
		return false, fmt.Errorf("marshal container: %w", err)
	}
	detections, err := json.Marshal(ev.Detections)
	if err != nil {
		return false, fmt.Errorf("marshal detections: %w", err)
	}
	sourceMeta, err := json.Marshal(ev.SourceMeta)
	if err != nil {
		return false, fmt.Errorf("marshal source meta: %w", err)
	}

	// The unique fingerprint index makes this the atomic dedup gate: under
	// concurrent identical inserts exactly one caller sees a created row.
	tag, err := s.q.Exec(ctx, `
		INSERT INTO events (fingerprint, platform, container, found_at, severity,
			detections, snippet_redacted, source_meta, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (fingerprint) DO NOTHING`,
		ev.Fingerprint, ev.Platform, container, ev.FoundAt, string(ev.Severity),
		detections, ev.SnippetRedacted, sourceMeta, ev.Status.State,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *eventStore) GetByFingerprint(ctx context.Context, fingerprint string) (*model.Event, error) {
	row := s.q.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE fingerprint = $1`, fingerprint)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return ev, nil
}

func (s *eventStore) List(ctx context.Context, filter EventFilter) ([]model.Event, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Platform != "" {
		conds = append(conds, "platform = "+arg(strings.ToLower(filter.Platform)))
	}
	if filter.Severity != "" {
		conds = append(conds, "lower(severity) = "+arg(strings.ToLower(filter.Severity)))
	}
	if filter.Label != "" {
		conds = append(conds, "detections @> "+arg(labelProbe(filter.Label)))
	}
	if filter.Since != nil {
		conds = append(conds, "found_at >= "+arg(*filter.Since))
	}
	if filter.Until != nil {
		conds = append(conds, "found_at <= "+arg(*filter.Until))
	}
	if filter.Cursor != nil {
		conds = append(conds, "found_at < "+arg(*filter.Cursor))
	}

	sql := `SELECT ` + eventColumns + ` FROM events`
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	sql += " ORDER BY found_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	sql += " LIMIT " + arg(limit)

	return s.queryEvents(ctx, sql, args...)
}

func (s *eventStore) ListAfter(ctx context.Context, cursor *time.Time, limit int32) ([]model.Event, error) {
	if limit <= 0 {
		limit = 500
	}
	if cursor == nil {
		return s.queryEvents(ctx,
			`SELECT `+eventColumns+` FROM events ORDER BY found_at ASC LIMIT $1`, limit)
	}
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE found_at > $1 ORDER BY found_at ASC LIMIT $2`,
		*cursor, limit)
}

func (s *eventStore) ListUnsynced(ctx context.Context, limit int32) ([]model.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE last_sync_at IS NULL ORDER BY found_at ASC LIMIT $1`,
		limit)
}

var ticketColumns = map[TicketSink]string{
	TicketSinkJira:       "jira_key",
	TicketSinkGLPI:       "glpi_id",
	TicketSinkServiceNow: "snow_sys_id",
}

func (s *eventStore) SetTicketRef(ctx context.Context, fingerprint string, sink TicketSink, ref string) (bool, error) {
	col, ok := ticketColumns[sink]
	if !ok {
		return false, fmt.Errorf("unknown ticket sink %q", sink)
	}
	// Column name comes from the fixed map above, never from input.
	tag, err := s.q.Exec(ctx,
		`UPDATE events SET `+col+` = $2, last_sync_at = now()
		 WHERE fingerprint = $1 AND `+col+` IS NULL`,
		fingerprint, ref)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *eventStore) SetSlackMessage(ctx context.Context, fingerprint, channel, ts string) (bool, error) {
	tag, err := s.q.Exec(ctx,
		`UPDATE events SET slack_channel = $2, slack_ts = $3, last_sync_at = now()
		 WHERE fingerprint = $1 AND slack_ts IS NULL`,
		fingerprint, channel, ts)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *eventStore) MarkSlackWebhook(ctx context.Context, fingerprint string, at time.Time) (bool, error) {
	tag, err := s.q.Exec(ctx,
		`UPDATE events SET slack_webhook_at = $2, last_sync_at = now()
		 WHERE fingerprint = $1 AND slack_webhook_at IS NULL`,
		fingerprint, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *eventStore) queryEvents(ctx context.Context, sql string, args ...any) ([]model.Event, error) {
	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

// labelProbe builds the jsonb containment probe for "some detection has this
// label".
func labelProbe(label string) []byte {
	probe, _ := json.Marshal([]map[string]string{{"label": label}})
	return probe
}

func scanEvent(row pgx.Row) (*model.Event, error) {
	var (
		ev             model.Event
		severity       string
		container      []byte
		detections     []byte
		sourceMeta     []byte
		jiraKey        *string
		glpiID         *string
		snowSysID      *string
		slackChannel   *string
		slackTS        *string
		slackWebhookAt *time.Time
		lastSyncAt     *time.Time
	)

	if err := row.Scan(
		&ev.Fingerprint, &ev.Platform, &container, &ev.FoundAt, &severity, &detections,
		&ev.SnippetRedacted, &sourceMeta, &ev.Status.State, &jiraKey, &glpiID, &snowSysID,
		&slackChannel, &slackTS, &slackWebhookAt, &lastSyncAt, &ev.CreatedAt,
	); err != nil {
		return nil, err
	}

	ev.Severity = model.Severity(severity)
	if err := json.Unmarshal(container, &ev.Container); err != nil {
		return nil, fmt.Errorf("unmarshal container: %w", err)
	}
	if err := json.Unmarshal(detections, &ev.Detections); err != nil {
		return nil, fmt.Errorf("unmarshal detections: %w", err)
	}
	if len(sourceMeta) > 0 && string(sourceMeta) != "null" {
		if err := json.Unmarshal(sourceMeta, &ev.SourceMeta); err != nil {
			return nil, fmt.Errorf("unmarshal source meta: %w", err)
		}
	}

	ev.Status.JiraKey = jiraKey
	ev.Status.GLPIID = glpiID
	ev.Status.SnowSysID = snowSysID
	if slackChannel != nil && slackTS != nil {
		ev.Status.Slack = &model.SlackRef{Channel: *slackChannel, TS: *slackTS}
	}
	ev.Status.SlackWebhookAt = slackWebhookAt
	ev.Status.LastSyncAt = lastSyncAt

	return &ev, nil
}
