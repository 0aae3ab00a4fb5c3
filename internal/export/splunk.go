package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"leakwatch.app/sentry/core/config"
	"leakwatch.app/sentry/internal/ecs"
	"leakwatch.app/sentry/internal/retry"
)

const splunkBatchSize = 500

// SplunkSink ships records to a Splunk HTTP Event Collector in NDJSON
// batches.
type SplunkSink struct {
	cfg    config.SplunkConfig
	client *http.Client
	retry  retry.Policy
}

func NewSplunkSink(cfg config.SplunkConfig) *SplunkSink {
	return &SplunkSink{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		retry:  retry.Default(),
	}
}

func (s *SplunkSink) Key() string { return "splunk" }

type hecEnvelope struct {
	Time       float64    `json:"time"`
	Event      ecs.Record `json:"event"`
	Index      string     `json:"index,omitempty"`
	SourceType string     `json:"sourcetype,omitempty"`
	Source     string     `json:"source,omitempty"`
	Host       string     `json:"host,omitempty"`
}

func (s *SplunkSink) Send(ctx context.Context, records []ecs.Record) error {
	for start := 0; start < len(records); start += splunkBatchSize {
		end := start + splunkBatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := s.sendBatch(ctx, records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *SplunkSink) sendBatch(ctx context.Context, records []ecs.Record) error {
	var body bytes.Buffer
	for _, rec := range records {
		env := hecEnvelope{
			Time:       hecTime(rec.Timestamp),
			Event:      rec,
			Index:      s.cfg.Index,
			SourceType: s.cfg.SourceType,
			Source:     s.cfg.Source,
			Host:       s.cfg.Host,
		}
		line, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("marshal hec envelope: %w", err)
		}
		body.Write(line)
		body.WriteByte('\n')
	}

	endpoint := strings.TrimRight(s.cfg.URL, "/") + "/services/collector/event"
	payload := body.Bytes()

	return s.retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return &retry.Permanent{Err: err}
		}
		req.Header.Set("Authorization", "Splunk "+s.cfg.Token)

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
			err := fmt.Errorf("splunk hec returned %d: %s", resp.StatusCode, excerpt)
			if retry.RetryableStatus(resp.StatusCode) {
				return &retry.After{Err: err, Wait: retry.RetryAfter(resp.Header, 0)}
			}
			return &retry.Permanent{Err: err}
		}
		return nil
	})
}

func hecTime(ts string) float64 {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return float64(time.Now().UTC().Unix())
	}
	return float64(t.Unix())
}
