package export

import (
	"bytes"
	"context"
	"encoding/base64"
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

const elasticBatchSize = 500

// ElasticSink indexes records through the _bulk API. The fingerprint is
// the document ID, so replays overwrite instead of duplicating.
type ElasticSink struct {
	cfg    config.ElasticConfig
	client *http.Client
	retry  retry.Policy
}

func NewElasticSink(cfg config.ElasticConfig) *ElasticSink {
	return &ElasticSink{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		retry:  retry.Default(),
	}
}

func (s *ElasticSink) Key() string { return "elastic" }

type bulkAction struct {
	Index bulkIndexMeta `json:"index"`
}

type bulkIndexMeta struct {
	Index string `json:"_index"`
	ID    string `json:"_id,omitempty"`
}

// bulkDoc adds the @timestamp Kibana expects alongside the record fields.
type bulkDoc struct {
	ecs.Record
	AtTimestamp string `json:"@timestamp"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
}

func (s *ElasticSink) Send(ctx context.Context, records []ecs.Record) error {
	for start := 0; start < len(records); start += elasticBatchSize {
		end := start + elasticBatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := s.sendBatch(ctx, records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *ElasticSink) sendBatch(ctx context.Context, records []ecs.Record) error {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, rec := range records {
		if err := enc.Encode(bulkAction{Index: bulkIndexMeta{Index: s.cfg.Index, ID: rec.Event.ID}}); err != nil {
			return fmt.Errorf("marshal bulk action: %w", err)
		}
		if err := enc.Encode(bulkDoc{Record: rec, AtTimestamp: rec.Timestamp}); err != nil {
			return fmt.Errorf("marshal bulk doc: %w", err)
		}
	}

	endpoint := strings.TrimRight(s.cfg.URL, "/") + "/_bulk"
	payload := body.Bytes()

	return s.retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return &retry.Permanent{Err: err}
		}
		req.Header.Set("Content-Type", "application/x-ndjson")
		if s.cfg.APIKey != "" {
			req.Header.Set("Authorization", "ApiKey "+s.cfg.APIKey)
		} else if s.cfg.BasicUser != "" {
			creds := base64.StdEncoding.EncodeToString([]byte(s.cfg.BasicUser + ":" + s.cfg.BasicPass))
			req.Header.Set("Authorization", "Basic "+creds)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
			err := fmt.Errorf("elastic bulk returned %d: %s", resp.StatusCode, excerpt)
			if retry.RetryableStatus(resp.StatusCode) {
				return &retry.After{Err: err, Wait: retry.RetryAfter(resp.Header, 0)}
			}
			return &retry.Permanent{Err: err}
		}

		var out bulkResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return &retry.Permanent{Err: fmt.Errorf("decode bulk response: %w", err)}
		}
		if out.Errors {
			return &retry.Permanent{Err: fmt.Errorf("elastic bulk reported item errors")}
		}
		return nil
	})
}
