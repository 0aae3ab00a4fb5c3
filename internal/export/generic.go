package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"leakwatch.app/sentry/core/config"
	"leakwatch.app/sentry/internal/ecs"
	"leakwatch.app/sentry/internal/retry"
)

// GenericSink posts records to any HTTP collector, either as one JSON
// array per page or as NDJSON.
type GenericSink struct {
	cfg    config.GenericConfig
	client *http.Client
	retry  retry.Policy
}

func NewGenericSink(cfg config.GenericConfig) *GenericSink {
	return &GenericSink{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		retry:  retry.Default(),
	}
}

func (s *GenericSink) Key() string { return "generic" }

func (s *GenericSink) Send(ctx context.Context, records []ecs.Record) error {
	var payload []byte
	contentType := "application/json"

	if s.cfg.NDJSON {
		var b bytes.Buffer
		enc := json.NewEncoder(&b)
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				return fmt.Errorf("marshal record: %w", err)
			}
		}
		payload = b.Bytes()
		contentType = "application/x-ndjson"
	} else {
		var err error
		payload, err = json.Marshal(records)
		if err != nil {
			return fmt.Errorf("marshal records: %w", err)
		}
	}

	return s.retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(payload))
		if err != nil {
			return &retry.Permanent{Err: err}
		}
		req.Header.Set("Content-Type", contentType)
		for k, v := range s.cfg.Headers {
			req.Header.Set(k, v)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
			err := fmt.Errorf("collector returned %d: %s", resp.StatusCode, excerpt)
			if retry.RetryableStatus(resp.StatusCode) {
				return &retry.After{Err: err, Wait: retry.RetryAfter(resp.Header, 0)}
			}
			return &retry.Permanent{Err: err}
		}
		return nil
	})
}
