// Package export streams stored events to SIEM destinations. A walker
// pages through events ascending by detection time and advances one
// persistent cursor per destination, so each destination resumes where
// it left off and re-runs never re-send.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"leakwatch.app/sentry/internal/ecs"
)

// SIEMSink ships one page of records. Send must be all-or-nothing from
// the walker's point of view: an error means the page was not accepted
// and the cursor must not advance.
type SIEMSink interface {
	Key() string
	Send(ctx context.Context, records []ecs.Record) error
}

// FileSink writes each page as an NDJSON file, mainly for local runs and
// air-gapped handoff.
type FileSink struct {
	dir string
}

func NewFileSink(dir string) *FileSink {
	if dir == "" {
		dir = "/exports"
	}
	return &FileSink{dir: dir}
}

func (s *FileSink) Key() string { return "file" }

func (s *FileSink) Send(_ context.Context, records []ecs.Record) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating export dir: %w", err)
	}

	var b strings.Builder
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		b.Write(line)
		b.WriteByte('\n')
	}

	name := fmt.Sprintf("sentry_%s.ndjson", time.Now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
