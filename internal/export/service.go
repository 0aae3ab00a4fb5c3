package export

import (
	"context"
	"fmt"
	"strings"

	"leakwatch.app/sentry/core/config"
	"leakwatch.app/sentry/internal/model"
	"leakwatch.app/sentry/internal/store"
)

// Service resolves a destination mode to its sink and runs the walker.
type Service struct {
	walker  *Walker
	cursors store.CursorStore
	cfg     config.ExportConfig
}

func NewService(walker *Walker, cursors store.CursorStore, cfg config.ExportConfig) *Service {
	return &Service{walker: walker, cursors: cursors, cfg: cfg}
}

// Export runs one walk against the named destination. An empty mode uses
// the configured default.
func (s *Service) Export(ctx context.Context, mode string) (*Summary, error) {
	sink, err := s.sinkFor(mode)
	if err != nil {
		return nil, err
	}
	return s.walker.Run(ctx, sink)
}

// Cursor returns the persisted resume point for a destination.
func (s *Service) Cursor(ctx context.Context, destination string) (*model.Cursor, error) {
	return s.cursors.Get(ctx, destination)
}

func (s *Service) sinkFor(mode string) (SIEMSink, error) {
	if mode == "" {
		mode = s.cfg.Mode
	}
	switch strings.ToLower(mode) {
	case "splunk":
		if s.cfg.Splunk.URL == "" || s.cfg.Splunk.Token == "" {
			return nil, fmt.Errorf("splunk destination is not configured")
		}
		return NewSplunkSink(s.cfg.Splunk), nil
	case "elastic":
		if s.cfg.Elastic.URL == "" {
			return nil, fmt.Errorf("elastic destination is not configured")
		}
		return NewElasticSink(s.cfg.Elastic), nil
	case "generic":
		if s.cfg.Generic.URL == "" {
			return nil, fmt.Errorf("generic destination is not configured")
		}
		return NewGenericSink(s.cfg.Generic), nil
	case "file":
		return NewFileSink(s.cfg.FileDir), nil
	default:
		return nil, fmt.Errorf("unknown export mode %q (expected splunk|elastic|generic|file)", mode)
	}
}
