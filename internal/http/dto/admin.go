package dto

import (
	"time"

	"leakwatch.app/sentry/internal/export"
	"leakwatch.app/sentry/internal/scan"
)

type ScanResponse struct {
	OK     bool         `json:"ok"`
	Result *scan.Result `json:"result"`
}

type ExportRequest struct {
	Mode string `json:"mode"`
}

type ExportResponse struct {
	OK      bool            `json:"ok"`
	Summary *export.Summary `json:"summary"`
}

type CursorResponse struct {
	OK          bool      `json:"ok"`
	Destination string    `json:"destination"`
	Value       string    `json:"value"`
	UpdatedAt   time.Time `json:"updated_at"`
}
