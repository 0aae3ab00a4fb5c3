package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/invopop/jsonschema"

	"leakwatch.app/sentry/internal/ecs"
	"leakwatch.app/sentry/internal/export"
	"leakwatch.app/sentry/internal/http/dto"
	"leakwatch.app/sentry/internal/model"
	"leakwatch.app/sentry/internal/scan"
	"leakwatch.app/sentry/internal/store"
)

// ScanRunner triggers one scan cycle.
type ScanRunner interface {
	Run(ctx context.Context) (*scan.Result, error)
}

// Exporter runs SIEM exports and reports cursors.
type Exporter interface {
	Export(ctx context.Context, mode string) (*export.Summary, error)
	Cursor(ctx context.Context, destination string) (*model.Cursor, error)
}

type AdminHandler struct {
	runner   ScanRunner
	exporter Exporter
}

func NewAdminHandler(runner ScanRunner, exporter Exporter) *AdminHandler {
	return &AdminHandler{runner: runner, exporter: exporter}
}

func (h *AdminHandler) TriggerScan(c *gin.Context) {
	ctx := c.Request.Context()

	result, err := h.runner.Run(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "scan failed", "error", err)
		fail(c, http.StatusInternalServerError, "scan failed")
		return
	}

	c.JSON(http.StatusOK, dto.ScanResponse{OK: true, Result: result})
}

func (h *AdminHandler) RunExport(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.exporter.Export(ctx, req.Mode)
	if err != nil {
		slog.ErrorContext(ctx, "export failed", "error", err, "pages_shipped", pagesOf(summary))
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": err.Error(), "summary": summary})
		return
	}

	c.JSON(http.StatusOK, dto.ExportResponse{OK: true, Summary: summary})
}

func (h *AdminHandler) GetCursor(c *gin.Context) {
	ctx := c.Request.Context()

	cur, err := h.exporter.Cursor(ctx, c.Param("destination"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fail(c, http.StatusNotFound, "not found")
			return
		}
		slog.ErrorContext(ctx, "fetching cursor failed", "error", err)
		fail(c, http.StatusInternalServerError, "failed to fetch cursor")
		return
	}

	c.JSON(http.StatusOK, dto.CursorResponse{
		OK:          true,
		Destination: cur.DestinationKey,
		Value:       cur.Value,
		UpdatedAt:   cur.UpdatedAt,
	})
}

// Schema publishes the JSON schema of the wire record so subscribers can
// validate payloads.
func (h *AdminHandler) Schema(c *gin.Context) {
	schema := jsonschema.Reflect(&ecs.Record{})
	c.JSON(http.StatusOK, schema)
}

func pagesOf(s *export.Summary) int {
	if s == nil {
		return 0
	}
	return s.Pages
}
