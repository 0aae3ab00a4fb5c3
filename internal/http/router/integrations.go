package router

import (
	"github.com/gin-gonic/gin"

	"leakwatch.app/sentry/internal/http/handler"
)

func IntegrationsRouter(g *gin.RouterGroup, events *handler.EventHandler, webhooks *handler.WebhookHandler, admin *handler.AdminHandler) {
	g.GET("/events", events.List)
	g.GET("/events/stream", events.Stream)
	g.GET("/events/:fingerprint", events.Get)

	g.POST("/webhooks", webhooks.Create)
	g.GET("/webhooks", webhooks.List)
	g.DELETE("/webhooks/:id", webhooks.Delete)
	g.POST("/webhooks/deliver/:fingerprint", webhooks.Redeliver)
	g.GET("/deliveries/:fingerprint", webhooks.Deliveries)

	g.GET("/schema", admin.Schema)
}

func AdminRouter(g *gin.RouterGroup, admin *handler.AdminHandler) {
	g.POST("/scan/run", admin.TriggerScan)
	g.POST("/export/run", admin.RunExport)
	g.GET("/export/cursors/:destination", admin.GetCursor)
}
