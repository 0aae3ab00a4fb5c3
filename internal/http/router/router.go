package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"leakwatch.app/sentry/internal/http/handler"
	"leakwatch.app/sentry/internal/http/middleware"
)

type RouterConfig struct {
	APIKeys []string
}

type Handlers struct {
	Events   *handler.EventHandler
	Webhooks *handler.WebhookHandler
	Admin    *handler.AdminHandler
}

func SetupRoutes(router *gin.Engine, h Handlers, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	integrations := router.Group("/integrations")
	integrations.Use(middleware.APIKey(cfg.APIKeys))
	{
		IntegrationsRouter(integrations, h.Events, h.Webhooks, h.Admin)
	}

	admin := router.Group("/admin")
	admin.Use(middleware.APIKey(cfg.APIKeys))
	{
		AdminRouter(admin, h.Admin)
	}
}
