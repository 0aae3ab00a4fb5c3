package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"leakwatch.app/sentry/common/id"
	"leakwatch.app/sentry/common/logger"
	"leakwatch.app/sentry/common/otel"
	"leakwatch.app/sentry/core/config"
	"leakwatch.app/sentry/core/db"
	"leakwatch.app/sentry/internal/connector"
	"leakwatch.app/sentry/internal/detect"
	"leakwatch.app/sentry/internal/dispatch"
	"leakwatch.app/sentry/internal/export"
	"leakwatch.app/sentry/internal/http/handler"
	"leakwatch.app/sentry/internal/http/middleware"
	httprouter "leakwatch.app/sentry/internal/http/router"
	"leakwatch.app/sentry/internal/metrics"
	"leakwatch.app/sentry/internal/scan"
	"leakwatch.app/sentry/internal/sink/alert"
	"leakwatch.app/sentry/internal/sink/bus"
	"leakwatch.app/sentry/internal/sink/ticket"
	"leakwatch.app/sentry/internal/store"
	"leakwatch.app/sentry/internal/stream"
	"leakwatch.app/sentry/internal/webhook"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "sentry starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	stores := store.NewStores(database.Pool())
	m := metrics.New()

	rules, err := detect.LoadRules(cfg.Rules.Path)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load detection rules", "path", cfg.Rules.Path, "error", err)
		os.Exit(1)
	}
	ruleset := detect.Compile(rules)
	slog.InfoContext(ctx, "detection rules loaded", "count", ruleset.Len())

	redisClient := newRedisClient(ctx, cfg.Stream.RedisURL)

	dispatcher := dispatch.New(stores.Events(), m, slog.Default())
	registerSinks(ctx, cfg, stores, dispatcher, m, redisClient)

	runner := scan.NewRunner(ruleset, stores.Events(), stores.Cursors(), dispatcher, m, slog.Default())
	registerConnectors(ctx, cfg, runner)

	walker := export.NewWalker(stores.Events(), stores.Cursors(), cfg.Export.PageLimit, m, slog.Default())
	exporter := export.NewService(walker, stores.Cursors(), cfg.Export)

	// Pick up events a previous process inserted but never fanned out.
	if n, err := dispatcher.Redispatch(ctx, 500); err != nil {
		slog.WarnContext(ctx, "startup redispatch failed", "error", err)
	} else if n > 0 {
		slog.InfoContext(ctx, "startup redispatch complete", "events", n)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, stores, runner, exporter, m, redisClient)
	// No WriteTimeout: the live event stream endpoint holds its response
	// open indefinitely.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

// registerSinks wires every configured outbound destination into the
// dispatcher. Order matters: tickets first, then alerts, then the
// broadcast surfaces.
func registerSinks(ctx context.Context, cfg config.Config, stores *store.Stores, dispatcher *dispatch.Dispatcher, m *metrics.Metrics, redisClient *redis.Client) {
	log := slog.Default()

	if cfg.Jira.Enabled() {
		dispatcher.Register(ticket.NewJiraSink(cfg.Jira, cfg.DashboardURL, stores.Events(), log))
	}
	if cfg.GLPI.Enabled() {
		dispatcher.Register(ticket.NewGLPISink(cfg.GLPI, cfg.DashboardURL, stores.Events(), log))
	}
	if cfg.ServiceNow.Enabled() {
		dispatcher.Register(ticket.NewServiceNowSink(cfg.ServiceNow, cfg.DashboardURL, stores.Events(), log))
	}

	if cfg.SlackAlert.Configured() {
		apiSink, err := alert.NewAPISink(cfg.SlackAlert, cfg.DashboardURL, stores.Events(), log)
		if err != nil {
			slog.ErrorContext(ctx, "failed to build slack api sink", "error", err)
		} else {
			dispatcher.Register(apiSink)
		}
	}
	if cfg.SlackWebhook.Configured() {
		dispatcher.Register(alert.NewWebhookSink(cfg.SlackWebhook, cfg.DashboardURL, stores.Events(), log))
	}

	dispatcher.Register(webhook.NewDeliverer(stores.Subscriptions(), stores.Deliveries(), m, log))

	if redisClient != nil {
		dispatcher.Register(stream.NewPublisher(redisClient, cfg.Stream.Stream, cfg.Stream.MaxLen, log))
	}

	if cfg.Bus.Enabled() {
		nc, err := nats.Connect(cfg.Bus.URL, nats.Name(cfg.OTel.ServiceName))
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect to nats, bus sink disabled", "error", err)
		} else {
			dispatcher.Register(bus.NewPublisher(nc, cfg.Bus.Subject, log))
		}
	}

	slog.InfoContext(ctx, "sinks registered", "sinks", dispatcher.Sinks())
}

func registerConnectors(ctx context.Context, cfg config.Config, runner *scan.Runner) {
	if cfg.GitLab.Enabled() {
		gl, err := connector.NewGitLabConnector(cfg.GitLab, slog.Default())
		if err != nil {
			slog.ErrorContext(ctx, "failed to build gitlab connector", "error", err)
		} else {
			runner.Register(gl)
		}
	}
	slog.InfoContext(ctx, "connectors registered", "platforms", runner.Platforms())
}

func newRedisClient(ctx context.Context, url string) *redis.Client {
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url, live stream disabled", "error", err)
		return nil
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis, live stream disabled", "error", err)
		return nil
	}
	slog.InfoContext(ctx, "redis connected")
	return client
}

func setupRouter(cfg config.Config, stores *store.Stores, runner *scan.Runner, exporter *export.Service, m *metrics.Metrics, redisClient *redis.Client) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span, Recovery catches panics, Logger
	// logs with trace context.
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	var newReader func() *stream.Reader
	if redisClient != nil {
		streamName := cfg.Stream.Stream
		newReader = func() *stream.Reader {
			return stream.NewReader(redisClient, streamName)
		}
	}

	deliverer := webhook.NewDeliverer(stores.Subscriptions(), stores.Deliveries(), m, slog.Default())
	registry := webhook.NewRegistry(stores.Subscriptions())

	handlers := httprouter.Handlers{
		Events:   handler.NewEventHandler(stores.Events(), newReader),
		Webhooks: handler.NewWebhookHandler(registry, deliverer, stores.Events(), stores.Deliveries()),
		Admin:    handler.NewAdminHandler(runner, exporter),
	}

	httprouter.SetupRoutes(router, handlers, httprouter.RouterConfig{
		APIKeys: cfg.APIKeys,
	})

	return router
}

const banner = `
███████╗███████╗███╗   ██╗████████╗██████╗ ██╗   ██╗
██╔════╝██╔════╝████╗  ██║╚══██╔══╝██╔══██╗╚██╗ ██╔╝
███████╗█████╗  ██╔██╗ ██║   ██║   ██████╔╝ ╚████╔╝
╚════██║██╔══╝  ██║╚██╗██║   ██║   ██╔══██╗  ╚██╔╝
███████║███████╗██║ ╚████║   ██║   ██║  ██║   ██║
╚══════╝╚══════╝╚═╝  ╚═══╝   ╚═╝   ╚═╝  ╚═╝   ╚═╝
`
