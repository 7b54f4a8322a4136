package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"brokerdesk.sg/relay/common/breaker"
	"brokerdesk.sg/relay/common/id"
	"brokerdesk.sg/relay/common/logger"
	"brokerdesk.sg/relay/common/otel"
	"brokerdesk.sg/relay/core/config"
	"brokerdesk.sg/relay/core/db"
	"brokerdesk.sg/relay/internal/chatwoot"
	"brokerdesk.sg/relay/internal/http/handler"
	"brokerdesk.sg/relay/internal/http/middleware"
	httprouter "brokerdesk.sg/relay/internal/http/router"
	"brokerdesk.sg/relay/internal/persona"
	"brokerdesk.sg/relay/internal/queue"
	"brokerdesk.sg/relay/internal/scoring"
	"brokerdesk.sg/relay/internal/service"
	"brokerdesk.sg/relay/internal/store"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
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

	slog.InfoContext(ctx, "brokerdesk server starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(cfg.NodeID); err != nil {
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

	if err := database.Migrate(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to apply migrations", "error", err)
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	producer := queue.NewRedisProducer(redisClient, cfg.Pipeline.RedisStream, slog.Default())
	defer producer.Close()

	tie := tieBreaker(cfg.Persona)
	personaCfg, err := persona.LoadConfig(cfg.Persona.ConfigFile)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load persona config", "error", err)
		os.Exit(1)
	}
	personas, err := persona.NewCalculator(personaCfg, tie)
	if err != nil {
		slog.ErrorContext(ctx, "invalid persona config", "error", err)
		os.Exit(1)
	}

	chat := chatwoot.NewGuarded(
		chatwoot.NewClient(chatwoot.Config{
			BaseURL:   cfg.Chatwoot.BaseURL,
			APIToken:  cfg.Chatwoot.APIToken,
			AccountID: cfg.Chatwoot.AccountID,
			InboxID:   cfg.Chatwoot.InboxID,
			Timeout:   cfg.Chatwoot.Timeout,
		}),
		chatwoot.NewBreaker(breaker.Settings{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			ResetTimeout:     cfg.Breaker.ResetTimeout,
			MonitoringWindow: cfg.Breaker.MonitoringWindow,
		}),
	)

	services := service.NewServices(service.Deps{
		Stores:   store.NewStores(database.Querier()),
		TxRunner: service.NewTxRunner(database),
		Scorer:   scoring.Default(),
		Personas: personas,
		TieBreak: tie,
		Chat:     chat,
		InboxID:  cfg.Chatwoot.InboxID,
		Producer: producer,
		Logger:   slog.Default(),
	})

	synced, err := services.Availability().SyncBrokers(ctx, personas.Personas(), cfg.Persona.BrokerMaxChats)
	if err != nil {
		slog.ErrorContext(ctx, "failed to sync brokers", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "brokers synced", "count", synced)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router, err := setupRouter(cfg, services, map[string]handler.HealthCheck{
		"postgres": database.Ping,
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to set up routes", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

func setupRouter(cfg config.Config, services *service.Services, checks map[string]handler.HealthCheck) (*gin.Engine, error) {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}

	err := httprouter.SetupRoutes(router, services, httprouter.RouterConfig{
		SupportPhone:    cfg.SupportPhone,
		WebhookSecret:   cfg.Chatwoot.WebhookSecret,
		TraceHeaderName: cfg.Pipeline.TraceHeaderName,
		MetricsPath:     metricsPath,
		LeadRateLimit:   cfg.HTTP.RateLimitPerSecond,
		LeadBurst:       cfg.HTTP.RateLimitBurst,
		HealthChecks:    checks,
	})
	return router, err
}

func tieBreaker(cfg config.PersonaConfig) persona.TieBreaker {
	if cfg.TieBreakSeed != 0 {
		return persona.NewRandTieBreaker(cfg.TieBreakSeed)
	}
	return persona.HashTieBreaker{}
}
