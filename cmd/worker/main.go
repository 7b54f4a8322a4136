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

	"github.com/redis/go-redis/v9"

	"brokerdesk.sg/relay/common/breaker"
	"brokerdesk.sg/relay/common/id"
	"brokerdesk.sg/relay/common/llm"
	"brokerdesk.sg/relay/common/logger"
	"brokerdesk.sg/relay/common/metrics"
	"brokerdesk.sg/relay/common/otel"
	"brokerdesk.sg/relay/core/config"
	"brokerdesk.sg/relay/core/db"
	"brokerdesk.sg/relay/internal/chatwoot"
	"brokerdesk.sg/relay/internal/persona"
	"brokerdesk.sg/relay/internal/queue"
	"brokerdesk.sg/relay/internal/responder"
	"brokerdesk.sg/relay/internal/store"
	"brokerdesk.sg/relay/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "brokerdesk worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Pipeline.RedisGroup,
		"consumer_name", cfg.Pipeline.RedisConsumer)

	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

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

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Pipeline.RedisStream,
		Group:        cfg.Pipeline.RedisGroup,
		Consumer:     cfg.Pipeline.RedisConsumer,
		DLQStream:    cfg.Pipeline.RedisDLQStream,
		BatchSize:    10,
		Block:        5 * time.Second,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	personaCfg, err := persona.LoadConfig(cfg.Persona.ConfigFile)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load persona config", "error", err)
		os.Exit(1)
	}
	var tie persona.TieBreaker = persona.HashTieBreaker{}
	if cfg.Persona.TieBreakSeed != 0 {
		tie = persona.NewRandTieBreaker(cfg.Persona.TieBreakSeed)
	}
	personas, err := persona.NewCalculator(personaCfg, tie)
	if err != nil {
		slog.ErrorContext(ctx, "invalid persona config", "error", err)
		os.Exit(1)
	}

	gen, err := setupResponder(cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to set up responder", "error", err)
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

	processor := worker.NewReplyProcessor(store.NewStores(database.Querier()), gen, chat, personas, worker.ProcessorConfig{
		MaxAttempts:  cfg.Worker.MaxAttempts,
		JobTimeout:   cfg.Worker.JobTimeout,
		SendTimeout:  cfg.Worker.SendTimeout,
		ClaimTTL:     cfg.Worker.ClaimTTL,
		HistoryLimit: cfg.Worker.HistoryLimit,
		FallbackText: gen.FallbackText(),
	})

	w := worker.New(consumer, processor, worker.Config{
		MaxAttempts: cfg.Worker.MaxAttempts,
	})

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Streams:  consumer.Streams(),
		Group:    cfg.Pipeline.RedisGroup,
		Consumer: cfg.Pipeline.RedisConsumer + "-reclaimer",
		MinIdle:  cfg.Worker.ReclaimMinIdle,
		Interval: cfg.Worker.ReclaimInterval,
	}, consumer, w.ProcessMessage)

	errCh := make(chan error, 2)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path)
		go func() {
			slog.InfoContext(ctx, "metrics server starting", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.ErrorContext(ctx, "metrics server error", "error", err)
			}
		}()
	}

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop blocks until the in-flight batch is settled.
	stopped := make(chan struct{})
	go func() {
		reclaimer.Stop()
		w.Stop()
		close(stopped)
	}()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case <-stopped:
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "metrics server shutdown error", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

// setupResponder builds the model tiers. Only the standard tier is required;
// missing tiers borrow the nearest configured one.
func setupResponder(cfg config.Config) (*responder.Responder, error) {
	standard, err := llm.NewChatClient(llmConfig(cfg.StandardLLM))
	if err != nil {
		return nil, err
	}

	fast := optionalChatClient("fast", cfg.FastLLM)
	reasoning := optionalChatClient("reasoning", cfg.ReasoningLLM)

	var classifier responder.Classifier = responder.HeuristicClassifier{}
	if cfg.ClassifierLLM.Enabled() {
		client, err := llm.New(llmConfig(cfg.ClassifierLLM))
		if err != nil {
			slog.Warn("intent classifier model unavailable, using heuristics only", "error", err)
		} else {
			classifier = responder.NewAssistedClassifier(client, 0.6, 2*time.Second)
		}
	}

	return responder.New(classifier, responder.NewRouter(fast, standard, reasoning), responder.Config{
		Timeout:        cfg.Worker.GenerationTimeout,
		Retries:        cfg.Worker.GenerationRetries,
		RetryBaseDelay: cfg.Worker.RetryBaseDelay,
		MaxTokens:      cfg.StandardLLM.MaxTokens,
		HistoryLimit:   cfg.Worker.HistoryLimit,
		FallbackText:   breaker.FallbackResponse(cfg.SupportPhone),
	}), nil
}

func optionalChatClient(tier string, c config.LLMConfig) llm.ChatClient {
	if !c.Enabled() {
		return nil
	}
	client, err := llm.NewChatClient(llmConfig(c))
	if err != nil {
		slog.Warn("model tier disabled", "tier", tier, "error", err)
		return nil
	}
	return client
}

func llmConfig(c config.LLMConfig) llm.Config {
	return llm.Config{
		Provider:        c.Provider,
		APIKey:          c.APIKey,
		BaseURL:         c.BaseURL,
		Model:           c.Model,
		MaxTokens:       c.MaxTokens,
		ReasoningEffort: llm.ReasoningEffort(c.ReasoningEffort),
	}
}
