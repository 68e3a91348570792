package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"salesbot_backend/internal/catalog"
	"salesbot_backend/internal/conversation"
	"salesbot_backend/internal/crm"
	"salesbot_backend/internal/events"
	"salesbot_backend/internal/gateway"
	"salesbot_backend/internal/handoff"
	apphttp "salesbot_backend/internal/http"
	"salesbot_backend/internal/http/router"
	"salesbot_backend/internal/ingest"
	"salesbot_backend/internal/notify"
	"salesbot_backend/internal/reply"
	"salesbot_backend/internal/session"
	"salesbot_backend/internal/transcribe"
	"salesbot_backend/internal/webhook"
	"salesbot_backend/platform/config"
	"salesbot_backend/platform/logger"
	"salesbot_backend/platform/retry"
	"salesbot_backend/platform/validator"

	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Background loops (catalog refresh, queue worker) run under one group
	// so shutdown can wait for them.
	group, groupCtx := errgroup.WithContext(ctx)

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	store := initSessionStore(ctx, cfg, log)

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	tracker := gateway.NewTracker(cfg.BotSentLedgerCapacity)
	gatewayClient := gateway.NewClient(cfg, tracker, log)

	signals, err := handoff.LoadSignals(cfg.SignalFile)
	if err != nil {
		log.Warn("handoff signal file unusable, using defaults", "file", cfg.SignalFile, "error", err)
	}
	detector := handoff.NewDetector(signals, tracker, cfg.DetectionWindow, cfg.AutoReactivate)

	catalogLoader := catalog.NewLoader(cfg, log)
	if cfg.CatalogURL != "" {
		if err := withRetry(ctx, log, "catalog refresh", 5, 2*time.Second, func() error {
			return catalogLoader.Refresh(ctx)
		}); err != nil {
			// The bot can answer without a catalog; the loader keeps retrying
			// on its refresh interval.
			log.Warn("initial catalog refresh failed", "error", err)
		}
		group.Go(func() error {
			if err := catalogLoader.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("catalog loader stopped", "error", err)
			}
			return nil
		})
	}

	generator, err := reply.NewGeminiGenerator(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize reply generator", "error", err)
		panic("failed to initialize reply generator: " + err.Error())
	}

	transcriber, err := transcribe.NewGeminiTranscriber(ctx, cfg)
	if err != nil {
		log.Error("failed to initialize transcriber", "error", err)
		panic("failed to initialize transcriber: " + err.Error())
	}

	crmClient := crm.NewClient(cfg, log)
	if crmClient == nil {
		log.Warn("CRM_API_KEY or CRM_BOARD_ID not configured; lead sync disabled")
	}

	// ========================================================================
	// Conversation Pipeline (Composition Root)
	// ========================================================================

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.RetryMaxAttempts
	policy.BaseDelay = cfg.RetryBaseDelay

	orchestrator := conversation.NewOrchestrator(conversation.Deps{
		Log:        log,
		Store:      store,
		Sender:     gatewayClient,
		Detector:   detector,
		Generator:  generator,
		Catalog:    catalogLoader,
		CRM:        crmClient,
		Downloader: gatewayClient,
		Transcribe: transcriber,
		Bus:        eventBus,
	}, conversation.Options{
		EventLedgerCapacity: cfg.EventLedgerCapacity,
		LeadLedgerCapacity:  cfg.LeadLedgerCapacity,
		HistoryLimit:        cfg.HistoryLimit,
		FallbackMessage:     cfg.FallbackMessage,
		RetryPolicy:         policy,
	})

	// Notifier subscribes to domain events (not HTTP-facing)
	notifier := notify.NewNotifier(cfg, gatewayClient, log)
	notifier.RegisterHandlers(eventBus)

	accumulator := conversation.NewAccumulator(cfg.AccumulationWindow, cfg.EventLedgerCapacity, func(ctx context.Context, event conversation.InboundEvent) {
		if err := orchestrator.Process(ctx, event); err != nil {
			log.PersistenceError("process_event", event.ConversationID, err)
		}
	})
	defer accumulator.Stop()

	enqueuer := initEnqueuer(groupCtx, group, cfg, accumulator, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	// Shared validator instance for dependency injection
	val := validator.New()

	webhookModule := webhook.NewModule(enqueuer, orchestrator, val, log)

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		EventBus: eventBus,
		Modules: []apphttp.Module{
			webhookModule,
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		_ = group.Wait()
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// initSessionStore connects Redis when configured, with an in-memory
// fallback for local development. Memory sessions do not survive restarts.
func initSessionStore(ctx context.Context, cfg *config.Config, log *logger.Logger) session.Store {
	if cfg.RedisURL == "" {
		log.Warn("REDIS_URL not configured; sessions are in-memory only")
		return session.NewMemoryStore()
	}

	var store session.Store
	if err := withRetry(ctx, log, "redis connection", 5, 2*time.Second, func() error {
		client, err := session.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		store = session.NewRedisStore(client)
		return nil
	}); err != nil {
		log.Error("failed to connect to redis", "error", err)
		panic("failed to connect to redis: " + err.Error())
	}

	log.Info("redis session store initialized")
	return store
}

// initEnqueuer wires the webhook handler to the pipeline: through the
// asynq queue when Redis is available, otherwise in-process.
func initEnqueuer(ctx context.Context, group *errgroup.Group, cfg *config.Config, accumulator *conversation.Accumulator, log *logger.Logger) ingest.Enqueuer {
	if cfg.RedisURL == "" {
		log.Warn("REDIS_URL not configured; processing webhook events in-process")
		return ingest.NewInlineEnqueuer(accumulator.Add, log)
	}

	client, err := ingest.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize ingest queue client", "error", err)
		panic("failed to initialize ingest queue client: " + err.Error())
	}

	worker, err := ingest.NewWorker(cfg, accumulator.Add, log)
	if err != nil {
		log.Error("failed to initialize ingest worker", "error", err)
		panic("failed to initialize ingest worker: " + err.Error())
	}
	group.Go(func() error {
		worker.Run(ctx)
		return nil
	})

	log.Info("ingest queue initialized")
	return client
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
