package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/notifyhub/event-driven-arch/internal/api"
	"github.com/notifyhub/event-driven-arch/internal/breaker"
	"github.com/notifyhub/event-driven-arch/internal/config"
	"github.com/notifyhub/event-driven-arch/internal/db"
	"github.com/notifyhub/event-driven-arch/internal/dedupcache"
	"github.com/notifyhub/event-driven-arch/internal/domain"
	"github.com/notifyhub/event-driven-arch/internal/ingestion"
	"github.com/notifyhub/event-driven-arch/internal/metrics"
	"github.com/notifyhub/event-driven-arch/internal/provider"
	"github.com/notifyhub/event-driven-arch/internal/ratelimiter"
	"github.com/notifyhub/event-driven-arch/internal/repository"
	"github.com/notifyhub/event-driven-arch/internal/retry"
	"github.com/notifyhub/event-driven-arch/internal/scheduler"
	"github.com/notifyhub/event-driven-arch/internal/statusingress"
	"github.com/notifyhub/event-driven-arch/internal/streamlog"
	"github.com/notifyhub/event-driven-arch/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx := context.Background()

	// ---- Store (C2) ----
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	repo := repository.NewPgNotificationRepository(pool)

	// ---- Dedup Cache (C3) ----
	cache, err := dedupcache.New(ctx, cfg.CacheEndpoint)
	if err != nil {
		logger.Fatal("failed to connect to dedup cache", zap.Error(err))
	}
	defer cache.Close() //nolint:errcheck

	// ---- Message Log (C1) ----
	producer := streamlog.NewProducer(cfg.LogBrokers)
	defer producer.Close() //nolint:errcheck

	// ---- metrics ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	onSent, onFailed := m.WorkerHooks()

	// ---- providers (C4), breakers (C5), rate limiter ----
	providers := provider.NewRegistry()
	providers.Register(domain.ChannelEmail, provider.NewEmailProvider(
		"email.primary", cfg.EmailSMTPHost, cfg.EmailSMTPPort, cfg.EmailSMTPUser, cfg.EmailSMTPPassword, cfg.EmailFrom,
	))
	providers.Register(domain.ChannelSMS, provider.NewSMSProvider("sms.primary", cfg.SMSGatewayURL, cfg.DispatchTimeout["sms"]))
	pushProvider := provider.NewPushProvider("push.primary", cfg.PushVAPIDPublicKey, cfg.PushVAPIDPrivateKey, cfg.PushVAPIDSubject)
	providers.Register(domain.ChannelPushIOS, pushProvider)
	providers.Register(domain.ChannelPushAndroid, pushProvider)
	providers.Register(domain.ChannelWebhook, provider.NewWebhookProvider("webhook.primary", cfg.WebhookBaseURL, cfg.DispatchTimeout["webhook"]))
	if cfg.WebhookFallbackURL != "" {
		providers.RegisterFallback(domain.ChannelWebhook, provider.NewWebhookProvider("webhook.fallback", cfg.WebhookFallbackURL, cfg.DispatchTimeout["webhook"]))
	}

	breakers := breaker.NewRegistry(cfg.BreakerFailureThreshold, cfg.BreakerCooldown)
	limiter := ratelimiter.New(cfg.RateLimitPerChannel)

	// ---- Retry Router (C6) ----
	retryRouter := retry.NewRouter(repo, producer, cfg.BaseDelay, cfg.MaxRetries, retry.Hooks{
		OnRetried: func(ch domain.Channel) { m.NotificationsRetried.WithLabelValues(string(ch)).Inc() },
		OnDLQ:     func(ch domain.Channel) { m.DLQAdmissions.WithLabelValues(string(ch)).Inc() },
	})

	// ---- Ingestion Service (C8) ----
	ingestionSvc := ingestion.New(repo, cache, producer, cfg.DedupTTL, cfg.MaxRetries, logger)

	// ---- Status Ingress (C11) ----
	statusSvc := statusingress.New(repo, logger)

	// Background goroutines (Scheduler + Delivery Workers) run under a
	// context cancelled on shutdown signal, independent of the HTTP server's
	// own shutdown context.
	bgCtx, cancelBackground := context.WithCancel(ctx)
	defer cancelBackground()

	// Delivery Workers are constructed (but not started) here so the HTTP
	// router can be wired to the pool for lag reporting before anything
	// begins consuming.
	pool2 := worker.NewPool(cfg, repo, providers, limiter, breakers, retryRouter, logger, worker.Hooks{
		OnSent:   onSent,
		OnFailed: onFailed,
	})

	// ---- HTTP server (serves Status Ingress, C11) ----
	// Started before the Scheduler and Delivery Workers begin consuming:
	// provider callbacks must never be dropped during the worker warm-up
	// window, so the callback endpoint has to be accepting connections first.
	router := api.NewRouter(ingestionSvc, statusSvc, pool2, reg, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- Scheduler (C9) ----
	sched := scheduler.New(repo, cache, producer, cfg.SchedulerTick, cfg.SchedulerBatchSize, cfg.StuckPendingAge, logger)
	go sched.Run(bgCtx)

	// ---- Delivery Workers (C7) ----
	pool2.Start(bgCtx)

	// Periodically copy consumer lag and breaker state into their gauges;
	// pull-based because kafka-go's reader stats and gobreaker's state are
	// cheap, synchronous reads.
	go reportGauges(bgCtx, m, pool2, breakers)

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests (includes the status callback
	//    endpoint, so no new reconciliation work starts mid-drain).
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop the Scheduler and tell Delivery Workers to finish their
	//    current window and stop fetching new ones.
	cancelBackground()

	// 3. Wait for in-flight windows to drain, bounded by DrainTimeout; force
	//    close any reader still blocked on a fetch past that point.
	if drained := pool2.Shutdown(cfg.DrainTimeout); !drained {
		logger.Warn("drain timeout exceeded, exiting with workers still in flight")
		os.Exit(2)
	}

	logger.Info("server stopped cleanly")
}

func reportGauges(ctx context.Context, m *metrics.Metrics, pool *worker.Pool, breakers *breaker.Registry) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	providerNames := []string{"email.primary", "sms.primary", "push.primary", "webhook.primary", "webhook.fallback"}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ReportLag(pool)
			for _, name := range providerNames {
				if state, ok := breakers.State(name); ok {
					m.ReportBreakerState(name, int(state))
				}
			}
		}
	}
}
