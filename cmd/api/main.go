package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/uzlex/consult-platform/internal/api/router"
	"github.com/uzlex/consult-platform/internal/audit"
	"github.com/uzlex/consult-platform/internal/booking"
	"github.com/uzlex/consult-platform/internal/config"
	"github.com/uzlex/consult-platform/internal/consultations"
	"github.com/uzlex/consult-platform/internal/events"
	"github.com/uzlex/consult-platform/internal/notify"
	"github.com/uzlex/consult-platform/internal/observability/metrics"
	"github.com/uzlex/consult-platform/internal/payments"
	"github.com/uzlex/consult-platform/internal/scheduling"
	"github.com/uzlex/consult-platform/pkg/logging"
)

func main() {
	// Load .env if present; real deployments set env vars directly.
	_ = godotenv.Load()

	cfg := config.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting consult-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to reach postgres", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()
	var slotCache *scheduling.SlotCache
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// Slot listings fall back to the database when redis is down.
		logger.Error("redis unavailable, slot cache disabled", "error", err)
	} else {
		slotCache = scheduling.NewSlotCache(redisClient, cfg.SlotCacheTTL)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("invalid timezone", "timezone", cfg.Timezone, "error", err)
		os.Exit(1)
	}

	paymentMetrics := metrics.NewPaymentMetrics(prometheus.DefaultRegisterer)
	bookingMetrics := metrics.NewBookingMetrics(prometheus.DefaultRegisterer)

	// Stores.
	consultRepo := consultations.NewRepository(pool)
	paymentRepo := payments.NewRepository(pool)
	processed := events.NewProcessedStore(pool)
	recon := payments.NewReconciliationStore(pool)
	auditLog := audit.NewLog(pool, logger)

	// Scheduling.
	week := scheduling.NewWorkweek(cfg.WorkStartHour, cfg.WorkEndHour, cfg.SlotDuration, cfg.WorkingDays, loc)
	slotSvc := scheduling.NewService(scheduling.NewRepository(pool), slotCache, week, logger)

	// Payment provider adapters; only configured providers are registered.
	var adapters []payments.Adapter
	if cfg.ClickMerchantID != "" {
		click := payments.NewClickAdapter(cfg.ClickMerchantID, cfg.ClickServiceID, cfg.ClickSecretKey, cfg.ReturnURL, cfg.ProviderTimeout, logger)
		click.WithBaseURL(cfg.ClickBaseURL)
		adapters = append(adapters, click)
	}
	if cfg.PaymeMerchantID != "" {
		payme := payments.NewPaymeAdapter(cfg.PaymeMerchantID, cfg.PaymeSecretKey, cfg.ReturnURL, cfg.ProviderTimeout, logger)
		payme.WithBaseURL(cfg.PaymeBaseURL)
		adapters = append(adapters, payme)
	}
	if cfg.UzumMerchantID != "" {
		uzum := payments.NewUzumAdapter(cfg.UzumMerchantID, cfg.UzumSecretKey, cfg.ReturnURL, cfg.ProviderTimeout, logger)
		uzum.WithBaseURL(cfg.UzumBaseURL)
		adapters = append(adapters, uzum)
	}
	if len(adapters) == 0 {
		logger.Error("no payment providers configured")
		os.Exit(1)
	}

	gateway := payments.NewGateway(paymentRepo, processed, recon, payments.GatewayConfig{
		MinAmountTiyin: cfg.MinAmountTiyin,
		MaxAmountTiyin: cfg.MaxAmountTiyin,
		Currency:       cfg.Currency,
		RefundWindow:   cfg.RefundWindow,
	}, paymentMetrics, logger, adapters...)

	// Notifications go to Telegram when a bot token is configured.
	var notifier notify.Dispatcher
	if cfg.TelegramBotToken != "" {
		notifier, err = notify.NewTelegramDispatcher(cfg.TelegramBotToken, logger)
		if err != nil {
			logger.Error("failed to initialize telegram dispatcher", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Info("TELEGRAM_BOT_TOKEN not set, notifications are logged only")
		notifier = notify.NewLogDispatcher(logger)
	}

	machine := consultations.NewMachine(cfg.RescheduleLimit, cfg.CancellationWindow)
	bookingSvc := booking.NewService(consultRepo, machine, slotSvc, gateway, notifier, auditLog, bookingMetrics, booking.ServiceConfig{
		BasePriceTiyin: cfg.BasePriceTiyin,
		Currency:       cfg.Currency,
	}, logger)
	// Provider callbacks drive consultation transitions through the booking
	// service; wired after construction to break the dependency cycle.
	gateway.WithConfirmer(bookingSvc)

	// Background workers.
	sweeper := payments.NewSweeper(paymentRepo, recon, cfg.SweepInterval, cfg.StalePendingAge, logger)
	go sweeper.Start(ctx)
	reminders := booking.NewReminderWorker(consultRepo, notifier, cfg.SweepInterval, cfg.ReminderLeadTime, logger)
	go reminders.Start(ctx)

	webhooks := buildWebhooks(adapters, gateway, paymentMetrics, logger)
	r := router.New(&router.Config{
		Logger:          logger,
		BookingHandler:  booking.NewHandler(bookingSvc, logger),
		ClickWebhook:    webhooks.click,
		PaymeWebhook:    webhooks.payme,
		UzumWebhook:     webhooks.uzum,
		AdminHandler:    payments.NewAdminHandler(recon, logger),
		MetricsHandler:  promhttp.Handler(),
		AdminAuthSecret: cfg.AdminJWTSecret,
		RateLimitRPS:    cfg.RateLimitRPS,
		RateLimitBurst:  cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

type webhookSet struct {
	click *payments.ClickWebhookHandler
	payme *payments.PaymeWebhookHandler
	uzum  *payments.UzumWebhookHandler
}

func buildWebhooks(adapters []payments.Adapter, gw *payments.Gateway, m *metrics.PaymentMetrics, logger *logging.Logger) webhookSet {
	var ws webhookSet
	for _, a := range adapters {
		switch ad := a.(type) {
		case *payments.ClickAdapter:
			ws.click = payments.NewClickWebhookHandler(ad, gw, m, logger)
		case *payments.PaymeAdapter:
			ws.payme = payments.NewPaymeWebhookHandler(ad, gw, m, logger)
		case *payments.UzumAdapter:
			ws.uzum = payments.NewUzumWebhookHandler(ad, gw, m, logger)
		}
	}
	return ws
}
