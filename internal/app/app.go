package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/fraser-stanley/spooky-stock/internal/health"
	"github.com/fraser-stanley/spooky-stock/internal/messaging/kafka"
	"github.com/fraser-stanley/spooky-stock/internal/metrics"
	"github.com/fraser-stanley/spooky-stock/internal/revalidate"
	"github.com/fraser-stanley/spooky-stock/internal/service/idempotency"
	"github.com/fraser-stanley/spooky-stock/internal/service/monitor"
	"github.com/fraser-stanley/spooky-stock/internal/service/outbox"
	"github.com/fraser-stanley/spooky-stock/internal/service/ratelimit"
	"github.com/fraser-stanley/spooky-stock/internal/service/rest"
	"github.com/fraser-stanley/spooky-stock/internal/service/stock"
	"github.com/fraser-stanley/spooky-stock/internal/service/sweeper"
	"github.com/fraser-stanley/spooky-stock/internal/service/webhook"
	"github.com/fraser-stanley/spooky-stock/internal/version"
)

// Run собирает приложение и блокируется до отмены ctx или фатальной
// ошибки HTTP-сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	engine := stock.NewEngine(
		deps.Products, deps.Reservations, deps.ErrorLog,
		stock.WithMetrics(metrics.NewStockMetrics()),
	)

	sweep := sweeper.New(
		deps.Reservations, engine,
		sweeper.WithInterval(cfg.SweepInterval),
		sweeper.WithBatchSize(cfg.SweepBatchSize),
		sweeper.WithOutbox(deps.Outbox, deps.Products),
	)

	mon := monitor.New(
		deps.Products, deps.ErrorLog,
		monitor.WithInterval(cfg.MonitorInterval),
	)

	coordinator := webhook.NewCoordinator(
		engine, deps.Reservations, deps.Idempotency,
		deps.Products, deps.ErrorLog, deps.Outbox,
		webhook.WithSweeper(sweep),
	)

	cleanup := idempotency.NewCleanupWorker(
		deps.Idempotency,
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)

	limiter := ratelimit.New(ratelimit.WithLimit(cfg.RateLimitPerMinute))

	serverOptions := []rest.Option{
		rest.WithLimiter(limiter),
		rest.WithReservationTTL(cfg.ReservationTTL),
	}
	if cfg.CronSecret != "" {
		serverOptions = append(serverOptions, rest.WithCronSecret(cfg.CronSecret))
	}
	if cfg.StripeWebhookSecret != "" {
		serverOptions = append(serverOptions, rest.WithWebhookSecret(cfg.StripeWebhookSecret))
	}

	server := rest.NewServer(
		engine, coordinator, sweep, mon,
		deps.Products, deps.Reservations, deps.Outbox, deps.ErrorLog,
		serverOptions...,
	)

	// Kafka опциональна: без брокеров outbox-сообщения копятся в pending,
	// а reserve/release/webhook-потоки работают как обычно.
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(kafkaProducer, logger)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	go sweep.Run(workerCtx)
	go mon.Run(workerCtx)
	go cleanup.Run(workerCtx)

	if kafkaProducer != nil {
		workerOptions := []outbox.Option{
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicDeadLetterQueue)),
		}
		if cfg.RevalidateURL != "" {
			invalidator := revalidate.New(cfg.RevalidateURL, revalidate.WithSecret(cfg.RevalidateSecret))
			workerOptions = append(workerOptions, outbox.WithCacheInvalidator(invalidator))
			logger.WithField("endpoint", cfg.RevalidateURL).Info("cache revalidation enabled")
		}

		worker := outbox.NewWorker(
			deps.Outbox,
			kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicStockEvents),
			workerOptions...,
		)
		go worker.Run(workerCtx)
	} else {
		logger.Info("kafka is not configured, outbox worker is disabled")
	}

	healthHandler := healthcheck.NewHandler(version.String())
	healthHandler.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", func() error {
		if deps.Store == nil {
			return nil
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return deps.Store.Ping(pingCtx)
	}))

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Router()}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		stopWorkers()
		shutdownHTTP(httpSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		stopWorkers()
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez", addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
