package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/delivery/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/delivery/internal/health"
	"github.com/vladislavdragonenkov/delivery/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/delivery/internal/service/idempotency"
	"github.com/vladislavdragonenkov/delivery/internal/service/outbox"
	"github.com/vladislavdragonenkov/delivery/internal/version"
)

// Run собирает зависимости и запускает фоновые процессы сервиса заказов:
// outbox worker, очистку idempotency ключей и ops HTTP-сервер с метриками
// и health check-ами. Блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	if err := cfg.Validate(); err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	// Kafka опционален: без брокеров outbox worker остаётся выключенным,
	// события копятся в pending.
	producer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(producer, logger)

	var publisher, dlqPublisher domain.OutboxPublisher
	if producer != nil {
		publisher = kafka.NewOutboxPublisher(producer, cfg.KafkaTopic)
		dlqPublisher = kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic)
	}

	outboxWorker := outbox.NewWorker(
		deps.outboxRepo,
		publisher,
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithDLQPublisher(dlqPublisher),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryBaseDelay),
	)

	cleanupWorker := idempotency.NewCleanupWorker(
		deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup-worker")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)

	v, _, _ := version.Info()
	healthHandler := healthcheck.NewHandler(v)
	healthHandler.RegisterChecker("storage", deps.storageChecker())

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		outboxWorker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		cleanupWorker.Run(ctx)
	}()

	<-ctx.Done()
	logger.Info("получен сигнал остановки, останавливаем воркеры")
	wg.Wait()
	shutdownHTTP(metricsSrv, logger)

	return ctx.Err()
}

// startMetricsServer запускает ops HTTP-сервер: /metrics для Prometheus,
// /healthz, /livez и /readyz.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
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
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
