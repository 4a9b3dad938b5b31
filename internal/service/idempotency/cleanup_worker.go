// Package idempotency содержит фоновую очистку просроченных idempotency ключей.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/delivery/internal/domain"
)

var (
	cleanupRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_idempotency_cleanup_runs_total",
		Help: "Idempotency cleanup runs by result.",
	}, []string{"result"})
	cleanupDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_idempotency_cleanup_deleted_total",
		Help: "Expired idempotency records deleted so far.",
	})
	cleanupLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "delivery_idempotency_cleanup_last_deleted",
		Help: "Records deleted by the most recent cleanup run.",
	})
)

// CleanupWorker порциями удаляет idempotency записи с истёкшим TTL.
type CleanupWorker struct {
	repo      domain.IdempotencyRepository
	logger    *log.Entry
	interval  time.Duration
	batchSize int
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

// WithLogger задаёт logger воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithInterval задаёт период между запусками очистки.
func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) { w.interval = interval }
}

// WithBatchSize задаёт размер одной порции удаления.
func WithBatchSize(size int) CleanupOption {
	return func(w *CleanupWorker) { w.batchSize = size }
}

// NewCleanupWorker создаёт воркер с дефолтами: запуск раз в 10 минут,
// порция 500 записей.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		repo:      repo,
		logger:    log.WithField("component", "idempotency-cleanup-worker"),
		interval:  10 * time.Minute,
		batchSize: 500,
	}
	for _, option := range options {
		option(w)
	}

	if w.interval <= 0 {
		w.interval = 10 * time.Minute
	}
	if w.batchSize <= 0 {
		w.batchSize = 500
	}
	return w
}

// Run чистит просроченные записи до отмены ctx. Первый запуск — сразу.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup worker is disabled: repo is nil")
		return
	}

	w.runOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	deleted, err := w.DeleteExpired(ctx, time.Now().UTC())
	switch {
	case errors.Is(err, context.Canceled):
	case err != nil:
		cleanupRuns.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("idempotency cleanup run failed")
	default:
		cleanupRuns.WithLabelValues("ok").Inc()
		cleanupLastDeleted.Set(float64(deleted))
		if deleted > 0 {
			w.logger.WithField("deleted", deleted).Info("idempotency cleanup completed")
		}
	}
}

// DeleteExpired удаляет записи с TTL не позже before порциями batchSize,
// пока они не закончатся или не отменится ctx.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := w.repo.DeleteExpired(before, w.batchSize)
		if err != nil {
			return total, err
		}
		total += deleted
		if deleted > 0 {
			cleanupDeleted.Add(float64(deleted))
		}
		if deleted < w.batchSize {
			return total, nil
		}
	}
}
