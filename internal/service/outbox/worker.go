// Package outbox публикует события заказов из transactional outbox в брокер.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/delivery/internal/domain"
)

var (
	publishResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_outbox_publish_attempts_total",
		Help: "Outbox publish attempts by result and order event type.",
	}, []string{"result", "event_type"})
	pendingBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "delivery_outbox_pending_records",
		Help: "Pending records currently waiting in the outbox.",
	})
	oldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "delivery_outbox_oldest_pending_age_seconds",
		Help: "Age of the oldest pending outbox record.",
	})
)

// Worker опрашивает outbox и доставляет pending-события заказов.
// Событие после maxAttempts неудачных публикаций уходит в DLQ и
// помечается failed.
type Worker struct {
	repo           domain.OutboxRepository
	publisher      domain.OutboxPublisher
	dlq            domain.OutboxPublisher
	logger         *log.Entry
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт logger воркера.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDLQPublisher задаёт publisher dead letter queue.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlq = publisher }
}

// WithPollInterval задаёт период опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) { w.pollInterval = interval }
}

// WithBatchSize задаёт размер выборки pending-событий.
func WithBatchSize(size int) Option {
	return func(w *Worker) { w.batchSize = size }
}

// WithMaxAttempts задаёт число попыток публикации одного события.
func WithMaxAttempts(attempts int) Option {
	return func(w *Worker) { w.maxAttempts = attempts }
}

// WithRetryBaseDelay задаёт базу exponential backoff между попытками.
// Ноль отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) { w.retryBaseDelay = delay }
}

// NewWorker создаёт воркер с дефолтами: опрос раз в секунду, батч 100,
// 3 попытки, backoff от 50ms.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		logger:         log.WithField("component", "outbox-worker"),
		pollInterval:   time.Second,
		batchSize:      100,
		maxAttempts:    3,
		retryBaseDelay: 50 * time.Millisecond,
	}
	for _, option := range options {
		option(w)
	}

	if w.pollInterval <= 0 {
		w.pollInterval = time.Second
	}
	if w.batchSize <= 0 {
		w.batchSize = 100
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = 3
	}
	if w.retryBaseDelay < 0 {
		w.retryBaseDelay = 0
	}
	return w
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce вычитывает один батч pending-событий и доставляет каждое.
func (w *Worker) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	w.observeBacklog()

	batch, err := w.repo.PullPending(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return
	}
	if len(batch) == 0 {
		return
	}

	for _, msg := range batch {
		if ctx.Err() != nil {
			return
		}
		w.deliver(ctx, msg)
	}
	w.observeBacklog()
}

// deliver публикует событие с retry; после исчерпания попыток отправляет
// его в DLQ и помечает failed.
func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if lastErr = w.publisher.Publish(msg); lastErr == nil {
			publishResults.WithLabelValues("sent", msg.EventType).Inc()
			if err := w.repo.MarkSent(msg.ID); err != nil {
				w.logger.WithError(err).WithField("outbox_id", msg.ID).Warn("failed to mark outbox record as sent")
			}
			return
		}
		publishResults.WithLabelValues("retry_error", msg.EventType).Inc()

		if attempt < w.maxAttempts {
			if err := w.pause(ctx, attempt); err != nil {
				return
			}
		}
	}

	publishResults.WithLabelValues("failed", msg.EventType).Inc()
	w.logger.WithError(lastErr).WithFields(log.Fields{
		"outbox_id":  msg.ID,
		"event_type": msg.EventType,
	}).Error("outbox publish failed after retries")

	if err := w.deadLetter(msg, lastErr); err != nil {
		publishResults.WithLabelValues("dlq_failed", msg.EventType).Inc()
		w.logger.WithError(err).WithField("outbox_id", msg.ID).Warn("failed to dead-letter outbox record")
	}
	if err := w.repo.MarkFailed(msg.ID); err != nil {
		w.logger.WithError(err).WithField("outbox_id", msg.ID).Warn("failed to mark outbox record as failed")
	}
}

// pause ждёт exponential backoff перед следующей попыткой.
func (w *Worker) pause(ctx context.Context, attempt int) error {
	delay := w.retryBaseDelay
	if delay <= 0 {
		return nil
	}
	for i := 1; i < attempt; i++ {
		if delay > time.Hour {
			delay = time.Hour
			break
		}
		delay *= 2
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// deadLetter заворачивает событие вместе с причиной отказа и публикует
// его в DLQ. Формат разбирает kafka.DecodeDeadLetter при replay.
func (w *Worker) deadLetter(msg domain.OutboxMessage, cause error) error {
	if w.dlq == nil {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"outbox_id":        msg.ID,
		"aggregate_type":   msg.AggregateType,
		"aggregate_id":     msg.AggregateID,
		"event_type":       msg.EventType,
		"payload":          json.RawMessage(msg.Payload),
		"publish_error":    cause.Error(),
		"dlq_published_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	record := msg
	record.Payload = payload
	if err := w.dlq.Publish(record); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}

func (w *Worker) observeBacklog() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to read outbox backlog stats")
		return
	}

	pendingBacklog.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		oldestPendingAge.Set(0)
		return
	}
	if age := time.Since(stats.OldestPendingAt).Seconds(); age > 0 {
		oldestPendingAge.Set(age)
	} else {
		oldestPendingAge.Set(0)
	}
}
