package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/delivery/internal/domain"
)

type fakeOutbox struct {
	pending []domain.OutboxMessage
	sent    []string
	failed  []string
}

func (f *fakeOutbox) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return msg, nil
}

func (f *fakeOutbox) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit > 0 && limit < len(f.pending) {
		return append([]domain.OutboxMessage(nil), f.pending[:limit]...), nil
	}
	return append([]domain.OutboxMessage(nil), f.pending...), nil
}

func (f *fakeOutbox) Stats() (domain.OutboxStats, error) {
	stats := domain.OutboxStats{PendingCount: len(f.pending)}
	if len(f.pending) > 0 {
		stats.OldestPendingAt = time.Now().UTC().Add(-time.Second)
	}
	return stats, nil
}

func (f *fakeOutbox) MarkSent(id string) error {
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeOutbox) MarkFailed(id string) error {
	f.failed = append(f.failed, id)
	return nil
}

// scriptedPublisher отвечает на вызовы Publish ошибками из script;
// после конца script — последним значением.
type scriptedPublisher struct {
	mu       sync.Mutex
	script   []error
	received []domain.OutboxMessage
}

func (p *scriptedPublisher) Publish(msg domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.received = append(p.received, msg)
	if len(p.script) == 0 {
		return nil
	}
	err := p.script[0]
	if len(p.script) > 1 {
		p.script = p.script[1:]
	}
	return err
}

func (p *scriptedPublisher) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.received)
}

var (
	_ domain.OutboxRepository = (*fakeOutbox)(nil)
	_ domain.OutboxPublisher  = (*scriptedPublisher)(nil)
)

func pendingOrderEvent(id, eventType, status string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: "order",
		AggregateID:   "17",
		EventType:     eventType,
		Payload:       []byte(`{"order_id":17,"status":"` + status + `"}`),
	}
}

func TestWorker_DeliversAndMarksSent(t *testing.T) {
	t.Parallel()

	repo := &fakeOutbox{pending: []domain.OutboxMessage{
		pendingOrderEvent("msg-1", "order.confirmed", "CONFIRMADO"),
	}}
	publisher := &scriptedPublisher{}

	NewWorker(repo, publisher, WithRetryBaseDelay(0)).ProcessOnce(context.Background())

	if publisher.calls() != 1 {
		t.Fatalf("expected 1 publish, got %d", publisher.calls())
	}
	if len(repo.sent) != 1 || repo.sent[0] != "msg-1" {
		t.Fatalf("unexpected sent marks: %v", repo.sent)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("nothing must be marked failed: %v", repo.failed)
	}
}

func TestWorker_RetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	repo := &fakeOutbox{pending: []domain.OutboxMessage{
		pendingOrderEvent("msg-2", "order.ready", "PRONTO"),
	}}
	publisher := &scriptedPublisher{script: []error{
		errors.New("first"),
		errors.New("second"),
		nil,
	}}

	NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3)).ProcessOnce(context.Background())

	if publisher.calls() != 3 {
		t.Fatalf("expected 3 attempts, got %d", publisher.calls())
	}
	if len(repo.sent) != 1 {
		t.Fatalf("expected sent mark after retry, got %v", repo.sent)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("nothing must be marked failed: %v", repo.failed)
	}
}

func TestWorker_DeadLettersAfterExhaustedRetries(t *testing.T) {
	t.Parallel()

	repo := &fakeOutbox{pending: []domain.OutboxMessage{
		pendingOrderEvent("msg-3", "order.canceled", "CANCELADO"),
	}}
	publisher := &scriptedPublisher{script: []error{errors.New("broker down")}}
	dlq := &scriptedPublisher{}

	worker := NewWorker(repo, publisher,
		WithDLQPublisher(dlq),
		WithRetryBaseDelay(0),
		WithMaxAttempts(2),
	)
	worker.ProcessOnce(context.Background())

	if publisher.calls() != 2 {
		t.Fatalf("expected 2 attempts, got %d", publisher.calls())
	}
	if len(repo.failed) != 1 || repo.failed[0] != "msg-3" {
		t.Fatalf("unexpected failed marks: %v", repo.failed)
	}
	if len(repo.sent) != 0 {
		t.Fatalf("nothing must be marked sent: %v", repo.sent)
	}
	if dlq.calls() != 1 {
		t.Fatalf("expected 1 dead letter, got %d", dlq.calls())
	}

	// Dead letter несёт исходное событие и причину отказа.
	record := dlq.received[0]
	if record.ID != "msg-3" || record.EventType != "order.canceled" {
		t.Fatalf("dead letter lost identity: %+v", record)
	}
	var letter struct {
		OutboxID     string          `json:"outbox_id"`
		EventType    string          `json:"event_type"`
		Payload      json.RawMessage `json:"payload"`
		PublishError string          `json:"publish_error"`
	}
	if err := json.Unmarshal(record.Payload, &letter); err != nil {
		t.Fatalf("unmarshal dead letter: %v", err)
	}
	if letter.OutboxID != "msg-3" || letter.EventType != "order.canceled" {
		t.Fatalf("unexpected dead letter fields: %+v", letter)
	}
	if letter.PublishError != "broker down" {
		t.Fatalf("unexpected publish error: %s", letter.PublishError)
	}
	var event struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(letter.Payload, &event); err != nil {
		t.Fatalf("unmarshal original event: %v", err)
	}
	if event.Status != "CANCELADO" {
		t.Fatalf("original event payload lost: %+v", event)
	}
}

func TestWorker_WithoutDLQStillMarksFailed(t *testing.T) {
	t.Parallel()

	repo := &fakeOutbox{pending: []domain.OutboxMessage{
		pendingOrderEvent("msg-4", "order.placed", "REALIZADO"),
	}}
	publisher := &scriptedPublisher{script: []error{errors.New("no route")}}

	NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(1)).ProcessOnce(context.Background())

	if len(repo.failed) != 1 {
		t.Fatalf("expected failed mark, got %v", repo.failed)
	}
}

func TestWorker_BatchSizeLimitsPull(t *testing.T) {
	t.Parallel()

	repo := &fakeOutbox{pending: []domain.OutboxMessage{
		pendingOrderEvent("msg-5", "order.placed", "REALIZADO"),
		pendingOrderEvent("msg-6", "order.placed", "REALIZADO"),
		pendingOrderEvent("msg-7", "order.placed", "REALIZADO"),
	}}
	publisher := &scriptedPublisher{}

	NewWorker(repo, publisher, WithRetryBaseDelay(0), WithBatchSize(2)).ProcessOnce(context.Background())

	if got := len(repo.sent); got != 2 {
		t.Fatalf("expected batch of 2, got %d", got)
	}
}

func TestWorker_DefaultsClampBadOptions(t *testing.T) {
	t.Parallel()

	w := NewWorker(&fakeOutbox{}, &scriptedPublisher{},
		WithPollInterval(-time.Second),
		WithBatchSize(-1),
		WithMaxAttempts(0),
		WithRetryBaseDelay(-time.Minute),
	)

	if w.pollInterval <= 0 || w.batchSize <= 0 || w.maxAttempts <= 0 {
		t.Fatalf("options must be clamped to sane defaults: %+v", w)
	}
	if w.retryBaseDelay != 0 {
		t.Fatalf("negative retry delay must clamp to zero, got %v", w.retryBaseDelay)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	worker := NewWorker(&fakeOutbox{}, &scriptedPublisher{},
		WithPollInterval(5*time.Millisecond),
		WithRetryBaseDelay(0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}

func TestWorker_RunDisabledWithoutPublisher(t *testing.T) {
	t.Parallel()

	worker := NewWorker(&fakeOutbox{}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker without publisher must return immediately")
	}
}
