package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/delivery/internal/domain"
)

const (
	outboxPending = "pending"
	outboxSent    = "sent"
	outboxFailed  = "failed"
)

// outboxEntry — запись очереди и её жизненный цикл.
type outboxEntry struct {
	msg       domain.OutboxMessage
	status    string
	attempts  int
	createdAt time.Time
	updatedAt time.Time
}

// outboxQueue — in-memory очередь transactional outbox. Записи хранятся
// в порядке постановки, поэтому PullPending не сортирует.
type outboxQueue struct {
	mu    sync.RWMutex
	order []*outboxEntry
	byID  map[string]*outboxEntry
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository() *outboxQueue {
	return &outboxQueue{byID: make(map[string]*outboxEntry)}
}

// Enqueue ставит событие в очередь со статусом pending. Пустой id
// заменяется свежим UUID.
func (q *outboxQueue) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	entry := &outboxEntry{msg: msg, status: outboxPending, createdAt: now, updatedAt: now}
	q.order = append(q.order, entry)
	q.byID[msg.ID] = entry
	return msg, nil
}

// PullPending возвращает до limit неопубликованных событий, старые первыми.
func (q *outboxQueue) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	var result []domain.OutboxMessage
	for _, entry := range q.order {
		if entry.status != outboxPending {
			continue
		}
		result = append(result, entry.msg)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

// Stats возвращает размер backlog и время самой старой pending-записи.
func (q *outboxQueue) Stats() (domain.OutboxStats, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var stats domain.OutboxStats
	for _, entry := range q.order {
		if entry.status != outboxPending {
			continue
		}
		if stats.PendingCount == 0 {
			stats.OldestPendingAt = entry.createdAt
		}
		stats.PendingCount++
	}
	return stats, nil
}

// MarkSent помечает событие опубликованным.
func (q *outboxQueue) MarkSent(id string) error {
	return q.finish(id, outboxSent)
}

// MarkFailed помечает событие неопубликуемым.
func (q *outboxQueue) MarkFailed(id string) error {
	return q.finish(id, outboxFailed)
}

func (q *outboxQueue) finish(id, status string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.byID[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	entry.status = status
	entry.attempts++
	entry.updatedAt = time.Now().UTC()
	return nil
}

var _ domain.OutboxRepository = (*outboxQueue)(nil)
