package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/delivery/internal/domain"
)

// timelineLog хранит хронику статусов в памяти (для разработки/тестов).
// События каждого заказа лежат отсортированными по времени наступления.
type timelineLog struct {
	mu      sync.RWMutex
	byOrder map[int64][]domain.TimelineEvent
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository() domain.TimelineRepository {
	return &timelineLog{byOrder: make(map[int64][]domain.TimelineEvent)}
}

// Append добавляет событие в хронику заказа. Пустое время наступления
// заменяется текущим, как и в Postgres-реализации.
func (l *timelineLog) Append(event domain.TimelineEvent) error {
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	events := l.byOrder[event.OrderID]
	at := sort.Search(len(events), func(i int) bool {
		return events[i].Occurred.After(event.Occurred)
	})
	events = append(events, domain.TimelineEvent{})
	copy(events[at+1:], events[at:])
	events[at] = event
	l.byOrder[event.OrderID] = events

	return nil
}

// List возвращает копию хроники заказа в хронологическом порядке.
func (l *timelineLog) List(orderID int64) ([]domain.TimelineEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return append([]domain.TimelineEvent(nil), l.byOrder[orderID]...), nil
}

var _ domain.TimelineRepository = (*timelineLog)(nil)
