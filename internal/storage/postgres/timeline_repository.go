package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/delivery/internal/domain"
)

// timelineRepository хранит историю смен статуса заказа.
type timelineRepository struct {
	db *sql.DB
}

// NewTimelineRepository создаёт PostgreSQL-реализацию TimelineRepository.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{db: store.DB()}
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)

func (r *timelineRepository) Append(event domain.TimelineEvent) error {
	ctx, cancel := opCtx()
	defer cancel()

	occurred := event.Occurred
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO timeline_events (order_id, from_status, to_status, reason, occurred)
		VALUES ($1,$2,$3,$4,$5)`,
		event.OrderID, string(event.From), string(event.To), event.Reason, occurred)
	if err != nil {
		return fmt.Errorf("insert timeline event: %w", err)
	}
	return nil
}

func (r *timelineRepository) List(orderID int64) ([]domain.TimelineEvent, error) {
	ctx, cancel := opCtx()
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, from_status, to_status, reason, occurred
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select timeline events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.TimelineEvent, 0)
	for rows.Next() {
		var (
			event    domain.TimelineEvent
			from, to string
		)
		if err := rows.Scan(&event.OrderID, &from, &to, &event.Reason, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		event.From = domain.OrderStatus(from)
		event.To = domain.OrderStatus(to)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline events: %w", err)
	}
	return events, nil
}
