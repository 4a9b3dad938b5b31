package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/delivery/internal/domain"
)

// outboxRepository хранит события заказов до публикации в брокер.
// Записи живут в трёх статусах: pending, sent, failed.
type outboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB()}
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)

func (r *outboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := opCtx()
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if len(msg.Payload) == 0 {
		// JSONB не принимает пустую строку.
		msg.Payload = []byte(`{}`)
	}

	now := time.Now().UTC()
	const insert = `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, attempt_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,'pending',0,$6,$7)`
	if _, err := r.db.ExecContext(ctx, insert,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, now, now,
	); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("insert outbox record: %w", err)
	}
	return msg, nil
}

func (r *outboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := opCtx()
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	// Порядок created_at, id сохраняет порядок постановки событий.
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload
		FROM outbox_messages
		WHERE status = 'pending'
		ORDER BY created_at, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending outbox records: %w", err)
	}
	defer rows.Close()

	batch := make([]domain.OutboxMessage, 0, limit)
	for rows.Next() {
		var msg domain.OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox record: %w", err)
		}
		batch = append(batch, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox records: %w", err)
	}
	return batch, nil
}

func (r *outboxRepository) Stats() (domain.OutboxStats, error) {
	ctx, cancel := opCtx()
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	row := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM outbox_messages WHERE status = 'pending'`)
	if err := row.Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("count pending outbox records: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(id string) error {
	return r.finalize(id, "sent")
}

func (r *outboxRepository) MarkFailed(id string) error {
	return r.finalize(id, "failed")
}

// finalize переводит запись в терминальный статус и учитывает попытку.
func (r *outboxRepository) finalize(id, status string) error {
	ctx, cancel := opCtx()
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
		WHERE id = $1`, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark outbox record %s: %w", status, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark outbox record %s: %w", status, err)
	}
	if affected == 0 {
		return domain.ErrOutboxPublish
	}
	return nil
}
