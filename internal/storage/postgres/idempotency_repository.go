package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/delivery/internal/domain"
)

// idempotencyKeys обслуживает таблицу idempotency_keys: регистрацию
// ключа, чтение результата и пакетное удаление просроченных записей.
type idempotencyKeys struct {
	db *sql.DB
}

// NewIdempotencyRepository создаёт PostgreSQL-реализацию IdempotencyRepository.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyKeys{db: store.DB()}
}

const defaultIdempotencyTTL = 24 * time.Hour

func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", domain.ErrIdempotencyKeyRequired
	}
	return key, nil
}

// CreateProcessing вставляет ключ в статусе PROCESSING. При уникальном
// конфликте возвращает существующую запись: с ErrIdempotencyKeyAlreadyExists
// при совпадении hash запроса и с ErrIdempotencyHashMismatch при расхождении.
func (s *idempotencyKeys) CreateProcessing(key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, err := cleanKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	requestHash = strings.TrimSpace(requestHash)
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}
	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	ctx, cancel := opCtx()
	defer cancel()

	const insert = `
		INSERT INTO idempotency_keys (
			key, request_hash, result, status, ttl_at, created_at, updated_at
		) VALUES ($1,$2,NULL,$3,$4,$5,$6)`
	_, err = s.db.ExecContext(ctx, insert,
		record.Key, record.RequestHash, string(record.Status),
		record.TTLAt, record.CreatedAt, record.UpdatedAt,
	)
	switch {
	case err == nil:
		return record, nil
	case !uniqueViolated(err):
		return domain.IdempotencyRecord{}, fmt.Errorf("insert idempotency key: %w", err)
	}

	// Ключ уже существует: различаем повтор того же запроса и конфликт.
	existing, err := s.Get(key)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("load existing idempotency key: %w", err)
	}
	if existing.RequestHash != requestHash {
		return existing, domain.ErrIdempotencyHashMismatch
	}
	return existing, domain.ErrIdempotencyKeyAlreadyExists
}

func (s *idempotencyKeys) Get(key string) (domain.IdempotencyRecord, error) {
	key, err := cleanKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := opCtx()
	defer cancel()

	const query = `
		SELECT key, request_hash, result, status, ttl_at, created_at, updated_at
		FROM idempotency_keys
		WHERE key = $1`

	var (
		record domain.IdempotencyRecord
		status string
	)
	err = s.db.QueryRowContext(ctx, query, key).Scan(
		&record.Key, &record.RequestHash, &record.Result, &status,
		&record.TTLAt, &record.CreatedAt, &record.UpdatedAt,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	case err != nil:
		return domain.IdempotencyRecord{}, fmt.Errorf("select idempotency key: %w", err)
	}
	record.Status = domain.IdempotencyStatus(status)
	return record, nil
}

func (s *idempotencyKeys) MarkDone(key string, result []byte) error {
	return s.storeOutcome(key, domain.IdempotencyStatusDone, result)
}

func (s *idempotencyKeys) MarkFailed(key string, result []byte) error {
	return s.storeOutcome(key, domain.IdempotencyStatusFailed, result)
}

func (s *idempotencyKeys) storeOutcome(key string, status domain.IdempotencyStatus, result []byte) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}

	ctx, cancel := opCtx()
	defer cancel()

	const update = `
		UPDATE idempotency_keys
		SET status = $2, result = $3, updated_at = $4
		WHERE key = $1`
	res, err := s.db.ExecContext(ctx, update, key, string(status), result, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark idempotency key as %s: %w", status, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for idempotency %s: %w", status, err)
	}
	if affected == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

// DeleteExpired удаляет до limit записей с истёкшим ttl, начиная с самых
// старых. Нулевой before трактуется как "сейчас".
func (s *idempotencyKeys) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}
	if limit <= 0 {
		limit = 1000
	}

	ctx, cancel := opCtx()
	defer cancel()

	const del = `
		DELETE FROM idempotency_keys
		WHERE key IN (
			SELECT key FROM idempotency_keys
			WHERE ttl_at <= $1
			ORDER BY ttl_at
			LIMIT $2
		)`
	res, err := s.db.ExecContext(ctx, del, before, limit)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected for idempotency cleanup: %w", err)
	}
	return int(affected), nil
}

func uniqueViolated(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ domain.IdempotencyRepository = (*idempotencyKeys)(nil)
