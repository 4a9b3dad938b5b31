package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/delivery/internal/domain"
)

// idempotencyStore держит idempotency записи в map под RW-мьютексом.
// Записи отдаются копиями, чтобы вызывающий код не менял хранилище.
type idempotencyStore struct {
	mu      sync.RWMutex
	records map[string]domain.IdempotencyRecord
}

// NewIdempotencyRepository создаёт in-memory реализацию IdempotencyRepository.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return &idempotencyStore{records: make(map[string]domain.IdempotencyRecord)}
}

var _ domain.IdempotencyRepository = (*idempotencyStore)(nil)

func normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", domain.ErrIdempotencyKeyRequired
	}
	return key, nil
}

func copyRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	dst := src
	dst.Result = append([]byte(nil), src.Result...)
	return dst
}

func (s *idempotencyStore) CreateProcessing(key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	requestHash = strings.TrimSpace(requestHash)
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(24 * time.Hour)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[key]; ok {
		// Повтор с тем же hash — replay, с другим — конфликт ключа.
		if existing.RequestHash != requestHash {
			return copyRecord(existing), domain.ErrIdempotencyHashMismatch
		}
		return copyRecord(existing), domain.ErrIdempotencyKeyAlreadyExists
	}

	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.records[key] = copyRecord(record)
	return record, nil
}

func (s *idempotencyStore) Get(key string) (domain.IdempotencyRecord, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyRecord(record), nil
}

func (s *idempotencyStore) MarkDone(key string, result []byte) error {
	return s.transition(key, domain.IdempotencyStatusDone, result)
}

func (s *idempotencyStore) MarkFailed(key string, result []byte) error {
	return s.transition(key, domain.IdempotencyStatusFailed, result)
}

func (s *idempotencyStore) transition(key string, status domain.IdempotencyStatus, result []byte) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	record.Status = status
	record.Result = append([]byte(nil), result...)
	record.UpdatedAt = time.Now().UTC()
	s.records[key] = record
	return nil
}

func (s *idempotencyStore) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, record := range s.records {
		if record.TTLAt.After(before) {
			continue
		}
		delete(s.records, key)
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}
	return removed, nil
}
