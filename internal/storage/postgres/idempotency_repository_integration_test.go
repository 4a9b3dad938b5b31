package postgres

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/delivery/internal/domain"
)

func TestIdempotencyRepository_PostgresCreateAndReplay(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)

	record, err := repo.CreateProcessing("key-1", "hash-1", time.Time{})
	if err != nil {
		t.Fatalf("create processing: %v", err)
	}
	if record.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("expected processing status, got %s", record.Status)
	}

	existing, err := repo.CreateProcessing("key-1", "hash-1", time.Time{})
	if err != domain.ErrIdempotencyKeyAlreadyExists {
		t.Fatalf("expected ErrIdempotencyKeyAlreadyExists, got %v", err)
	}
	if existing.Key != "key-1" {
		t.Fatalf("expected existing record, got %+v", existing)
	}

	if _, err := repo.CreateProcessing("key-1", "hash-other", time.Time{}); err != domain.ErrIdempotencyHashMismatch {
		t.Fatalf("expected ErrIdempotencyHashMismatch, got %v", err)
	}
}

func TestIdempotencyRepository_PostgresMarkDone(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)

	if _, err := repo.CreateProcessing("key-1", "hash-1", time.Time{}); err != nil {
		t.Fatalf("create processing: %v", err)
	}
	if err := repo.MarkDone("key-1", []byte(`{"order_id":42}`)); err != nil {
		t.Fatalf("mark done: %v", err)
	}

	record, err := repo.Get("key-1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.Status != domain.IdempotencyStatusDone {
		t.Fatalf("expected done status, got %s", record.Status)
	}
	if string(record.Result) != `{"order_id":42}` {
		t.Fatalf("unexpected result: %s", record.Result)
	}

	if err := repo.MarkDone("missing", nil); err != domain.ErrIdempotencyKeyNotFound {
		t.Fatalf("expected ErrIdempotencyKeyNotFound, got %v", err)
	}
}

func TestIdempotencyRepository_PostgresDeleteExpired(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)

	now := time.Now().UTC()
	if _, err := repo.CreateProcessing("expired", "hash", now.Add(-time.Hour)); err != nil {
		t.Fatalf("create processing: %v", err)
	}
	if _, err := repo.CreateProcessing("alive", "hash", now.Add(time.Hour)); err != nil {
		t.Fatalf("create processing: %v", err)
	}

	removed, err := repo.DeleteExpired(now, 100)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed record, got %d", removed)
	}

	if _, err := repo.Get("alive"); err != nil {
		t.Fatalf("live record must survive: %v", err)
	}
	if _, err := repo.Get("expired"); err != domain.ErrIdempotencyKeyNotFound {
		t.Fatalf("expected removed record, got %v", err)
	}
}
