package memory_test

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/delivery/internal/domain"
	"github.com/vladislavdragonenkov/delivery/internal/storage/memory"
)

func TestIdempotencyRepository_CreateProcessing(t *testing.T) {
	repo := memory.NewIdempotencyRepository()

	record, err := repo.CreateProcessing("key-1", "hash-1", time.Time{})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if record.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("expected processing status, got %s", record.Status)
	}
	if record.TTLAt.IsZero() {
		t.Fatal("expected default TTL to be assigned")
	}
}

func TestIdempotencyRepository_CreateValidation(t *testing.T) {
	repo := memory.NewIdempotencyRepository()

	if _, err := repo.CreateProcessing("  ", "hash", time.Time{}); err != domain.ErrIdempotencyKeyRequired {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
	if _, err := repo.CreateProcessing("key", "  ", time.Time{}); err != domain.ErrIdempotencyRequestHashRequired {
		t.Fatalf("expected ErrIdempotencyRequestHashRequired, got %v", err)
	}
}

func TestIdempotencyRepository_DuplicateKey(t *testing.T) {
	repo := memory.NewIdempotencyRepository()

	if _, err := repo.CreateProcessing("key-1", "hash-1", time.Time{}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	existing, err := repo.CreateProcessing("key-1", "hash-1", time.Time{})
	if err != domain.ErrIdempotencyKeyAlreadyExists {
		t.Fatalf("expected ErrIdempotencyKeyAlreadyExists, got %v", err)
	}
	if existing.Key != "key-1" {
		t.Fatalf("expected existing record to be returned, got %+v", existing)
	}

	if _, err := repo.CreateProcessing("key-1", "hash-2", time.Time{}); err != domain.ErrIdempotencyHashMismatch {
		t.Fatalf("expected ErrIdempotencyHashMismatch, got %v", err)
	}
}

func TestIdempotencyRepository_MarkDoneStoresResult(t *testing.T) {
	repo := memory.NewIdempotencyRepository()

	if _, err := repo.CreateProcessing("key-1", "hash-1", time.Time{}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.MarkDone("key-1", []byte(`{"order_id":1}`)); err != nil {
		t.Fatalf("mark done failed: %v", err)
	}

	record, err := repo.Get("key-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if record.Status != domain.IdempotencyStatusDone {
		t.Fatalf("expected done status, got %s", record.Status)
	}
	if string(record.Result) != `{"order_id":1}` {
		t.Fatalf("unexpected stored result: %s", record.Result)
	}
}

func TestIdempotencyRepository_MarkUnknownKey(t *testing.T) {
	repo := memory.NewIdempotencyRepository()

	if err := repo.MarkDone("missing", nil); err != domain.ErrIdempotencyKeyNotFound {
		t.Fatalf("expected ErrIdempotencyKeyNotFound, got %v", err)
	}
	if err := repo.MarkFailed("missing", nil); err != domain.ErrIdempotencyKeyNotFound {
		t.Fatalf("expected ErrIdempotencyKeyNotFound, got %v", err)
	}
}

func TestIdempotencyRepository_DeleteExpired(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()

	if _, err := repo.CreateProcessing("expired-1", "hash", now.Add(-time.Hour)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := repo.CreateProcessing("expired-2", "hash", now.Add(-time.Minute)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := repo.CreateProcessing("alive", "hash", now.Add(time.Hour)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	removed, err := repo.DeleteExpired(now, 10)
	if err != nil {
		t.Fatalf("delete expired failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed records, got %d", removed)
	}

	if _, err := repo.Get("alive"); err != nil {
		t.Fatalf("live record must survive cleanup: %v", err)
	}
	if _, err := repo.Get("expired-1"); err != domain.ErrIdempotencyKeyNotFound {
		t.Fatalf("expected expired record to be removed, got %v", err)
	}
}
