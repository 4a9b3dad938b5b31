package main

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/delivery/internal/storage/postgres"
)

func TestRun_UnknownCommand(t *testing.T) {
	err := run([]string{"-dsn=postgres://ignored", "sideways"}, new(bytes.Buffer))
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestRun_RequiresDSN(t *testing.T) {
	t.Setenv("DELIVERY_POSTGRES_DSN", "")

	err := run([]string{"status"}, new(bytes.Buffer))
	if err == nil || !strings.Contains(err.Error(), "dsn is required") {
		t.Fatalf("expected dsn error, got %v", err)
	}
}

func TestRun_BadFlag(t *testing.T) {
	if err := run([]string{"-definitely-not-a-flag"}, new(bytes.Buffer)); err == nil {
		t.Fatal("expected flag parse error")
	}
}

func liveTestDSN(t *testing.T) string {
	t.Helper()

	for _, env := range []string{"DELIVERY_POSTGRES_TEST_DSN", "DELIVERY_POSTGRES_DSN"} {
		dsn := strings.TrimSpace(os.Getenv(env))
		if dsn == "" {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		store, err := postgres.Open(ctx, dsn)
		cancel()
		if err != nil {
			continue
		}
		_ = store.Close()
		return dsn
	}

	t.Skip("postgres dsn is not available")
	return ""
}

func TestRun_AgainstLivePostgres(t *testing.T) {
	dsn := liveTestDSN(t)

	var out bytes.Buffer
	if err := run([]string{"-dsn=" + dsn, "up"}, &out); err != nil {
		t.Fatalf("up failed: %v", err)
	}
	if !strings.Contains(out.String(), "up ok:") {
		t.Fatalf("unexpected up output: %s", out.String())
	}

	out.Reset()
	if err := run([]string{"-dsn=" + dsn, "status"}, &out); err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(out.String(), "schema version=") {
		t.Fatalf("unexpected status output: %s", out.String())
	}

	out.Reset()
	if err := run([]string{"-dsn=" + dsn, "-steps=1", "down"}, &out); err != nil {
		t.Fatalf("down failed: %v", err)
	}

	// Вернуть схему обратно, чтобы не мешать соседним интеграционным тестам.
	if err := run([]string{"-dsn=" + dsn, "up"}, new(bytes.Buffer)); err != nil {
		t.Fatalf("restore up failed: %v", err)
	}
}
