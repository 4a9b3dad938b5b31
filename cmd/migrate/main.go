// migrate управляет схемой postgres-базы сервиса заказов:
//
//	migrate -dsn=... up [-steps=N]
//	migrate -dsn=... down [-steps=N]
//	migrate -dsn=... status
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/delivery/internal/storage/postgres"
)

const commandTimeout = 30 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	var (
		dsn   string
		steps int
	)
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: DELIVERY_POSTGRES_DSN)")
	fs.IntVar(&steps, "steps", 0, "migrations per run: 0 means all for up, one for down")
	if err := fs.Parse(args); err != nil {
		return err
	}

	command := strings.ToLower(strings.TrimSpace(fs.Arg(0)))
	if command == "" {
		command = "status"
	}
	switch command {
	case "up", "down", "status":
	default:
		return fmt.Errorf("unknown command %q (use up, down or status)", command)
	}

	if strings.TrimSpace(dsn) == "" {
		dsn = strings.TrimSpace(os.Getenv("DELIVERY_POSTGRES_DSN"))
	}
	if dsn == "" {
		return fmt.Errorf("postgres dsn is required (-dsn or DELIVERY_POSTGRES_DSN)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer store.Close()

	switch command {
	case "up":
		if err := store.MigrateUp(ctx, steps); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
	case "down":
		if err := store.MigrateDown(ctx, steps); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
	}

	version, applied, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	_, _ = fmt.Fprintf(out, "%s ok: schema version=%d applied=%d\n", command, version, applied)
	return nil
}
