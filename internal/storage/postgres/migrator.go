package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/migrations/*.sql
var migrationFiles embed.FS

const (
	migrationsDir = "sql/migrations"

	// Ключ advisory lock-а: одновременные запуски migrate из нескольких
	// экземпляров сервиса выполняются по очереди.
	schemaLockKey = int64(74220519)

	migrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

// schemaMigration — пара up/down SQL одной версии схемы.
type schemaMigration struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

// MigrateUp применяет недостающие up-миграции по порядку версий.
// steps=0 — применить все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withSchemaLock(ctx, func(ctx context.Context, conn *sql.Conn, set []schemaMigration) error {
		done, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}

		applied := 0
		for _, m := range set {
			if done[m.Version] {
				continue
			}
			if err := applyStep(ctx, conn, m, true); err != nil {
				return err
			}
			applied++
			if steps > 0 && applied >= steps {
				break
			}
		}
		return nil
	})
}

// MigrateDown откатывает последние применённые миграции.
// steps<=0 трактуется как один шаг.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.withSchemaLock(ctx, func(ctx context.Context, conn *sql.Conn, set []schemaMigration) error {
		byVersion := make(map[int64]schemaMigration, len(set))
		for _, m := range set {
			byVersion[m.Version] = m
		}

		latest, err := latestAppliedVersions(ctx, conn, steps)
		if err != nil {
			return err
		}
		for _, version := range latest {
			m, known := byVersion[version]
			if !known {
				return fmt.Errorf("applied migration %d has no down file", version)
			}
			if err := applyStep(ctx, conn, m, false); err != nil {
				return err
			}
		}
		return nil
	})
}

// MigrationStatus возвращает текущую версию схемы и число применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, errStoreNotReady
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, migrationsTable); err != nil {
		return 0, 0, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	var (
		version int64
		count   int
	)
	row := s.db.QueryRowContext(queryCtx, `SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations`)
	if err := row.Scan(&version, &count); err != nil {
		return 0, 0, fmt.Errorf("read schema_migrations: %w", err)
	}
	return version, count, nil
}

var errStoreNotReady = errors.New("postgres store is not initialized")

// withSchemaLock забирает соединение, берёт advisory lock, гарантирует
// таблицу schema_migrations и отдаёт загруженный набор миграций в fn.
func (s *Store) withSchemaLock(ctx context.Context, fn func(context.Context, *sql.Conn, []schemaMigration) error) error {
	if s == nil || s.db == nil {
		return errStoreNotReady
	}

	set, err := loadMigrationSet(migrationFiles)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, schemaLockKey)
	}()

	if _, err := conn.ExecContext(ctx, migrationsTable); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return fn(ctx, conn, set)
}

// applyStep выполняет одну миграцию и её учёт в schema_migrations
// в общей транзакции.
func applyStep(ctx context.Context, conn *sql.Conn, m schemaMigration, forward bool) error {
	direction, body := "up", m.Up
	if !forward {
		direction, body = "down", m.Down
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s %d_%s: %w", direction, m.Version, m.Name, err)
	}

	fail := func(step string, cause error) error {
		_ = tx.Rollback()
		return fmt.Errorf("%s %s %d_%s: %w", step, direction, m.Version, m.Name, cause)
	}

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fail("execute", err)
	}

	var bookkeeping error
	if forward {
		_, bookkeeping = tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES ($1, $2, NOW())`,
			m.Version, m.Name)
	} else {
		_, bookkeeping = tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, m.Version)
	}
	if bookkeeping != nil {
		return fail("record", bookkeeping)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s %d_%s: %w", direction, m.Version, m.Name, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int64]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied versions: %w", err)
	}
	defer rows.Close()

	done := make(map[int64]bool)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied version: %w", err)
		}
		done[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied versions: %w", err)
	}
	return done, nil
}

func latestAppliedVersions(ctx context.Context, conn *sql.Conn, limit int) ([]int64, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT version FROM schema_migrations ORDER BY version DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list latest versions: %w", err)
	}
	defer rows.Close()

	versions := make([]int64, 0, limit)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan latest version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate latest versions: %w", err)
	}
	return versions, nil
}

// loadMigrationSet читает каталог миграций и собирает пары up/down,
// отсортированные по версии. Файлы именуются NNNN_name.up.sql и
// NNNN_name.down.sql.
func loadMigrationSet(fsys fs.FS) ([]schemaMigration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := make(map[int64]*schemaMigration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileName := entry.Name()

		version, name, direction, err := splitMigrationFileName(fileName)
		if err != nil {
			return nil, err
		}

		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, fileName))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fileName, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration %s has no SQL body", fileName)
		}

		m := byVersion[version]
		if m == nil {
			m = &schemaMigration{Version: version, Name: name}
			byVersion[version] = m
		}
		if m.Name != name {
			return nil, fmt.Errorf("version %d used by both %q and %q", version, m.Name, name)
		}
		if direction == "up" {
			if m.Up != "" {
				return nil, fmt.Errorf("duplicate up file for version %d", version)
			}
			m.Up = body
		} else {
			if m.Down != "" {
				return nil, fmt.Errorf("duplicate down file for version %d", version)
			}
			m.Down = body
		}
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migration files found")
	}

	set := make([]schemaMigration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" || m.Down == "" {
			return nil, fmt.Errorf("migration %d_%s needs both up and down files", m.Version, m.Name)
		}
		set = append(set, *m)
	}
	sort.Slice(set, func(i, j int) bool { return set[i].Version < set[j].Version })
	return set, nil
}

func splitMigrationFileName(fileName string) (version int64, name, direction string, err error) {
	base, ok := strings.CutSuffix(fileName, ".sql")
	if !ok {
		return 0, "", "", fmt.Errorf("unexpected file in migrations dir: %s", fileName)
	}

	switch {
	case strings.HasSuffix(base, ".up"):
		direction = "up"
		base = strings.TrimSuffix(base, ".up")
	case strings.HasSuffix(base, ".down"):
		direction = "down"
		base = strings.TrimSuffix(base, ".down")
	default:
		return 0, "", "", fmt.Errorf("migration %s is neither .up.sql nor .down.sql", fileName)
	}

	versionRaw, name, found := strings.Cut(base, "_")
	if !found || name == "" {
		return 0, "", "", fmt.Errorf("migration %s must be named NNNN_name.%s.sql", fileName, direction)
	}
	version, err = strconv.ParseInt(versionRaw, 10, 64)
	if err != nil || version <= 0 {
		return 0, "", "", fmt.Errorf("bad version in migration file name %s", fileName)
	}
	return version, name, direction, nil
}
