package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/delivery/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/delivery/internal/health"
	"github.com/vladislavdragonenkov/delivery/internal/storage/memory"
	"github.com/vladislavdragonenkov/delivery/internal/storage/postgres"
)

// runtimeDependencies содержит собранные по конфигурации зависимости процесса.
type runtimeDependencies struct {
	repo            domain.OrderRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository

	// store не nil только для postgres backend.
	store *postgres.Store
}

// initRuntimeDependencies создаёт репозитории для выбранного storage driver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			repo:            memory.NewOrderRepository(),
			outboxRepo:      memory.NewOutboxRepository(),
			timelineRepo:    memory.NewTimelineRepository(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage requires a dsn")
		}

		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}

		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}

		logger.Info("using postgres storage")
		return &runtimeDependencies{
			repo:            postgres.NewOrderRepository(store),
			outboxRepo:      postgres.NewOutboxRepository(store),
			timelineRepo:    postgres.NewTimelineRepository(store),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			store:           store,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.StorageDriver)
	}
}

// close освобождает ресурсы хранилища.
func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.store == nil {
		return
	}
	if err := d.store.Close(); err != nil {
		logger.WithError(err).Warn("failed to close postgres store")
	}
}

// storageChecker возвращает health-проверку выбранного хранилища.
// In-memory backend всегда healthy.
func (d *runtimeDependencies) storageChecker() healthcheck.Checker {
	return healthcheck.PingChecker("storage", func() error {
		if d.store == nil {
			return nil
		}
		return d.store.Ping(context.Background())
	})
}
