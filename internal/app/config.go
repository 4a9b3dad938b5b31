package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/delivery/internal/messaging/kafka"
)

// Поддерживаемые backend-ы хранения заказов.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// KafkaBrokers — список брокеров через запятую; пустая строка
	// отключает публикацию событий.
	KafkaBrokers  string
	KafkaTopic    string
	KafkaDLQTopic string

	OutboxPollInterval   time.Duration
	OutboxBatchSize      int
	OutboxMaxAttempts    int
	OutboxRetryBaseDelay time.Duration

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
}

// DefaultConfig возвращает настройки по умолчанию.
func DefaultConfig() Config {
	return Config{
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		KafkaTopic:                  kafka.TopicOrderEvents,
		KafkaDLQTopic:               kafka.TopicDeadLetterQueue,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryBaseDelay:        50 * time.Millisecond,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}

// LoadConfig собирает конфигурацию из значений по умолчанию, опционального
// yaml-файла и переменных окружения с префиксом DELIVERY_
// (например DELIVERY_STORAGE_DRIVER, DELIVERY_POSTGRES_DSN).
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("delivery")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := DefaultConfig()
	v.SetDefault("metrics.addr", def.MetricsAddr)
	v.SetDefault("storage.driver", def.StorageDriver)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.auto_migrate", def.PostgresAutoMigrate)
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", def.KafkaTopic)
	v.SetDefault("kafka.dlq_topic", def.KafkaDLQTopic)
	v.SetDefault("outbox.poll_interval", def.OutboxPollInterval)
	v.SetDefault("outbox.batch_size", def.OutboxBatchSize)
	v.SetDefault("outbox.max_attempts", def.OutboxMaxAttempts)
	v.SetDefault("outbox.retry_base_delay", def.OutboxRetryBaseDelay)
	v.SetDefault("idempotency.cleanup_interval", def.IdempotencyCleanupInterval)
	v.SetDefault("idempotency.cleanup_batch_size", def.IdempotencyCleanupBatchSize)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		MetricsAddr:                 v.GetString("metrics.addr"),
		StorageDriver:               v.GetString("storage.driver"),
		PostgresDSN:                 v.GetString("postgres.dsn"),
		PostgresAutoMigrate:         v.GetBool("postgres.auto_migrate"),
		KafkaBrokers:                v.GetString("kafka.brokers"),
		KafkaTopic:                  v.GetString("kafka.topic"),
		KafkaDLQTopic:               v.GetString("kafka.dlq_topic"),
		OutboxPollInterval:          v.GetDuration("outbox.poll_interval"),
		OutboxBatchSize:             v.GetInt("outbox.batch_size"),
		OutboxMaxAttempts:           v.GetInt("outbox.max_attempts"),
		OutboxRetryBaseDelay:        v.GetDuration("outbox.retry_base_delay"),
		IdempotencyCleanupInterval:  v.GetDuration("idempotency.cleanup_interval"),
		IdempotencyCleanupBatchSize: v.GetInt("idempotency.cleanup_batch_size"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность конфигурации.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			return errors.New("postgres storage requires a dsn")
		}
	default:
		return fmt.Errorf("unsupported storage driver: %q", c.StorageDriver)
	}
	return nil
}
