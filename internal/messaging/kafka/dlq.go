package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// В DLQ попадают записи двух форматов: envelope, записанный outbox worker-ом
// после исчерпания retry (payload содержит исходное событие и publish_error),
// и записи от downstream consumer-ов с полями original_topic/original_value.
// DecodeDeadLetter приводит оба формата к ReplayCandidate.

// ReplayCandidate — сообщение, восстановленное из DLQ-записи и готовое
// к повторной публикации.
type ReplayCandidate struct {
	Topic     string
	Key       string
	Value     []byte
	EventType string
}

type consumerDeadLetter struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
}

type workerDeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

// DecodeDeadLetter разбирает DLQ-запись. Второй результат false означает,
// что запись не похожа ни на один поддерживаемый формат и её нужно
// пропустить; ошибка возвращается для записей знакомого формата без
// исходного события.
func DecodeDeadLetter(raw []byte, fallbackTopic string) (ReplayCandidate, bool, error) {
	var fromConsumer consumerDeadLetter
	if err := json.Unmarshal(raw, &fromConsumer); err == nil && fromConsumer.OriginalValue != "" {
		topic := strings.TrimSpace(fromConsumer.OriginalTopic)
		if topic == "" {
			topic = fallbackTopic
		}
		return ReplayCandidate{
			Topic:     topic,
			Key:       fromConsumer.OriginalKey,
			Value:     []byte(fromConsumer.OriginalValue),
			EventType: peekEventType([]byte(fromConsumer.OriginalValue)),
		}, true, nil
	}

	var envelope outboxEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope.Payload) == 0 {
		return ReplayCandidate{}, false, nil
	}

	var fromWorker workerDeadLetter
	if err := json.Unmarshal(envelope.Payload, &fromWorker); err != nil {
		return ReplayCandidate{}, false, fmt.Errorf("decode outbox dead letter: %w", err)
	}
	if len(fromWorker.Payload) == 0 {
		return ReplayCandidate{}, false, fmt.Errorf("outbox dead letter has no original event payload")
	}

	restored := outboxEnvelope{
		ID:            coalesce(fromWorker.OutboxID, envelope.ID),
		AggregateType: coalesce(fromWorker.AggregateType, envelope.AggregateType),
		AggregateID:   coalesce(fromWorker.AggregateID, envelope.AggregateID),
		EventType:     coalesce(fromWorker.EventType, envelope.EventType),
		Payload:       fromWorker.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(restored)
	if err != nil {
		return ReplayCandidate{}, false, fmt.Errorf("encode replay envelope: %w", err)
	}

	return ReplayCandidate{
		Topic:     fallbackTopic,
		Key:       coalesce(restored.AggregateID, restored.ID),
		Value:     encoded,
		EventType: restored.EventType,
	}, true, nil
}

// peekEventType достаёт event_type из произвольного JSON-события, если он там есть.
func peekEventType(raw []byte) string {
	var probe struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.EventType
}

func coalesce(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// OffsetLookup отдаёт партиции topic-а и границы их offset-ов.
// Её реализует sarama.Client.
type OffsetLookup interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, time int64) (int64, error)
}

// PartitionStream — поток сообщений одной партиции.
type PartitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

// PartitionSource открывает PartitionStream с заданного offset-а.
type PartitionSource interface {
	OpenPartition(topic string, partition int32, offset int64) (PartitionStream, error)
}

type saramaPartitionSource struct {
	consumer sarama.Consumer
}

// NewSaramaPartitionSource адаптирует sarama.Consumer к PartitionSource.
func NewSaramaPartitionSource(consumer sarama.Consumer) PartitionSource {
	return saramaPartitionSource{consumer: consumer}
}

func (s saramaPartitionSource) OpenPartition(topic string, partition int32, offset int64) (PartitionStream, error) {
	return s.consumer.ConsumePartition(topic, partition, offset)
}

// ScanOptions ограничивает проход по DLQ.
type ScanOptions struct {
	// Limit — максимум сообщений за проход, обязателен.
	Limit int
	// FromNewest читает хвост topic-а вместо начала; глубина — Limit.
	FromNewest bool
	// IdleTimeout завершает чтение партиции, простоявшей без сообщений.
	IdleTimeout time.Duration
}

// DLQScanner читает DLQ от начала (или хвоста) до high-water mark,
// зафиксированного на момент старта, и отдаёт сообщения handler-у.
// Это разовый bounded-проход, а не постоянный consumer.
type DLQScanner struct {
	offsets OffsetLookup
	source  PartitionSource
	logger  *log.Entry
}

// NewDLQScanner создаёт scanner поверх offset lookup и источника партиций.
func NewDLQScanner(offsets OffsetLookup, source PartitionSource) *DLQScanner {
	return &DLQScanner{
		offsets: offsets,
		source:  source,
		logger:  log.WithField("component", "dlq-scanner"),
	}
}

// Scan возвращает число прочитанных сообщений. Ошибка handler-а
// останавливает проход.
func (s *DLQScanner) Scan(ctx context.Context, topic string, opts ScanOptions, handle func(*sarama.ConsumerMessage) error) (int, error) {
	if s == nil || s.offsets == nil || s.source == nil {
		return 0, fmt.Errorf("dlq scanner is not initialized")
	}
	if opts.Limit <= 0 {
		return 0, fmt.Errorf("scan limit must be > 0")
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 2 * time.Second
	}

	partitions, err := s.offsets.Partitions(topic)
	if err != nil {
		return 0, fmt.Errorf("list partitions of %s: %w", topic, err)
	}
	if len(partitions) == 0 {
		s.logger.WithField("topic", topic).Warn("dlq topic has no partitions")
		return 0, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	scanned := 0
	for _, partition := range partitions {
		if scanned >= opts.Limit {
			break
		}
		n, err := s.scanPartition(ctx, topic, partition, opts.Limit-scanned, opts, handle)
		scanned += n
		if err != nil {
			return scanned, err
		}
	}
	return scanned, nil
}

func (s *DLQScanner) scanPartition(ctx context.Context, topic string, partition int32, budget int, opts ScanOptions, handle func(*sarama.ConsumerMessage) error) (int, error) {
	oldest, err := s.offsets.GetOffset(topic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := s.offsets.GetOffset(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return 0, nil
	}

	start := oldest
	if opts.FromNewest {
		if tail := newest - int64(budget); tail > start {
			start = tail
		}
	}

	stream, err := s.source.OpenPartition(topic, partition, start)
	if err != nil {
		return 0, fmt.Errorf("open partition %d: %w", partition, err)
	}
	defer func() { _ = stream.Close() }()

	idle := time.NewTimer(opts.IdleTimeout)
	defer idle.Stop()

	scanned := 0
	for scanned < budget {
		select {
		case <-ctx.Done():
			return scanned, ctx.Err()
		case consumeErr := <-stream.Errors():
			if consumeErr != nil {
				return scanned, fmt.Errorf("partition %d: %w", partition, consumeErr)
			}
		case msg, ok := <-stream.Messages():
			if !ok || msg == nil {
				return scanned, nil
			}
			// high-water mark зафиксирован на старте: сообщения,
			// записанные во время прохода, не читаем.
			if msg.Offset >= newest {
				return scanned, nil
			}

			resetTimer(idle, opts.IdleTimeout)

			scanned++
			if err := handle(msg); err != nil {
				return scanned, err
			}
			if msg.Offset+1 >= newest {
				return scanned, nil
			}
		case <-idle.C:
			return scanned, nil
		}
	}
	return scanned, nil
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
