package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// Producer — синхронный Kafka-продюсер поверх sarama. Отправляет
// события заказов с подтверждением от всех реплик.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

// SyncProducerConfig возвращает конфигурацию идемпотентного синхронного
// продюсера. Её же использует утилита переотправки DLQ, чтобы replay шёл
// с теми же гарантиями, что и основной поток.
func SyncProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Idempotent = true
	// Идемпотентность требует не более одного запроса в полёте.
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// NewProducer подключается к брокерам и создаёт продюсер.
func NewProducer(brokers []string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers list is empty")
	}

	sync, err := sarama.NewSyncProducer(brokers, SyncProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return &Producer{
		producer: sync,
		logger:   log.WithField("component", "kafka-producer"),
	}, nil
}

// PublishEvent сериализует событие в JSON и отправляет его в topic.
// Ключ задаёт партицию: события с одним ключом сохраняют порядок.
func (p *Producer) PublishEvent(topic, key string, event interface{}) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka producer is not initialized")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event for topic %s: %w", topic, err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(body),
	})
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"topic": topic,
			"key":   key,
		}).Error("Не удалось отправить сообщение в Kafka")
		return fmt.Errorf("send message to topic %s: %w", topic, err)
	}

	p.logger.WithFields(log.Fields{
		"topic":     topic,
		"key":       key,
		"partition": partition,
		"offset":    offset,
	}).Debug("Сообщение отправлено в Kafka")

	return nil
}

// Close закрывает подключение к брокерам.
func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
