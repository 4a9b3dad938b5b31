package kafka

import (
	"strings"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

func mockedProducer(t *testing.T) (*Producer, *mocks.SyncProducer) {
	t.Helper()
	mock := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	return &Producer{
		producer: mock,
		logger:   log.WithField("component", "kafka-producer"),
	}, mock
}

func TestSyncProducerConfig(t *testing.T) {
	cfg := SyncProducerConfig()

	if !cfg.Producer.Idempotent {
		t.Error("продюсер должен быть идемпотентным")
	}
	if cfg.Net.MaxOpenRequests != 1 {
		t.Errorf("MaxOpenRequests = %d, ожидали 1", cfg.Net.MaxOpenRequests)
	}
	if cfg.Producer.RequiredAcks != sarama.WaitForAll {
		t.Errorf("RequiredAcks = %v, ожидали WaitForAll", cfg.Producer.RequiredAcks)
	}
	if !cfg.Producer.Return.Successes {
		t.Error("синхронному продюсеру нужен Return.Successes")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("конфигурация невалидна: %v", err)
	}
}

func TestNewProducer_EmptyBrokers(t *testing.T) {
	if _, err := NewProducer(nil); err == nil {
		t.Fatal("ожидали ошибку при пустом списке брокеров")
	}
}

func TestPublishEvent(t *testing.T) {
	producer, mock := mockedProducer(t)

	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		if !strings.Contains(string(value), `"order_id":7`) {
			t.Errorf("в сообщении нет payload события: %s", value)
		}
		return nil
	})

	event := map[string]interface{}{"order_id": 7, "status": "ENTREGADO"}
	if err := producer.PublishEvent(TopicOrderEvents, "7", event); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}
}

func TestPublishEvent_BrokerError(t *testing.T) {
	producer, mock := mockedProducer(t)
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := producer.PublishEvent(TopicOrderEvents, "7", map[string]string{"k": "v"})
	if err == nil {
		t.Fatal("ожидали ошибку брокера")
	}
	if !strings.Contains(err.Error(), TopicOrderEvents) {
		t.Errorf("ошибка не называет topic: %v", err)
	}
}

func TestPublishEvent_UnserializableEvent(t *testing.T) {
	producer, _ := mockedProducer(t)

	if err := producer.PublishEvent(TopicOrderEvents, "7", make(chan int)); err == nil {
		t.Fatal("ожидали ошибку сериализации")
	}
}

func TestPublishEvent_NilProducer(t *testing.T) {
	var producer *Producer
	if err := producer.PublishEvent(TopicOrderEvents, "7", "x"); err == nil {
		t.Fatal("nil-продюсер должен возвращать ошибку")
	}
}
