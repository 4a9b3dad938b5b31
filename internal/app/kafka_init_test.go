package app

import (
	"reflect"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestSplitBrokers(t *testing.T) {
	cases := []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{" , ,", nil},
		{"broker1:9092", []string{"broker1:9092"}},
		{"broker1:9092, broker2:9092 ,broker3:9092", []string{"broker1:9092", "broker2:9092", "broker3:9092"}},
	}

	for _, tc := range cases {
		if got := splitBrokers(tc.raw); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("splitBrokers(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestInitKafkaProducer_DisabledWithoutBrokers(t *testing.T) {
	producer, err := initKafkaProducer("  ,  ", log.WithField("test", "kafka"))
	if err != nil {
		t.Errorf("empty broker list should not fail: %v", err)
	}
	if producer != nil {
		t.Error("expected nil producer when kafka is disabled")
	}
}

func TestInitKafkaProducer_UnreachableBrokers(t *testing.T) {
	producer, err := initKafkaProducer("invalid-broker:9999", log.WithField("test", "kafka"))
	if err == nil {
		t.Error("expected error for unreachable brokers")
	}
	if producer != nil {
		t.Error("expected nil producer on error")
	}
}

func TestCloseKafka_NilProducer(_ *testing.T) {
	closeKafka(nil, log.WithField("test", "kafka"))
}
