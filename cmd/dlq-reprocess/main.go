// dlq-reprocess перечитывает dead letter queue сервиса заказов и повторно
// публикует восстановленные события в рабочий topic. По умолчанию работает
// в режиме dry-run: только печатает кандидатов и сводку по типам событий.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/delivery/internal/messaging/kafka"
)

type options struct {
	brokers     []string
	dlqTopic    string
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

// replaySink — минимальный surface sync-producer-а, чтобы replay был тестируем.
type replaySink interface {
	SendMessage(msg *sarama.ProducerMessage) (int32, int64, error)
}

// report — итог одного прохода по DLQ.
type report struct {
	scanned  int
	replayed int
	skipped  int
	byEvent  map[string]int
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		fail("%v", err)
	}
	if err := run(context.Background(), opts); err != nil {
		fail("dlq reprocess failed: %v", err)
	}
}

func parseOptions(args []string) (options, error) {
	var (
		opts       options
		brokersRaw string
	)

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers, comma-separated (fallback: DELIVERY_KAFKA_BROKERS)")
	fs.StringVar(&opts.dlqTopic, "dlq-topic", kafka.TopicDeadLetterQueue, "dead letter queue topic")
	fs.StringVar(&opts.targetTopic, "target-topic", kafka.TopicOrderEvents, "topic to replay events into")
	fs.IntVar(&opts.limit, "limit", 100, "max messages to scan per run")
	fs.BoolVar(&opts.execute, "execute", false, "publish candidates instead of dry-run")
	fs.BoolVar(&opts.fromNewest, "from-newest", false, "scan the tail of the queue instead of the head")
	fs.DurationVar(&opts.idleTimeout, "idle-timeout", 2*time.Second, "stop reading a silent partition after this long")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("DELIVERY_KAFKA_BROKERS")
	}
	for _, chunk := range strings.Split(brokersRaw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			opts.brokers = append(opts.brokers, broker)
		}
	}

	switch {
	case len(opts.brokers) == 0:
		return options{}, fmt.Errorf("kafka brokers are required (-brokers or DELIVERY_KAFKA_BROKERS)")
	case strings.TrimSpace(opts.dlqTopic) == "":
		return options{}, fmt.Errorf("dlq-topic is required")
	case strings.TrimSpace(opts.targetTopic) == "":
		return options{}, fmt.Errorf("target-topic is required")
	case opts.limit <= 0:
		return options{}, fmt.Errorf("limit must be > 0")
	}
	return opts, nil
}

func run(ctx context.Context, opts options) error {
	client, err := sarama.NewClient(opts.brokers, sarama.NewConfig())
	if err != nil {
		return fmt.Errorf("connect to kafka: %w", err)
	}
	defer func() { _ = client.Close() }()

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}
	defer func() { _ = consumer.Close() }()

	var sink replaySink
	if opts.execute {
		producer, err := sarama.NewSyncProducer(opts.brokers, kafka.SyncProducerConfig())
		if err != nil {
			return fmt.Errorf("create replay producer: %w", err)
		}
		defer func() { _ = producer.Close() }()
		sink = producer
	}

	scanner := kafka.NewDLQScanner(client, kafka.NewSaramaPartitionSource(consumer))
	summary, err := replay(ctx, opts, scanner, sink)
	logSummary(opts, summary)
	return err
}

// replay прогоняет scanner по DLQ и повторно публикует (или, в dry-run,
// логирует) каждое восстановленное событие.
func replay(ctx context.Context, opts options, scanner *kafka.DLQScanner, sink replaySink) (report, error) {
	if opts.execute && sink == nil {
		return report{}, fmt.Errorf("replay producer is required in execute mode")
	}

	summary := report{byEvent: map[string]int{}}
	scanOpts := kafka.ScanOptions{
		Limit:       opts.limit,
		FromNewest:  opts.fromNewest,
		IdleTimeout: opts.idleTimeout,
	}

	_, err := scanner.Scan(ctx, opts.dlqTopic, scanOpts, func(msg *sarama.ConsumerMessage) error {
		summary.scanned++

		candidate, ok, decodeErr := kafka.DecodeDeadLetter(msg.Value, opts.targetTopic)
		if decodeErr != nil {
			summary.skipped++
			log.WithError(decodeErr).WithFields(log.Fields{
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Warn("skip broken dead letter")
			return nil
		}
		if !ok {
			summary.skipped++
			return nil
		}

		eventType := candidate.EventType
		if eventType == "" {
			eventType = "unknown"
		}
		summary.byEvent[eventType]++

		if !opts.execute {
			log.WithFields(log.Fields{
				"partition":  msg.Partition,
				"offset":     msg.Offset,
				"topic":      candidate.Topic,
				"key":        candidate.Key,
				"event_type": eventType,
			}).Info("replay candidate")
			summary.replayed++
			return nil
		}

		_, _, sendErr := sink.SendMessage(&sarama.ProducerMessage{
			Topic:     candidate.Topic,
			Key:       sarama.StringEncoder(candidate.Key),
			Value:     sarama.ByteEncoder(candidate.Value),
			Timestamp: time.Now().UTC(),
		})
		if sendErr != nil {
			return fmt.Errorf("replay %s at %d/%d: %w", eventType, msg.Partition, msg.Offset, sendErr)
		}
		summary.replayed++
		return nil
	})
	return summary, err
}

func logSummary(opts options, summary report) {
	mode := "dry-run"
	if opts.execute {
		mode = "execute"
	}

	eventTypes := make([]string, 0, len(summary.byEvent))
	for eventType := range summary.byEvent {
		eventTypes = append(eventTypes, eventType)
	}
	sort.Strings(eventTypes)

	entry := log.WithFields(log.Fields{
		"mode":     mode,
		"scanned":  summary.scanned,
		"replayed": summary.replayed,
		"skipped":  summary.skipped,
	})
	for _, eventType := range eventTypes {
		entry = entry.WithField("events."+eventType, summary.byEvent[eventType])
	}
	entry.Info("dlq reprocess finished")
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
