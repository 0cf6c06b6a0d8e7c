package kafka_client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/spacesedan/sentiflow-worker/internal/models"
)

// OutcomeProducer publishes job outcomes, keyed by job id, for downstream consumers.
type OutcomeProducer struct {
	producer *kafka.Producer
	topic    string
	logger   *slog.Logger
}

func NewOutcomeProducer(cfg KafkaConfig, logger *slog.Logger) (*OutcomeProducer, error) {
	logger.Info("[KafkaClient] Initializing Kafka Producer...",
		slog.String("broker", cfg.Broker),
		slog.String("topic", cfg.topicOr(KAFKA_TOPIC_SENTIMENT_OUTCOMES)))

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":                     cfg.Broker,
		"client.id":                             cfg.ClientID,
		"security.protocol":                     "PLAINTEXT",
		"api.version.request":                   "true",
		"enable.idempotence":                    true,
		"acks":                                  "all",
		"max.in.flight.requests.per.connection": 1,
	})
	if err != nil {
		return nil, fmt.Errorf("[KafkaClient] Failed to create producer: %w", err)
	}

	logger.Info("[KafkaClient] Kafka Producer initialized successfully")
	return &OutcomeProducer{producer: p, topic: cfg.topicOr(KAFKA_TOPIC_SENTIMENT_OUTCOMES), logger: logger}, nil
}

// Publish blocks until the broker acknowledges the event or ctx is done.
func (op *OutcomeProducer) Publish(ctx context.Context, outcome models.JobOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("[KafkaClient] failed to marshal outcome: %w", err)
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &op.topic, Partition: kafka.PartitionAny},
		Key:            []byte(outcome.JobID),
		Value:          data,
	}

	delivery := make(chan kafka.Event, 1)
	for i := 0; i < PUBLISH_RETRIES; i++ {
		err = op.producer.Produce(msg, delivery)
		if err == nil {
			break
		}
		op.logger.Warn("[KafkaClient] Failed to produce message, retrying...",
			slog.Int("attempt", i+1),
			slog.String("error", err.Error()))
	}
	if err != nil {
		return fmt.Errorf("[KafkaClient] failed to produce outcome: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case ev := <-delivery:
		m, ok := ev.(*kafka.Message)
		if !ok {
			return fmt.Errorf("[KafkaClient] unexpected delivery event %v", ev)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("[KafkaClient] delivery failed: %w", m.TopicPartition.Error)
		}
	}

	op.logger.Debug("[KafkaClient] Published job outcome",
		slog.String("topic", op.topic),
		slog.String("job_id", outcome.JobID),
		slog.Bool("success", outcome.Success))
	return nil
}

func (op *OutcomeProducer) Close() {
	op.logger.Info("[KafkaClient] Flushing Kafka producer before shutdown...")
	if remaining := op.producer.Flush(int(FLUSH_TIMEOUT.Milliseconds())); remaining > 0 {
		op.logger.Warn("[KafkaClient] Not all messages were delivered before shutdown",
			slog.Int("remaining", remaining))
	}
	op.producer.Close()
	op.logger.Info("[KafkaClient] Kafka producer shut down")
}

// NoopProducer is used when no broker is configured.
type NoopProducer struct{}

func (NoopProducer) Publish(context.Context, models.JobOutcome) error { return nil }

func (NoopProducer) Close() {}
