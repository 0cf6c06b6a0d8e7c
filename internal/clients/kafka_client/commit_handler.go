package kafka_client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
)

type KafkaCommitHandler struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

func NewCommitHandler(consumer *kafka.Consumer, logger *slog.Logger) *KafkaCommitHandler {
	return &KafkaCommitHandler{
		consumer: consumer,
		logger:   logger,
	}
}

func (ch *KafkaCommitHandler) Commit(ctx context.Context, msg *kafka.Message) error {
	if ch.consumer == nil {
		return errors.New("[KafkaCommitHandler] Kafka consumer has not been initialized")
	}

	partition := slog.Int("partition", int(msg.TopicPartition.Partition))
	offset := slog.String("offset", msg.TopicPartition.Offset.String())

	for i := 0; i < MAX_RETRIES; i++ {
		_, err := ch.consumer.CommitMessage(msg)
		if err == nil {
			ch.logger.Debug("[KafkaCommitHandler] Successfully committed offset", partition, offset)
			return nil
		}
		ch.logger.Warn("[KafkaCommitHandler] Failed to commit offset, retrying...",
			slog.Int("attempt", i+1),
			slog.String("error", err.Error()),
			partition, offset)

		var kafkaErr kafka.Error
		if errors.As(err, &kafkaErr) && kafkaErr.Code() == kafka.ErrAllBrokersDown {
			ch.logger.Error("[KafkaCommitHandler] All Kafka brokers are down. Aborting commit")
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(RETRY_DELAY):
		}
	}

	return fmt.Errorf("[KafkaCommitHandler] Failed to commit message after %d retries", MAX_RETRIES)
}
