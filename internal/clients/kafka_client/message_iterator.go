package kafka_client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
)

type KafkaMessageIterator struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

func NewKafkaMessageIterator(consumer *kafka.Consumer, logger *slog.Logger) *KafkaMessageIterator {
	return &KafkaMessageIterator{
		consumer: consumer,
		logger:   logger,
	}
}

// Next blocks until a message arrives or ctx is done. Reads time out every READ_TIMEOUT so
// cancellation is noticed; those timeouts do not count as failures.
func (it *KafkaMessageIterator) Next(ctx context.Context) (*kafka.Message, error) {
	if it.consumer == nil {
		return nil, errors.New("[KafkaIterator] Kafka consumer has not been initialized")
	}

	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			it.logger.Debug("[KafkaIterator] Context cancelled, stopping iterator")
			return nil, err
		}

		msg, err := it.consumer.ReadMessage(READ_TIMEOUT)
		if err == nil {
			return msg, nil
		}

		var kafkaErr kafka.Error
		if errors.As(err, &kafkaErr) {
			switch kafkaErr.Code() {
			case kafka.ErrTimedOut:
				continue
			case kafka.ErrAllBrokersDown:
				it.logger.Error("[KafkaIterator] All Kafka brokers are down. Aborting")
				return nil, err
			}
		}

		failures++
		if failures >= MAX_RETRIES {
			return nil, errors.New("[KafkaIterator] Failed to read message after retries")
		}
		it.logger.Warn("[KafkaIterator] Failed to read message, retrying...",
			slog.Int("attempt", failures),
			slog.Int("max_retries", MAX_RETRIES),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(RETRY_DELAY):
		}
	}
}
