package kafka_client

import (
	"fmt"
	"log/slog"

	"github.com/confluentinc/confluent-kafka-go/kafka"
)

// NewReviewConsumer subscribes to the review topic with manual offset commits. Offsets are
// committed only after the batch has been enqueued.
func NewReviewConsumer(cfg KafkaConfig, logger *slog.Logger) (*kafka.Consumer, error) {
	topic := cfg.topicOr(KAFKA_TOPIC_MOVIE_REVIEWS)
	logger.Info("[KafkaClient] Initializing Kafka Consumer...",
		slog.String("broker", cfg.Broker),
		slog.String("group_id", cfg.groupID()),
		slog.String("topic", topic))

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Broker,
		"group.id":           cfg.groupID(),
		"client.id":          cfg.ClientID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
		"isolation.level":    "read_committed",
	})
	if err != nil {
		return nil, fmt.Errorf("[KafkaClient] Failed to create consumer: %w", err)
	}

	if err := c.SubscribeTopics([]string{topic}, nil); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("[KafkaClient] Failed to subscribe to topics: %w", err)
	}

	logger.Info("[KafkaClient] Kafka Consumer initialized successfully")
	return c, nil
}
