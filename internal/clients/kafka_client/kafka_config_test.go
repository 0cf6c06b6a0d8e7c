package kafka_client

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKafkaConfigFallbacks(t *testing.T) {
	var empty KafkaConfig
	assert.Equal(t, KAFKA_TOPIC_MOVIE_REVIEWS, empty.topicOr(KAFKA_TOPIC_MOVIE_REVIEWS))
	assert.Equal(t, KAFKA_TOPIC_SENTIMENT_OUTCOMES, empty.topicOr(KAFKA_TOPIC_SENTIMENT_OUTCOMES))
	assert.Equal(t, KAFKA_GROUP_INGEST, empty.groupID())

	cfg := KafkaConfig{Topic: "reviews-eu", GroupID: "ingest-eu"}
	assert.Equal(t, "reviews-eu", cfg.topicOr(KAFKA_TOPIC_MOVIE_REVIEWS))
	assert.Equal(t, "ingest-eu", cfg.groupID())
}
