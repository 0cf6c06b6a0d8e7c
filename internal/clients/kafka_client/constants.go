package kafka_client

import "time"

const (
	KAFKA_TOPIC_MOVIE_REVIEWS      = "movie-reviews"      // review batches from upstream scrapers
	KAFKA_TOPIC_SENTIMENT_OUTCOMES = "sentiment-outcomes" // one event per processed batch
	KAFKA_GROUP_INGEST             = "sentiflow-ingest"
)

const (
	MAX_RETRIES     = 5
	RETRY_DELAY     = 2 * time.Second
	READ_TIMEOUT    = time.Second
	PUBLISH_RETRIES = 3
	FLUSH_TIMEOUT   = 5 * time.Second
)
