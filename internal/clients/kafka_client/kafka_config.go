package kafka_client

type KafkaConfig struct {
	Broker  string
	Topic   string
	GroupID string
	// ClientID identifies the worker to the broker.
	ClientID string
}

func (c KafkaConfig) topicOr(fallback string) string {
	if c.Topic == "" {
		return fallback
	}
	return c.Topic
}

func (c KafkaConfig) groupID() string {
	if c.GroupID == "" {
		return KAFKA_GROUP_INGEST
	}
	return c.GroupID
}
