package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	ANALYZER_REMOTE = "remote"
	ANALYZER_VADER  = "vader"

	STORE_MONGO    = "mongo"
	STORE_DYNAMODB = "dynamodb"
	STORE_MEMORY   = "memory"
)

type Config struct {
	LogLevel   string `mapstructure:"log_level" validate:"oneof=debug info warn warning error"`
	WorkerName string `mapstructure:"worker_name"`
	HealthAddr string `mapstructure:"health_addr"`

	Queue    QueueConfig    `mapstructure:",squash"`
	Analysis AnalysisConfig `mapstructure:",squash"`
	Store    StoreConfig    `mapstructure:",squash"`
	Kafka    KafkaConfig    `mapstructure:",squash"`
}

type QueueConfig struct {
	RedisHost       string        `mapstructure:"redis_host" validate:"required"`
	RedisPort       int           `mapstructure:"redis_port" validate:"gt=0,lt=65536"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db" validate:"gte=0"`
	RedisStandalone bool          `mapstructure:"redis_standalone"`
	Name            string        `mapstructure:"queue_name" validate:"required"`
	MaxAttempts     int           `mapstructure:"queue_max_attempts" validate:"gte=1"`
	RetryBackoff    time.Duration `mapstructure:"queue_retry_backoff" validate:"gte=0"`
	PollTimeout     time.Duration `mapstructure:"queue_poll_timeout" validate:"gt=0"`
}

func (q QueueConfig) Addr() string {
	return net.JoinHostPort(q.RedisHost, strconv.Itoa(q.RedisPort))
}

type AnalysisConfig struct {
	Backend           string        `mapstructure:"analyzer_backend" validate:"oneof=remote vader"`
	ServiceURL        string        `mapstructure:"ml_service_url" validate:"required,url"`
	Timeout           time.Duration `mapstructure:"analysis_timeout" validate:"gt=0"`
	HealthTimeout     time.Duration `mapstructure:"health_timeout" validate:"gt=0"`
	OAuthTokenURL     string        `mapstructure:"analysis_oauth_token_url" validate:"omitempty,url"`
	OAuthClientID     string        `mapstructure:"analysis_oauth_client_id" validate:"required_with=OAuthTokenURL"`
	OAuthClientSecret string        `mapstructure:"analysis_oauth_client_secret" validate:"required_with=OAuthTokenURL"`
}

type StoreConfig struct {
	Backend        string `mapstructure:"store_backend" validate:"oneof=mongo dynamodb memory"`
	MongoURI       string `mapstructure:"mongo_uri"`
	DatabaseName   string `mapstructure:"database_name"`
	CollectionName string `mapstructure:"collection_name"`
	DynamoDBTable  string `mapstructure:"dynamodb_table"`
	AWSRegion      string `mapstructure:"aws_region"`
	AWSEndpoint    string `mapstructure:"aws_endpoint"`
}

type KafkaConfig struct {
	Broker       string `mapstructure:"kafka_broker"`
	OutcomeTopic string `mapstructure:"kafka_outcome_topic"`
	ReviewTopic  string `mapstructure:"kafka_review_topic"`
	GroupID      string `mapstructure:"kafka_group_id"`
}

func (k KafkaConfig) Enabled() bool {
	return k.Broker != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("WORKER_NAME", fmt.Sprintf("sentiment-worker-%d", os.Getpid()))
	v.SetDefault("HEALTH_ADDR", ":8081")

	v.SetDefault("REDIS_HOST", "redis")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_STANDALONE", false)
	v.SetDefault("QUEUE_NAME", "sentiment_analysis")
	v.SetDefault("QUEUE_MAX_ATTEMPTS", 3)
	v.SetDefault("QUEUE_RETRY_BACKOFF", "30s")
	v.SetDefault("QUEUE_POLL_TIMEOUT", "2s")

	v.SetDefault("ANALYZER_BACKEND", ANALYZER_REMOTE)
	v.SetDefault("ML_SERVICE_URL", "http://localhost:8000")
	v.SetDefault("ANALYSIS_TIMEOUT", "300s")
	v.SetDefault("HEALTH_TIMEOUT", "5s")
	v.SetDefault("ANALYSIS_OAUTH_TOKEN_URL", "")
	v.SetDefault("ANALYSIS_OAUTH_CLIENT_ID", "")
	v.SetDefault("ANALYSIS_OAUTH_CLIENT_SECRET", "")

	v.SetDefault("STORE_BACKEND", STORE_MONGO)
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/")
	v.SetDefault("DATABASE_NAME", "sentiment_db")
	v.SetDefault("COLLECTION_NAME", "results")
	v.SetDefault("DYNAMODB_TABLE", "SentimentResults")
	v.SetDefault("AWS_REGION", "us-west-2")
	v.SetDefault("AWS_ENDPOINT", "")

	v.SetDefault("KAFKA_BROKER", "")
	v.SetDefault("KAFKA_OUTCOME_TOPIC", "sentiment-outcomes")
	v.SetDefault("KAFKA_REVIEW_TOPIC", "movie-reviews")
	v.SetDefault("KAFKA_GROUP_ID", "sentiflow-ingest")
}

// Load reads the worker configuration from the environment. It is consumed once at
// startup.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
