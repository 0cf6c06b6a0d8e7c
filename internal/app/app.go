package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spacesedan/sentiflow-worker/config"
	"github.com/spacesedan/sentiflow-worker/internal/clients"
	"github.com/spacesedan/sentiflow-worker/internal/clients/kafka_client"
	"github.com/spacesedan/sentiflow-worker/internal/db"
	"github.com/spacesedan/sentiflow-worker/internal/models"
	"github.com/spacesedan/sentiflow-worker/internal/monitoring"
	"github.com/spacesedan/sentiflow-worker/internal/processing"
	"github.com/spacesedan/sentiflow-worker/internal/queue"
	"github.com/spacesedan/sentiflow-worker/internal/sentiment"
	"github.com/spacesedan/sentiflow-worker/internal/worker"
)

// Analyzer is a batch analysis backend that can also report its own health.
type Analyzer interface {
	processing.Analyzer
	monitoring.ServicePinger
}

type Publisher interface {
	worker.OutcomePublisher
	Close()
}

// App holds the long-lived dependencies shared by the worker and the CLI commands.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     db.ResultStore
	Analyzer  Analyzer
	Health    *monitoring.HealthAggregator
	Processor *processing.BatchProcessor
	Publisher Publisher
}

// New builds everything except the queue connection, which belongs to the worker.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, func(), error) {
	store, err := newStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, nil, err
	}

	analyzer := newAnalyzer(ctx, cfg.Analysis, logger)

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		_ = store.Close(ctx)
		return nil, nil, err
	}

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Analyzer:  analyzer,
		Health:    monitoring.NewHealthAggregator(analyzer, store, cfg.Analysis.HealthTimeout, logger),
		Processor: processing.NewBatchProcessor(analyzer, store, cfg.Analysis.Timeout, logger),
		Publisher: publisher,
	}

	cleanup := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		publisher.Close()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn("[App] Failed to close result store", slog.String("error", err.Error()))
		}
	}
	return a, cleanup, nil
}

func newStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (db.ResultStore, error) {
	switch cfg.Backend {
	case config.STORE_MEMORY:
		logger.Warn("[App] Using in-memory result store, results are lost on exit")
		return db.NewMemoryStore(), nil
	case config.STORE_DYNAMODB:
		awsCfg, err := clients.LoadAWSConfig(ctx, clients.AWSOptions{Region: cfg.AWSRegion, Endpoint: cfg.AWSEndpoint}, logger)
		if err != nil {
			return nil, err
		}
		return db.NewDynamoDBStore(clients.NewDynamoDBClient(awsCfg, cfg.AWSEndpoint), cfg.DynamoDBTable, logger), nil
	default:
		return db.NewMongoStore(db.MongoOptions{
			URI:        cfg.MongoURI,
			Database:   cfg.DatabaseName,
			Collection: cfg.CollectionName,
		}, logger), nil
	}
}

func newAnalyzer(ctx context.Context, cfg config.AnalysisConfig, logger *slog.Logger) Analyzer {
	if cfg.Backend == config.ANALYZER_VADER {
		logger.Info("[App] Using local VADER analyzer")
		return sentiment.NewVaderAnalyzer(logger)
	}

	httpClient := clients.NewHTTPClient(ctx, clients.OAuthConfig{
		TokenURL:     cfg.OAuthTokenURL,
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
	})
	return clients.NewAnalysisClient(cfg.ServiceURL, httpClient, logger)
}

func newPublisher(cfg *config.Config, logger *slog.Logger) (Publisher, error) {
	if !cfg.Kafka.Enabled() {
		return kafka_client.NoopProducer{}, nil
	}
	producer, err := kafka_client.NewOutcomeProducer(kafka_client.KafkaConfig{
		Broker:   cfg.Kafka.Broker,
		Topic:    cfg.Kafka.OutcomeTopic,
		ClientID: cfg.WorkerName,
	}, logger)
	if err != nil {
		return nil, err
	}
	return producer, nil
}

// StoreLocation describes where results are kept, without credentials.
func (a *App) StoreLocation() string {
	switch a.Store.Backend() {
	case db.BACKEND_MONGO:
		return fmt.Sprintf("%s.%s", a.Config.Store.DatabaseName, a.Config.Store.CollectionName)
	case db.BACKEND_DYNAMODB:
		return fmt.Sprintf("%s (%s)", a.Config.Store.DynamoDBTable, a.Config.Store.AWSRegion)
	default:
		return db.BACKEND_MEMORY
	}
}

// ConnectQueue makes the single connection attempt to the queue broker.
func (a *App) ConnectQueue(ctx context.Context) (*queue.Queue, error) {
	return ConnectQueue(ctx, a.Config, a.Logger)
}

func ConnectQueue(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*queue.Queue, error) {
	qc := cfg.Queue
	vc, err := clients.NewValkeyClient(ctx, clients.ValkeyOptions{
		Addr:     qc.Addr(),
		Password: qc.RedisPassword,
		DB:       qc.RedisDB,

		ForceSingleClient: qc.RedisStandalone,
	}, logger)
	if err != nil {
		return nil, err
	}

	return queue.New(vc, queue.Options{
		Name:         qc.Name,
		Worker:       cfg.WorkerName,
		MaxAttempts:  qc.MaxAttempts,
		RetryBackoff: qc.RetryBackoff,
	}, logger), nil
}

func (a *App) NewWorker() *worker.Worker {
	connect := func(ctx context.Context) (worker.JobQueue, error) {
		q, err := a.ConnectQueue(ctx)
		if err != nil {
			return nil, err
		}
		return q, nil
	}

	return worker.New(worker.Options{
		Name:        a.Config.WorkerName,
		PollTimeout: a.Config.Queue.PollTimeout,
	}, connect, a.Processor, a.Health, a.Publisher, a.Logger)
}

// FailedJobSource is the part of the queue the storage replay needs.
type FailedJobSource interface {
	FailedJobs(ctx context.Context, limit int64) ([]models.FailedJob, error)
	RemoveFailed(ctx context.Context, id string) error
}

type ReplayReport struct {
	Replayed int
	Skipped  int
	Failed   int
}

// ReplayStorageFailures stores the kept results of failed jobs whose analysis succeeded
// but whose storage did not. Replayed jobs leave the failed registry.
func ReplayStorageFailures(ctx context.Context, source FailedJobSource, processor *processing.BatchProcessor, limit int64, logger *slog.Logger) (ReplayReport, error) {
	var report ReplayReport

	failed, err := source.FailedJobs(ctx, limit)
	if err != nil {
		return report, err
	}

	for _, entry := range failed {
		if entry.Outcome.ErrorKind != models.KindStorageFailure || len(entry.Outcome.Results) == 0 {
			report.Skipped++
			continue
		}

		outcome := processor.Replay(ctx, entry.Job.ID, entry.Outcome.Results)
		if !outcome.Success {
			report.Failed++
			logger.Warn("[Replay] Storage still failing",
				slog.String("job_id", entry.Job.ID),
				slog.String("error", outcome.Error))
			continue
		}

		if err := source.RemoveFailed(ctx, entry.Job.ID); err != nil {
			return report, fmt.Errorf("stored job %s but could not remove it from the failed registry: %w", entry.Job.ID, err)
		}
		report.Replayed++
		logger.Info("[Replay] Stored results of failed job",
			slog.String("job_id", entry.Job.ID),
			slog.Int("stored", outcome.StoredCount))
	}
	return report, nil
}
