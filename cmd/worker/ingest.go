package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spacesedan/sentiflow-worker/internal/app"
	"github.com/spacesedan/sentiflow-worker/internal/clients/kafka_client"
	"github.com/spacesedan/sentiflow-worker/internal/ingest"
	"github.com/spacesedan/sentiflow-worker/internal/utils"
	"github.com/spf13/cobra"
)

var ingestBatchSize int

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Move review batches from the Kafka review topic onto the job queue",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.Kafka.Enabled() {
			return errors.New("KAFKA_BROKER is not set")
		}

		q, err := app.ConnectQueue(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer q.Close()

		consumer, err := kafka_client.NewReviewConsumer(kafka_client.KafkaConfig{
			Broker:   cfg.Kafka.Broker,
			Topic:    cfg.Kafka.ReviewTopic,
			GroupID:  cfg.Kafka.GroupID,
			ClientID: cfg.WorkerName,
		}, logger)
		if err != nil {
			return err
		}
		defer consumer.Close()

		bridge := ingest.NewBridge(
			kafka_client.NewKafkaMessageIterator(consumer, logger),
			kafka_client.NewCommitHandler(consumer, logger),
			q, ingestBatchSize, logger)
		return bridge.Run(ctx)
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	ingestCmd.Flags().IntVar(&ingestBatchSize, "batch-size", utils.DEFAULT_BATCH_SIZE, "Reviews per job")
	rootCmd.AddCommand(ingestCmd)
}
