package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/spacesedan/sentiflow-worker/internal/models"
	"github.com/spacesedan/sentiflow-worker/internal/utils"
)

type MessageSource interface {
	Next(ctx context.Context) (*kafka.Message, error)
}

type Committer interface {
	Commit(ctx context.Context, msg *kafka.Message) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, batch models.ReviewBatch) (string, error)
}

type Report struct {
	Messages int64 `json:"messages"`
	Jobs     int64 `json:"jobs"`
	Skipped  int64 `json:"skipped"`
}

// Bridge moves review batches from a Kafka topic onto the job queue. An offset is
// committed only once every job of its message is enqueued, so a crash in between
// re-enqueues the message on restart.
type Bridge struct {
	source    MessageSource
	committer Committer
	queue     Enqueuer
	batchSize int
	logger    *slog.Logger

	messages atomic.Int64
	jobs     atomic.Int64
	skipped  atomic.Int64
}

func NewBridge(source MessageSource, committer Committer, queue Enqueuer, batchSize int, logger *slog.Logger) *Bridge {
	if batchSize <= 0 {
		batchSize = utils.DEFAULT_BATCH_SIZE
	}
	return &Bridge{
		source:    source,
		committer: committer,
		queue:     queue,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run returns nil once ctx is cancelled, or the first read, enqueue or commit error.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("[Ingest] Listening for review batches", slog.Int("batch_size", b.batchSize))

	for {
		msg, err := b.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				b.logger.Info("[Ingest] Stopped", slog.Any("report", b.Report()))
				return nil
			}
			return fmt.Errorf("failed to read review message: %w", err)
		}

		if err := b.handle(ctx, msg); err != nil {
			return err
		}
		if err := b.committer.Commit(ctx, msg); err != nil {
			return fmt.Errorf("failed to commit review message: %w", err)
		}
	}
}

func (b *Bridge) handle(ctx context.Context, msg *kafka.Message) error {
	b.messages.Add(1)

	batch, err := models.DecodeReviewBatch(msg.Value)
	if err == nil {
		err = batch.Validate()
	}
	if err != nil {
		// Undecodable messages would block the partition forever; skip and commit them.
		b.skipped.Add(1)
		b.logger.Warn("[Ingest] Skipping unusable message",
			slog.String("key", string(msg.Key)),
			slog.String("offset", msg.TopicPartition.Offset.String()),
			slog.String("error", err.Error()))
		return nil
	}

	for _, chunk := range utils.Chunk(batch, b.batchSize) {
		id, err := b.queue.Enqueue(ctx, chunk)
		if err != nil {
			return fmt.Errorf("failed to enqueue review batch: %w", err)
		}
		b.jobs.Add(1)
		b.logger.Debug("[Ingest] Enqueued job", slog.String("job_id", id), slog.Int("reviews", len(chunk)))
	}
	return nil
}

func (b *Bridge) Report() Report {
	return Report{
		Messages: b.messages.Load(),
		Jobs:     b.jobs.Load(),
		Skipped:  b.skipped.Load(),
	}
}
