package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spacesedan/sentiflow-worker/internal/models"
)

type Analyzer interface {
	Analyze(ctx context.Context, batch models.ReviewBatch, timeout time.Duration) ([]models.AnalysisResult, error)
}

type ResultWriter interface {
	Store(ctx context.Context, results []models.AnalysisResult) (int, error)
}

// BatchProcessor turns one dequeued batch into exactly one JobOutcome. It never panics
// or returns an error; every failure is reported on the outcome.
type BatchProcessor struct {
	analyzer Analyzer
	store    ResultWriter
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func NewBatchProcessor(analyzer Analyzer, store ResultWriter, timeout time.Duration, logger *slog.Logger) *BatchProcessor {
	return &BatchProcessor{
		analyzer: analyzer,
		store:    store,
		timeout:  timeout,
		now:      time.Now,
		logger:   logger,
	}
}

func (p *BatchProcessor) Process(ctx context.Context, jobID string, batch models.ReviewBatch) models.JobOutcome {
	start := p.now()
	logger := p.logger.With(slog.String("job_id", jobID))

	if err := batch.Validate(); err != nil {
		logger.Warn("[BatchProcessor] Rejecting empty batch")
		return p.failed(jobID, start, models.KindInvalidInput, err)
	}

	logger.Info("[BatchProcessor] Processing batch", slog.Int("batch_size", len(batch)))

	results, err := p.analyzer.Analyze(ctx, batch, p.timeout)
	if err != nil {
		kind := models.KindServiceUnreachable
		var aerr *models.AnalysisError
		if errors.As(err, &aerr) {
			kind = aerr.OutcomeKind()
		}
		logger.Error("[BatchProcessor] Analysis failed",
			slog.String("error_kind", string(kind)),
			slog.String("error", err.Error()))
		return p.failed(jobID, start, kind, err)
	}

	stamp := p.now()
	for i := range results {
		results[i].ID = models.RecordID(jobID, i)
		results[i].Timestamp = stamp
		results[i].ProcessedBy = models.PROCESSED_BY
		results[i].ProcessingMode = models.PROCESSING_MODE
		results[i].WorkerJobID = jobID
	}

	return p.persist(ctx, jobID, start, results)
}

// Replay stores results kept from an earlier storage failure without analysing again.
func (p *BatchProcessor) Replay(ctx context.Context, jobID string, results []models.AnalysisResult) models.JobOutcome {
	start := p.now()
	if len(results) == 0 {
		return p.failed(jobID, start, models.KindInvalidInput, errors.New("no results to replay"))
	}
	return p.persist(ctx, jobID, start, results)
}

func (p *BatchProcessor) persist(ctx context.Context, jobID string, start time.Time, results []models.AnalysisResult) models.JobOutcome {
	logger := p.logger.With(slog.String("job_id", jobID))

	stored, err := p.store.Store(ctx, results)
	if err == nil && stored != len(results) {
		err = fmt.Errorf("stored %d of %d results", stored, len(results))
	}
	if err != nil {
		logger.Error("[BatchProcessor] Failed to store results",
			slog.Int("processed", len(results)),
			slog.String("error", err.Error()))
		outcome := p.failed(jobID, start, models.KindStorageFailure, err)
		outcome.ProcessedCount = len(results)
		outcome.StoredCount = 0
		outcome.AnalysisSucceeded = true
		outcome.Results = results
		return outcome
	}

	finished := p.now()
	logger.Info("[BatchProcessor] Batch processed",
		slog.Int("processed", len(results)),
		slog.Int("stored", stored),
		slog.Duration("elapsed", finished.Sub(start)))

	return models.JobOutcome{
		JobID:                 jobID,
		Success:               true,
		ProcessedCount:        len(results),
		StoredCount:           stored,
		AnalysisSucceeded:     true,
		ProcessingTimeSeconds: finished.Sub(start).Seconds(),
		Timestamp:             finished,
	}
}

func (p *BatchProcessor) failed(jobID string, start time.Time, kind models.ErrorKind, err error) models.JobOutcome {
	finished := p.now()
	return models.JobOutcome{
		JobID:                 jobID,
		Success:               false,
		Error:                 fmt.Sprintf("%s: %s", kind, err),
		ErrorKind:             kind,
		ProcessingTimeSeconds: finished.Sub(start).Seconds(),
		Timestamp:             finished,
	}
}
