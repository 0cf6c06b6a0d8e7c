package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/spacesedan/sentiflow-worker/config"
	"github.com/spacesedan/sentiflow-worker/internal/db"
	"github.com/spacesedan/sentiflow-worker/internal/models"
	"github.com/spacesedan/sentiflow-worker/internal/processing"
	"github.com/spacesedan/sentiflow-worker/internal/sentiment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func localConfig() *config.Config {
	return &config.Config{
		WorkerName: "test-worker",
		Queue:      config.QueueConfig{Name: "sentiment_analysis", PollTimeout: time.Second, MaxAttempts: 3},
		Analysis: config.AnalysisConfig{
			Backend:       config.ANALYZER_VADER,
			Timeout:       time.Second,
			HealthTimeout: time.Second,
		},
		Store: config.StoreConfig{Backend: config.STORE_MEMORY},
	}
}

func TestNew_LocalBackends(t *testing.T) {
	a, cleanup, err := New(context.Background(), localConfig(), discardLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, db.BACKEND_MEMORY, a.Store.Backend())
	assert.Equal(t, db.BACKEND_MEMORY, a.StoreLocation())
	assert.IsType(t, &sentiment.VaderAnalyzer{}, a.Analyzer)

	snapshot := a.Health.Check(context.Background())
	assert.True(t, snapshot.Healthy())

	outcome := a.Processor.Process(context.Background(), "job-1", models.ReviewBatch{
		{MovieName: "Up", ReviewText: "I love this wonderful film"},
	})
	assert.True(t, outcome.Success)
	assert.Equal(t, 1, outcome.StoredCount)
	assert.NoError(t, a.Publisher.Publish(context.Background(), outcome))
}

type fakeFailedJobs struct {
	jobs    []models.FailedJob
	removed []string
}

func (f *fakeFailedJobs) FailedJobs(ctx context.Context, limit int64) ([]models.FailedJob, error) {
	return f.jobs, nil
}

func (f *fakeFailedJobs) RemoveFailed(ctx context.Context, id string) error {
	f.removed = append(f.removed, id)
	return nil
}

type failingWriter struct{}

func (failingWriter) Store(context.Context, []models.AnalysisResult) (int, error) {
	return 0, errors.New("still down")
}

func TestReplayStorageFailures(t *testing.T) {
	kept := []models.AnalysisResult{
		{ID: "job-a:0", MovieName: "Up", Sentiment: models.SentimentPositive, Confidence: 0.9, WorkerJobID: "job-a"},
		{ID: "job-a:1", MovieName: "Up", Sentiment: models.SentimentNeutral, Confidence: 0.6, WorkerJobID: "job-a"},
	}
	source := &fakeFailedJobs{jobs: []models.FailedJob{
		{Job: models.Job{ID: "job-a"}, Outcome: models.JobOutcome{ErrorKind: models.KindStorageFailure, Results: kept}},
		{Job: models.Job{ID: "job-b"}, Outcome: models.JobOutcome{ErrorKind: models.KindServiceTimeout}},
	}}
	store := db.NewMemoryStore()
	processor := processing.NewBatchProcessor(sentiment.NewVaderAnalyzer(discardLogger()), store, time.Second, discardLogger())

	report, err := ReplayStorageFailures(context.Background(), source, processor, 100, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, ReplayReport{Replayed: 1, Skipped: 1}, report)
	assert.Equal(t, []string{"job-a"}, source.removed)

	count, err := store.Count(context.Background(), db.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestReplayStorageFailures_KeepsJobWhenStoreStillFails(t *testing.T) {
	source := &fakeFailedJobs{jobs: []models.FailedJob{
		{Job: models.Job{ID: "job-a"}, Outcome: models.JobOutcome{
			ErrorKind: models.KindStorageFailure,
			Results:   []models.AnalysisResult{{ID: "job-a:0", MovieName: "Up", Sentiment: models.SentimentPositive, Confidence: 1}},
		}},
	}}
	processor := processing.NewBatchProcessor(sentiment.NewVaderAnalyzer(discardLogger()), failingWriter{}, time.Second, discardLogger())

	report, err := ReplayStorageFailures(context.Background(), source, processor, 100, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Empty(t, source.removed)
}
