package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/spacesedan/sentiflow-worker/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func result(jobID string, pos int, movie string, sentiment models.Sentiment, confidence float64) models.AnalysisResult {
	return models.AnalysisResult{
		ID:             models.RecordID(jobID, pos),
		MovieName:      movie,
		Sentiment:      sentiment,
		Confidence:     confidence,
		Timestamp:      time.Date(2024, 1, 1, 0, 0, pos, 0, time.UTC),
		ProcessedBy:    models.PROCESSED_BY,
		ProcessingMode: models.PROCESSING_MODE,
		WorkerJobID:    jobID,
	}
}

func seed(t *testing.T, store ResultStore) {
	t.Helper()
	n, err := store.Store(context.Background(), []models.AnalysisResult{
		result("job-1", 0, "Inception", models.SentimentPositive, 0.9),
		result("job-1", 1, "Inception", models.SentimentPositive, 0.7),
		result("job-1", 2, "Inception", models.SentimentNegative, 0.6),
		result("job-1", 3, "Cats", models.SentimentNegative, 0.95),
		result("job-1", 4, "The Incredibles", models.SentimentNeutral, 0.5),
	})
	require.NoError(t, err)
	require.Equal(t, 5, n)
}

func TestMemoryStore_StoreEmptyIsNoop(t *testing.T) {
	store := NewMemoryStore()

	n, err := store.Store(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	count, err := store.Count(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestMemoryStore_StoreIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	results := []models.AnalysisResult{
		result("job-1", 0, "Up", models.SentimentPositive, 0.8),
		result("job-1", 1, "Up", models.SentimentNegative, 0.6),
	}

	for i := 0; i < 2; i++ {
		n, err := store.Store(context.Background(), results)
		require.NoError(t, err)
		assert.Equal(t, len(results), n, "call %d", i+1)
	}

	count, err := store.Count(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestMemoryStore_Find(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"everything", Filter{}, 5},
		{"case insensitive substring", Filter{MovieName: "INC"}, 4},
		{"padded name", Filter{MovieName: "  cats "}, 1},
		{"sentiment", Filter{Sentiment: models.SentimentNegative}, 2},
		{"movie and sentiment", Filter{MovieName: "inception", Sentiment: models.SentimentPositive}, 2},
		{"no match", Filter{MovieName: "Jaws"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := store.Find(context.Background(), tt.filter)
			require.NoError(t, err)
			assert.Len(t, results, tt.want)
		})
	}
}

func TestMemoryStore_Distinct(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store)

	movies, err := store.Distinct(context.Background(), FIELD_MOVIE_NAME)
	require.NoError(t, err)
	assert.Equal(t, []string{"Cats", "Inception", "The Incredibles"}, movies)

	sentiments, err := store.Distinct(context.Background(), FIELD_SENTIMENT)
	require.NoError(t, err)
	assert.Equal(t, []string{"negative", "neutral", "positive"}, sentiments)

	_, err = store.Distinct(context.Background(), "confidence")
	assert.ErrorIs(t, err, ErrUnsupportedField)
}

func TestMemoryStore_Summarize(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store)

	summaries, err := store.Summarize(context.Background(), "inception")
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	summary := summaries[0]
	assert.Equal(t, "Inception", summary.MovieName)
	assert.Equal(t, 3, summary.TotalReviews)
	require.Len(t, summary.Sentiments, 2)
	assert.Equal(t, models.SentimentNegative, summary.Sentiments[0].Sentiment)
	assert.Equal(t, 1, summary.Sentiments[0].Count)
	assert.Equal(t, models.SentimentPositive, summary.Sentiments[1].Sentiment)
	assert.Equal(t, 2, summary.Sentiments[1].Count)
	assert.InDelta(t, 0.8, summary.Sentiments[1].AvgConfidence, 1e-9)

	all, err := store.Summarize(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Cats", all[0].MovieName)
}

func TestMemoryStore_Clear(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store)

	deleted, err := store.Clear(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)

	count, err := store.Count(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestCollectStats(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store)

	stats := CollectStats(context.Background(), store, "memory")
	assert.Equal(t, models.StatusHealthy, stats.Status)
	assert.Equal(t, BACKEND_MEMORY, stats.Backend)
	assert.Equal(t, int64(5), stats.TotalDocuments)
	assert.Equal(t, 3, stats.UniqueMovies)
	assert.Equal(t, int64(2), stats.PositiveReviews)
	assert.Equal(t, int64(2), stats.NegativeReviews)
	assert.Equal(t, int64(1), stats.NeutralReviews)
}

type failingStore struct {
	*MemoryStore
}

func (failingStore) Count(context.Context, Filter) (int64, error) {
	return 0, fmt.Errorf("connection refused")
}

func TestCollectStats_ReportsFailure(t *testing.T) {
	stats := CollectStats(context.Background(), failingStore{NewMemoryStore()}, "")

	assert.Equal(t, models.StatusUnhealthy, stats.Status)
	assert.Contains(t, stats.Error, "connection refused")
}
