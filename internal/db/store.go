package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spacesedan/sentiflow-worker/internal/models"
)

const (
	FIELD_MOVIE_NAME = "movie_name"
	FIELD_SENTIMENT  = "sentiment"
)

var (
	ErrUnsupportedField = errors.New("unsupported distinct field")
	ErrNotConnected     = errors.New("result store not connected")
)

// Filter narrows Find and Count. Zero values match everything.
type Filter struct {
	// MovieName matches case-insensitively anywhere in the stored movie name.
	MovieName string
	Sentiment models.Sentiment
}

func (f Filter) Matches(r models.AnalysisResult) bool {
	name := strings.TrimSpace(f.MovieName)
	if name != "" && !strings.Contains(strings.ToLower(r.MovieName), strings.ToLower(name)) {
		return false
	}
	if f.Sentiment != "" && r.Sentiment != f.Sentiment {
		return false
	}
	return true
}

// ResultStore persists analysis results. Store upserts by result ID, so storing the same
// results twice leaves one copy of each.
type ResultStore interface {
	Store(ctx context.Context, results []models.AnalysisResult) (int, error)
	Find(ctx context.Context, filter Filter) ([]models.AnalysisResult, error)
	Distinct(ctx context.Context, field string) ([]string, error)
	Summarize(ctx context.Context, movieName string) ([]models.MovieSummary, error)
	Count(ctx context.Context, filter Filter) (int64, error)
	Clear(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
	Backend() string
}

func validateField(field string) error {
	switch field {
	case FIELD_MOVIE_NAME, FIELD_SENTIMENT:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedField, field)
	}
}

func distinctValues(results []models.AnalysisResult, field string) []string {
	seen := make(map[string]struct{})
	values := make([]string, 0)
	for _, r := range results {
		v := r.MovieName
		if field == FIELD_SENTIMENT {
			v = string(r.Sentiment)
		}
		if _, ok := seen[v]; ok || strings.TrimSpace(v) == "" {
			continue
		}
		seen[v] = struct{}{}
		values = append(values, v)
	}
	sort.Strings(values)
	return values
}

// summarize groups results by movie and sentiment, ordered by movie name.
func summarize(results []models.AnalysisResult) []models.MovieSummary {
	type acc struct {
		count int
		sum   float64
	}
	movies := make(map[string]map[models.Sentiment]*acc)
	for _, r := range results {
		bySentiment, ok := movies[r.MovieName]
		if !ok {
			bySentiment = make(map[models.Sentiment]*acc)
			movies[r.MovieName] = bySentiment
		}
		a, ok := bySentiment[r.Sentiment]
		if !ok {
			a = &acc{}
			bySentiment[r.Sentiment] = a
		}
		a.count++
		a.sum += r.Confidence
	}

	summaries := make([]models.MovieSummary, 0, len(movies))
	for movie, bySentiment := range movies {
		summary := models.MovieSummary{MovieName: movie}
		for sentiment, a := range bySentiment {
			summary.Sentiments = append(summary.Sentiments, models.SentimentCount{
				Sentiment:     sentiment,
				Count:         a.count,
				AvgConfidence: a.sum / float64(a.count),
			})
			summary.TotalReviews += a.count
		}
		sortSentiments(summary.Sentiments)
		summaries = append(summaries, summary)
	}

	sortSummaries(summaries)
	return summaries
}

func sortSentiments(counts []models.SentimentCount) {
	sort.Slice(counts, func(i, j int) bool {
		return counts[i].Sentiment < counts[j].Sentiment
	})
}

func sortSummaries(summaries []models.MovieSummary) {
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].MovieName < summaries[j].MovieName
	})
}

// CollectStats gathers the database statistics report. Failures are reported in the
// returned value, not as an error.
func CollectStats(ctx context.Context, store ResultStore, location string) models.DBStats {
	stats := models.DBStats{Backend: store.Backend(), Location: location}

	total, err := store.Count(ctx, Filter{})
	if err != nil {
		stats.Status = models.StatusUnhealthy
		stats.Error = err.Error()
		return stats
	}
	stats.TotalDocuments = total

	movies, err := store.Distinct(ctx, FIELD_MOVIE_NAME)
	if err != nil {
		stats.Status = models.StatusUnhealthy
		stats.Error = err.Error()
		return stats
	}
	stats.UniqueMovies = len(movies)

	counts := map[models.Sentiment]*int64{
		models.SentimentPositive: &stats.PositiveReviews,
		models.SentimentNegative: &stats.NegativeReviews,
		models.SentimentNeutral:  &stats.NeutralReviews,
	}
	for sentiment, dst := range counts {
		n, err := store.Count(ctx, Filter{Sentiment: sentiment})
		if err != nil {
			stats.Status = models.StatusUnhealthy
			stats.Error = err.Error()
			return stats
		}
		*dst = n
	}

	stats.Status = models.StatusHealthy
	return stats
}
