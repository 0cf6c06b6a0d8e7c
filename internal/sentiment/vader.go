package sentiment

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/jonreiter/govader"
	"github.com/russross/blackfriday/v2"
	"github.com/spacesedan/sentiflow-worker/internal/models"
)

const (
	POSITIVE_THRESHOLD = 0.20
	NEGATIVE_THRESHOLD = -0.20
)

var (
	linkPattern = regexp.MustCompile(`\[(.*?)\]\((https?:\/\/[^\s\)]+)\)`)
	urlPattern  = regexp.MustCompile(`https?://\S+|www\.\S+`)
	tagPattern  = regexp.MustCompile(`<[^>]*>`)
)

func RemoveLinks(input string) string {
	input = linkPattern.ReplaceAllString(input, "$1")
	return urlPattern.ReplaceAllString(input, "")
}

// ConvertMarkdownToText renders markdown and strips the resulting markup, links and urls.
func ConvertMarkdownToText(input string) string {
	input = RemoveLinks(input)
	output := blackfriday.Run([]byte(input), blackfriday.WithNoExtensions())
	plain := tagPattern.ReplaceAllString(string(output), " ")
	return strings.Join(strings.Fields(plain), " ")
}

// Classify maps a VADER compound score onto a sentiment label and a confidence in [0,1].
func Classify(score float64) (models.Sentiment, float64) {
	switch {
	case score >= POSITIVE_THRESHOLD:
		return models.SentimentPositive, math.Min(math.Abs(score), 1)
	case score <= NEGATIVE_THRESHOLD:
		return models.SentimentNegative, math.Min(math.Abs(score), 1)
	default:
		return models.SentimentNeutral, 1 - math.Abs(score)
	}
}

// VaderAnalyzer scores reviews in-process. It stands in for the remote analysis service
// when no service is available.
type VaderAnalyzer struct {
	analyzer *govader.SentimentIntensityAnalyzer
	logger   *slog.Logger
}

func NewVaderAnalyzer(logger *slog.Logger) *VaderAnalyzer {
	return &VaderAnalyzer{
		analyzer: govader.NewSentimentIntensityAnalyzer(),
		logger:   logger,
	}
}

func (v *VaderAnalyzer) Score(text string) float64 {
	return v.analyzer.PolarityScores(ConvertMarkdownToText(text)).Compound
}

func (v *VaderAnalyzer) Analyze(ctx context.Context, batch models.ReviewBatch, timeout time.Duration) ([]models.AnalysisResult, error) {
	if err := batch.Validate(); err != nil {
		return nil, models.NewAnalysisError(models.AnalysisInvalidInput, err)
	}

	deadline := time.Now().Add(timeout)
	results := make([]models.AnalysisResult, 0, len(batch))
	for _, review := range batch {
		if err := ctx.Err(); err != nil {
			return nil, models.NewAnalysisError(models.AnalysisUnreachable, err)
		}
		if timeout > 0 && time.Now().After(deadline) {
			return nil, models.NewAnalysisError(models.AnalysisTimeout, context.DeadlineExceeded)
		}

		label, confidence := Classify(v.Score(review.ReviewText))
		results = append(results, models.AnalysisResult{
			MovieName:  review.MovieName,
			Sentiment:  label,
			Confidence: confidence,
		})
	}

	v.logger.Debug("[VaderAnalyzer] Batch analysed", slog.Int("results", len(results)))
	return results, nil
}

// Ping always reports 200; the analyzer has no remote dependency.
func (v *VaderAnalyzer) Ping(context.Context) (int, error) {
	return 200, nil
}
