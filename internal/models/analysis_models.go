package models

import (
	"fmt"
	"time"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return true
	default:
		return false
	}
}

// Provenance stamped on every result the worker persists.
const (
	PROCESSED_BY    = "background_worker"
	PROCESSING_MODE = "queue_async"
)

// AnalysisResult is one analysed review. ID, Timestamp, ProcessedBy, ProcessingMode and
// WorkerJobID are filled in by the batch processor before persistence.
type AnalysisResult struct {
	ID             string    `json:"id,omitempty" bson:"_id,omitempty" dynamodbav:"id"`
	MovieName      string    `json:"movie_name" bson:"movie_name" dynamodbav:"movie_name"`
	Sentiment      Sentiment `json:"sentiment" bson:"sentiment" dynamodbav:"sentiment"`
	Confidence     float64   `json:"confidence" bson:"confidence" dynamodbav:"confidence"`
	Timestamp      time.Time `json:"timestamp" bson:"timestamp" dynamodbav:"timestamp"`
	ProcessedBy    string    `json:"processed_by" bson:"processed_by" dynamodbav:"processed_by"`
	ProcessingMode string    `json:"processing_mode" bson:"processing_mode" dynamodbav:"processing_mode"`
	WorkerJobID    string    `json:"worker_job_id" bson:"worker_job_id" dynamodbav:"worker_job_id"`
}

// Validate checks the sentiment/confidence invariant.
func (r AnalysisResult) Validate() error {
	if !r.Sentiment.Valid() {
		return fmt.Errorf("invalid sentiment %q", r.Sentiment)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence %f out of range [0,1]", r.Confidence)
	}
	return nil
}

// RecordID is the storage key of the result at position in job jobID. Redelivered jobs
// produce the same keys, so re-storing them replaces instead of appending.
func RecordID(jobID string, position int) string {
	return fmt.Sprintf("%s:%d", jobID, position)
}

type SentimentCount struct {
	Sentiment     Sentiment `json:"sentiment" bson:"sentiment"`
	Count         int       `json:"count" bson:"count"`
	AvgConfidence float64   `json:"avg_confidence" bson:"avg_confidence"`
}

// MovieSummary aggregates stored results for one movie.
type MovieSummary struct {
	MovieName    string           `json:"movie_name" bson:"_id"`
	Sentiments   []SentimentCount `json:"sentiments" bson:"sentiments"`
	TotalReviews int              `json:"total_reviews" bson:"total_reviews"`
}
