package queue

import (
	"testing"
	"time"

	"github.com/spacesedan/sentiflow-worker/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	k := newKeys("sentiment_analysis")

	assert.Equal(t, "sentiflow:queue:{sentiment_analysis}:pending", k.pending())
	assert.Equal(t, "sentiflow:queue:{sentiment_analysis}:scheduled", k.scheduled())
	assert.Equal(t, "sentiflow:queue:{sentiment_analysis}:failed", k.failed())
	assert.Equal(t, "sentiflow:queue:{sentiment_analysis}:workers", k.workers())
	assert.Equal(t, "sentiflow:queue:{sentiment_analysis}:processing:w1", k.processing("w1"))
	assert.Equal(t, "sentiflow:queue:{sentiment_analysis}:heartbeat:w1", k.heartbeat("w1"))
	assert.Equal(t, "sentiflow:queue:{sentiment_analysis}:job:abc", k.job("abc"))
	assert.Equal(t, "sentiflow:queue:{sentiment_analysis}:*", k.pattern())
}

func TestParseJob(t *testing.T) {
	fields := map[string]string{
		FIELD_PAYLOAD:     `[{"movie_name":"Up","review_text":"Great"}]`,
		FIELD_ATTEMPTS:    "2",
		FIELD_STATUS:      "started",
		FIELD_ENQUEUED_AT: "2024-05-01T10:00:00Z",
	}

	job, err := parseJob("job-1", "sentiment_analysis", fields)
	require.NoError(t, err)

	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, "sentiment_analysis", job.Queue)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, models.JobStatusStarted, job.Status)
	require.Len(t, job.Batch, 1)
	assert.Equal(t, "Up", job.Batch[0].MovieName)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), job.EnqueuedAt)
}

func TestParseJob_Errors(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{"missing payload", map[string]string{}},
		{"bad payload", map[string]string{FIELD_PAYLOAD: "{"}},
		{"bad attempts", map[string]string{FIELD_PAYLOAD: "[]", FIELD_ATTEMPTS: "many"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseJob("job-1", "q", tt.fields)
			assert.Error(t, err)
		})
	}

	_, err := parseJob("job-1", "q", map[string]string{})
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name     string
		kind     models.ErrorKind
		attempts int
		want     bool
	}{
		{"timeout first attempt", models.KindServiceTimeout, 1, true},
		{"bad status second attempt", models.KindServiceBadStatus, 2, true},
		{"attempts exhausted", models.KindServiceUnreachable, 3, false},
		{"empty result", models.KindServiceEmptyResult, 1, true},
		{"malformed response", models.KindServiceMalformedResponse, 1, true},
		{"invalid input", models.KindInvalidInput, 1, false},
		{"storage failure", models.KindStorageFailure, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := models.JobOutcome{Success: false, ErrorKind: tt.kind}
			assert.Equal(t, tt.want, shouldRetry(outcome, tt.attempts, 3))
		})
	}

	assert.False(t, shouldRetry(models.JobOutcome{Success: true}, 1, 3))
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 30*time.Second, retryDelay(30*time.Second, 0))
	assert.Equal(t, 30*time.Second, retryDelay(30*time.Second, 1))
	assert.Equal(t, 90*time.Second, retryDelay(30*time.Second, 3))
}
