package models

import "time"

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusStarted   JobStatus = "started"
	JobStatusScheduled JobStatus = "scheduled"
	JobStatusFinished  JobStatus = "finished"
	JobStatusFailed    JobStatus = "failed"
)

// Job is a dequeued unit of work.
type Job struct {
	ID         string      `json:"id"`
	Queue      string      `json:"queue"`
	Batch      ReviewBatch `json:"batch"`
	Attempts   int         `json:"attempts"`
	Status     JobStatus   `json:"status"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
}

// JobOutcome is produced exactly once per processed batch.
type JobOutcome struct {
	JobID                 string    `json:"job_id"`
	Success               bool      `json:"success"`
	ProcessedCount        int       `json:"processed_count"`
	StoredCount           int       `json:"stored_count"`
	Error                 string    `json:"error,omitempty"`
	ErrorKind             ErrorKind `json:"error_kind,omitempty"`
	AnalysisSucceeded     bool      `json:"analysis_succeeded"`
	ProcessingTimeSeconds float64   `json:"processing_time_seconds"`
	Timestamp             time.Time `json:"timestamp"`

	// Results holds the enriched records when analysis succeeded but storage did not, so
	// they can be replayed into the store without another analysis call.
	Results []AnalysisResult `json:"results,omitempty"`
}

// Retryable reports whether the queue should redeliver the job.
func (o JobOutcome) Retryable() bool {
	return !o.Success && o.ErrorKind.Retryable()
}

// FailedJob is an entry of the failed job registry.
type FailedJob struct {
	Job     Job        `json:"job"`
	Outcome JobOutcome `json:"outcome"`
}

// QueueStats is a point-in-time view of one queue. InProgress counts the processing lists
// of every registered worker, dead ones included.
type QueueStats struct {
	Queue      string `json:"queue"`
	Pending    int64  `json:"pending"`
	Scheduled  int64  `json:"scheduled"`
	InProgress int64  `json:"in_progress"`
	Failed     int64  `json:"failed"`
	Workers    int64  `json:"workers"`
}
