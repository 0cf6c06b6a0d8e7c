package models

import "time"

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

type CheckResult struct {
	Status       string `json:"status"`
	Detail       string `json:"detail,omitempty"`
	ResponseCode int    `json:"response_code,omitempty"`
	LatencyMS    int64  `json:"latency_ms"`
}

func (c CheckResult) Healthy() bool {
	return c.Status == StatusHealthy
}

type HealthSnapshot struct {
	WorkerStatus string                 `json:"worker_status"`
	Timestamp    time.Time              `json:"timestamp"`
	Checks       map[string]CheckResult `json:"checks"`
}

func (h HealthSnapshot) Healthy() bool {
	return h.WorkerStatus == StatusHealthy
}

// DBStats mirrors the store statistics reported by the stats command.
type DBStats struct {
	Status          string `json:"status"`
	Backend         string `json:"backend"`
	TotalDocuments  int64  `json:"total_documents"`
	UniqueMovies    int    `json:"unique_movies"`
	PositiveReviews int64  `json:"positive_reviews"`
	NegativeReviews int64  `json:"negative_reviews"`
	NeutralReviews  int64  `json:"neutral_reviews"`
	Location        string `json:"location,omitempty"`
	Error           string `json:"error,omitempty"`
}
