package db

import (
	"context"
	"sync"

	"github.com/spacesedan/sentiflow-worker/internal/models"
)

const BACKEND_MEMORY = "memory"

// MemoryStore keeps results in process. Used for local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[string]models.AnalysisResult
	order   []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{results: make(map[string]models.AnalysisResult)}
}

func (m *MemoryStore) Backend() string {
	return BACKEND_MEMORY
}

func (m *MemoryStore) Store(ctx context.Context, results []models.AnalysisResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range results {
		if _, ok := m.results[r.ID]; !ok {
			m.order = append(m.order, r.ID)
		}
		m.results[r.ID] = r
	}
	return len(results), nil
}

func (m *MemoryStore) all() []models.AnalysisResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AnalysisResult, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.results[id])
	}
	return out
}

func (m *MemoryStore) Find(ctx context.Context, filter Filter) ([]models.AnalysisResult, error) {
	out := make([]models.AnalysisResult, 0)
	for _, r := range m.all() {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryStore) Distinct(ctx context.Context, field string) ([]string, error) {
	if err := validateField(field); err != nil {
		return nil, err
	}
	return distinctValues(m.all(), field), nil
}

func (m *MemoryStore) Summarize(ctx context.Context, movieName string) ([]models.MovieSummary, error) {
	results, err := m.Find(ctx, Filter{MovieName: movieName})
	if err != nil {
		return nil, err
	}
	return summarize(results), nil
}

func (m *MemoryStore) Count(ctx context.Context, filter Filter) (int64, error) {
	results, err := m.Find(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(results)), nil
}

func (m *MemoryStore) Clear(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.results))
	m.results = make(map[string]models.AnalysisResult)
	m.order = nil
	return n, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) Close(ctx context.Context) error {
	return nil
}
