package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spacesedan/sentiflow-worker/internal/models"
	"golang.org/x/sync/errgroup"
)

const (
	CHECK_ML_SERVICE = "ml_service"
	CHECK_DATABASE   = "database"

	HEALTHCHECK_TIMER   = 15 * time.Second
	DEFAULT_PROBE_LIMIT = 5 * time.Second
)

type ServicePinger interface {
	Ping(ctx context.Context) (int, error)
}

type StorePinger interface {
	Ping(ctx context.Context) error
}

// HealthAggregator probes the analysis service and the result store concurrently. Probe
// failures end up in the snapshot, never as errors.
type HealthAggregator struct {
	service ServicePinger
	store   StorePinger
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger

	healthy atomic.Bool
}

func NewHealthAggregator(service ServicePinger, store StorePinger, timeout time.Duration, logger *slog.Logger) *HealthAggregator {
	if timeout <= 0 {
		timeout = DEFAULT_PROBE_LIMIT
	}
	return &HealthAggregator{
		service: service,
		store:   store,
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
	}
}

func (h *HealthAggregator) Check(ctx context.Context) models.HealthSnapshot {
	var (
		mu     sync.Mutex
		checks = make(map[string]models.CheckResult, 2)
	)
	record := func(name string, result models.CheckResult) {
		mu.Lock()
		defer mu.Unlock()
		checks[name] = result
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		record(CHECK_ML_SERVICE, h.probeService(gctx))
		return nil
	})
	g.Go(func() error {
		record(CHECK_DATABASE, h.probeStore(gctx))
		return nil
	})
	_ = g.Wait()

	snapshot := models.HealthSnapshot{
		WorkerStatus: models.StatusHealthy,
		Timestamp:    h.now(),
		Checks:       checks,
	}
	for _, c := range checks {
		if !c.Healthy() {
			snapshot.WorkerStatus = models.StatusUnhealthy
		}
	}

	h.healthy.Store(snapshot.Healthy())
	return snapshot
}

func (h *HealthAggregator) probeService(ctx context.Context) models.CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	code, err := h.service.Ping(ctx)
	result := models.CheckResult{ResponseCode: code, LatencyMS: time.Since(start).Milliseconds()}
	switch {
	case err != nil:
		result.Status = models.StatusUnhealthy
		result.Detail = err.Error()
	case code != http.StatusOK:
		result.Status = models.StatusUnhealthy
		result.Detail = fmt.Sprintf("health endpoint returned %d", code)
	default:
		result.Status = models.StatusHealthy
	}
	return result
}

func (h *HealthAggregator) probeStore(ctx context.Context) models.CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := h.store.Ping(ctx)
	result := models.CheckResult{Status: models.StatusHealthy, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		result.Status = models.StatusUnhealthy
		result.Detail = err.Error()
	}
	return result
}

// Healthy returns the status of the most recent check.
func (h *HealthAggregator) Healthy() bool {
	return h.healthy.Load()
}

// Monitor re-checks on every tick until ctx is done and warns when health flips.
func (h *HealthAggregator) Monitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			was := h.Healthy()
			snapshot := h.Check(ctx)
			if !snapshot.Healthy() {
				h.logger.Warn("[HealthCheck] Dependencies are unhealthy",
					slog.Any("checks", snapshot.Checks))
			} else if !was {
				h.logger.Info("[HealthCheck] Dependencies recovered")
			}
		}
	}
}
