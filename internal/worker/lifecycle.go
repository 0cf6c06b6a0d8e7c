package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spacesedan/sentiflow-worker/internal/models"
)

var ErrConnectionFatal = errors.New("queue connection failed")

const (
	DEFAULT_POLL_TIMEOUT       = 2 * time.Second
	DEFAULT_HEARTBEAT_INTERVAL = 10 * time.Second
	DEQUEUE_ERROR_BACKOFF      = time.Second
	RECOVER_EVERY              = 3
)

type JobQueue interface {
	Dequeue(ctx context.Context, wait time.Duration) (*models.Job, error)
	Complete(ctx context.Context, job *models.Job, outcome models.JobOutcome) error
	Fail(ctx context.Context, job *models.Job, outcome models.JobOutcome) (bool, error)
	Release(ctx context.Context, job *models.Job) error
	Recover(ctx context.Context) (int, error)
	RecoverAbandoned(ctx context.Context) (int, error)
	Heartbeat(ctx context.Context) error
	Unregister(ctx context.Context) error
	Stats(ctx context.Context) (models.QueueStats, error)
	Close()
}

// Connector opens the queue connection. It is called exactly once per Run.
type Connector func(ctx context.Context) (JobQueue, error)

type Processor interface {
	Process(ctx context.Context, jobID string, batch models.ReviewBatch) models.JobOutcome
}

type HealthChecker interface {
	Check(ctx context.Context) models.HealthSnapshot
}

type OutcomePublisher interface {
	Publish(ctx context.Context, outcome models.JobOutcome) error
}

type Options struct {
	Name              string
	PollTimeout       time.Duration
	HeartbeatInterval time.Duration
}

// Status is the operator view of a running worker.
type Status struct {
	Worker      string             `json:"worker"`
	State       string             `json:"state"`
	Processed   int64              `json:"processed"`
	Failed      int64              `json:"failed"`
	LastOutcome *models.JobOutcome `json:"last_outcome,omitempty"`
	Queue       *models.QueueStats `json:"queue,omitempty"`
}

// Worker consumes one job at a time until its context is cancelled, then finishes the job
// in flight and stops.
type Worker struct {
	opts      Options
	connect   Connector
	processor Processor
	health    HealthChecker
	publisher OutcomePublisher
	logger    *slog.Logger

	state     atomic.Int32
	processed atomic.Int64
	failed    atomic.Int64

	mu          sync.RWMutex
	queue       JobQueue
	lastOutcome *models.JobOutcome
}

func New(opts Options, connect Connector, processor Processor, health HealthChecker, publisher OutcomePublisher, logger *slog.Logger) *Worker {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DEFAULT_POLL_TIMEOUT
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DEFAULT_HEARTBEAT_INTERVAL
	}
	return &Worker{
		opts:      opts,
		connect:   connect,
		processor: processor,
		health:    health,
		publisher: publisher,
		logger:    logger.With(slog.String("worker", opts.Name)),
	}
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	prev := State(w.state.Swap(int32(s)))
	if prev != s {
		w.logger.Debug("[Worker] State change",
			slog.String("from", prev.String()),
			slog.String("to", s.String()))
	}
}

// Run blocks until ctx is cancelled and the worker has drained, or until the queue
// connection cannot be established, in which case the error wraps ErrConnectionFatal.
func (w *Worker) Run(ctx context.Context) error {
	w.setState(StateConnecting)
	w.logger.Info("[Worker] Connecting to queue...")

	q, err := w.connect(ctx)
	if err != nil {
		w.setState(StateStopped)
		w.logger.Error("[Worker] Could not connect to queue", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", ErrConnectionFatal, err)
	}

	w.mu.Lock()
	w.queue = q
	w.mu.Unlock()
	w.setState(StateReady)
	defer w.shutdown(q)

	w.probe(ctx, q)

	hbCtx, stopHeartbeat := context.WithCancel(context.WithoutCancel(ctx))
	defer stopHeartbeat()
	if err := q.Heartbeat(hbCtx); err != nil {
		w.logger.Warn("[Worker] Initial heartbeat failed", slog.String("error", err.Error()))
	}
	if n, err := q.Recover(hbCtx); err != nil {
		w.logger.Warn("[Worker] Job recovery failed", slog.String("error", err.Error()))
	} else if n > 0 {
		w.logger.Info("[Worker] Requeued abandoned jobs", slog.Int("count", n))
	}
	go w.heartbeat(hbCtx, q)

	w.setState(StateRunning)
	w.logger.Info("[Worker] Listening for jobs", slog.Duration("poll_timeout", w.opts.PollTimeout))
	w.consume(ctx, q)

	return nil
}

// probe runs the one-time dependency check. A degraded result is logged, not fatal.
func (w *Worker) probe(ctx context.Context, q JobQueue) {
	snapshot := w.health.Check(ctx)
	if snapshot.Healthy() {
		w.logger.Info("[Worker] Dependencies healthy")
	} else {
		w.logger.Warn("[Worker] Starting in degraded state", slog.Any("checks", snapshot.Checks))
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		w.logger.Warn("[Worker] Could not read queue stats", slog.String("error", err.Error()))
		return
	}
	w.logger.Info("[Worker] Queue status",
		slog.Int64("pending", stats.Pending),
		slog.Int64("scheduled", stats.Scheduled),
		slog.Int64("in_progress", stats.InProgress),
		slog.Int64("failed", stats.Failed))
}

func (w *Worker) consume(ctx context.Context, q JobQueue) {
	// Dequeue is bounded by the poll timeout, so it never needs cancelling.
	work := context.WithoutCancel(ctx)

	for ctx.Err() == nil {
		job, err := q.Dequeue(work, w.opts.PollTimeout)
		if err != nil {
			w.logger.Error("[Worker] Dequeue failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
			case <-time.After(DEQUEUE_ERROR_BACKOFF):
			}
			continue
		}
		if job == nil {
			continue
		}

		if ctx.Err() != nil {
			if err := q.Release(work, job); err != nil {
				w.logger.Error("[Worker] Failed to release job during drain",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()))
			}
			break
		}

		w.handle(work, q, job)
	}

	w.setState(StateDraining)
	w.logger.Info("[Worker] Draining, no new jobs will be accepted")
}

func (w *Worker) handle(ctx context.Context, q JobQueue, job *models.Job) {
	logger := w.logger.With(slog.String("job_id", job.ID), slog.Int("attempt", job.Attempts))
	logger.Info("[Worker] Processing job", slog.Int("batch_size", len(job.Batch)))

	outcome := w.processor.Process(ctx, job.ID, job.Batch)

	if outcome.Success {
		w.processed.Add(1)
		if err := q.Complete(ctx, job, outcome); err != nil {
			logger.Error("[Worker] Failed to acknowledge job", slog.String("error", err.Error()))
		}
	} else {
		w.failed.Add(1)
		retried, err := q.Fail(ctx, job, outcome)
		if err != nil {
			logger.Error("[Worker] Failed to record job failure", slog.String("error", err.Error()))
		}
		logger.Warn("[Worker] Job failed",
			slog.String("error_kind", string(outcome.ErrorKind)),
			slog.String("error", outcome.Error),
			slog.Bool("retry_scheduled", retried))
	}

	if err := w.publisher.Publish(ctx, outcome); err != nil {
		logger.Warn("[Worker] Failed to publish job outcome", slog.String("error", err.Error()))
	}

	w.mu.Lock()
	w.lastOutcome = &outcome
	w.mu.Unlock()
}

// heartbeat keeps the worker registered and, every RECOVER_EVERY ticks, requeues jobs left
// behind by workers whose heartbeat expired while this one is running.
func (w *Worker) heartbeat(ctx context.Context, q JobQueue) {
	ticker := time.NewTicker(w.opts.HeartbeatInterval)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.Heartbeat(ctx); err != nil && ctx.Err() == nil {
				w.logger.Warn("[Worker] Heartbeat failed", slog.String("error", err.Error()))
			}

			ticks++
			if ticks%RECOVER_EVERY != 0 {
				continue
			}
			n, err := q.RecoverAbandoned(ctx)
			if err != nil && ctx.Err() == nil {
				w.logger.Warn("[Worker] Abandoned job sweep failed", slog.String("error", err.Error()))
			} else if n > 0 {
				w.logger.Info("[Worker] Requeued jobs of dead workers", slog.Int("count", n))
			}
		}
	}
}

func (w *Worker) shutdown(q JobQueue) {
	w.setState(StateDraining)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := q.Unregister(ctx); err != nil {
		w.logger.Warn("[Worker] Failed to unregister", slog.String("error", err.Error()))
	}
	q.Close()

	w.setState(StateStopped)
	w.logger.Info("[Worker] Stopped",
		slog.Int64("processed", w.processed.Load()),
		slog.Int64("failed", w.failed.Load()))
}

func (w *Worker) Status(ctx context.Context) Status {
	status := Status{
		Worker:    w.opts.Name,
		State:     w.State().String(),
		Processed: w.processed.Load(),
		Failed:    w.failed.Load(),
	}

	w.mu.RLock()
	q := w.queue
	if w.lastOutcome != nil {
		last := *w.lastOutcome
		last.Results = nil
		status.LastOutcome = &last
	}
	w.mu.RUnlock()

	if q != nil && w.State() != StateStopped {
		if stats, err := q.Stats(ctx); err == nil {
			status.Queue = &stats
		}
	}
	return status
}
