package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spacesedan/sentiflow-worker/internal/clients"
	"github.com/spacesedan/sentiflow-worker/internal/models"
	"github.com/valkey-io/valkey-go"
)

var ErrJobNotFound = errors.New("job not found")

type Options struct {
	Name         string
	Worker       string
	MaxAttempts  int
	RetryBackoff time.Duration
}

// Queue is a reliable list queue. A dequeued job id sits in the worker's processing list
// until it is completed, failed or released, so a crashed worker's job is recovered
// instead of lost.
type Queue struct {
	vc     *clients.ValkeyClient
	keys   keys
	opts   Options
	now    func() time.Time
	logger *slog.Logger
}

func New(vc *clients.ValkeyClient, opts Options, logger *slog.Logger) *Queue {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Queue{
		vc:     vc,
		keys:   newKeys(opts.Name),
		opts:   opts,
		now:    time.Now,
		logger: logger,
	}
}

func (q *Queue) Name() string {
	return q.opts.Name
}

func (q *Queue) Enqueue(ctx context.Context, batch models.ReviewBatch) (string, error) {
	if err := batch.Validate(); err != nil {
		return "", err
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		return "", fmt.Errorf("[Queue] failed to marshal batch: %w", err)
	}

	id := uuid.NewString()
	b := q.vc.B()
	err = clients.FirstError(q.vc.DoMulti(ctx,
		b.Hset().Key(q.keys.job(id)).FieldValue().
			FieldValue(FIELD_PAYLOAD, string(payload)).
			FieldValue(FIELD_ATTEMPTS, "0").
			FieldValue(FIELD_STATUS, string(models.JobStatusQueued)).
			FieldValue(FIELD_ENQUEUED_AT, q.now().UTC().Format(time.RFC3339Nano)).
			Build(),
		b.Lpush().Key(q.keys.pending()).Element(id).Build(),
	))
	if err != nil {
		return "", fmt.Errorf("[Queue] enqueue failed: %w", err)
	}

	q.logger.Info("[Queue] Enqueued job",
		slog.String("job_id", id),
		slog.Int("batch_size", len(batch)))
	return id, nil
}

// Dequeue waits up to wait for a job. It returns nil, nil when none arrived.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (*models.Job, error) {
	if _, err := q.PromoteScheduled(ctx); err != nil {
		q.logger.Warn("[Queue] Failed to promote scheduled jobs", slog.String("error", err.Error()))
	}

	b := q.vc.B()
	res := q.vc.Do(ctx, b.Blmove().
		Source(q.keys.pending()).
		Destination(q.keys.processing(q.opts.Worker)).
		Right().Left().
		Timeout(wait.Seconds()).
		Build())
	id, err := res.ToString()
	if valkey.IsValkeyNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[Queue] dequeue failed: %w", err)
	}

	err = clients.FirstError(q.vc.DoMulti(ctx,
		b.Hincrby().Key(q.keys.job(id)).Field(FIELD_ATTEMPTS).Increment(1).Build(),
		b.Hset().Key(q.keys.job(id)).FieldValue().FieldValue(FIELD_STATUS, string(models.JobStatusStarted)).Build(),
	))
	if err != nil {
		return nil, fmt.Errorf("[Queue] failed to mark job %s started: %w", id, err)
	}

	fields, err := q.vc.Do(ctx, b.Hgetall().Key(q.keys.job(id)).Build()).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("[Queue] failed to load job %s: %w", id, err)
	}

	job, err := parseJob(id, q.opts.Name, fields)
	if errors.Is(err, ErrJobNotFound) {
		q.logger.Warn("[Queue] Dropping job without payload", slog.String("job_id", id))
		q.vc.DoMulti(ctx,
			b.Lrem().Key(q.keys.processing(q.opts.Worker)).Count(1).Element(id).Build(),
			b.Del().Key(q.keys.job(id)).Build(),
		)
		return nil, nil
	}
	if err != nil {
		if qerr := q.reject(ctx, id, err); qerr != nil {
			return nil, qerr
		}
		return nil, nil
	}
	return &job, nil
}

// reject moves a job that cannot be parsed straight to the failed registry with an
// InvalidInput outcome, so it is neither redelivered nor stuck in the processing list.
func (q *Queue) reject(ctx context.Context, id string, cause error) error {
	now := q.now()
	outcome := models.JobOutcome{
		JobID:     id,
		Error:     fmt.Sprintf("%s: %s", models.KindInvalidInput, cause),
		ErrorKind: models.KindInvalidInput,
		Timestamp: now,
	}
	result, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("[Queue] failed to marshal outcome: %w", err)
	}

	b := q.vc.B()
	err = clients.FirstError(q.vc.DoMulti(ctx,
		b.Hset().Key(q.keys.job(id)).FieldValue().
			FieldValue(FIELD_STATUS, string(models.JobStatusFailed)).
			FieldValue(FIELD_ERROR, outcome.Error).
			FieldValue(FIELD_RESULT, string(result)).
			Build(),
		b.Lpush().Key(q.keys.failed()).Element(id).Build(),
		b.Lrem().Key(q.keys.processing(q.opts.Worker)).Count(1).Element(id).Build(),
	))
	if err != nil {
		return fmt.Errorf("[Queue] failed to reject job %s: %w", id, err)
	}
	q.logger.Error("[Queue] Rejected unreadable job",
		slog.String("job_id", id),
		slog.String("error", cause.Error()))
	return nil
}

func parseJob(id, queueName string, fields map[string]string) (models.Job, error) {
	payload, ok := fields[FIELD_PAYLOAD]
	if !ok {
		return models.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	job := models.Job{ID: id, Queue: queueName, Status: models.JobStatus(fields[FIELD_STATUS])}
	if err := json.Unmarshal([]byte(payload), &job.Batch); err != nil {
		return models.Job{}, fmt.Errorf("[Queue] job %s has an undecodable payload: %w", id, err)
	}
	if raw := fields[FIELD_ATTEMPTS]; raw != "" {
		attempts, err := strconv.Atoi(raw)
		if err != nil {
			return models.Job{}, fmt.Errorf("[Queue] job %s has invalid attempts %q: %w", id, raw, err)
		}
		job.Attempts = attempts
	}
	if raw := fields[FIELD_ENQUEUED_AT]; raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			job.EnqueuedAt = ts
		}
	}
	return job, nil
}

// Complete acknowledges a finished job. The outcome is kept on the job for RESULT_TTL.
func (q *Queue) Complete(ctx context.Context, job *models.Job, outcome models.JobOutcome) error {
	result, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("[Queue] failed to marshal outcome: %w", err)
	}

	b := q.vc.B()
	err = clients.FirstError(q.vc.DoMulti(ctx,
		b.Hset().Key(q.keys.job(job.ID)).FieldValue().
			FieldValue(FIELD_STATUS, string(models.JobStatusFinished)).
			FieldValue(FIELD_RESULT, string(result)).
			Build(),
		b.Expire().Key(q.keys.job(job.ID)).Seconds(int64(RESULT_TTL.Seconds())).Build(),
		b.Lrem().Key(q.keys.processing(q.opts.Worker)).Count(1).Element(job.ID).Build(),
	))
	if err != nil {
		return fmt.Errorf("[Queue] failed to complete job %s: %w", job.ID, err)
	}
	return nil
}

// shouldRetry decides whether a failed job goes back through the scheduler.
func shouldRetry(outcome models.JobOutcome, attempts, maxAttempts int) bool {
	return outcome.Retryable() && attempts < maxAttempts
}

// retryDelay grows linearly with the number of attempts made.
func retryDelay(backoff time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return backoff * time.Duration(attempts)
}

// Fail schedules a retry for retryable outcomes with attempts left, and moves the job to
// the failed registry otherwise. It reports whether the job was scheduled.
func (q *Queue) Fail(ctx context.Context, job *models.Job, outcome models.JobOutcome) (bool, error) {
	result, err := json.Marshal(outcome)
	if err != nil {
		return false, fmt.Errorf("[Queue] failed to marshal outcome: %w", err)
	}

	b := q.vc.B()
	jobKey := q.keys.job(job.ID)
	release := b.Lrem().Key(q.keys.processing(q.opts.Worker)).Count(1).Element(job.ID).Build()

	if shouldRetry(outcome, job.Attempts, q.opts.MaxAttempts) {
		runAt := q.now().Add(retryDelay(q.opts.RetryBackoff, job.Attempts))
		err = clients.FirstError(q.vc.DoMulti(ctx,
			b.Hset().Key(jobKey).FieldValue().
				FieldValue(FIELD_STATUS, string(models.JobStatusScheduled)).
				FieldValue(FIELD_ERROR, outcome.Error).
				Build(),
			b.Zadd().Key(q.keys.scheduled()).ScoreMember().ScoreMember(float64(runAt.Unix()), job.ID).Build(),
			release,
		))
		if err != nil {
			return false, fmt.Errorf("[Queue] failed to schedule retry for job %s: %w", job.ID, err)
		}
		q.logger.Warn("[Queue] Scheduled job retry",
			slog.String("job_id", job.ID),
			slog.Int("attempt", job.Attempts),
			slog.Int("max_attempts", q.opts.MaxAttempts),
			slog.Time("run_at", runAt))
		return true, nil
	}

	err = clients.FirstError(q.vc.DoMulti(ctx,
		b.Hset().Key(jobKey).FieldValue().
			FieldValue(FIELD_STATUS, string(models.JobStatusFailed)).
			FieldValue(FIELD_ERROR, outcome.Error).
			FieldValue(FIELD_RESULT, string(result)).
			Build(),
		b.Lpush().Key(q.keys.failed()).Element(job.ID).Build(),
		release,
	))
	if err != nil {
		return false, fmt.Errorf("[Queue] failed to move job %s to failed registry: %w", job.ID, err)
	}
	q.logger.Error("[Queue] Moved job to failed registry",
		slog.String("job_id", job.ID),
		slog.String("error_kind", string(outcome.ErrorKind)),
		slog.Int("attempts", job.Attempts))
	return false, nil
}

// Release puts a dequeued job back at the head of the queue without counting the attempt.
func (q *Queue) Release(ctx context.Context, job *models.Job) error {
	b := q.vc.B()
	err := clients.FirstError(q.vc.DoMulti(ctx,
		b.Hset().Key(q.keys.job(job.ID)).FieldValue().FieldValue(FIELD_STATUS, string(models.JobStatusQueued)).Build(),
		b.Hincrby().Key(q.keys.job(job.ID)).Field(FIELD_ATTEMPTS).Increment(-1).Build(),
		b.Rpush().Key(q.keys.pending()).Element(job.ID).Build(),
		b.Lrem().Key(q.keys.processing(q.opts.Worker)).Count(1).Element(job.ID).Build(),
	))
	if err != nil {
		return fmt.Errorf("[Queue] failed to release job %s: %w", job.ID, err)
	}
	q.logger.Info("[Queue] Released job back to queue", slog.String("job_id", job.ID))
	return nil
}

// PromoteScheduled moves retries whose time has come back onto the pending list.
func (q *Queue) PromoteScheduled(ctx context.Context) (int, error) {
	b := q.vc.B()
	now := strconv.FormatInt(q.now().Unix(), 10)
	due, err := q.vc.Do(ctx, b.Zrangebyscore().Key(q.keys.scheduled()).Min("-inf").Max(now).Build()).AsStrSlice()
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, id := range due {
		removed, err := q.vc.Do(ctx, b.Zrem().Key(q.keys.scheduled()).Member(id).Build()).AsInt64()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			// another worker got it first
			continue
		}
		err = clients.FirstError(q.vc.DoMulti(ctx,
			b.Hset().Key(q.keys.job(id)).FieldValue().FieldValue(FIELD_STATUS, string(models.JobStatusQueued)).Build(),
			b.Lpush().Key(q.keys.pending()).Element(id).Build(),
		))
		if err != nil {
			return promoted, err
		}
		promoted++
	}

	if promoted > 0 {
		q.logger.Info("[Queue] Promoted scheduled jobs", slog.Int("count", promoted))
	}
	return promoted, nil
}

// Heartbeat registers the worker and refreshes its liveness key.
func (q *Queue) Heartbeat(ctx context.Context) error {
	b := q.vc.B()
	return clients.FirstError(q.vc.DoMulti(ctx,
		b.Sadd().Key(q.keys.workers()).Member(q.opts.Worker).Build(),
		b.Setex().Key(q.keys.heartbeat(q.opts.Worker)).
			Seconds(int64(HEARTBEAT_TTL.Seconds())).
			Value(q.now().UTC().Format(time.RFC3339)).
			Build(),
	))
}

func (q *Queue) Unregister(ctx context.Context) error {
	b := q.vc.B()
	return clients.FirstError(q.vc.DoMulti(ctx,
		b.Srem().Key(q.keys.workers()).Member(q.opts.Worker).Build(),
		b.Del().Key(q.keys.heartbeat(q.opts.Worker)).Build(),
	))
}

// Recover returns jobs abandoned in processing lists to the queue: those of workers whose
// heartbeat expired, and this worker's own list. Call it only while no job is in flight.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	return q.recover(ctx, true)
}

// RecoverAbandoned returns the jobs of workers whose heartbeat expired to the queue. It
// never touches this worker's list, so it is safe while a job is in flight.
func (q *Queue) RecoverAbandoned(ctx context.Context) (int, error) {
	return q.recover(ctx, false)
}

func (q *Queue) recover(ctx context.Context, includeSelf bool) (int, error) {
	b := q.vc.B()
	workers, err := q.vc.Do(ctx, b.Smembers().Key(q.keys.workers()).Build()).AsStrSlice()
	if err != nil {
		return 0, fmt.Errorf("[Queue] failed to list workers: %w", err)
	}

	recovered := 0
	for _, worker := range workers {
		if worker == q.opts.Worker {
			continue
		}
		alive, err := q.vc.Do(ctx, b.Exists().Key(q.keys.heartbeat(worker)).Build()).AsInt64()
		if err != nil {
			return recovered, err
		}
		if alive > 0 {
			continue
		}

		n, err := q.drainProcessing(ctx, worker)
		recovered += n
		if err != nil {
			return recovered, err
		}
		q.vc.Do(ctx, b.Srem().Key(q.keys.workers()).Member(worker).Build())
		if n > 0 {
			q.logger.Warn("[Queue] Recovered jobs of dead worker",
				slog.String("dead_worker", worker),
				slog.Int("count", n))
		}
	}

	if includeSelf {
		n, err := q.drainProcessing(ctx, q.opts.Worker)
		recovered += n
		if err != nil {
			return recovered, err
		}
		if n > 0 {
			q.logger.Warn("[Queue] Recovered own unfinished jobs", slog.Int("count", n))
		}
	}
	return recovered, nil
}

func (q *Queue) drainProcessing(ctx context.Context, worker string) (int, error) {
	b := q.vc.B()
	moved := 0
	for {
		_, err := q.vc.Do(ctx, b.Lmove().
			Source(q.keys.processing(worker)).
			Destination(q.keys.pending()).
			Right().Right().
			Build()).ToString()
		if valkey.IsValkeyNil(err) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("[Queue] failed to recover jobs of %s: %w", worker, err)
		}
		moved++
	}
}

func (q *Queue) Stats(ctx context.Context) (models.QueueStats, error) {
	b := q.vc.B()
	results := q.vc.DoMulti(ctx,
		b.Llen().Key(q.keys.pending()).Build(),
		b.Zcard().Key(q.keys.scheduled()).Build(),
		b.Llen().Key(q.keys.failed()).Build(),
		b.Smembers().Key(q.keys.workers()).Build(),
	)

	counts := make([]int64, 3)
	for i := range counts {
		n, err := results[i].AsInt64()
		if err != nil {
			return models.QueueStats{}, fmt.Errorf("[Queue] stats failed: %w", err)
		}
		counts[i] = n
	}
	workers, err := results[3].AsStrSlice()
	if err != nil {
		return models.QueueStats{}, fmt.Errorf("[Queue] stats failed: %w", err)
	}

	var inProgress int64
	if len(workers) > 0 {
		cmds := make([]valkey.Completed, 0, len(workers))
		for _, w := range workers {
			cmds = append(cmds, b.Llen().Key(q.keys.processing(w)).Build())
		}
		for _, r := range q.vc.DoMulti(ctx, cmds...) {
			n, err := r.AsInt64()
			if err != nil {
				return models.QueueStats{}, fmt.Errorf("[Queue] stats failed: %w", err)
			}
			inProgress += n
		}
	}

	return models.QueueStats{
		Queue:      q.opts.Name,
		Pending:    counts[0],
		Scheduled:  counts[1],
		InProgress: inProgress,
		Failed:     counts[2],
		Workers:    int64(len(workers)),
	}, nil
}

// FailedJobs lists up to limit entries of the failed registry, newest first.
func (q *Queue) FailedJobs(ctx context.Context, limit int64) ([]models.FailedJob, error) {
	b := q.vc.B()
	ids, err := q.vc.Do(ctx, b.Lrange().Key(q.keys.failed()).Start(0).Stop(limit-1).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("[Queue] failed to list failed jobs: %w", err)
	}

	failed := make([]models.FailedJob, 0, len(ids))
	for _, id := range ids {
		fields, err := q.vc.Do(ctx, b.Hgetall().Key(q.keys.job(id)).Build()).AsStrMap()
		if err != nil {
			return nil, fmt.Errorf("[Queue] failed to load job %s: %w", id, err)
		}
		job, err := parseJob(id, q.opts.Name, fields)
		if err != nil {
			q.logger.Warn("[Queue] Skipping unreadable failed job",
				slog.String("job_id", id),
				slog.String("error", err.Error()))
			continue
		}
		entry := models.FailedJob{Job: job}
		if raw := fields[FIELD_RESULT]; raw != "" {
			if err := json.Unmarshal([]byte(raw), &entry.Outcome); err != nil {
				q.logger.Warn("[Queue] Failed job has undecodable outcome", slog.String("job_id", id))
			}
		}
		failed = append(failed, entry)
	}
	return failed, nil
}

// RemoveFailed drops a job from the failed registry and deletes it.
func (q *Queue) RemoveFailed(ctx context.Context, id string) error {
	b := q.vc.B()
	return clients.FirstError(q.vc.DoMulti(ctx,
		b.Lrem().Key(q.keys.failed()).Count(1).Element(id).Build(),
		b.Del().Key(q.keys.job(id)).Build(),
	))
}

// Purge deletes every key of this queue. Admin only.
func (q *Queue) Purge(ctx context.Context) (int64, error) {
	var (
		cursor  uint64
		deleted int64
	)
	for {
		entry, err := q.vc.Do(ctx, q.vc.B().Scan().Cursor(cursor).Match(q.keys.pattern()).Count(100).Build()).AsScanEntry()
		if err != nil {
			return deleted, fmt.Errorf("[Queue] scan failed: %w", err)
		}
		if len(entry.Elements) > 0 {
			n, err := q.vc.Do(ctx, q.vc.B().Del().Key(entry.Elements...).Build()).AsInt64()
			if err != nil {
				return deleted, fmt.Errorf("[Queue] delete failed: %w", err)
			}
			deleted += n
		}
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}

	q.logger.Warn("[Queue] Purged queue", slog.String("queue", q.opts.Name), slog.Int64("keys", deleted))
	return deleted, nil
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.vc.Ping(ctx)
}

func (q *Queue) Close() {
	q.vc.Close()
}
