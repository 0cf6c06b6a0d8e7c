package queue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/spacesedan/sentiflow-worker/internal/clients"
	"github.com/spacesedan/sentiflow-worker/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testQueue = "sentiment_analysis"

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestServer(t *testing.T) (*miniredis.Miniredis, *clients.ValkeyClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	vc, err := clients.NewValkeyClient(context.Background(), clients.ValkeyOptions{
		Addr:              mr.Addr(),
		ForceSingleClient: true,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(vc.Close)
	return mr, vc
}

func newTestQueue(vc *clients.ValkeyClient, worker string, clock *testClock) *Queue {
	q := New(vc, Options{
		Name:         testQueue,
		Worker:       worker,
		MaxAttempts:  3,
		RetryBackoff: 30 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	q.now = clock.Now
	return q
}

func testBatch() models.ReviewBatch {
	return models.ReviewBatch{
		{MovieName: "Up", ReviewText: "Great"},
		{MovieName: "Up", ReviewText: "Dull"},
	}
}

func TestQueue_EnqueueDequeueComplete(t *testing.T) {
	ctx := context.Background()
	mr, vc := newTestServer(t)
	clock := &testClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	q := newTestQueue(vc, "w1", clock)
	k := newKeys(testQueue)

	id, err := q.Enqueue(ctx, testBatch())
	require.NoError(t, err)
	assert.Equal(t, string(models.JobStatusQueued), mr.HGet(k.job(id), FIELD_STATUS))

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, testQueue, job.Queue)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, models.JobStatusStarted, job.Status)
	assert.Equal(t, testBatch(), job.Batch)
	assert.Equal(t, clock.now, job.EnqueuedAt)

	processing, err := mr.List(k.processing("w1"))
	require.NoError(t, err)
	assert.Equal(t, []string{id}, processing)

	err = q.Complete(ctx, job, models.JobOutcome{JobID: id, Success: true, ProcessedCount: 2, StoredCount: 2})
	require.NoError(t, err)

	assert.Equal(t, string(models.JobStatusFinished), mr.HGet(k.job(id), FIELD_STATUS))
	assert.Contains(t, mr.HGet(k.job(id), FIELD_RESULT), `"stored_count":2`)
	assert.Equal(t, RESULT_TTL, mr.TTL(k.job(id)))
	assert.False(t, mr.Exists(k.processing("w1")))
	assert.False(t, mr.Exists(k.pending()))
}

func TestQueue_EnqueueRejectsEmptyBatch(t *testing.T) {
	mr, vc := newTestServer(t)
	q := newTestQueue(vc, "w1", &testClock{now: time.Now()})

	_, err := q.Enqueue(context.Background(), models.ReviewBatch{})
	assert.ErrorIs(t, err, models.ErrEmptyBatch)
	assert.Empty(t, mr.Keys())
}

func TestQueue_DequeueEmpty(t *testing.T) {
	_, vc := newTestServer(t)
	q := newTestQueue(vc, "w1", &testClock{now: time.Now()})

	job, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestQueue_FailRetriesUntilMaxAttempts(t *testing.T) {
	ctx := context.Background()
	mr, vc := newTestServer(t)
	clock := &testClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	q := newTestQueue(vc, "w1", clock)
	k := newKeys(testQueue)

	id, err := q.Enqueue(ctx, testBatch())
	require.NoError(t, err)

	outcome := models.JobOutcome{
		JobID:     id,
		Error:     "ServiceTimeout",
		ErrorKind: models.KindServiceTimeout,
	}

	for attempt := 1; attempt < 3; attempt++ {
		job, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, job, "attempt %d", attempt)
		assert.Equal(t, attempt, job.Attempts)

		scheduled, err := q.Fail(ctx, job, outcome)
		require.NoError(t, err)
		assert.True(t, scheduled, "attempt %d", attempt)
		assert.Equal(t, string(models.JobStatusScheduled), mr.HGet(k.job(id), FIELD_STATUS))
		assert.False(t, mr.Exists(k.processing("w1")))

		n, err := q.PromoteScheduled(ctx)
		require.NoError(t, err)
		assert.Zero(t, n, "retry must wait for its backoff")

		clock.Advance(retryDelay(30*time.Second, attempt))
		n, err = q.PromoteScheduled(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, string(models.JobStatusQueued), mr.HGet(k.job(id), FIELD_STATUS))
	}

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 3, job.Attempts)

	scheduled, err := q.Fail(ctx, job, outcome)
	require.NoError(t, err)
	assert.False(t, scheduled)

	failed, err := mr.List(k.failed())
	require.NoError(t, err)
	assert.Equal(t, []string{id}, failed)
	assert.Equal(t, string(models.JobStatusFailed), mr.HGet(k.job(id), FIELD_STATUS))
	assert.False(t, mr.Exists(k.scheduled()))
	assert.False(t, mr.Exists(k.processing("w1")))
}

func TestQueue_StorageFailureKeepsResults(t *testing.T) {
	ctx := context.Background()
	_, vc := newTestServer(t)
	clock := &testClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	q := newTestQueue(vc, "w1", clock)

	id, err := q.Enqueue(ctx, testBatch())
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)

	results := []models.AnalysisResult{
		{MovieName: "Up", Sentiment: models.SentimentPositive, Confidence: 0.9, WorkerJobID: id},
		{MovieName: "Up", Sentiment: models.SentimentNegative, Confidence: 0.7, WorkerJobID: id},
	}
	scheduled, err := q.Fail(ctx, job, models.JobOutcome{
		JobID:             id,
		ProcessedCount:    2,
		Error:             "StorageFailure: write failed",
		ErrorKind:         models.KindStorageFailure,
		AnalysisSucceeded: true,
		Results:           results,
	})
	require.NoError(t, err)
	assert.False(t, scheduled, "storage failures are not redelivered")

	failed, err := q.FailedJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, id, failed[0].Job.ID)
	assert.Equal(t, testBatch(), failed[0].Job.Batch)
	assert.Equal(t, models.KindStorageFailure, failed[0].Outcome.ErrorKind)
	assert.True(t, failed[0].Outcome.AnalysisSucceeded)
	assert.Equal(t, results, failed[0].Outcome.Results)

	require.NoError(t, q.RemoveFailed(ctx, id))
	failed, err = q.FailedJobs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestQueue_ReleaseRestoresAttempt(t *testing.T) {
	ctx := context.Background()
	mr, vc := newTestServer(t)
	q := newTestQueue(vc, "w1", &testClock{now: time.Now()})
	k := newKeys(testQueue)

	first, err := q.Enqueue(ctx, testBatch())
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, testBatch())
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, first, job.ID)
	require.Equal(t, 1, job.Attempts)

	require.NoError(t, q.Release(ctx, job))
	assert.Equal(t, "0", mr.HGet(k.job(first), FIELD_ATTEMPTS))
	assert.Equal(t, string(models.JobStatusQueued), mr.HGet(k.job(first), FIELD_STATUS))
	assert.False(t, mr.Exists(k.processing("w1")))

	job, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, first, job.ID, "a released job is served before later ones")
	assert.Equal(t, 1, job.Attempts)

	pending, err := mr.List(k.pending())
	require.NoError(t, err)
	assert.Equal(t, []string{second}, pending)
}

func TestQueue_DequeueRejectsUnreadableJob(t *testing.T) {
	ctx := context.Background()
	mr, vc := newTestServer(t)
	clock := &testClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	q := newTestQueue(vc, "w1", clock)
	k := newKeys(testQueue)

	mr.HSet(k.job("bad-1"), FIELD_PAYLOAD, "{not json", FIELD_STATUS, string(models.JobStatusQueued))
	_, err := mr.Lpush(k.pending(), "bad-1")
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)

	assert.False(t, mr.Exists(k.processing("w1")))
	failed, err := mr.List(k.failed())
	require.NoError(t, err)
	assert.Equal(t, []string{"bad-1"}, failed)
	assert.Equal(t, string(models.JobStatusFailed), mr.HGet(k.job("bad-1"), FIELD_STATUS))
	assert.Contains(t, mr.HGet(k.job("bad-1"), FIELD_ERROR), "InvalidInput")
	assert.Contains(t, mr.HGet(k.job("bad-1"), FIELD_RESULT), `"error_kind":"InvalidInput"`)

	// The next dequeue must not see the rejected job again.
	job, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestQueue_DequeueDropsJobWithoutPayload(t *testing.T) {
	ctx := context.Background()
	mr, vc := newTestServer(t)
	q := newTestQueue(vc, "w1", &testClock{now: time.Now()})
	k := newKeys(testQueue)

	_, err := mr.Lpush(k.pending(), "ghost")
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.False(t, mr.Exists(k.processing("w1")))
	assert.False(t, mr.Exists(k.job("ghost")))
	assert.False(t, mr.Exists(k.failed()))
}

func TestQueue_RecoverAbandonedRequeuesDeadWorkerJobs(t *testing.T) {
	ctx := context.Background()
	mr, vc := newTestServer(t)
	clock := &testClock{now: time.Now()}
	crashed := newTestQueue(vc, "w1", clock)
	survivor := newTestQueue(vc, "w2", clock)
	k := newKeys(testQueue)

	require.NoError(t, crashed.Heartbeat(ctx))
	require.NoError(t, survivor.Heartbeat(ctx))

	id, err := crashed.Enqueue(ctx, testBatch())
	require.NoError(t, err)
	job, err := crashed.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)

	stats, err := survivor.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.InProgress)
	assert.Equal(t, int64(2), stats.Workers)

	n, err := survivor.RecoverAbandoned(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a live worker keeps its jobs")

	mr.FastForward(HEARTBEAT_TTL + time.Second)
	require.NoError(t, survivor.Heartbeat(ctx))

	n, err = survivor.RecoverAbandoned(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, mr.Exists(k.processing("w1")))
	workers, err := mr.Members(k.workers())
	require.NoError(t, err)
	assert.Equal(t, []string{"w2"}, workers)

	job, err = survivor.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, 2, job.Attempts)
}

func TestQueue_RecoverAbandonedLeavesOwnJobs(t *testing.T) {
	ctx := context.Background()
	mr, vc := newTestServer(t)
	q := newTestQueue(vc, "w1", &testClock{now: time.Now()})
	k := newKeys(testQueue)

	require.NoError(t, q.Heartbeat(ctx))
	id, err := q.Enqueue(ctx, testBatch())
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)

	mr.FastForward(HEARTBEAT_TTL + time.Second)

	n, err := q.RecoverAbandoned(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	processing, err := mr.List(k.processing("w1"))
	require.NoError(t, err)
	assert.Equal(t, []string{id}, processing)

	n, err = q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, mr.Exists(k.processing("w1")))
}

func TestQueue_StatsAndPurge(t *testing.T) {
	ctx := context.Background()
	mr, vc := newTestServer(t)
	clock := &testClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	q := newTestQueue(vc, "w1", clock)

	require.NoError(t, q.Heartbeat(ctx))
	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, testBatch())
		require.NoError(t, err)
	}

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	_, err = q.Fail(ctx, job, models.JobOutcome{JobID: job.ID, ErrorKind: models.KindServiceUnreachable})
	require.NoError(t, err)

	job, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStats{
		Queue:      testQueue,
		Pending:    1,
		Scheduled:  1,
		InProgress: 1,
		Failed:     0,
		Workers:    1,
	}, stats)

	mr.Set("unrelated", "keep")
	deleted, err := q.Purge(ctx)
	require.NoError(t, err)
	assert.Positive(t, deleted)
	assert.Equal(t, []string{"unrelated"}, mr.Keys())
}
