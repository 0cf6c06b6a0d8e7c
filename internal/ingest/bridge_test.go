package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/spacesedan/sentiflow-worker/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	messages []*kafka.Message
	cancel   context.CancelFunc
	err      error
}

func (f *fakeSource) Next(ctx context.Context) (*kafka.Message, error) {
	if len(f.messages) == 0 {
		if f.err != nil {
			return nil, f.err
		}
		f.cancel()
		return nil, ctx.Err()
	}
	msg := f.messages[0]
	f.messages = f.messages[1:]
	return msg, nil
}

type fakeCommitter struct {
	committed []string
}

func (f *fakeCommitter) Commit(_ context.Context, msg *kafka.Message) error {
	f.committed = append(f.committed, string(msg.Key))
	return nil
}

type fakeQueue struct {
	batches []models.ReviewBatch
	err     error
}

func (f *fakeQueue) Enqueue(_ context.Context, batch models.ReviewBatch) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.batches = append(f.batches, batch)
	return fmt.Sprintf("job-%d", len(f.batches)), nil
}

func message(key, value string) *kafka.Message {
	return &kafka.Message{Key: []byte(key), Value: []byte(value)}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBridge_EnqueuesAndCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &fakeSource{cancel: cancel, messages: []*kafka.Message{
		message("a", `[{"movie_name":"Up","review_text":"lovely"},{"movie_name":"Up","review_text":"sweet"},{"movie_name":"Cats","review_text":"no"}]`),
		message("b", `{"reviews":[{"movie_name":"Heat","review_text":"tense"}]}`),
	}}
	committer := &fakeCommitter{}
	queue := &fakeQueue{}

	b := NewBridge(source, committer, queue, 2, discardLogger())
	require.NoError(t, b.Run(ctx))

	require.Len(t, queue.batches, 3)
	assert.Len(t, queue.batches[0], 2)
	assert.Equal(t, "Cats", queue.batches[1][0].MovieName)
	assert.Equal(t, "Heat", queue.batches[2][0].MovieName)
	assert.Equal(t, []string{"a", "b"}, committer.committed)
	assert.Equal(t, Report{Messages: 2, Jobs: 3}, b.Report())
}

func TestBridge_SkipsUnusableMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &fakeSource{cancel: cancel, messages: []*kafka.Message{
		message("garbage", `not json`),
		message("empty", `[]`),
		message("ok", `[{"movie_name":"Up","review_text":"lovely"}]`),
	}}
	committer := &fakeCommitter{}
	queue := &fakeQueue{}

	b := NewBridge(source, committer, queue, 0, discardLogger())
	require.NoError(t, b.Run(ctx))

	assert.Len(t, queue.batches, 1)
	assert.Equal(t, []string{"garbage", "empty", "ok"}, committer.committed)
	assert.Equal(t, int64(2), b.Report().Skipped)
}

func TestBridge_EnqueueFailureLeavesOffsetUncommitted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &fakeSource{cancel: cancel, messages: []*kafka.Message{
		message("a", `[{"movie_name":"Up","review_text":"lovely"}]`),
	}}
	committer := &fakeCommitter{}
	queue := &fakeQueue{err: errors.New("connection refused")}

	err := NewBridge(source, committer, queue, 10, discardLogger()).Run(ctx)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, committer.committed)
}

func TestBridge_ReadFailure(t *testing.T) {
	source := &fakeSource{err: errors.New("all brokers down")}

	err := NewBridge(source, &fakeCommitter{}, &fakeQueue{}, 10, discardLogger()).Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "all brokers down")
}
