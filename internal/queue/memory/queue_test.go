package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collegedata/crawler/internal/pipeline"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()
	q := New(4)
	ctx := context.Background()

	for _, id := range []string{"job-1", "job-2", "job-3"} {
		require.NoError(t, q.Enqueue(ctx, pipeline.QueueItem{JobID: id}))
	}
	assert.Equal(t, 3, q.Size())

	for _, want := range []string{"job-1", "job-2", "job-3"} {
		item, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, item.JobID)
	}
	assert.Zero(t, q.Size())
}

func TestEnqueueBlocksWhenFull(t *testing.T) {
	t.Parallel()
	q := New(1)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, pipeline.QueueItem{JobID: "job-1"}))

	offerCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(offerCtx, pipeline.QueueItem{JobID: "job-2"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDequeueRespectsContext(t *testing.T) {
	t.Parallel()
	q := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseDrainsThenErrors(t *testing.T) {
	t.Parallel()
	q := New(2)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, pipeline.QueueItem{JobID: "job-1"}))

	q.Close()
	q.Close() // idempotent

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", item.JobID)

	_, err = q.Dequeue(ctx)
	assert.EqualError(t, err, "queue closed")
}
