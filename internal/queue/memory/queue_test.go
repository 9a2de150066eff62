package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrape-engine-gateway/internal/jobs"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan jobs.QueueItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	item := jobs.QueueItem{JobID: "job-1", Params: jobs.Params{URL: "https://example.com"}}
	require.NoError(t, q.TryEnqueue(item))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, item, got)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueDequeueCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewQueue(1).Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")
}

func TestQueueTryEnqueue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.TryEnqueue(jobs.QueueItem{JobID: "a"}))
	require.ErrorIs(t, q.TryEnqueue(jobs.QueueItem{JobID: "b"}), ErrFull)
	require.Equal(t, 1, q.Len())
}

func TestQueueCloseDrainsBufferedItems(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.TryEnqueue(jobs.QueueItem{JobID: "a"}))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.TryEnqueue(jobs.QueueItem{}), ErrClosed)

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", got.JobID)

	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
