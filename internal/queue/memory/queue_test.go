package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/chesscom-crawler/internal/crawler"
	"github.com/JakeFAU/chesscom-crawler/internal/hash/sha256"
)

func TestQueueFIFOAndSize(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, crawler.NewWorkItem(fmt.Sprintf("https://x.com/%d", i))))
	}
	require.Equal(t, 5, q.Size())

	for i := 0; i < 3; i++ {
		item, ok := q.TryDequeue()
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("https://x.com/%d", i), item.Target)
	}
	require.Equal(t, 2, q.Size())
}

func TestQueueTryDequeueEmpty(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	item, ok := q.TryDequeue()
	require.False(t, ok)
	require.Equal(t, crawler.WorkItem{}, item)
}

func TestQueueConcurrentProducersPreserveOrder(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	ctx := context.Background()
	const producers, perProducer = 4, 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				item := crawler.NewWorkItem(fmt.Sprintf("https://x.com/%d/%d", p, i))
				require.NoError(t, q.Enqueue(ctx, item))
			}
		}(p)
	}
	wg.Wait()
	require.Equal(t, producers*perProducer, q.Size())

	next := make([]int, producers)
	for q.Size() > 0 {
		item, err := q.Dequeue(ctx)
		require.NoError(t, err)
		var p, i int
		_, err = fmt.Sscanf(item.Target, "https://x.com/%d/%d", &p, &i)
		require.NoError(t, err)
		require.Equal(t, next[p], i, "producer %d out of order", p)
		next[p]++
	}
	for p := range next {
		require.Equal(t, perProducer, next[p])
	}
}

func TestQueueDequeueWaitsForWork(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	result := make(chan crawler.WorkItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to block
	require.NoError(t, q.Enqueue(context.Background(), crawler.NewWorkItem("https://x.com/a")))

	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, "https://x.com/a", got.Target)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueDequeueCanceled(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx)
	require.Error(t, err)
	require.Equal(t, "dequeue canceled: context canceled", err.Error())
}

func TestQueueCloseDrainsThenErrors(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, crawler.NewWorkItem("https://x.com/a")))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Enqueue(ctx, crawler.NewWorkItem("https://x.com/b")), crawler.ErrQueueClosed)

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://x.com/a", item.Target)

	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, crawler.ErrQueueClosed)
}

func TestQueueCloseWakesBlockedConsumer(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, crawler.ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked consumer was not woken by Close")
	}
}

func TestQueueDedupe(t *testing.T) {
	t.Parallel()

	q := NewQueue(WithDedupe(sha256.New()))
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, crawler.NewWorkItem("https://api.chess.com/pub/player/a/stats")))
	err := q.Enqueue(ctx, crawler.NewWorkItem("HTTPS://API.CHESS.COM/pub/player/a/stats/"))
	require.ErrorIs(t, err, crawler.ErrDuplicate)
	require.Equal(t, 1, q.Size())

	item, ok := q.TryDequeue()
	require.True(t, ok)
	require.NoError(t, q.Enqueue(ctx, item.Retry()), "retries bypass the seen set")
	require.Equal(t, 1, q.Size())

	require.ErrorIs(t, q.Enqueue(ctx, crawler.NewWorkItem(item.Target)), crawler.ErrDuplicate,
		"seen set outlives the queue entry")
}

func TestQueueWithoutDedupeAllowsDuplicates(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, crawler.NewWorkItem("https://x.com/a")))
	require.NoError(t, q.Enqueue(ctx, crawler.NewWorkItem("https://x.com/a")))
	require.Equal(t, 2, q.Size())
}

func TestQueueOverflowDrop(t *testing.T) {
	t.Parallel()

	q := NewQueue(WithMaxDepth(1, OverflowDrop))
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, crawler.NewWorkItem("https://x.com/a")))
	err := q.Enqueue(ctx, crawler.NewWorkItem("https://x.com/b"))
	require.ErrorIs(t, err, crawler.ErrDropped)
	require.Equal(t, 1, q.Size())
	require.Equal(t, 1, q.Dropped())

	retry := crawler.NewWorkItem("https://x.com/c").Retry()
	require.NoError(t, q.Enqueue(ctx, retry))
	require.Equal(t, 2, q.Size(), "retries are not subject to the depth bound")
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func TestQueueStampsEnqueuedAt(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	q := NewQueue(WithClock(&stepClock{now: start}), WithMaxDepth(1, OverflowDrop))
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, crawler.NewWorkItem("https://x.com/a")))
	require.ErrorIs(t, q.Enqueue(ctx, crawler.NewWorkItem("https://x.com/b")), crawler.ErrDropped)
	require.NoError(t, q.Enqueue(ctx, crawler.NewWorkItem("https://x.com/a").Retry()))

	first, ok := q.TryDequeue()
	require.True(t, ok)
	require.Equal(t, start.Add(time.Second), first.EnqueuedAt)
	retry, ok := q.TryDequeue()
	require.True(t, ok)
	require.Equal(t, start.Add(2*time.Second), retry.EnqueuedAt, "dropped items do not read the clock")
}

func TestQueueWithoutClockLeavesEnqueuedAtZero(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	require.NoError(t, q.Enqueue(context.Background(), crawler.NewWorkItem("https://x.com/a")))
	item, ok := q.TryDequeue()
	require.True(t, ok)
	require.True(t, item.EnqueuedAt.IsZero())
}

func TestQueueOverflowReject(t *testing.T) {
	t.Parallel()

	q := NewQueue(WithMaxDepth(1, OverflowReject))
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, crawler.NewWorkItem("https://x.com/a")))
	err := q.Enqueue(ctx, crawler.NewWorkItem("https://x.com/b"))
	require.True(t, errors.Is(err, crawler.ErrQueueFull))
	require.Equal(t, 0, q.Dropped())
}

func TestQueueOverflowBlock(t *testing.T) {
	t.Parallel()

	q := NewQueue(WithMaxDepth(1, OverflowBlock))
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, crawler.NewWorkItem("https://x.com/a")))

	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(ctx, crawler.NewWorkItem("https://x.com/b"))
	}()

	select {
	case err := <-done:
		t.Fatalf("enqueue should block while full, got %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	_, ok := q.TryDequeue()
	require.True(t, ok)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked enqueue did not resume after dequeue")
	}
	require.Equal(t, 1, q.Size())

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	err := q.Enqueue(canceled, crawler.NewWorkItem("https://x.com/c"))
	require.EqualError(t, err, "enqueue canceled: context canceled")
}

func TestParseOverflowPolicy(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]OverflowPolicy{
		"":        OverflowDrop,
		"drop":    OverflowDrop,
		" Reject": OverflowReject,
		"BLOCK":   OverflowBlock,
	} {
		got, err := ParseOverflowPolicy(name)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseOverflowPolicy("spill")
	require.Error(t, err)
}
