package lib

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFOAndSentinel(t *testing.T) {
	ctx := context.Background()
	q := NewQueue[string]()
	q.Put("a")
	q.Put("b")
	q.PutSentinel()
	assert.Equal(t, 3, q.Unfinished())
	assert.Equal(t, 3, q.Len())

	v, ok, err := q.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a", v)

	v, ok, err = q.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", v)

	_, ok, err = q.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "sentinel")

	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 3, q.Unfinished(), "Get does not mark items done")
}

func TestQueue_TaskDoneAndJoin(t *testing.T) {
	ctx := context.Background()
	q := NewQueue[int]()

	// An empty queue is already joined.
	require.NoError(t, q.Join(ctx))
	assert.ErrorIs(t, q.TaskDone(), ErrQueueTaskDone)

	q.Put(1)
	q.Put(2)

	joined := make(chan error, 1)
	go func() { joined <- q.Join(ctx) }()

	require.NoError(t, q.TaskDone())
	select {
	case <-joined:
		t.Fatal("Join returned with an unfinished task")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, q.TaskDone())
	select {
	case err := <-joined:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Join did not return after all tasks were done")
	}
	assert.Equal(t, 0, q.Unfinished())
	assert.ErrorIs(t, q.TaskDone(), ErrQueueTaskDone)

	// The queue can be reused after reaching zero.
	q.Put(3)
	ctxTimeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Join(ctxTimeout), context.DeadlineExceeded)
}

func TestQueue_GetBlocksUntilPut(t *testing.T) {
	q := NewQueue[string]()
	got := make(chan string, 1)
	go func() {
		v, _, err := q.Get(context.Background())
		if err == nil {
			got <- v
		}
	}()

	select {
	case <-got:
		t.Fatal("Get returned from an empty queue")
	case <-time.After(20 * time.Millisecond):
	}

	q.Put("late")
	select {
	case v := <-got:
		assert.Equal(t, "late", v)
	case <-time.After(time.Second):
		t.Fatal("Get did not return after Put")
	}
}

func TestQueue_GetCancelled(t *testing.T) {
	q := NewQueue[string]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok, err := q.Get(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
}

func TestQueue_EachItemDeliveredOnce(t *testing.T) {
	const numItems = 500
	const numConsumers = 8
	ctx := context.Background()
	q := NewQueue[int]()

	var mu sync.Mutex
	seen := make(map[int]int)
	var wg sync.WaitGroup
	for range numConsumers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, ok, err := q.Get(ctx)
				if !assert.NoError(t, err) {
					return
				}
				if !ok {
					assert.NoError(t, q.TaskDone())
					return
				}
				mu.Lock()
				seen[v]++
				mu.Unlock()
				assert.NoError(t, q.TaskDone())
			}
		}()
	}

	// Producers race with consumers.
	for i := range numItems {
		q.Put(i)
	}
	for range numConsumers {
		q.PutSentinel()
	}

	require.NoError(t, q.Join(ctx))
	wg.Wait()

	require.Len(t, seen, numItems)
	for i := range numItems {
		assert.Equal(t, 1, seen[i], "item %d", i)
	}
	assert.Equal(t, 0, q.Unfinished())
}
