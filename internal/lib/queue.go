package lib

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueTaskDone is returned by TaskDone when there is no unfinished task.
var ErrQueueTaskDone = errors.New("TaskDone called more times than there were items")

type queueItem[T any] struct {
	value    T
	sentinel bool
}

// Queue is an unbounded FIFO that counts unfinished tasks.
// Every Put or PutSentinel adds one unfinished task; every TaskDone removes one.
// Join waits for the count to reach zero.
type Queue[T any] struct {
	mu         sync.Mutex
	items      []queueItem[T]
	unfinished int
	// nonEmpty is closed and cleared by the next Put when a Get is waiting.
	nonEmpty chan struct{}
	// allDone is closed whenever unfinished is zero.
	allDone chan struct{}
}

func NewQueue[T any]() *Queue[T] {
	allDone := make(chan struct{})
	close(allDone)
	return &Queue[T]{allDone: allDone}
}

func (q *Queue[T]) Put(v T) {
	q.put(queueItem[T]{value: v})
}

// PutSentinel enqueues a "no more work" marker. Put one per consumer.
func (q *Queue[T]) PutSentinel() {
	q.put(queueItem[T]{sentinel: true})
}

func (q *Queue[T]) put(item queueItem[T]) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, item)
	if q.unfinished == 0 {
		q.allDone = make(chan struct{})
	}
	q.unfinished++
	if q.nonEmpty != nil {
		close(q.nonEmpty)
		q.nonEmpty = nil
	}
}

// Get removes and returns the oldest item, blocking until one is available.
// ok is false when the item is a sentinel.
func (q *Queue[T]) Get(ctx context.Context) (v T, ok bool, err error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = queueItem[T]{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return item.value, !item.sentinel, nil
		}
		if q.nonEmpty == nil {
			q.nonEmpty = make(chan struct{})
		}
		wait := q.nonEmpty
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return v, false, ctx.Err()
		case <-wait:
		}
	}
}

// TaskDone marks one previously dequeued item as finished.
func (q *Queue[T]) TaskDone() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.unfinished <= 0 {
		return ErrQueueTaskDone
	}
	q.unfinished--
	if q.unfinished == 0 {
		close(q.allDone)
	}
	return nil
}

// Join blocks until every item put on the queue has been marked done.
func (q *Queue[T]) Join(ctx context.Context) error {
	q.mu.Lock()
	done := q.allDone
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Unfinished returns the number of items put but not yet marked done.
func (q *Queue[T]) Unfinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unfinished
}

// Len returns the number of items waiting to be dequeued.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
