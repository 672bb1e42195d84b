// Package util provides a bounded, lock-free Multi-Producer Single-Consumer (MPSC) queue.
//
// Features and Guarantees:
//
//   - Lock-Free appends: producers link nodes with atomic operations
//   - Bounded: a weighted semaphore caps the number of queued items, producers
//     block on a full queue (backpressure) until the consumer catches up or
//     their context is done
//   - Per-producer FIFO: items pushed by one goroutine are delivered in push order.
//     Items from different producers are ordered by which Push completed first.
//   - Single Consumer: values are delivered on one channel (see Recv)
//   - Drain on Close: items queued before Close are still delivered, then the
//     Recv channel is closed
package util

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrQueueClosed is returned by Push when the queue no longer accepts items.
	ErrQueueClosed = errors.New("queue is closed")
)

// node represents a single element in the queue
type node[T any] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// MPSC is a bounded multi-producer single-consumer queue.
// A capacity <= 0 makes the queue unbounded.
type MPSC[T any] struct {
	head     atomic.Pointer[node[T]]
	tail     atomic.Pointer[node[T]]
	out      chan *T
	consumer sync.WaitGroup
	closed   atomic.Bool
	length   atomic.Int64

	capacity int64
	slots    *semaphore.Weighted // nil for unbounded queues

	// Condition variable for efficient waiting
	mu   sync.Mutex
	cond *sync.Cond
}

// NewMPSC creates a new queue holding at most capacity items.
func NewMPSC[T any](capacity int) *MPSC[T] {
	// sentinel node (dummy node at the beginning)
	sentinel := &node[T]{}

	q := &MPSC[T]{
		out:      make(chan *T),
		capacity: int64(capacity),
	}
	if capacity > 0 {
		q.slots = semaphore.NewWeighted(int64(capacity))
	}
	q.cond = sync.NewCond(&q.mu)

	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.consume()

	return q
}

// Push adds an item to the queue, blocking while the queue is full.
// It returns ErrQueueClosed if the queue is closed and ctx.Err() if the
// context is done before a slot became free.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *MPSC[T]) Push(ctx context.Context, value *T) error {
	if value == nil {
		return errors.New("nil value")
	}
	if q.closed.Load() {
		return ErrQueueClosed
	}

	if q.slots != nil {
		if err := q.slots.Acquire(ctx, 1); err != nil {
			return err
		}
		// the queue may have been closed while we were waiting for a slot
		if q.closed.Load() {
			q.slots.Release(1)
			return ErrQueueClosed
		}
	}

	q.append(&node[T]{value: value})
	return nil
}

// append links newNode behind the current tail
func (q *MPSC[T]) append(newNode *node[T]) {
	var backoff uint8 = 0

	for {
		tailNode := q.tail.Load()

		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				/*
				 Successfully appended, now try to update tail
				 Note: CAS may fail if another producer helps update tail,
				 but that's okay - tail will still be updated eventually
				*/
				q.tail.CompareAndSwap(tailNode, newNode)
				q.length.Add(1)

				// wake the consumer under the lock so the signal can't slip
				// between its emptiness check and cond.Wait
				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()
				return
			}
		} else {
			// help update the tail pointer if another producer has already appended a node but hasn't updated the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// exponential backoff under contention: spin first, then yield
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// consume moves items from the linked list to the output channel and frees their slots
func (q *MPSC[T]) consume() {
	defer q.consumer.Done()
	defer close(q.out)

	for {
		hasItems := false

		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			hasItems = true

			value := next.value
			q.head.Store(next)

			q.out <- value
			q.length.Add(-1)
			if q.slots != nil {
				q.slots.Release(1)
			}

			// help go gc - safe to clear after sending
			next.value = nil
		}

		if !hasItems && q.closed.Load() {
			return
		}

		if !hasItems {
			q.mu.Lock()
			head := q.head.Load()
			if head.next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns a receive-only channel for consuming from the queue.
// The channel is closed once the queue is closed and drained.
func (q *MPSC[T]) Recv() <-chan *T {
	return q.out
}

// Close stops the queue from accepting new items.
// Items already queued are still delivered to the consumer.
func (q *MPSC[T]) Close() {
	q.closed.Store(true)

	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// Len returns the number of items waiting to be received.
func (q *MPSC[T]) Len() int {
	return int(q.length.Load())
}

// Cap returns the capacity of the queue (0 = unbounded).
func (q *MPSC[T]) Cap() int {
	if q.capacity <= 0 {
		return 0
	}
	return int(q.capacity)
}
