// Package queue provides the thread-safe FIFO that connects a producer (the
// data processor) to a polling consumer (a reader or sink).
//
// Core contract:
//   - Records are dequeued in the order they were enqueued (FIFO)
//   - Put never blocks when the queue is unbounded (Capacity == 0, the default)
//   - TryGet never blocks; Len/Empty support polling readers
//
// A bounded queue must pick an overflow policy explicitly:
//
//	DropOldest - evict the head to admit the new item (always latest)
//	DropNewest - reject the incoming item with ErrFull
//	Block      - block the producer until space is available
//
// Usage:
//
//	q := queue.New[processor.Record](queue.Config{})
//	q.Put(rec)
//	if rec, ok := q.TryGet(); ok {
//	    // consume rec
//	}
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrClosed is returned by Put after Close, and by Get once the queue is
	// closed and drained.
	ErrClosed = errors.New("queue: closed")
	// ErrFull is returned by Put on a bounded DropNewest queue at capacity.
	ErrFull = errors.New("queue: full")
)

// Policy defines how a bounded queue handles a Put at capacity.
type Policy int

const (
	// DropOldest evicts the oldest item to admit the new one.
	DropOldest Policy = iota
	// DropNewest rejects the incoming item.
	DropNewest
	// Block waits until a consumer makes room.
	Block
)

// String returns the config spelling of the policy.
func (p Policy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// ParsePolicy parses the config spelling of a policy. An empty string means
// DropOldest.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "drop_oldest":
		return DropOldest, nil
	case "drop_newest":
		return DropNewest, nil
	case "block":
		return Block, nil
	default:
		return 0, fmt.Errorf("queue: unknown policy %q (must be drop_oldest, drop_newest or block)", s)
	}
}

// Config configures a queue. The zero value is an unbounded queue.
type Config struct {
	// Capacity bounds the queue. 0 means unbounded.
	Capacity int
	// Policy applies only when Capacity > 0.
	Policy Policy
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Put       uint64
	Got       uint64
	Dropped   uint64
	Len       int
	HighWater int
}

// Queue is a FIFO safe for concurrent Put and Get from any goroutines.
type Queue[T any] struct {
	cfg Config

	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	// ring buffer
	buf  []T
	head int
	n    int

	closed bool

	put       uint64
	got       uint64
	dropped   uint64
	highWater int
}

const minRing = 16

// New creates a queue.
func New[T any](cfg Config) *Queue[T] {
	if cfg.Capacity < 0 {
		cfg.Capacity = 0
	}

	size := minRing
	if cfg.Capacity > 0 && cfg.Capacity < size {
		size = cfg.Capacity
	}

	q := &Queue[T]{
		cfg: cfg,
		buf: make([]T, size),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Put appends v to the tail.
//
// Unbounded queues never block. Bounded queues apply the configured policy.
func (q *Queue[T]) Put(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	if q.bounded() && q.n >= q.cfg.Capacity {
		switch q.cfg.Policy {
		case DropNewest:
			q.dropped++
			return ErrFull

		case DropOldest:
			q.popLocked()
			q.dropped++

		case Block:
			for q.n >= q.cfg.Capacity && !q.closed {
				q.notFull.Wait()
			}
			if q.closed {
				return ErrClosed
			}
		}
	}

	q.pushLocked(v)
	q.put++
	q.notEmpty.Signal()
	return nil
}

// TryGet removes and returns the head without blocking.
func (q *Queue[T]) TryGet() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.n == 0 {
		var zero T
		return zero, false
	}

	v := q.popLocked()
	q.got++
	q.notFull.Signal()
	return v, true
}

// Get removes and returns the head, blocking until an item is available, the
// queue is closed and drained (ErrClosed), or ctx is done (ctx.Err()).
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	// Wake waiters when ctx is cancelled; sync.Cond cannot select on a channel.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.n == 0 {
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if q.closed {
			return zero, ErrClosed
		}
		q.notEmpty.Wait()
	}

	v := q.popLocked()
	q.got++
	q.notFull.Signal()
	return v, nil
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Empty reports whether the queue holds no items.
func (q *Queue[T]) Empty() bool {
	return q.Len() == 0
}

// Close rejects further Puts and wakes every blocked Get and Put. Items
// already queued remain available to TryGet and Get.
//
// Idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Stats returns a snapshot of the queue counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Stats{
		Put:       q.put,
		Got:       q.got,
		Dropped:   q.dropped,
		Len:       q.n,
		HighWater: q.highWater,
	}
}

func (q *Queue[T]) bounded() bool {
	return q.cfg.Capacity > 0
}

func (q *Queue[T]) pushLocked(v T) {
	if q.n == len(q.buf) {
		q.growLocked()
	}
	q.buf[(q.head+q.n)%len(q.buf)] = v
	q.n++
	if q.n > q.highWater {
		q.highWater = q.n
	}
}

func (q *Queue[T]) popLocked() T {
	var zero T
	v := q.buf[q.head]
	q.buf[q.head] = zero // release reference (frames carry large buffers)
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return v
}

func (q *Queue[T]) growLocked() {
	size := len(q.buf) * 2
	if q.bounded() && size > q.cfg.Capacity {
		size = q.cfg.Capacity
	}
	grown := make([]T, size)
	for i := 0; i < q.n; i++ {
		grown[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = grown
	q.head = 0
}
