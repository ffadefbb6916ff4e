package utils

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

var ErrEmptyQueue = errors.New("queue is empty")

// maxReserveHint bounds the up-front allocation; larger queues grow on demand.
const maxReserveHint = 1024

// BQueue is a fixed-capacity FIFO that hands values between goroutines.
//
// Values leave the queue in insertion order. Goroutines blocked in Send or
// Receive are woken in whatever order sync.Cond releases them, so there is no
// fairness among waiters. Every insertion wakes all blocked consumers and
// every removal wakes all blocked producers.
//
// A capacity of zero is accepted, but Send then blocks forever; callers should
// validate the capacity themselves. The queue does not own the lifetime of the
// values it holds: closing a connection handle before insertion or after
// removal is up to the caller. There is no cancellation: to release blocked
// consumers, send them a sentinel value.
type BQueue[T any] struct {
	mu       sync.Mutex
	notEmpty sync.Cond
	notFull  sync.Cond
	data     Container[T]
	capacity int
}

func NewBlockingQueue[T any](capacity int) *BQueue[T] {
	return NewBlockingQueueWith[T](capacity, NewSliceContainer[T]())
}

// NewBlockingQueueWith builds a queue on top of c, which must be empty and
// must not be used by anything else afterwards.
func NewBlockingQueueWith[T any](capacity int, c Container[T]) *BQueue[T] {
	if capacity < 0 {
		capacity = 0
	}
	q := new(BQueue[T])
	q.notEmpty = sync.Cond{L: &q.mu}
	q.notFull = sync.Cond{L: &q.mu}
	q.capacity = capacity
	q.data = c
	if r, ok := c.(Reserver); ok {
		r.Reserve(min(capacity, maxReserveHint))
	}
	return q
}

func (q *BQueue[T]) Capacity() int {
	return q.capacity
}

// Size returns the number of queued items. The value may be stale by the time
// the caller looks at it.
func (q *BQueue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.data.Len()
}

// Send appends v, blocking while the queue is full.
func (q *BQueue[T]) Send(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.isFull() {
		q.notFull.Wait()
	}
	q.data.PushBack(v)
	q.notEmpty.Broadcast()
}

// TrySend appends v only if there is room right now.
func (q *BQueue[T]) TrySend(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.isFull() {
		return false
	}
	q.data.PushBack(v)
	q.notEmpty.Broadcast()
	return true
}

// Receive removes and returns the oldest item, blocking while the queue is empty.
func (q *BQueue[T]) Receive() T {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.isEmpty() {
		q.notEmpty.Wait()
	}
	v := q.data.PopFront()
	q.notFull.Broadcast()
	return v
}

// WaitFor waits up to d for the queue to hold at least one item and reports
// whether it does when the wait ends. Nothing is removed.
func (q *BQueue[T]) WaitFor(d time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.isEmpty() {
		return true
	}
	if d <= 0 {
		return false
	}

	expired := false
	timer := time.AfterFunc(d, func() {
		q.mu.Lock()
		expired = true
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()

	for q.isEmpty() && !expired {
		q.notEmpty.Wait()
	}
	return !q.isEmpty()
}

// Fill calls generator and appends its result until the queue holds
// min(Capacity(), amount) items. The lock is held for the whole call, so
// generator must never touch this queue.
func (q *BQueue[T]) Fill(generator func() T, amount int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	amount = min(q.capacity, amount)
	added := 0
	for q.data.Len() < amount {
		q.data.PushBack(generator())
		added++
	}
	if added > 0 {
		q.notEmpty.Broadcast()
	}
}

func (q *BQueue[T]) FillToCapacity(generator func() T) {
	q.Fill(generator, q.capacity)
}

// LastValue returns the most recently appended item without removing it.
func (q *BQueue[T]) LastValue() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.isEmpty() {
		var zero T
		return zero, ErrEmptyQueue
	}
	return q.data.Back(), nil
}

func (q *BQueue[T]) isFull() bool {
	return q.data.Len() >= q.capacity
}

func (q *BQueue[T]) isEmpty() bool {
	return q.data.Len() == 0
}
