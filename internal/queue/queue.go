// Package queue implements the bounded in-process moderation queue that sits
// between the send path and the moderation worker.
package queue

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/eventhub/chat-moderation/internal/chat"
)

// DefaultCapacity is the queue bound used when none is configured.
const DefaultCapacity = 500

// ErrClosed is returned by Enqueue after Close and by Dequeue once the queue
// is closed and drained.
var ErrClosed = errors.New("queue: closed")

// Enqueuer accepts moderation work. Queue implements it for local mode; the
// NATS work publisher implements it when moderation runs in its own process.
type Enqueuer interface {
	Enqueue(ctx context.Context, item chat.WorkItem) error
}

// Queue is a bounded multi-producer, multi-consumer FIFO. Producers wait
// while it is full; nothing is ever dropped for lack of room.
type Queue struct {
	items chan chat.WorkItem

	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a queue holding at most capacity items. A non-positive capacity
// means DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		items: make(chan chat.WorkItem, capacity),
		done:  make(chan struct{}),
	}
}

// Enqueue adds item, blocking while the queue is full. It returns ctx.Err()
// if the caller stops waiting and ErrClosed if the queue is closed first.
func (q *Queue) Enqueue(ctx context.Context, item chat.WorkItem) error {
	// The read lock keeps Close from closing items while a send is pending;
	// Close signals done first so blocked senders let go of the lock.
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	select {
	case q.items <- item:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue removes the oldest item, blocking while the queue is empty. Items
// enqueued before Close remain available; once they are drained Dequeue
// returns ErrClosed.
func (q *Queue) Dequeue(ctx context.Context) (chat.WorkItem, error) {
	select {
	case item, ok := <-q.items:
		if !ok {
			return chat.WorkItem{}, ErrClosed
		}
		return item, nil
	case <-ctx.Done():
		return chat.WorkItem{}, ctx.Err()
	}
}

// Items returns a lazy sequence over the queue. The sequence ends when the
// queue is closed and drained, when ctx is cancelled, or when the caller
// breaks out of the loop.
func (q *Queue) Items(ctx context.Context) iter.Seq[chat.WorkItem] {
	return func(yield func(chat.WorkItem) bool) {
		for {
			if ctx.Err() != nil {
				return
			}
			item, err := q.Dequeue(ctx)
			if err != nil {
				return
			}
			if !yield(item) {
				return
			}
		}
	}
}

// Close stops accepting new items. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
		q.mu.Lock()
		q.closed = true
		close(q.items)
		q.mu.Unlock()
	})
}

// Len returns the number of items waiting.
func (q *Queue) Len() int {
	return len(q.items)
}

// Cap returns the queue bound.
func (q *Queue) Cap() int {
	return cap(q.items)
}
