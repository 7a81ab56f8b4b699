// Package broadcast moves recognition events from the engine side to room members.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/gammazero/deque"
	"github.com/rs/zerolog/log"
)

const DefaultCapacity = 10000

var ErrQueueClosed = errors.New("queue closed")

// Queue is a bounded FIFO of recognition events with many producers and one consumer.
// Enqueue never blocks: when the queue is full the newest event is dropped.
type Queue struct {
	mu     sync.Mutex
	items  deque.Deque[domain.RecognitionEvent]
	limit  int
	closed bool

	notify chan struct{}
	done   chan struct{}

	dropped atomic.Uint64
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{
		limit:  capacity,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	q.items.SetBaseCap(min(capacity, 64))
	return q
}

// Enqueue appends ev and reports whether it was accepted.
func (q *Queue) Enqueue(ev domain.RecognitionEvent) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if q.items.Len() >= q.limit {
		q.mu.Unlock()
		n := q.dropped.Add(1)
		log.Warn().Str("module", "broadcast").Str("room", string(ev.RoomID())).
			Str("status", ev.Kind.String()).Uint64("dropped_total", n).
			Err(domain.ErrQueueFull).Msg("event dropped")
		return false
	}
	q.items.PushBack(ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Dequeue blocks until an event is available, ctx is done or the queue is closed and drained.
func (q *Queue) Dequeue(ctx context.Context) (domain.RecognitionEvent, error) {
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			ev := q.items.PopFront()
			q.mu.Unlock()
			return ev, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return domain.RecognitionEvent{}, ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return domain.RecognitionEvent{}, ctx.Err()
		case <-q.notify:
		case <-q.done:
		}
	}
}

// Close rejects further events. Events already queued can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *Queue) Cap() int { return q.limit }

// Dropped is the number of events rejected because the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
