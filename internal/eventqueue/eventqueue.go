package eventqueue

import (
	"context"
	"sync/atomic"

	"github.com/petrijr/fabula/pkg/api"
)

// Queue is a bounded in-memory event queue backed by a buffered channel.
// It sits between the run loop and the event publisher so transport
// latency never stalls node execution.
//
// Publish never blocks: when the buffer is full the event is dropped and
// counted. Events are fire-and-forget by contract, so a drop is an
// accepted trade for run-loop progress. Safe for concurrent use.
type Queue struct {
	ch      chan api.Event
	dropped atomic.Int64
}

// New creates a queue with the given capacity.
// For tests and small deployments, a modest capacity (e.g. 1024) is fine.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{
		ch: make(chan api.Event, capacity),
	}
}

// Ensure Queue implements EventSink.
var _ api.EventSink = (*Queue)(nil)

// Publish offers an event without blocking and reports whether it was
// accepted. A full queue drops the event.
func (q *Queue) Publish(ev api.Event) bool {
	select {
	case q.ch <- ev:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Dequeue removes and returns the next event, blocking until one is
// available or the context is cancelled.
func (q *Queue) Dequeue(ctx context.Context) (*api.Event, error) {
	select {
	case ev := <-q.ch:
		return &ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the approximate number of events queued.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Dropped returns how many events were rejected because the queue was
// full.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}
