package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/petrijr/fabula/internal/eventqueue"
	"github.com/petrijr/fabula/pkg/api"
)

// Publisher pulls events from a queue and delivers them to an Emitter.
// It owns the transport latency so the run loop never waits on event
// delivery; a failed emit is logged, counted and dropped.
type Publisher struct {
	queue   *eventqueue.Queue
	emitter api.Emitter
	logger  *slog.Logger

	delivered atomic.Int64
	failed    atomic.Int64
}

// New creates a Publisher draining queue into emitter. A nil logger
// defaults to slog.Default().
func New(queue *eventqueue.Queue, emitter api.Emitter, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		queue:   queue,
		emitter: emitter,
		logger:  logger,
	}
}

// Publish offers an event to the underlying queue without blocking, so
// a Publisher can stand in wherever an EventSink is expected.
func (p *Publisher) Publish(ev api.Event) bool {
	return p.queue.Publish(ev)
}

var _ api.EventSink = (*Publisher)(nil)

// ProcessOne delivers a single event. Returns (processed, error):
//   - processed == false: no event was obtained (context ended first)
//   - processed == true: an event was dequeued; err reports whether the
//     emitter accepted it
func (p *Publisher) ProcessOne(ctx context.Context) (bool, error) {
	ev, err := p.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if ev == nil {
		return false, nil
	}
	if err := p.emitter.Emit(ctx, *ev); err != nil {
		p.failed.Add(1)
		return true, err
	}
	p.delivered.Add(1)
	return true, nil
}

// Drain processes events until the context ends. Emit failures do not
// stop the loop; events are fire-and-forget and a single bad delivery
// must not stall the rest.
func (p *Publisher) Drain(ctx context.Context) {
	for {
		processed, err := p.ProcessOne(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			p.logger.Warn("event delivery failed", slog.Any("error", err))
			continue
		}
		if !processed {
			continue
		}
	}
}

// Delivered returns how many events reached the emitter.
func (p *Publisher) Delivered() int64 {
	return p.delivered.Load()
}

// Failed returns how many events the emitter rejected.
func (p *Publisher) Failed() int64 {
	return p.failed.Load()
}

// Backlog returns the approximate number of undelivered events.
func (p *Publisher) Backlog() int {
	return p.queue.Len()
}
