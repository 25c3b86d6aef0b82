package api

import "sync/atomic"

// Control exposes the cooperative cancellation and pause flags the
// runner polls between iterations. Mid-node interruption is out of
// scope: a flag flipped while a node executes takes effect at the next
// iteration boundary. Implementations must be safe for concurrent use.
type Control interface {
	Cancelled() bool
	Paused() bool
}

// RunControl is the standard Control implementation: two atomic flags
// that other goroutines flip while a run is in flight.
type RunControl struct {
	cancelled atomic.Bool
	paused    atomic.Bool
}

var _ Control = (*RunControl)(nil)

// NewRunControl returns a control with both flags down.
func NewRunControl() *RunControl {
	return &RunControl{}
}

// Cancel requests a graceful stop. It cannot be undone.
func (c *RunControl) Cancel() {
	c.cancelled.Store(true)
}

// Pause requests the run hold its position before the next node.
func (c *RunControl) Pause() {
	c.paused.Store(true)
}

// Resume lifts a pause.
func (c *RunControl) Resume() {
	c.paused.Store(false)
}

func (c *RunControl) Cancelled() bool {
	return c.cancelled.Load()
}

func (c *RunControl) Paused() bool {
	return c.paused.Load()
}
