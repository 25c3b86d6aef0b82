package api

import (
	"context"
	"time"
)

// EventType identifies a pipeline history event.
type EventType string

const (
	EventRunStarted   EventType = "run.started"
	EventRunResumed   EventType = "run.resumed"
	EventRunPaused    EventType = "run.paused"
	EventRunCompleted EventType = "run.completed"
	EventRunFailed    EventType = "run.failed"
	EventRunCancelled EventType = "run.cancelled"

	EventNodeStarted   EventType = "node.started"
	EventNodeCompleted EventType = "node.completed"
	EventNodeFailed    EventType = "node.failed"

	EventPhaseAdvanced   EventType = "phase.advanced"
	EventQualityGate     EventType = "quality.gate"
	EventCheckpointSaved EventType = "checkpoint.saved"
)

// Event is a minimal append-only record of pipeline activity for
// audit/debugging and external progress reporting. It is intentionally
// small and stable; richer telemetry belongs in an Observer.
type Event struct {
	RunID     string
	At        time.Time
	Type      EventType
	Node      string
	Iteration int

	// Small, human-oriented details (e.g. gate decision, error string).
	// Keep this low-volume: do NOT dump generated artifacts here.
	Detail string

	// Data carries small structured payloads such as gate scores.
	Data map[string]any
}

// EventSink accepts events from the run loop. Publish must never block:
// it reports whether the event was accepted, and the runner does not
// care either way (events are fire-and-forget by contract).
type EventSink interface {
	Publish(ev Event) bool
}

// Emitter delivers events to an external transport (message bus, log,
// webhook). Emitters are driven off the run goroutine, so they may block
// and may fail; a failed emit is dropped.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, ev Event) error

func (f EmitterFunc) Emit(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// EventLog records events durably for later inspection.
type EventLog interface {
	AppendEvent(ctx context.Context, ev Event) error
	ListEvents(ctx context.Context, runID string) ([]Event, error)
}
