package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the runner for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be
// done asynchronously so as not to delay the run loop.
type Observer interface {
	// OnRunStart is called once when a run begins, before the first
	// node is dispatched.
	OnRunStart(ctx context.Context, runID string, state *State)

	// OnRunCompleted is called when a run reaches StatusCompleted.
	OnRunCompleted(ctx context.Context, res *RunResult)

	// OnRunFailed is called when a run transitions to StatusFailed.
	OnRunFailed(ctx context.Context, res *RunResult, err error)

	// OnRunCancelled is called when a run stops with StatusCancelled.
	OnRunCancelled(ctx context.Context, res *RunResult)

	// OnNodeStart is called before a node's behavior executes.
	OnNodeStart(ctx context.Context, runID, node string, iteration int)

	// OnNodeCompleted is called after a node's behavior returns, for
	// both successes and failures (err != nil).
	OnNodeCompleted(ctx context.Context, runID, node string, iteration int, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(ctx context.Context, runID string, state *State)       {}
func (NoopObserver) OnRunCompleted(ctx context.Context, res *RunResult)               {}
func (NoopObserver) OnRunFailed(ctx context.Context, res *RunResult, err error)       {}
func (NoopObserver) OnRunCancelled(ctx context.Context, res *RunResult)               {}
func (NoopObserver) OnNodeStart(ctx context.Context, runID, node string, iteration int) {
}
func (NoopObserver) OnNodeCompleted(ctx context.Context, runID, node string, iteration int, err error, d time.Duration) {
}

// CompositeObserver fans out callbacks to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards callbacks to
// each non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, runID string, state *State) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, runID, state)
	}
}

func (c *CompositeObserver) OnRunCompleted(ctx context.Context, res *RunResult) {
	for _, o := range c.observers {
		o.OnRunCompleted(ctx, res)
	}
}

func (c *CompositeObserver) OnRunFailed(ctx context.Context, res *RunResult, err error) {
	for _, o := range c.observers {
		o.OnRunFailed(ctx, res, err)
	}
}

func (c *CompositeObserver) OnRunCancelled(ctx context.Context, res *RunResult) {
	for _, o := range c.observers {
		o.OnRunCancelled(ctx, res)
	}
}

func (c *CompositeObserver) OnNodeStart(ctx context.Context, runID, node string, iteration int) {
	for _, o := range c.observers {
		o.OnNodeStart(ctx, runID, node, iteration)
	}
}

func (c *CompositeObserver) OnNodeCompleted(ctx context.Context, runID, node string, iteration int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnNodeCompleted(ctx, runID, node, iteration, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs run / node lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, runID string, state *State) {
	o.Logger.InfoContext(ctx, "run_start",
		slog.String("run_id", runID),
		slog.String("phase", string(state.Phase)),
	)
}

func (o *LoggingObserver) OnRunCompleted(ctx context.Context, res *RunResult) {
	o.Logger.InfoContext(ctx, "run_completed",
		slog.String("run_id", res.RunID),
		slog.String("last_node", res.LastNode),
		slog.Int("iterations", res.Iterations),
	)
}

func (o *LoggingObserver) OnRunFailed(ctx context.Context, res *RunResult, err error) {
	o.Logger.ErrorContext(ctx, "run_failed",
		slog.String("run_id", res.RunID),
		slog.String("last_node", res.LastNode),
		slog.Int("iterations", res.Iterations),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnRunCancelled(ctx context.Context, res *RunResult) {
	o.Logger.InfoContext(ctx, "run_cancelled",
		slog.String("run_id", res.RunID),
		slog.String("last_node", res.LastNode),
		slog.Int("iterations", res.Iterations),
	)
}

func (o *LoggingObserver) OnNodeStart(ctx context.Context, runID, node string, iteration int) {
	o.Logger.DebugContext(ctx, "node_start",
		slog.String("run_id", runID),
		slog.String("node", node),
		slog.Int("iteration", iteration),
	)
}

func (o *LoggingObserver) OnNodeCompleted(ctx context.Context, runID, node string, iteration int, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "node_completed",
		slog.String("run_id", runID),
		slog.String("node", node),
		slog.Int("iteration", iteration),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate node durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	runsStarted   atomic.Int64
	runsCompleted atomic.Int64
	runsFailed    atomic.Int64
	runsCancelled atomic.Int64

	nodesCompleted    atomic.Int64
	totalNodeDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	RunsStarted   int64
	RunsCompleted int64
	RunsFailed    int64
	RunsCancelled int64
	ActiveRuns    int64

	NodesCompleted  int64
	AvgNodeDuration time.Duration
}

func (m *BasicMetrics) OnRunStart(ctx context.Context, runID string, state *State) {
	m.runsStarted.Add(1)
}

func (m *BasicMetrics) OnRunCompleted(ctx context.Context, res *RunResult) {
	m.runsCompleted.Add(1)
}

func (m *BasicMetrics) OnRunFailed(ctx context.Context, res *RunResult, err error) {
	m.runsFailed.Add(1)
}

func (m *BasicMetrics) OnRunCancelled(ctx context.Context, res *RunResult) {
	m.runsCancelled.Add(1)
}

func (m *BasicMetrics) OnNodeCompleted(ctx context.Context, runID, node string, iteration int, err error, d time.Duration) {
	// Only count successful nodes for average duration.
	if err == nil {
		m.nodesCompleted.Add(1)
		m.totalNodeDuration.Add(d.Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.runsStarted.Load()
	completed := m.runsCompleted.Load()
	failed := m.runsFailed.Load()
	cancelled := m.runsCancelled.Load()
	nodes := m.nodesCompleted.Load()
	totalNs := m.totalNodeDuration.Load()

	var avg time.Duration
	if nodes > 0 {
		avg = time.Duration(totalNs / nodes)
	}

	return BasicMetricsSnapshot{
		RunsStarted:     started,
		RunsCompleted:   completed,
		RunsFailed:      failed,
		RunsCancelled:   cancelled,
		ActiveRuns:      started - completed - failed - cancelled,
		NodesCompleted:  nodes,
		AvgNodeDuration: avg,
	}
}
