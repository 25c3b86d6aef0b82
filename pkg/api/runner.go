package api

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a pipeline run.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// NewRunID returns a fresh unique run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// NodeExecution is one entry in a run's history.
type NodeExecution struct {
	Node      string
	Iteration int
	Status    NodeStatus
	Detail    string
	Err       error
	At        time.Time
	Duration  time.Duration
}

// RunResult is the outcome of a single run.
type RunResult struct {
	RunID    string
	Status   Status
	LastNode string

	// Iterations counts node dispatches that happened, including the
	// failed one on a failed run.
	Iterations int

	// Err is set for failed runs. Cancelled runs carry the context
	// error when the context ended them, nil when Control did.
	Err error

	History []NodeExecution
}

// Runner executes a graph over a shared state until a terminal node
// completes, the safety cap trips, the run is cancelled, or a node
// fails.
//
// A Runner is stateless between runs and safe for sequential reuse.
// Distinct runs (distinct State values) may execute concurrently on
// separate goroutines; a single State must never be run twice at once.
type Runner interface {
	// Run executes from the graph's start node.
	Run(ctx context.Context, g *Graph, state *State) (*RunResult, error)

	// RunFrom resumes execution at the cursor's node, typically after
	// the state was restored from a checkpoint. The cursor's iteration
	// becomes the base of the run's iteration counter, so cursors stay
	// monotone across repeated resumes and LatestCheckpoint keeps
	// picking the newest one.
	RunFrom(ctx context.Context, g *Graph, state *State, from Cursor) (*RunResult, error)
}
