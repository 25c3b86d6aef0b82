package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/fabula/internal/persistence"
	"github.com/petrijr/fabula/pkg/api"
)

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultMaxIterations      = 100
	DefaultCheckpointInterval = 1
	DefaultPausePoll          = 25 * time.Millisecond
)

// Config describes how to construct a Runner. The zero value works:
// no checkpointing, no events, noop observer, a run that can only be
// stopped through its context.
type Config struct {
	// Checkpoints persists state and cursor artifacts during the run.
	// Nil disables checkpointing entirely.
	Checkpoints api.CheckpointStore

	// Events receives lifecycle events plus whatever the behaviors
	// declare. Nil drops them all.
	Events api.EventSink

	// Observer receives run and node callbacks.
	Observer api.Observer

	// Control is polled at iteration boundaries for pause and cancel.
	Control api.Control

	// Logger reports checkpoint write failures. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// MaxIterations caps node dispatches per run (default 100). The
	// cap counts this execution only, so a resumed run gets a full
	// budget again.
	MaxIterations int

	// CheckpointInterval dispatches an async checkpoint every N
	// completed iterations (default 1, after every node).
	CheckpointInterval int

	// PausePoll is how often a paused run re-checks its flags.
	PausePoll time.Duration
}

// Runner executes a graph over a shared state, one node at a time.
// It holds no per-run mutable fields, so a single Runner may drive any
// number of sequential runs and concurrent runs on distinct states.
type Runner struct {
	checkpoints api.CheckpointStore
	events      api.EventSink
	observer    api.Observer
	control     api.Control
	logger      *slog.Logger

	maxIterations      int
	checkpointInterval int
	pausePoll          time.Duration
}

var _ api.Runner = (*Runner)(nil)

// New builds a Runner from cfg, filling in defaults for zero fields.
func New(cfg Config) *Runner {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	interval := cfg.CheckpointInterval
	if interval <= 0 {
		interval = DefaultCheckpointInterval
	}
	poll := cfg.PausePoll
	if poll <= 0 {
		poll = DefaultPausePoll
	}
	return &Runner{
		checkpoints:        cfg.Checkpoints,
		events:             cfg.Events,
		observer:           obs,
		control:            cfg.Control,
		logger:             logger,
		maxIterations:      maxIter,
		checkpointInterval: interval,
		pausePoll:          poll,
	}
}

// NewInMemory returns a Runner checkpointing to an in-memory store.
// Useful for tests and examples; nothing survives the process.
func NewInMemory() *Runner {
	return New(Config{Checkpoints: persistence.NewMemoryCheckpointStore()})
}

// NewSQLite returns a Runner checkpointing to SQLite. The caller owns
// the db handle and must import an sqlite driver such as
// modernc.org/sqlite.
func NewSQLite(db *sql.DB) (*Runner, error) {
	store, err := persistence.NewSQLiteCheckpointStore(db)
	if err != nil {
		return nil, err
	}
	return New(Config{Checkpoints: store}), nil
}

// NewPostgres returns a Runner checkpointing to PostgreSQL. The caller
// owns the db handle and must import a driver (pgx stdlib or lib/pq).
func NewPostgres(db *sql.DB) (*Runner, error) {
	store, err := persistence.NewPostgresCheckpointStore(db)
	if err != nil {
		return nil, err
	}
	return New(Config{Checkpoints: store}), nil
}

// NewRedis returns a Runner checkpointing to Redis under the given key
// prefix ("fabula:" when empty).
func NewRedis(client *redis.Client, prefix string) *Runner {
	return New(Config{Checkpoints: persistence.NewRedisCheckpointStore(client, prefix)})
}

// NewMongo returns a Runner checkpointing to MongoDB. Empty dbName or
// collName fall back to "fabula" / "checkpoints".
func NewMongo(client *mongo.Client, dbName, collName string) *Runner {
	return New(Config{Checkpoints: persistence.NewMongoCheckpointStore(client, dbName, collName)})
}

// Run executes g from its start node over state.
func (r *Runner) Run(ctx context.Context, g *api.Graph, state *api.State) (*api.RunResult, error) {
	return r.run(ctx, g, state, api.Cursor{Node: g.Start()}, false)
}

// RunFrom resumes execution at the cursor's node, usually after the
// state was restored with persistence.LoadRun. The cursor's iteration
// seeds the run's counter so checkpoint cursors stay monotone across
// repeated resumes; RunResult.Iterations therefore counts the whole
// run, pre-crash work included.
func (r *Runner) RunFrom(ctx context.Context, g *api.Graph, state *api.State, from api.Cursor) (*api.RunResult, error) {
	return r.run(ctx, g, state, from, true)
}

// checkpointAck is the completion notice of one async checkpoint write.
type checkpointAck struct {
	fields []string
	node   string
	iter   int
	err    error
}

// run carries the per-run bookkeeping so Runner itself stays stateless.
type run struct {
	r      *Runner
	g      *api.Graph
	state  *api.State
	result *api.RunResult

	pending int
	acks    chan checkpointAck
}

func (r *Runner) run(ctx context.Context, g *api.Graph, state *api.State, from api.Cursor, resumed bool) (*api.RunResult, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if state == nil {
		return nil, errors.New("runner: state is required")
	}
	g.ResetStatus()

	rn := &run{
		r:     r,
		g:     g,
		state: state,
		result: &api.RunResult{
			RunID:  state.RunID,
			Status: api.StatusRunning,
		},
		// One dispatch per iteration at most, so senders never block
		// even when a run aborts without draining.
		acks: make(chan checkpointAck, r.maxIterations+1),
	}

	r.observer.OnRunStart(ctx, state.RunID, state)
	startEvent := api.EventRunStarted
	if resumed {
		startEvent = api.EventRunResumed
	}
	rn.publish(api.Event{Type: startEvent, Node: from.Node, Iteration: from.Iteration})

	var (
		base      = from.Iteration
		iteration = from.Iteration
		current   = from.Node
		lastNode  string
	)

	for {
		// Settle finished checkpoint writes before anything else so
		// dirty tracking reflects what actually persisted.
		rn.drainAcks(false)

		if err := ctx.Err(); err != nil {
			return rn.cancelled(ctx, lastNode, iteration, err)
		}
		if r.control != nil && r.control.Cancelled() {
			return rn.cancelled(ctx, lastNode, iteration, nil)
		}

		if r.control != nil && r.control.Paused() {
			rn.publish(api.Event{Type: api.EventRunPaused, Node: current, Iteration: iteration})
			for r.control.Paused() {
				if r.control.Cancelled() {
					return rn.cancelled(ctx, lastNode, iteration, nil)
				}
				select {
				case <-ctx.Done():
					return rn.cancelled(ctx, lastNode, iteration, ctx.Err())
				case <-time.After(r.pausePoll):
				}
			}
		}

		if iteration-base >= r.maxIterations {
			err := &api.SafetyLimitError{Iterations: iteration, LastNode: lastNode}
			return rn.failed(ctx, lastNode, iteration, err)
		}

		node, ok := g.Node(current)
		if !ok {
			err := &api.UnknownNodeError{ID: current}
			return rn.failed(ctx, lastNode, iteration, err)
		}

		iteration++
		state.SetActor(node.ID)
		node.Status = api.NodeRunning
		node.ExecCount++
		r.observer.OnNodeStart(ctx, state.RunID, node.ID, iteration)
		rn.publish(api.Event{Type: api.EventNodeStarted, Node: node.ID, Iteration: iteration})

		started := time.Now()
		var (
			out     *api.Result
			execErr error
		)
		if node.Behavior == nil {
			execErr = fmt.Errorf("node %q has no behavior", node.ID)
		} else {
			out, execErr = node.Behavior.Execute(ctx, state)
		}
		elapsed := time.Since(started)
		r.observer.OnNodeCompleted(ctx, state.RunID, node.ID, iteration, execErr, elapsed)

		if execErr != nil {
			node.Status = api.NodeFailed
			rn.record(node.ID, iteration, api.NodeFailed, "", execErr, started, elapsed)
			rn.publish(api.Event{Type: api.EventNodeFailed, Node: node.ID, Iteration: iteration, Detail: execErr.Error()})
			return rn.failed(ctx, node.ID, iteration, &api.NodeExecutionError{Node: node.ID, Err: execErr})
		}
		if out == nil {
			out = &api.Result{}
		}

		// Mutations are the only sanctioned write path; applying them
		// here keeps every state change on the run goroutine.
		prevPhase := state.Phase
		for _, m := range out.Mutations {
			if m != nil {
				m(state)
			}
		}

		node.Status = api.NodeCompleted
		lastNode = node.ID
		rn.record(node.ID, iteration, api.NodeCompleted, clip(out.Output, 160), nil, started, elapsed)

		rn.publish(api.Event{Type: api.EventNodeCompleted, Node: node.ID, Iteration: iteration})
		if state.Phase != prevPhase {
			rn.publish(api.Event{Type: api.EventPhaseAdvanced, Node: node.ID, Iteration: iteration, Detail: string(state.Phase)})
		}
		for _, ev := range out.Events {
			ev.Node = node.ID
			ev.Iteration = iteration
			rn.publish(ev)
		}

		if g.IsTerminal(node.ID) {
			rn.drainAcks(true)
			if err := rn.finalCheckpoint(ctx, node.ID, iteration); err != nil {
				return rn.failed(ctx, node.ID, iteration, fmt.Errorf("final checkpoint: %w", err))
			}
			rn.result.Status = api.StatusCompleted
			rn.result.LastNode = node.ID
			rn.result.Iterations = iteration
			r.observer.OnRunCompleted(ctx, rn.result)
			rn.publish(api.Event{Type: api.EventRunCompleted, Node: node.ID, Iteration: iteration})
			return rn.result, nil
		}

		next := out.NextNode
		if next == "" {
			target, matched := node.NextTarget(state)
			if !matched {
				err := &api.NodeExecutionError{Node: node.ID, Err: errors.New("no outgoing edge matched")}
				return rn.failed(ctx, node.ID, iteration, err)
			}
			next = target
		}

		// Cursors point at the node to execute next, so a resumed run
		// never re-applies mutations the snapshot already contains.
		if (iteration-base)%r.checkpointInterval == 0 {
			rn.dispatchCheckpoint(ctx, next, iteration)
		}

		current = next
	}
}

// publish stamps the envelope and offers the event to the sink.
// Delivery is fire-and-forget; a full sink drops the event.
func (rn *run) publish(ev api.Event) {
	if rn.r.events == nil {
		return
	}
	ev.RunID = rn.state.RunID
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	rn.r.events.Publish(ev)
}

func (rn *run) record(node string, iteration int, status api.NodeStatus, detail string, err error, at time.Time, d time.Duration) {
	rn.result.History = append(rn.result.History, api.NodeExecution{
		Node:      node,
		Iteration: iteration,
		Status:    status,
		Detail:    detail,
		Err:       err,
		At:        at,
		Duration:  d,
	})
}

func (rn *run) failed(ctx context.Context, lastNode string, iteration int, err error) (*api.RunResult, error) {
	// Let in-flight checkpoint writes settle so the store is quiescent
	// and the run can be resumed right away.
	rn.drainAcks(true)
	rn.result.Status = api.StatusFailed
	rn.result.LastNode = lastNode
	rn.result.Iterations = iteration
	rn.result.Err = err
	rn.r.observer.OnRunFailed(ctx, rn.result, err)
	rn.publish(api.Event{Type: api.EventRunFailed, Node: lastNode, Iteration: iteration, Detail: err.Error()})
	return rn.result, err
}

// cancelled finishes the run cooperatively. cause is the context error
// when the context ended it, nil when Control requested the stop; only
// the former is returned as an error.
func (rn *run) cancelled(ctx context.Context, lastNode string, iteration int, cause error) (*api.RunResult, error) {
	rn.drainAcks(true)
	rn.result.Status = api.StatusCancelled
	rn.result.LastNode = lastNode
	rn.result.Iterations = iteration
	rn.result.Err = cause
	rn.r.observer.OnRunCancelled(ctx, rn.result)
	rn.publish(api.Event{Type: api.EventRunCancelled, Node: lastNode, Iteration: iteration})
	return rn.result, cause
}

// dispatchCheckpoint snapshots the state on the run goroutine and hands
// the write to a background goroutine. The fields dirty at snapshot
// time travel with the ack so drainAcks can mark exactly them clean.
func (rn *run) dispatchCheckpoint(ctx context.Context, nextNode string, iteration int) {
	if rn.r.checkpoints == nil {
		return
	}
	snap, err := rn.state.Snapshot()
	if err != nil {
		rn.r.logger.Warn("checkpoint snapshot failed",
			slog.String("run_id", rn.state.RunID),
			slog.Any("error", err))
		return
	}
	cursor := api.Cursor{
		Node:      nextNode,
		Iteration: iteration,
		Phase:     rn.state.Phase,
		SavedAt:   time.Now(),
	}
	cursorRaw, err := cursor.Encode()
	if err != nil {
		rn.r.logger.Warn("checkpoint cursor encode failed",
			slog.String("run_id", rn.state.RunID),
			slog.Any("error", err))
		return
	}

	var (
		store  = rn.r.checkpoints
		runID  = rn.state.RunID
		phase  = rn.state.Phase
		fields = rn.state.Dirty()
	)
	rn.pending++
	go func() {
		err := store.Store(ctx, runID, phase, api.ArtifactState, snap)
		if err == nil {
			err = store.Store(ctx, runID, phase, api.ArtifactCursor, cursorRaw)
		}
		rn.acks <- checkpointAck{fields: fields, node: nextNode, iter: iteration, err: err}
	}()
}

// drainAcks settles finished checkpoint writes. With wait=false it
// consumes whatever is ready; with wait=true it blocks until every
// pending write has reported back.
func (rn *run) drainAcks(wait bool) {
	for rn.pending > 0 {
		if wait {
			rn.handleAck(<-rn.acks)
			continue
		}
		select {
		case ack := <-rn.acks:
			rn.handleAck(ack)
		default:
			return
		}
	}
}

func (rn *run) handleAck(ack checkpointAck) {
	rn.pending--
	if ack.err != nil {
		// Fields stay dirty; the next interval write carries them.
		rn.r.logger.Warn("checkpoint write failed",
			slog.String("run_id", rn.state.RunID),
			slog.String("node", ack.node),
			slog.Int("iteration", ack.iter),
			slog.Any("error", ack.err))
		return
	}
	if len(ack.fields) > 0 {
		rn.state.ClearDirty(ack.fields...)
	}
	rn.publish(api.Event{Type: api.EventCheckpointSaved, Node: ack.node, Iteration: ack.iter})
}

// finalCheckpoint writes the terminal snapshot synchronously. A run is
// only reported completed once this write lands.
func (rn *run) finalCheckpoint(ctx context.Context, node string, iteration int) error {
	if rn.r.checkpoints == nil {
		return nil
	}
	snap, err := rn.state.Snapshot()
	if err != nil {
		return err
	}
	cursor := api.Cursor{
		Node:      node,
		Iteration: iteration,
		Phase:     rn.state.Phase,
		SavedAt:   time.Now(),
	}
	cursorRaw, err := cursor.Encode()
	if err != nil {
		return err
	}
	if err := rn.r.checkpoints.Store(ctx, rn.state.RunID, rn.state.Phase, api.ArtifactState, snap); err != nil {
		return err
	}
	if err := rn.r.checkpoints.Store(ctx, rn.state.RunID, rn.state.Phase, api.ArtifactCursor, cursorRaw); err != nil {
		return err
	}
	rn.state.ClearDirty()
	rn.publish(api.Event{Type: api.EventCheckpointSaved, Node: node, Iteration: iteration})
	return nil
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
