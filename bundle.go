package fabula

import (
	"context"
	"database/sql"

	"github.com/petrijr/fabula/internal/engine"
	"github.com/petrijr/fabula/internal/eventqueue"
	"github.com/petrijr/fabula/internal/persistence"
	"github.com/petrijr/fabula/pkg/config"
	"github.com/petrijr/fabula/pkg/publisher"
)

// PipelineBundle wires together a Runner, a durable checkpoint store,
// and an event log fed through a Publisher, all sharing one database.
//
// For now, we only provide a SQLite-backed bundle.
type PipelineBundle struct {
	Runner      Runner
	Checkpoints CheckpointStore
	Publisher   *Publisher

	// Log records every published event; read it back with ListEvents.
	Log *SQLiteEventLog

	// queue is kept unexported; it is primarily useful for internal
	// inspection and tests. The public API focuses on Runner, the
	// stores, and Publisher.
	queue *eventqueue.Queue
}

// NewSQLiteBundle constructs a durable Runner + checkpoint store +
// event log combo sharing the same SQLite database. Checkpoints and run
// events are persisted in the provided *sql.DB. A nil cfg means
// defaults.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:story.db?_pragma=journal_mode(WAL)")
//	bundle, err := fabula.NewSQLiteBundle(db, nil)
//	result, err := bundle.Run(ctx, graph, fabula.NewState("run-1"))
//
//	// After a restart, rebuild the graph and pick the run back up:
//	result, err = bundle.Resume(ctx, graph, "run-1")
func NewSQLiteBundle(db *sql.DB, cfg *config.PipelineConfig) (*PipelineBundle, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	store, err := persistence.NewSQLiteCheckpointStore(db)
	if err != nil {
		return nil, err
	}

	eventLog, err := persistence.NewSQLiteEventLog(db)
	if err != nil {
		return nil, err
	}

	q := eventqueue.New(cfg.Events.QueueCapacity)
	pub := publisher.New(q, eventLog, nil)

	r := engine.New(cfg.Runner.Apply(engine.Config{
		Checkpoints: store,
		Events:      pub,
	}))

	return &PipelineBundle{
		Runner:      r,
		Checkpoints: store,
		Publisher:   pub,
		Log:         eventLog,
		queue:       q,
	}, nil
}

// Run executes a graph from its start node on the bundle's runner.
func (b *PipelineBundle) Run(ctx context.Context, g *Graph, state *State) (*RunResult, error) {
	return b.Runner.Run(ctx, g, state)
}

// Resume restores the run from its latest stored checkpoint and
// continues it. The graph must be rebuilt by the caller; definitions
// are code, not rows.
func (b *PipelineBundle) Resume(ctx context.Context, g *Graph, runID string) (*RunResult, error) {
	return Resume(ctx, b.Runner, b.Checkpoints, g, runID)
}
