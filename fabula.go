package fabula

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/fabula/internal/engine"
	"github.com/petrijr/fabula/internal/eventqueue"
	"github.com/petrijr/fabula/internal/persistence"
	"github.com/petrijr/fabula/pkg/api"
	"github.com/petrijr/fabula/pkg/publisher"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	State        = api.State
	SceneOutline = api.SceneOutline
	Change       = api.Change
	Phase        = api.Phase
	Fact         = api.Fact
	FactCategory = api.FactCategory
	FactStore    = api.FactStore

	Graph      = api.Graph
	Node       = api.Node
	Edge       = api.Edge
	NodeKind   = api.NodeKind
	NodeStatus = api.NodeStatus
	Predicate  = api.Predicate

	Behavior         = api.Behavior
	BehaviorFunc     = api.BehaviorFunc
	Result           = api.Result
	Mutation         = api.Mutation
	AgentBehavior    = api.AgentBehavior
	DecisionBehavior = api.DecisionBehavior
	DecisionFunc     = api.DecisionFunc
	QualityGate      = api.QualityGate
	GateDecision     = api.GateDecision
	GenerateFunc     = api.GenerateFunc
	PromptBuilder    = api.PromptBuilder
	OutputParser     = api.OutputParser

	Runner        = api.Runner
	RunResult     = api.RunResult
	NodeExecution = api.NodeExecution
	Status        = api.Status
	Cursor        = api.Cursor
	Control       = api.Control
	RunControl    = api.RunControl

	Event       = api.Event
	EventType   = api.EventType
	EventSink   = api.EventSink
	Emitter     = api.Emitter
	EmitterFunc = api.EmitterFunc
	EventLog    = api.EventLog

	CheckpointStore = api.CheckpointStore

	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	UnknownNodeError   = api.UnknownNodeError
	NodeExecutionError = api.NodeExecutionError
	SafetyLimitError   = api.SafetyLimitError
)

// EventQueue is the bounded non-blocking buffer between the run loop
// and the publishers draining it.
type EventQueue = eventqueue.Queue

// Durable and in-memory event logs, usable both as Emitter targets for
// a Publisher and for reading a run's history back.
type (
	MemoryEventLog = persistence.MemoryEventLog
	SQLiteEventLog = persistence.SQLiteEventLog
)

// Publisher drains an EventQueue into an Emitter off the run goroutine.
type Publisher = publisher.Publisher

// Re-export common constructors.

var (
	NewState             = api.NewState
	NewFactStore         = api.NewFactStore
	NewRunID             = api.NewRunID
	NewRunControl        = api.NewRunControl
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// ErrNoCheckpoint is returned by LoadRun and Resume when a run has no
// stored cursor to resume from.
var ErrNoCheckpoint = persistence.ErrNoCheckpoint

// Re-export status values for convenience.

const (
	StatusPending   = api.StatusPending
	StatusRunning   = api.StatusRunning
	StatusCompleted = api.StatusCompleted
	StatusFailed    = api.StatusFailed
	StatusCancelled = api.StatusCancelled
)

// Re-export node kinds and per-run node statuses.

const (
	NodeAgent       = api.NodeAgent
	NodeDecision    = api.NodeDecision
	NodeQualityGate = api.NodeQualityGate

	NodePending   = api.NodePending
	NodeRunning   = api.NodeRunning
	NodeCompleted = api.NodeCompleted
	NodeFailed    = api.NodeFailed
	NodeSkipped   = api.NodeSkipped
)

// Re-export the pipeline phases.

const (
	PhaseGenesis       = api.PhaseGenesis
	PhaseWorldbuilding = api.PhaseWorldbuilding
	PhaseOutlining     = api.PhaseOutlining
	PhaseDrafting      = api.PhaseDrafting
	PhaseRevision      = api.PhaseRevision
	PhaseCompleted     = api.PhaseCompleted
)

// Re-export fact categories; GlobalScene marks a fact that applies to
// every scene.

const (
	FactWorldRule = api.FactWorldRule
	FactCharacter = api.FactCharacter
	FactPlot      = api.FactPlot
	FactSetting   = api.FactSetting
	FactStyle     = api.FactStyle

	GlobalScene = api.GlobalScene
)

// Re-export event types for filtering run histories.

const (
	EventRunStarted   = api.EventRunStarted
	EventRunResumed   = api.EventRunResumed
	EventRunPaused    = api.EventRunPaused
	EventRunCompleted = api.EventRunCompleted
	EventRunFailed    = api.EventRunFailed
	EventRunCancelled = api.EventRunCancelled

	EventNodeStarted   = api.EventNodeStarted
	EventNodeCompleted = api.EventNodeCompleted
	EventNodeFailed    = api.EventNodeFailed

	EventPhaseAdvanced   = api.EventPhaseAdvanced
	EventQualityGate     = api.EventQualityGate
	EventCheckpointSaved = api.EventCheckpointSaved
)

// Runner constructors
// These wrap the internal/engine package so external callers never need
// to import internal packages.

// RunnerOptions configures a Runner beyond what the backend
// constructors cover. The zero value works: no checkpointing, no
// events, and a run that can only be stopped through its context.
type RunnerOptions struct {
	// Checkpoints persists state and cursor artifacts during the run.
	// Nil disables checkpointing.
	Checkpoints CheckpointStore

	// Events receives lifecycle events plus whatever the behaviors
	// declare. Nil drops them all.
	Events EventSink

	// Observer receives run and node callbacks.
	Observer Observer

	// Control is polled at iteration boundaries for pause and cancel.
	Control Control

	// Logger reports checkpoint write failures. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// MaxIterations caps node dispatches per run (default 100).
	MaxIterations int

	// CheckpointInterval checkpoints every N completed iterations
	// (default 1).
	CheckpointInterval int

	// PausePoll is how often a paused run re-checks its flags.
	PausePoll time.Duration
}

// NewRunner builds a Runner from the given options.
func NewRunner(opts RunnerOptions) Runner {
	return engine.New(engine.Config{
		Checkpoints:        opts.Checkpoints,
		Events:             opts.Events,
		Observer:           opts.Observer,
		Control:            opts.Control,
		Logger:             opts.Logger,
		MaxIterations:      opts.MaxIterations,
		CheckpointInterval: opts.CheckpointInterval,
		PausePoll:          opts.PausePoll,
	})
}

// NewInMemoryRunner returns a Runner checkpointing to an in-memory
// store. Nothing survives the process; best for tests and examples.
func NewInMemoryRunner() Runner {
	return engine.NewInMemory()
}

// NewSQLiteRunner returns a Runner that checkpoints runs in a SQLite
// database. The caller owns the db handle and must import a driver such
// as modernc.org/sqlite.
func NewSQLiteRunner(db *sql.DB) (Runner, error) {
	return engine.NewSQLite(db)
}

// NewPostgresRunner returns a Runner that checkpoints runs in
// PostgreSQL. The caller owns the db handle and must import a driver
// (pgx stdlib or lib/pq).
func NewPostgresRunner(db *sql.DB) (Runner, error) {
	return engine.NewPostgres(db)
}

// NewRedisRunner returns a Runner that checkpoints runs in Redis under
// the given key prefix.
func NewRedisRunner(client *redis.Client, prefix string) Runner {
	return engine.NewRedis(client, prefix)
}

// NewMongoRunner returns a Runner that checkpoints runs in MongoDB.
func NewMongoRunner(client *mongo.Client, dbName, collName string) Runner {
	return engine.NewMongo(client, dbName, collName)
}

// Checkpoint store constructors, for wiring RunnerOptions or inspecting
// stored runs directly.

// NewMemoryCheckpointStore returns a process-local checkpoint store.
func NewMemoryCheckpointStore() CheckpointStore {
	return persistence.NewMemoryCheckpointStore()
}

// NewSQLiteCheckpointStore returns a checkpoint store on the given
// SQLite handle, creating its schema if needed.
func NewSQLiteCheckpointStore(db *sql.DB) (CheckpointStore, error) {
	return persistence.NewSQLiteCheckpointStore(db)
}

// NewPostgresCheckpointStore returns a checkpoint store on the given
// PostgreSQL handle, creating its schema if needed.
func NewPostgresCheckpointStore(db *sql.DB) (CheckpointStore, error) {
	return persistence.NewPostgresCheckpointStore(db)
}

// NewRedisCheckpointStore returns a checkpoint store on the given Redis
// client. Keys are namespaced by prefix ("fabula" when empty).
func NewRedisCheckpointStore(client *redis.Client, prefix string) CheckpointStore {
	return persistence.NewRedisCheckpointStore(client, prefix)
}

// NewMongoCheckpointStore returns a checkpoint store on the given Mongo
// client.
func NewMongoCheckpointStore(client *mongo.Client, dbName, collName string) CheckpointStore {
	return persistence.NewMongoCheckpointStore(client, dbName, collName)
}

// Event plumbing constructors.

// NewEventQueue creates an event queue with the given capacity
// (a capacity <= 0 selects the 1024 default).
func NewEventQueue(capacity int) *EventQueue {
	return eventqueue.New(capacity)
}

// NewPublisher creates a publisher draining queue into emitter. A nil
// logger means slog.Default().
func NewPublisher(queue *EventQueue, emitter Emitter, logger *slog.Logger) *Publisher {
	return publisher.New(queue, emitter, logger)
}

// NewMemoryEventLog returns an in-memory event log.
func NewMemoryEventLog() *MemoryEventLog {
	return persistence.NewMemoryEventLog()
}

// NewSQLiteEventLog returns an append-only event log on the given
// SQLite handle, creating its schema if needed.
func NewSQLiteEventLog(db *sql.DB) (*SQLiteEventLog, error) {
	return persistence.NewSQLiteEventLog(db)
}

// Convenience helpers that forward to the underlying Runner and stores.

// Run executes a graph on the given runner from its start node.
func Run(ctx context.Context, r Runner, g *Graph, state *State) (*RunResult, error) {
	return r.Run(ctx, g, state)
}

// LoadRun restores a run's state and resume cursor from its latest
// checkpoint. It returns ErrNoCheckpoint when the store holds nothing
// for the run.
func LoadRun(ctx context.Context, store CheckpointStore, runID string) (*State, Cursor, error) {
	return persistence.LoadRun(ctx, store, runID)
}

// Resume restores a run from its latest checkpoint and continues it on
// r. The graph must be the one the run was started with (definitions
// are code, not persisted; re-build them on process start).
func Resume(ctx context.Context, r Runner, store CheckpointStore, g *Graph, runID string) (*RunResult, error) {
	state, cursor, err := persistence.LoadRun(ctx, store, runID)
	if err != nil {
		return nil, err
	}
	return r.RunFrom(ctx, g, state, cursor)
}

// ListRuns lists the run ids known to the checkpoint store.
func ListRuns(ctx context.Context, store CheckpointStore) ([]string, error) {
	return store.ListRuns(ctx)
}
