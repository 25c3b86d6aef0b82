// Package fabula provides an embeddable orchestration core for
// multi-step generative story pipelines.
//
// Fabula is designed for services that drive a generation backend
// through the phases of story production (genesis, worldbuilding,
// outlining, drafting, revision) where the steps form a cyclic graph,
// drafts loop through bounded quality gates, and every iteration must
// respect the facts established so far. It runs fully in Go, supports
// multiple checkpoint backends, and integrates cleanly into existing
// codebases.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Runner
//  2. Graph and GraphBuilder
//  3. Behaviors (Agent, Decision, QualityGate)
//  4. State and FactStore
//  5. Summarizer and Assembler (package compose)
//
// These components form a complete pipeline system with bounded loops,
// durable progress (when using persistent backends), and a clear mental
// model.
//
// # Runner
//
// The Runner executes a graph against one run's State. It resolves each
// next node, applies the mutations behaviors return, publishes events,
// checkpoints progress, and enforces an iteration safety cap so cyclic
// graphs always terminate. It provides APIs to:
//   - run graphs from their start node
//   - resume runs from a stored checkpoint
//   - pause and cancel cooperatively via a Control
//
// Runners can checkpoint to different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//   - MongoDB
//
// A Runner holds no per-run state between runs and is safe for
// sequential reuse; distinct runs on distinct states may execute
// concurrently.
//
// # Graphs and Behaviors
//
// GraphBuilder provides the ergonomic, declarative API used to define
// pipelines. Nodes carry one of three behavior kinds:
//
//   - Agent: one prompt / generate / parse round trip against the
//     generation backend
//   - Decision: routing between nodes without a backend call
//   - QualityGate: a bounded revise-or-proceed decision
//
// Example:
//
//	fabula.New().
//	    Agent("draft", draft).
//	    Agent("revise", revise).
//	    Gate("review", &fabula.QualityGate{
//	        ReviseTarget: "revise",
//	        PassTarget:   "publish",
//	    }).
//	    AgentFunc("publish", publish).
//	    Edge("draft", "review").
//	    Edge("revise", "review").
//	    Start("draft").
//	    Terminal("publish")
//
// Edges carry optional predicates and priorities for conditional
// routing. Cycles are legal and expected; the quality gate guarantees
// each scene leaves its revision loop after a bounded number of passes.
//
// # State and Facts
//
// Each run owns exactly one State: premise, world and style context,
// the outline, drafts, entities, quality scores, and revision counts.
// Behaviors never write to it directly; they return Mutations the
// runner applies between nodes, which keeps dirty tracking and
// checkpoints accurate.
//
// The FactStore is append-only: once a constraint is established, it
// survives every rewrite. Facts are scoped to scenes, entities, and
// categories, and rendered newest-last so later corrections win without
// deleting history.
//
// # Context Assembly
//
// Unbounded story history does not fit a bounded model context. The
// compose.Summarizer compresses scenes (through an injected compressor,
// with a deterministic fallback) and folds older summaries into batches;
// the compose.Assembler packs constraints, summaries, the current
// outline, relevant entities, and world context into a fixed token
// budget. Established constraints are always included, whatever the
// budget.
//
// # Events and Observability
//
// Runs publish fire-and-forget events (run and node lifecycle, gate
// decisions, checkpoint saves) into a bounded queue that never blocks
// the run loop; a Publisher drains the queue into an Emitter, such as
// an event log or any transport you implement. Observers receive
// synchronous callbacks: LoggingObserver logs through slog,
// BasicMetrics keeps atomic counters.
//
// # LocalPipeline and Bundles
//
// LocalPipeline bundles an in-memory runner, event queue, and publisher
// into a single process-local helper useful for development and unit
// testing. It is intentionally not crash-durable. NewSQLiteBundle wires
// the same pieces onto one SQLite database for durable checkpoints and
// an auditable event history that survive restarts.
//
// # Summary
//
// Fabula's goal is pipeline orchestration that feels like Go: easy to
// embed, easy to test, deterministic where it matters, and without
// operational overhead. Runners execute graphs, behaviors hold the
// generation logic, State and the FactStore keep a run consistent, and
// the context assembler fits unbounded history into a bounded budget.
//
// For examples, see the /examples directory or the project README.
package fabula
