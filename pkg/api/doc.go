// Package api contains the core building blocks used by the fabula
// pipeline runner. It provides the low-level primitives for modeling a
// run's shared state, building execution graphs, and observing runner
// behavior.
//
// Most users interact with the higher-level fabula package, which
// re-exports selected types and helpers from this package. The api
// package is intended for advanced use cases, custom integrations, or
// contributors extending the runner itself.
//
// # Concepts
//
// The api package centers around a small set of concepts:
//
//   - Shared state and the fact store
//   - Graphs, nodes, and conditional edges
//   - Behaviors (agent, decision, quality gate)
//   - Checkpoints and resume cursors
//   - Observability (observers and events)
//
// These primitives are assembled by the higher-level GraphBuilder API in
// the fabula package, but can also be used directly where fine-grained
// control is needed.
//
// # Shared State
//
// A State is the single mutable object of a run: premise, world context,
// outline, drafts, entity sheets, quality scores, and an append-only
// FactStore of consistency constraints. Exactly one goroutine mutates a
// State, and every write goes through a typed setter that records the
// change and marks the field dirty for checkpointing.
//
// Facts are never edited or deleted. A correction is a newer fact;
// FactStore.Render orders each category section oldest to newest, so
// the latest word on a subject is the one a prompt reads last.
//
// # Graphs and Behaviors
//
// A Graph is a static set of nodes joined by conditional edges. Cycles
// are legal and expected (revision loops); the runner's iteration cap
// bounds them. Each node carries a Behavior:
//
//   - AgentBehavior renders a prompt, calls the generation backend, and
//     parses the response.
//   - DecisionBehavior routes between nodes from state alone.
//   - QualityGate bounds a revision loop with a score threshold and a
//     per-item iteration cap, guaranteeing forward progress.
//
// Behaviors never mutate state directly: they return Mutations, which
// the runner applies on the run goroutine.
//
// # Checkpoints
//
// A CheckpointStore persists (run, phase, artifact) triples. The runner
// writes a state snapshot plus a resume cursor at configurable
// intervals; RunFrom continues a restored run from its cursor.
//
// # Observability
//
// The Observer interface reports run and node lifecycle to logging and
// metrics implementations; Events are small fire-and-forget records
// delivered through a bounded queue to an Emitter. Ready-made
// implementations (slog logging, in-memory metrics, composition) live
// in this package.
//
// # Usage
//
// Most applications should start from the fabula package, using the
// GraphBuilder and pipeline constructors provided there. See the fabula
// package documentation and the examples directory for end-to-end usage.
package api
