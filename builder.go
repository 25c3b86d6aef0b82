package fabula

import (
	"errors"
	"fmt"

	"github.com/petrijr/fabula/pkg/api"
)

// GraphBuilder provides a fluent API for defining story graphs:
//
//	graph := fabula.New().
//	    Agent("draft", draftScene).
//	    Agent("revise", reviseScene).
//	    Gate("review", &fabula.QualityGate{ReviseTarget: "revise", PassTarget: "publish"}).
//	    AgentFunc("publish", publishScene).
//	    Edge("draft", "review").
//	    Edge("revise", "review").
//	    Start("draft").
//	    Terminal("publish").
//	    MustBuild()
//
//	result, err := runner.Run(ctx, graph, fabula.NewState("run-1"))
//
// Gate nodes route by returning the next node id directly, so they need
// no outgoing edges.
type GraphBuilder struct {
	g    *api.Graph
	errs []error
}

// New creates an empty graph builder.
func New() *GraphBuilder {
	return &GraphBuilder{g: api.NewGraph()}
}

// Graph returns the graph built so far without validating it.
// Typically used when interacting with lower-level APIs.
func (b *GraphBuilder) Graph() *Graph {
	return b.g
}

func (b *GraphBuilder) add(id string, kind NodeKind, behavior Behavior) *GraphBuilder {
	if id == "" {
		panic("fabula: node id must not be empty")
	}
	if behavior == nil {
		panic(fmt.Sprintf("fabula: node %q has nil behavior", id))
	}
	if _, err := b.g.AddNode(id, kind, behavior); err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// Agent adds a generation node running a prompt / generate / parse
// round trip.
func (b *GraphBuilder) Agent(id string, agent *AgentBehavior) *GraphBuilder {
	if agent == nil {
		panic(fmt.Sprintf("fabula: agent node %q has nil behavior", id))
	}
	return b.add(id, api.NodeAgent, agent)
}

// AgentFunc adds a generation node from a bare behavior function, for
// nodes that don't need the prompt/parse split.
func (b *GraphBuilder) AgentFunc(id string, fn BehaviorFunc) *GraphBuilder {
	if fn == nil {
		panic(fmt.Sprintf("fabula: node %q has nil function", id))
	}
	return b.add(id, api.NodeAgent, fn)
}

// Decision adds a routing node. The node id returned by decide becomes
// the next hop.
func (b *GraphBuilder) Decision(id string, decide DecisionFunc) *GraphBuilder {
	if decide == nil {
		panic(fmt.Sprintf("fabula: decision node %q has nil function", id))
	}
	return b.add(id, api.NodeDecision, &api.DecisionBehavior{Decide: decide})
}

// Gate adds a quality gate bounding a revision loop.
func (b *GraphBuilder) Gate(id string, gate *QualityGate) *GraphBuilder {
	if gate == nil {
		panic(fmt.Sprintf("fabula: gate node %q is nil", id))
	}
	return b.add(id, api.NodeQualityGate, gate)
}

// Node adds a node of arbitrary kind with a custom Behavior. The kind
// only affects how the node is reported in events and history.
func (b *GraphBuilder) Node(id string, kind NodeKind, behavior Behavior) *GraphBuilder {
	return b.add(id, kind, behavior)
}

// Edge connects two nodes unconditionally.
func (b *GraphBuilder) Edge(from, to string) *GraphBuilder {
	return b.EdgeWhen(from, to, nil, 0)
}

// EdgeWhen connects two nodes behind a predicate. Higher-priority edges
// are tried first; a nil predicate always passes, so an unconditional
// low-priority edge serves as the fallback branch.
func (b *GraphBuilder) EdgeWhen(from, to string, when Predicate, priority int) *GraphBuilder {
	if err := b.g.Connect(from, to, when, priority); err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// Start marks the node the run begins at.
func (b *GraphBuilder) Start(id string) *GraphBuilder {
	if err := b.g.SetStart(id); err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// Terminal marks nodes that end the run when they complete.
func (b *GraphBuilder) Terminal(ids ...string) *GraphBuilder {
	for _, id := range ids {
		if err := b.g.AddTerminal(id); err != nil {
			b.errs = append(b.errs, err)
		}
	}
	return b
}

// Build validates the graph and returns it. Errors recorded while
// chaining are reported together with validation errors.
func (b *GraphBuilder) Build() (*Graph, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	if err := b.g.Validate(); err != nil {
		return nil, err
	}
	return b.g, nil
}

// MustBuild is like Build but panics on error. Useful for graph
// definitions in main().
func (b *GraphBuilder) MustBuild() *Graph {
	g, err := b.Build()
	if err != nil {
		panic(err)
	}
	return g
}
