package api

import "fmt"

// NodeKind classifies what a node does.
type NodeKind string

const (
	NodeAgent       NodeKind = "agent"
	NodeDecision    NodeKind = "decision"
	NodeQualityGate NodeKind = "quality_gate"
)

// NodeStatus tracks a node's state within a single run.
type NodeStatus string

const (
	NodePending   NodeStatus = "PENDING"
	NodeRunning   NodeStatus = "RUNNING"
	NodeCompleted NodeStatus = "COMPLETED"
	NodeFailed    NodeStatus = "FAILED"
	NodeSkipped   NodeStatus = "SKIPPED"
)

// Predicate inspects the state to decide whether an edge is taken.
// A nil Predicate always matches.
type Predicate func(*State) bool

// Edge is a directed, optionally conditional connection between nodes.
type Edge struct {
	Target   string
	When     Predicate
	Priority int
}

// Node is one unit of the execution graph.
type Node struct {
	ID       string
	Kind     NodeKind
	Behavior Behavior

	// Edges are kept sorted by descending priority; insertion order
	// breaks ties.
	Edges []Edge

	// Per-run bookkeeping, reset by Graph.ResetStatus.
	Status    NodeStatus
	ExecCount int
}

// Reset clears the per-run bookkeeping.
func (n *Node) Reset() {
	n.Status = NodePending
	n.ExecCount = 0
}

func (n *Node) addEdge(e Edge) {
	i := len(n.Edges)
	for j, existing := range n.Edges {
		if existing.Priority < e.Priority {
			i = j
			break
		}
	}
	n.Edges = append(n.Edges, Edge{})
	copy(n.Edges[i+1:], n.Edges[i:])
	n.Edges[i] = e
}

// NextTarget returns the target of the first edge whose predicate passes
// for the given state. ok=false means no edge matched.
func (n *Node) NextTarget(s *State) (string, bool) {
	for _, e := range n.Edges {
		if e.When == nil || e.When(s) {
			return e.Target, true
		}
	}
	return "", false
}

// Graph is a static directed graph of nodes. Cycles are allowed; the
// runner's safety cap bounds them. Build the graph up front, then treat
// it as read-only while runs execute.
type Graph struct {
	nodes     map[string]*Node
	order     []string
	start     string
	terminals map[string]struct{}
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:     make(map[string]*Node),
		terminals: make(map[string]struct{}),
	}
}

// AddNode registers a node. Duplicate or empty ids are rejected.
func (g *Graph) AddNode(id string, kind NodeKind, b Behavior) (*Node, error) {
	if id == "" {
		return nil, fmt.Errorf("graph: node id must not be empty")
	}
	if _, exists := g.nodes[id]; exists {
		return nil, fmt.Errorf("graph: duplicate node id %q", id)
	}
	n := &Node{ID: id, Kind: kind, Behavior: b, Status: NodePending}
	g.nodes[id] = n
	g.order = append(g.order, id)
	return n, nil
}

// Connect adds an edge from one node to another. A nil predicate is an
// unconditional edge. Higher priority edges are evaluated first.
func (g *Graph) Connect(from, to string, when Predicate, priority int) error {
	src, ok := g.nodes[from]
	if !ok {
		return &UnknownNodeError{ID: from}
	}
	if _, ok := g.nodes[to]; !ok {
		return &UnknownNodeError{ID: to}
	}
	src.addEdge(Edge{Target: to, When: when, Priority: priority})
	return nil
}

// SetStart marks the node runs begin at.
func (g *Graph) SetStart(id string) error {
	if _, ok := g.nodes[id]; !ok {
		return &UnknownNodeError{ID: id}
	}
	g.start = id
	return nil
}

// AddTerminal marks a node whose completion ends the run.
func (g *Graph) AddTerminal(id string) error {
	if _, ok := g.nodes[id]; !ok {
		return &UnknownNodeError{ID: id}
	}
	g.terminals[id] = struct{}{}
	return nil
}

// Start returns the id of the start node ("" if unset).
func (g *Graph) Start() string {
	return g.start
}

// IsTerminal reports whether the node ends the run on completion.
func (g *Graph) IsTerminal(id string) bool {
	_, ok := g.terminals[id]
	return ok
}

// Node looks up a node by id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns every node in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// ResetStatus clears per-run bookkeeping on every node. The runner calls
// it before each run.
func (g *Graph) ResetStatus() {
	for _, n := range g.nodes {
		n.Reset()
	}
}

// Validate checks that the graph is runnable: a start node is set and at
// least one terminal node exists. Edge targets are validated by Connect.
func (g *Graph) Validate() error {
	if len(g.nodes) == 0 {
		return fmt.Errorf("graph: no nodes")
	}
	if g.start == "" {
		return fmt.Errorf("graph: no start node set")
	}
	if len(g.terminals) == 0 {
		return fmt.Errorf("graph: no terminal node set")
	}
	return nil
}
