package fabula

import (
	"context"
	"strings"
	"testing"
)

// writeDraft is a simple behavior helper used by multiple tests.
func writeDraft(scene int, text string) BehaviorFunc {
	return func(ctx context.Context, state *State) (*Result, error) {
		return &Result{
			Output: text,
			Mutations: []Mutation{
				func(s *State) { s.SetDraft(scene, text) },
			},
		}, nil
	}
}

func TestGraphBuilder_BuildsQualityLoop(t *testing.T) {
	gate := &QualityGate{
		Threshold:     7.0,
		MaxIterations: 2,
		ReviseTarget:  "revise",
		PassTarget:    "publish",
	}

	g, err := New().
		AgentFunc("draft", writeDraft(1, "first pass")).
		AgentFunc("revise", writeDraft(1, "second pass")).
		Gate("review", gate).
		AgentFunc("publish", writeDraft(1, "final")).
		Edge("draft", "review").
		Edge("revise", "review").
		Start("draft").
		Terminal("publish").
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if g.Start() != "draft" {
		t.Fatalf("unexpected start node: %s", g.Start())
	}
	if !g.IsTerminal("publish") {
		t.Fatalf("expected publish to be terminal")
	}
	if len(g.Nodes()) != 4 {
		t.Fatalf("expected 4 nodes, got %d", len(g.Nodes()))
	}

	review, ok := g.Node("review")
	if !ok {
		t.Fatalf("review node missing")
	}
	if review.Kind != NodeQualityGate {
		t.Fatalf("unexpected review node kind: %s", review.Kind)
	}

	draft, _ := g.Node("draft")
	if len(draft.Edges) != 1 || draft.Edges[0].Target != "review" {
		t.Fatalf("unexpected draft edges: %+v", draft.Edges)
	}
}

func TestGraphBuilder_CollectsErrors(t *testing.T) {
	_, err := New().
		AgentFunc("draft", writeDraft(1, "a")).
		AgentFunc("draft", writeDraft(1, "b")). // duplicate id
		Edge("draft", "missing").               // unknown target
		Start("draft").
		Terminal("draft").
		Build()
	if err == nil {
		t.Fatalf("expected build error, got nil")
	}
	for _, want := range []string{`duplicate node id "draft"`, `unknown node "missing"`} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err.Error(), want)
		}
	}
}

func TestGraphBuilder_ValidatesStartAndTerminal(t *testing.T) {
	_, err := New().
		AgentFunc("only", writeDraft(1, "x")).
		Build()
	if err == nil {
		t.Fatalf("expected validation error for missing start/terminal")
	}
}

func TestGraphBuilder_PanicsOnNilBehavior(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for nil behavior")
		}
	}()
	New().AgentFunc("draft", nil)
}

func TestGraphBuilder_ConditionalEdges(t *testing.T) {
	longEnough := func(s *State) bool {
		text, _ := s.Draft(1)
		return len(text) >= 10
	}

	g := New().
		AgentFunc("draft", writeDraft(1, "short")).
		AgentFunc("expand", writeDraft(1, "a much longer draft")).
		AgentFunc("publish", writeDraft(1, "done")).
		EdgeWhen("draft", "publish", longEnough, 10).
		Edge("draft", "expand").
		Edge("expand", "publish").
		Start("draft").
		Terminal("publish").
		MustBuild()

	result, err := Run(context.Background(), NewInMemoryRunner(), g, NewState("builder-cond"))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}

	// "short" fails the predicate, so the run must detour through expand.
	var visited []string
	for _, h := range result.History {
		visited = append(visited, h.Node)
	}
	want := []string{"draft", "expand", "publish"}
	if len(visited) != len(want) {
		t.Fatalf("unexpected node path: %v", visited)
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Fatalf("unexpected node path: %v, want %v", visited, want)
		}
	}
}
