package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/petrijr/fabula/internal/eventqueue"
	"github.com/petrijr/fabula/internal/persistence"
	"github.com/petrijr/fabula/pkg/api"
)

func mustAdd(t *testing.T, g *api.Graph, id string, kind api.NodeKind, b api.Behavior) {
	t.Helper()
	if _, err := g.AddNode(id, kind, b); err != nil {
		t.Fatalf("AddNode(%s) failed: %v", id, err)
	}
}

func mustConnect(t *testing.T, g *api.Graph, from, to string, when api.Predicate, priority int) {
	t.Helper()
	if err := g.Connect(from, to, when, priority); err != nil {
		t.Fatalf("Connect(%s->%s) failed: %v", from, to, err)
	}
}

func mustStart(t *testing.T, g *api.Graph, id string) {
	t.Helper()
	if err := g.SetStart(id); err != nil {
		t.Fatalf("SetStart(%s) failed: %v", id, err)
	}
}

func mustTerminal(t *testing.T, g *api.Graph, id string) {
	t.Helper()
	if err := g.AddTerminal(id); err != nil {
		t.Fatalf("AddTerminal(%s) failed: %v", id, err)
	}
}

// captureSink records published events. The runner publishes from a
// single goroutine, so a plain slice is enough.
type captureSink struct {
	events []api.Event
}

func (s *captureSink) Publish(ev api.Event) bool {
	s.events = append(s.events, ev)
	return true
}

func eventsOfType(events []api.Event, typ api.EventType) []api.Event {
	var out []api.Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestLinearRunCompletes(t *testing.T) {
	ctx := context.Background()

	g := api.NewGraph()
	mustAdd(t, g, "premise", api.NodeAgent, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		return &api.Result{
			Output: "a drowned city remembers its name",
			Mutations: []api.Mutation{
				func(s *api.State) { s.SetPremise("a drowned city remembers its name") },
				func(s *api.State) { s.AdvancePhase() },
			},
		}, nil
	}))
	mustAdd(t, g, "world", api.NodeAgent, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		return &api.Result{
			Mutations: []api.Mutation{
				func(s *api.State) { s.SetWorldContext("tideways, bell towers, salt law") },
			},
		}, nil
	}))
	mustAdd(t, g, "finish", api.NodeDecision, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		return &api.Result{Output: "done"}, nil
	}))
	mustConnect(t, g, "premise", "world", nil, 0)
	mustConnect(t, g, "world", "finish", nil, 0)
	mustStart(t, g, "premise")
	mustTerminal(t, g, "finish")

	state := api.NewState("run-linear")
	res, err := NewInMemory().Run(ctx, g, state)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Status != api.StatusCompleted {
		t.Fatalf("expected status %q, got %q", api.StatusCompleted, res.Status)
	}
	if res.LastNode != "finish" {
		t.Fatalf("expected last node finish, got %q", res.LastNode)
	}
	if res.Iterations != 3 {
		t.Fatalf("expected 3 iterations, got %d", res.Iterations)
	}
	if len(res.History) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(res.History))
	}
	for _, h := range res.History {
		if h.Status != api.NodeCompleted {
			t.Fatalf("history entry %s has status %q", h.Node, h.Status)
		}
	}

	if state.Premise == "" || state.WorldContext == "" {
		t.Fatalf("mutations not applied: %+v", state)
	}
	if state.Phase != api.PhaseWorldbuilding {
		t.Fatalf("expected phase worldbuilding, got %q", state.Phase)
	}
	if dirty := state.Dirty(); len(dirty) != 0 {
		t.Fatalf("final checkpoint should clear dirty fields, got %v", dirty)
	}

	node, _ := g.Node("world")
	if node.Status != api.NodeCompleted || node.ExecCount != 1 {
		t.Fatalf("node bookkeeping wrong: status=%q execs=%d", node.Status, node.ExecCount)
	}
}

func TestRunFailsOnBehaviorError(t *testing.T) {
	ctx := context.Background()

	g := api.NewGraph()
	mustAdd(t, g, "draft", api.NodeAgent, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		return nil, errors.New("generator offline")
	}))
	mustAdd(t, g, "finish", api.NodeDecision, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		return &api.Result{}, nil
	}))
	mustConnect(t, g, "draft", "finish", nil, 0)
	mustStart(t, g, "draft")
	mustTerminal(t, g, "finish")

	res, err := New(Config{}).Run(ctx, g, api.NewState("run-fail"))
	if err == nil {
		t.Fatalf("expected Run to return an error")
	}

	var nodeErr *api.NodeExecutionError
	if !errors.As(err, &nodeErr) || nodeErr.Node != "draft" {
		t.Fatalf("expected NodeExecutionError for draft, got %v", err)
	}
	if res.Status != api.StatusFailed {
		t.Fatalf("expected status FAILED, got %q", res.Status)
	}
	if res.Iterations != 1 || res.LastNode != "draft" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.History) != 1 || res.History[0].Status != api.NodeFailed || res.History[0].Err == nil {
		t.Fatalf("expected one failed history entry, got %+v", res.History)
	}
	node, _ := g.Node("draft")
	if node.Status != api.NodeFailed {
		t.Fatalf("expected draft marked failed, got %q", node.Status)
	}
}

func TestRunFailsOnUnknownNextNode(t *testing.T) {
	ctx := context.Background()

	g := api.NewGraph()
	mustAdd(t, g, "start", api.NodeDecision, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		return &api.Result{NextNode: "nowhere"}, nil
	}))
	mustAdd(t, g, "finish", api.NodeDecision, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		return &api.Result{}, nil
	}))
	mustStart(t, g, "start")
	mustTerminal(t, g, "finish")

	res, err := New(Config{}).Run(ctx, g, api.NewState("run-unknown"))
	if err == nil {
		t.Fatalf("expected Run to return an error")
	}
	var unknown *api.UnknownNodeError
	if !errors.As(err, &unknown) || unknown.ID != "nowhere" {
		t.Fatalf("expected UnknownNodeError for nowhere, got %v", err)
	}
	if res.Status != api.StatusFailed || res.LastNode != "start" || res.Iterations != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunFailsWhenNoEdgeMatches(t *testing.T) {
	ctx := context.Background()

	g := api.NewGraph()
	mustAdd(t, g, "decide", api.NodeDecision, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		return &api.Result{}, nil
	}))
	mustAdd(t, g, "finish", api.NodeDecision, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		return &api.Result{}, nil
	}))
	mustConnect(t, g, "decide", "finish", func(*api.State) bool { return false }, 0)
	mustStart(t, g, "decide")
	mustTerminal(t, g, "finish")

	res, err := New(Config{}).Run(ctx, g, api.NewState("run-noedge"))
	if err == nil {
		t.Fatalf("expected Run to return an error")
	}
	var nodeErr *api.NodeExecutionError
	if !errors.As(err, &nodeErr) || nodeErr.Node != "decide" {
		t.Fatalf("expected NodeExecutionError for decide, got %v", err)
	}
	if !strings.Contains(err.Error(), "no outgoing edge matched") {
		t.Fatalf("unexpected error text: %v", err)
	}
	if res.Status != api.StatusFailed {
		t.Fatalf("expected status FAILED, got %q", res.Status)
	}
}

func TestRunValidatesGraph(t *testing.T) {
	g := api.NewGraph()
	mustAdd(t, g, "only", api.NodeAgent, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		return &api.Result{}, nil
	}))
	// No start, no terminal.

	res, err := New(Config{}).Run(context.Background(), g, api.NewState("run-invalid"))
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if res != nil {
		t.Fatalf("expected nil result on validation failure, got %+v", res)
	}
}

// Threshold 7.0 with MaxIterations 2 and scores 4.0 / 5.0 / 5.5 must
// decide needs_revision, needs_revision, max_iterations_reached: the
// third evaluation is forced forward even though 5.5 < 7.0.
func TestQualityGateLoopIsBounded(t *testing.T) {
	ctx := context.Background()

	g := api.NewGraph()
	mustAdd(t, g, "draft", api.NodeAgent, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		return &api.Result{
			Output: "scene 1, first draft",
			Mutations: []api.Mutation{
				func(s *api.State) { s.SetCurrentScene(1) },
				func(s *api.State) { s.SetDraft(1, "the bells rang under water") },
				func(s *api.State) { s.SetQualityScore(1, 4.0) },
			},
		}, nil
	}))
	mustAdd(t, g, "gate", api.NodeQualityGate, &api.QualityGate{
		Threshold:     7.0,
		MaxIterations: 2,
		ReviseTarget:  "revise",
		PassTarget:    "finish",
	})
	mustAdd(t, g, "revise", api.NodeAgent, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		return &api.Result{
			Mutations: []api.Mutation{
				func(s *api.State) {
					n := s.BumpRevision(s.CurrentScene)
					score := 5.0
					if n == 2 {
						score = 5.5
					}
					s.SetDraft(s.CurrentScene, "the bells rang, revised")
					s.SetQualityScore(s.CurrentScene, score)
				},
			},
		}, nil
	}))
	mustAdd(t, g, "finish", api.NodeDecision, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		return &api.Result{}, nil
	}))
	mustConnect(t, g, "draft", "gate", nil, 0)
	mustConnect(t, g, "revise", "gate", nil, 0)
	mustStart(t, g, "draft")
	mustTerminal(t, g, "finish")

	sink := &captureSink{}
	state := api.NewState("run-gate")
	res, err := New(Config{Events: sink}).Run(ctx, g, state)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Status != api.StatusCompleted {
		t.Fatalf("expected completion, got %q (%v)", res.Status, res.Err)
	}

	gateNode, _ := g.Node("gate")
	if gateNode.ExecCount != 3 {
		t.Fatalf("expected 3 gate evaluations, got %d", gateNode.ExecCount)
	}
	if state.Revisions(1) != 2 {
		t.Fatalf("expected 2 revisions, got %d", state.Revisions(1))
	}

	gateEvents := eventsOfType(sink.events, api.EventQualityGate)
	if len(gateEvents) != 3 {
		t.Fatalf("expected 3 quality.gate events, got %d", len(gateEvents))
	}
	want := []string{"needs_revision", "needs_revision", "max_iterations_reached"}
	for i, ev := range gateEvents {
		if ev.Detail != want[i] {
			t.Fatalf("gate decision %d: expected %q, got %q", i, want[i], ev.Detail)
		}
		if ev.Node != "gate" || ev.RunID != "run-gate" {
			t.Fatalf("gate event envelope not stamped: %+v", ev)
		}
	}
}

func TestSafetyCapTripsOnEndlessCycle(t *testing.T) {
	ctx := context.Background()

	hop := api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		return &api.Result{}, nil
	})
	g := api.NewGraph()
	mustAdd(t, g, "ping", api.NodeDecision, hop)
	mustAdd(t, g, "pong", api.NodeDecision, hop)
	mustAdd(t, g, "finish", api.NodeDecision, hop)
	mustConnect(t, g, "ping", "pong", nil, 0)
	mustConnect(t, g, "pong", "ping", nil, 0)
	mustStart(t, g, "ping")
	mustTerminal(t, g, "finish")

	res, err := New(Config{MaxIterations: 7}).Run(ctx, g, api.NewState("run-cycle"))
	if err == nil {
		t.Fatalf("expected safety limit error")
	}
	var lim *api.SafetyLimitError
	if !errors.As(err, &lim) {
		t.Fatalf("expected SafetyLimitError, got %v", err)
	}
	if lim.Iterations != 7 {
		t.Fatalf("expected cap at 7 iterations, got %d", lim.Iterations)
	}
	if res.Status != api.StatusFailed || res.Iterations != 7 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestControlCancelStopsAtIterationBoundary(t *testing.T) {
	ctx := context.Background()
	control := api.NewRunControl()

	g := api.NewGraph()
	mustAdd(t, g, "a", api.NodeAgent, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		return &api.Result{Mutations: []api.Mutation{func(s *api.State) { s.SetPremise("kept") }}}, nil
	}))
	mustAdd(t, g, "b", api.NodeAgent, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		// The cancel lands mid-iteration and takes effect at the next
		// boundary, so b itself still completes.
		control.Cancel()
		return &api.Result{Mutations: []api.Mutation{func(s *api.State) { s.SetWorldContext("kept too") }}}, nil
	}))
	mustAdd(t, g, "c", api.NodeAgent, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		return &api.Result{Mutations: []api.Mutation{func(s *api.State) { s.SetStyleGuide("never written") }}}, nil
	}))
	mustConnect(t, g, "a", "b", nil, 0)
	mustConnect(t, g, "b", "c", nil, 0)
	mustStart(t, g, "a")
	mustTerminal(t, g, "c")

	state := api.NewState("run-cancel")
	res, err := New(Config{Control: control}).Run(ctx, g, state)
	if err != nil {
		t.Fatalf("control cancel is not an error, got %v", err)
	}
	if res.Status != api.StatusCancelled {
		t.Fatalf("expected status CANCELLED, got %q", res.Status)
	}
	if res.Iterations != 2 || res.LastNode != "b" {
		t.Fatalf("expected cancellation after iteration 2 at b, got %+v", res)
	}
	if res.Err != nil {
		t.Fatalf("control cancel should not set result error, got %v", res.Err)
	}
	if state.Premise != "kept" || state.WorldContext != "kept too" {
		t.Fatalf("dispatched mutations lost: %+v", state)
	}
	if state.StyleGuide != "" {
		t.Fatalf("undispatched node mutated state: %q", state.StyleGuide)
	}
}

func TestContextCancellationMapsToCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := api.NewGraph()
	mustAdd(t, g, "a", api.NodeAgent, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		cancel()
		return &api.Result{}, nil
	}))
	mustAdd(t, g, "finish", api.NodeDecision, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		return &api.Result{}, nil
	}))
	mustConnect(t, g, "a", "finish", nil, 0)
	mustStart(t, g, "a")
	mustTerminal(t, g, "finish")

	res, err := New(Config{}).Run(ctx, g, api.NewState("run-ctx"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.Status != api.StatusCancelled {
		t.Fatalf("expected status CANCELLED, got %q", res.Status)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("expected result to surface ctx error, got %v", res.Err)
	}
	if res.Iterations != 1 {
		t.Fatalf("expected 1 iteration, got %d", res.Iterations)
	}
}

func TestPauseHoldsPlaceUntilResume(t *testing.T) {
	ctx := context.Background()
	control := api.NewRunControl()

	g := api.NewGraph()
	mustAdd(t, g, "a", api.NodeAgent, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		control.Pause()
		return &api.Result{}, nil
	}))
	mustAdd(t, g, "finish", api.NodeDecision, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		return &api.Result{}, nil
	}))
	mustConnect(t, g, "a", "finish", nil, 0)
	mustStart(t, g, "a")
	mustTerminal(t, g, "finish")

	timer := time.AfterFunc(50*time.Millisecond, control.Resume)
	defer timer.Stop()

	sink := &captureSink{}
	res, err := New(Config{Control: control, Events: sink, PausePoll: 5 * time.Millisecond}).
		Run(ctx, g, api.NewState("run-pause"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Status != api.StatusCompleted {
		t.Fatalf("expected completion after resume, got %q", res.Status)
	}
	if res.Iterations != 2 || res.LastNode != "finish" {
		t.Fatalf("pause lost its place: %+v", res)
	}
	if len(eventsOfType(sink.events, api.EventRunPaused)) == 0 {
		t.Fatalf("expected a run.paused event")
	}
}

func TestPausedRunCanBeCancelled(t *testing.T) {
	ctx := context.Background()
	control := api.NewRunControl()

	g := api.NewGraph()
	mustAdd(t, g, "a", api.NodeAgent, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		control.Pause()
		return &api.Result{}, nil
	}))
	mustAdd(t, g, "finish", api.NodeDecision, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		return &api.Result{}, nil
	}))
	mustConnect(t, g, "a", "finish", nil, 0)
	mustStart(t, g, "a")
	mustTerminal(t, g, "finish")

	timer := time.AfterFunc(30*time.Millisecond, control.Cancel)
	defer timer.Stop()

	res, err := New(Config{Control: control, PausePoll: 5 * time.Millisecond}).
		Run(ctx, g, api.NewState("run-pause-cancel"))
	if err != nil {
		t.Fatalf("control cancel is not an error, got %v", err)
	}
	if res.Status != api.StatusCancelled || res.Iterations != 1 {
		t.Fatalf("expected cancellation during pause after 1 iteration, got %+v", res)
	}
}

func TestCheckpointResumeReachesSameTerminalState(t *testing.T) {
	ctx := context.Background()

	buildGraph := func(failures *int) *api.Graph {
		g := api.NewGraph()
		mustAdd(t, g, "premise", api.NodeAgent, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
			return &api.Result{Mutations: []api.Mutation{
				func(s *api.State) { s.SetPremise("the lighthouse keeper's ledger") },
			}}, nil
		}))
		mustAdd(t, g, "outline", api.NodeAgent, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
			return &api.Result{Mutations: []api.Mutation{
				func(s *api.State) {
					s.SetOutline([]api.SceneOutline{{Scene: 1, Title: "Arrival"}})
					s.SetCurrentScene(1)
				},
			}}, nil
		}))
		mustAdd(t, g, "draft", api.NodeAgent, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
			if *failures > 0 {
				*failures--
				return nil, errors.New("backend unavailable")
			}
			return &api.Result{Mutations: []api.Mutation{
				func(s *api.State) { s.SetDraft(1, "she rowed out at dusk") },
				func(s *api.State) {
					s.AddFact(api.Fact{Text: "the keeper is blind", Category: api.FactCharacter, SceneID: 0})
				},
			}}, nil
		}))
		mustAdd(t, g, "finish", api.NodeDecision, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
			return &api.Result{}, nil
		}))
		mustConnect(t, g, "premise", "outline", nil, 0)
		mustConnect(t, g, "outline", "draft", nil, 0)
		mustConnect(t, g, "draft", "finish", nil, 0)
		mustStart(t, g, "premise")
		mustTerminal(t, g, "finish")
		return g
	}

	// Interrupted run: draft fails once, run resumes from the stored
	// checkpoint and completes.
	store := persistence.NewMemoryCheckpointStore()
	runner := New(Config{Checkpoints: store})

	failures := 1
	g := buildGraph(&failures)

	first, err := runner.Run(ctx, g, api.NewState("run-resume"))
	if err == nil {
		t.Fatalf("expected first run to fail")
	}
	if first.Status != api.StatusFailed || first.Iterations != 3 {
		t.Fatalf("unexpected first run result: %+v", first)
	}

	restored, cursor, err := persistence.LoadRun(ctx, store, "run-resume")
	if err != nil {
		t.Fatalf("LoadRun failed: %v", err)
	}
	if cursor.Node != "draft" || cursor.Iteration != 2 {
		t.Fatalf("unexpected resume cursor: %+v", cursor)
	}
	if restored.Premise == "" || len(restored.Outline) != 1 {
		t.Fatalf("restored state incomplete: %+v", restored)
	}

	resumed, err := runner.RunFrom(ctx, g, restored, cursor)
	if err != nil {
		t.Fatalf("RunFrom failed: %v", err)
	}
	if resumed.Status != api.StatusCompleted {
		t.Fatalf("expected resumed run to complete, got %q (%v)", resumed.Status, resumed.Err)
	}
	if resumed.Iterations != 4 {
		t.Fatalf("expected iteration counter to continue from the cursor, got %d", resumed.Iterations)
	}

	// Uninterrupted control run over the same behaviors.
	noFailures := 0
	baseline := api.NewState("run-baseline")
	if _, err := New(Config{}).Run(ctx, buildGraph(&noFailures), baseline); err != nil {
		t.Fatalf("baseline run failed: %v", err)
	}

	if restored.Premise != baseline.Premise {
		t.Fatalf("premise diverged: %q vs %q", restored.Premise, baseline.Premise)
	}
	if restored.Drafts[1] != baseline.Drafts[1] {
		t.Fatalf("draft diverged: %q vs %q", restored.Drafts[1], baseline.Drafts[1])
	}
	if restored.Facts.Len() != baseline.Facts.Len() {
		t.Fatalf("fact count diverged: %d vs %d (resume must not re-apply mutations)",
			restored.Facts.Len(), baseline.Facts.Len())
	}

	// The final checkpoint must now be the newest cursor.
	artifacts, err := store.Get(ctx, "run-resume")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	latest, _, ok := api.LatestCheckpoint(artifacts)
	if !ok {
		t.Fatalf("expected a checkpoint after completion")
	}
	if latest.Node != "finish" || latest.Iteration != 4 {
		t.Fatalf("unexpected latest cursor: %+v", latest)
	}
}

type failingStore struct{}

func (failingStore) Store(ctx context.Context, runID string, phase api.Phase, artifactType string, content []byte) error {
	return errors.New("disk full")
}

func (failingStore) Get(ctx context.Context, runID string) (map[api.Phase]map[string][]byte, error) {
	return map[api.Phase]map[string][]byte{}, nil
}

func (failingStore) ListRuns(ctx context.Context) ([]string, error) {
	return nil, nil
}

// A run whose terminal snapshot cannot be persisted must not report
// itself completed.
func TestFinalCheckpointFailureFailsRun(t *testing.T) {
	ctx := context.Background()

	g := api.NewGraph()
	mustAdd(t, g, "finish", api.NodeDecision, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		return &api.Result{}, nil
	}))
	mustStart(t, g, "finish")
	mustTerminal(t, g, "finish")

	res, err := New(Config{Checkpoints: failingStore{}}).Run(ctx, g, api.NewState("run-finalfail"))
	if err == nil {
		t.Fatalf("expected final checkpoint failure")
	}
	if !strings.Contains(err.Error(), "final checkpoint") {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != api.StatusFailed || res.LastNode != "finish" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunnerEmitsLifecycleEvents(t *testing.T) {
	ctx := context.Background()

	g := api.NewGraph()
	mustAdd(t, g, "a", api.NodeAgent, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		return &api.Result{Mutations: []api.Mutation{func(s *api.State) { s.SetPremise("p") }}}, nil
	}))
	mustAdd(t, g, "finish", api.NodeDecision, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		return &api.Result{}, nil
	}))
	mustConnect(t, g, "a", "finish", nil, 0)
	mustStart(t, g, "a")
	mustTerminal(t, g, "finish")

	queue := eventqueue.New(64)
	runner := New(Config{Checkpoints: persistence.NewMemoryCheckpointStore(), Events: queue})
	if _, err := runner.Run(ctx, g, api.NewState("run-events")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var got []api.Event
	for queue.Len() > 0 {
		ev, err := queue.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		got = append(got, *ev)
	}
	if len(got) == 0 {
		t.Fatalf("no events published")
	}

	if got[0].Type != api.EventRunStarted {
		t.Fatalf("expected run.started first, got %q", got[0].Type)
	}
	if got[len(got)-1].Type != api.EventRunCompleted {
		t.Fatalf("expected run.completed last, got %q", got[len(got)-1].Type)
	}
	if n := len(eventsOfType(got, api.EventNodeStarted)); n != 2 {
		t.Fatalf("expected 2 node.started events, got %d", n)
	}
	if n := len(eventsOfType(got, api.EventNodeCompleted)); n != 2 {
		t.Fatalf("expected 2 node.completed events, got %d", n)
	}
	// One interval write after node a plus the final synchronous write.
	if n := len(eventsOfType(got, api.EventCheckpointSaved)); n != 2 {
		t.Fatalf("expected 2 checkpoint.saved events, got %d", n)
	}
	for _, ev := range got {
		if ev.RunID != "run-events" {
			t.Fatalf("event missing run id: %+v", ev)
		}
		if ev.At.IsZero() {
			t.Fatalf("event missing timestamp: %+v", ev)
		}
	}
}

func TestRunnerSequentialReuse(t *testing.T) {
	ctx := context.Background()

	g := api.NewGraph()
	mustAdd(t, g, "a", api.NodeAgent, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		return &api.Result{}, nil
	}))
	mustAdd(t, g, "finish", api.NodeDecision, api.BehaviorFunc(func(ctx context.Context, s *api.State) (*api.Result, error) {
		return &api.Result{}, nil
	}))
	mustConnect(t, g, "a", "finish", nil, 0)
	mustStart(t, g, "a")
	mustTerminal(t, g, "finish")

	runner := NewInMemory()
	for i := 0; i < 2; i++ {
		res, err := runner.Run(ctx, g, api.NewState(""))
		if err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
		if res.Status != api.StatusCompleted {
			t.Fatalf("run %d: expected completion, got %q", i, res.Status)
		}
		node, _ := g.Node("a")
		if node.ExecCount != 1 {
			t.Fatalf("run %d: node counters not reset, exec count %d", i, node.ExecCount)
		}
	}
}
