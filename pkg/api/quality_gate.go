package api

import (
	"context"
	"errors"
)

// Defaults for QualityGate.
const (
	DefaultQualityThreshold = 7.0
	DefaultGateIterations   = 3
)

// GateDecision is the outcome of one quality gate evaluation.
type GateDecision string

const (
	GatePass          GateDecision = "pass"
	GateNeedsRevision GateDecision = "needs_revision"
	GateMaxIterations GateDecision = "max_iterations_reached"
)

// QualityGate is a decision behavior that bounds a revision loop. It
// reads the current item's latest quality score and revision count from
// the state; it never calls the generation backend.
//
// Routing:
//   - score >= Threshold: PassTarget (pass)
//   - revisions >= MaxIterations: PassTarget (max_iterations_reached),
//     so an item is evaluated at most MaxIterations+1 times no matter
//     how it scores
//   - otherwise: ReviseTarget (needs_revision)
//
// The gate only routes; the revision node is expected to bump the item's
// revision count (State.BumpRevision) when it rewrites.
type QualityGate struct {
	// Threshold is the minimum passing score. Zero means
	// DefaultQualityThreshold.
	Threshold float64

	// MaxIterations caps revisions per item. Zero or negative means
	// DefaultGateIterations.
	MaxIterations int

	// ReviseTarget and PassTarget are the node ids routed to.
	ReviseTarget string
	PassTarget   string

	// Item selects which scene is being judged. Nil means the state's
	// current scene.
	Item func(*State) int
}

var _ Behavior = (*QualityGate)(nil)

func (g *QualityGate) Execute(ctx context.Context, state *State) (*Result, error) {
	if g.ReviseTarget == "" || g.PassTarget == "" {
		return nil, errors.New("quality gate: revise and pass targets are required")
	}
	threshold := g.Threshold
	if threshold == 0 {
		threshold = DefaultQualityThreshold
	}
	maxIterations := g.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultGateIterations
	}
	item := state.CurrentScene
	if g.Item != nil {
		item = g.Item(state)
	}
	score, _ := state.QualityScore(item)
	revisions := state.Revisions(item)

	var decision GateDecision
	var next string
	switch {
	case score >= threshold:
		decision, next = GatePass, g.PassTarget
	case revisions >= maxIterations:
		decision, next = GateMaxIterations, g.PassTarget
	default:
		decision, next = GateNeedsRevision, g.ReviseTarget
	}

	ev := Event{
		Type:   EventQualityGate,
		Detail: string(decision),
		Data: map[string]any{
			"scene":     item,
			"score":     score,
			"threshold": threshold,
			"decision":  string(decision),
			"revisions": revisions,
		},
	}
	return &Result{
		Output:   string(decision),
		NextNode: next,
		Events:   []Event{ev},
	}, nil
}
