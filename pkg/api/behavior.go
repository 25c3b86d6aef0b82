package api

import (
	"context"
	"errors"
	"fmt"
)

// Behavior is the unit of work attached to a node. The runner invokes it
// with the run's shared state; it returns a Result describing output,
// routing, deferred mutations and events.
//
// Behaviors must not mutate the state directly. All writes belong in
// Result.Mutations, which the runner applies on the run goroutine after
// the behavior returns.
type Behavior interface {
	Execute(ctx context.Context, state *State) (*Result, error)
}

// Mutation is a deferred state change produced by a behavior. Mutations
// route through the typed State setters so dirty tracking and the change
// log stay accurate.
type Mutation func(*State)

// Result is what a behavior hands back to the runner.
type Result struct {
	// Output is the behavior's primary artifact (generated text,
	// decision label). Kept for the run history; may be empty.
	Output string

	// NextNode overrides edge-based routing when non-empty.
	NextNode string

	// Mutations are applied in order after the behavior returns.
	Mutations []Mutation

	// Events are published fire-and-forget. The runner stamps the
	// envelope fields (run id, node, iteration, time).
	Events []Event
}

// GenerateFunc calls the generation backend with a rendered prompt.
// Implementations own their transport concerns (the core does not retry).
type GenerateFunc func(ctx context.Context, prompt string) (string, error)

// PromptBuilder renders the prompt for an agent node from the state.
type PromptBuilder func(state *State) (string, error)

// OutputParser turns a raw backend response into a Result. It may read
// the state but must express writes as Result.Mutations.
type OutputParser func(response string, state *State) (*Result, error)

// AgentBehavior runs one prompt / generate / parse round trip against
// the generation backend. Prompt and Parse are optional: without Prompt
// the backend is called with an empty prompt, without Parse the raw
// response becomes the Result output.
type AgentBehavior struct {
	Prompt   PromptBuilder
	Generate GenerateFunc
	Parse    OutputParser
}

var _ Behavior = (*AgentBehavior)(nil)

func (b *AgentBehavior) Execute(ctx context.Context, state *State) (*Result, error) {
	if b.Generate == nil {
		return nil, errors.New("agent behavior: generate function is required")
	}
	var prompt string
	if b.Prompt != nil {
		p, err := b.Prompt(state)
		if err != nil {
			return nil, fmt.Errorf("build prompt: %w", err)
		}
		prompt = p
	}
	response, err := b.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if b.Parse == nil {
		return &Result{Output: response}, nil
	}
	res, err := b.Parse(response, state)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if res == nil {
		res = &Result{Output: response}
	}
	return res, nil
}

// DecisionFunc picks the next node id from the state.
type DecisionFunc func(state *State) (string, error)

// DecisionBehavior routes between nodes without calling the backend.
type DecisionBehavior struct {
	Decide DecisionFunc
}

var _ Behavior = (*DecisionBehavior)(nil)

func (b *DecisionBehavior) Execute(ctx context.Context, state *State) (*Result, error) {
	if b.Decide == nil {
		return nil, errors.New("decision behavior: decide function is required")
	}
	next, err := b.Decide(state)
	if err != nil {
		return nil, err
	}
	return &Result{Output: next, NextNode: next}, nil
}

// BehaviorFunc adapts a plain function to the Behavior interface.
type BehaviorFunc func(ctx context.Context, state *State) (*Result, error)

func (f BehaviorFunc) Execute(ctx context.Context, state *State) (*Result, error) {
	return f(ctx, state)
}
