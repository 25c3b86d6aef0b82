package api

import "fmt"

// UnknownNodeError reports a reference to a node id that does not exist
// in the graph. It is a configuration mistake and always fatal for the
// run: it cannot be resolved by resuming.
type UnknownNodeError struct {
	ID string
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("unknown node %q", e.ID)
}

// NodeExecutionError wraps a behavior failure. The run halts with
// StatusFailed; because state is checkpointed, the run can be resumed
// from the last checkpoint once the cause is fixed.
type NodeExecutionError struct {
	Node string
	Err  error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %q: %v", e.Node, e.Err)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}

// SafetyLimitError reports that a run hit the iteration cap. It is the
// coarse second net behind the quality gate's own bound; hitting it
// almost always means a routing bug.
type SafetyLimitError struct {
	Iterations int
	LastNode   string
}

func (e *SafetyLimitError) Error() string {
	return fmt.Sprintf("safety limit exceeded after %d iterations (last node %q)", e.Iterations, e.LastNode)
}

// CompressionError reports a summarizer backend failure. It never fails
// a run: the summarizer logs it and degrades to its deterministic
// fallback.
type CompressionError struct {
	Source string
	Err    error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("compress %s: %v", e.Source, e.Err)
}

func (e *CompressionError) Unwrap() error {
	return e.Err
}
