package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Artifact types written at each checkpoint.
const (
	// ArtifactState is the JSON state snapshot (see State.Snapshot).
	ArtifactState = "state"

	// ArtifactCursor is the JSON resume cursor (see Cursor).
	ArtifactCursor = "cursor"
)

// Cursor records where a run should resume.
type Cursor struct {
	Node      string    `json:"node"`
	Iteration int       `json:"iteration"`
	Phase     Phase     `json:"phase"`
	SavedAt   time.Time `json:"saved_at"`
}

// Encode serializes the cursor for storage.
func (c Cursor) Encode() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("cursor: encode: %w", err)
	}
	return data, nil
}

// DecodeCursor parses a stored cursor artifact.
func DecodeCursor(data []byte) (Cursor, error) {
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, fmt.Errorf("cursor: decode: %w", err)
	}
	if c.Node == "" {
		return Cursor{}, fmt.Errorf("cursor: decode: no node")
	}
	return c, nil
}

// CheckpointStore persists run artifacts keyed by (run, phase, artifact
// type). Store is an idempotent upsert: writing the same key again
// replaces the content, so re-executing a node after resume cannot
// corrupt history.
//
// Implementations must be safe for concurrent use; the runner writes
// intermediate checkpoints from a background goroutine.
type CheckpointStore interface {
	Store(ctx context.Context, runID string, phase Phase, artifactType string, content []byte) error

	// Get returns every artifact stored for a run, grouped by phase
	// then artifact type. A run with no artifacts yields an empty map.
	Get(ctx context.Context, runID string) (map[Phase]map[string][]byte, error)

	// ListRuns returns the ids of runs with at least one artifact.
	ListRuns(ctx context.Context) ([]string, error)
}

// LatestCheckpoint extracts the resume position and state snapshot from
// a Get result: the cursor with the highest iteration, and the state
// artifact stored under that cursor's phase.
func LatestCheckpoint(artifacts map[Phase]map[string][]byte) (Cursor, []byte, bool) {
	var (
		best      Cursor
		bestState []byte
		found     bool
	)
	for _, byType := range artifacts {
		raw, ok := byType[ArtifactCursor]
		if !ok {
			continue
		}
		c, err := DecodeCursor(raw)
		if err != nil {
			continue
		}
		if !found || c.Iteration > best.Iteration {
			best = c
			bestState = byType[ArtifactState]
			found = true
		}
	}
	return best, bestState, found
}
