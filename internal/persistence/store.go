package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/petrijr/fabula/pkg/api"
)

var (
	// ErrNoCheckpoint is returned when a run has no stored cursor to
	// resume from.
	ErrNoCheckpoint = errors.New("no checkpoint for run")
)

// Persistence bundles the stores a pipeline needs so higher layers can
// depend on a single abstraction.
type Persistence struct {
	Checkpoints api.CheckpointStore
	Events      api.EventLog
}

// LoadRun restores a run's state and resume cursor from its latest
// checkpoint. It returns ErrNoCheckpoint when the store holds no cursor
// for the run.
func LoadRun(ctx context.Context, store api.CheckpointStore, runID string) (*api.State, api.Cursor, error) {
	artifacts, err := store.Get(ctx, runID)
	if err != nil {
		return nil, api.Cursor{}, fmt.Errorf("load run %s: %w", runID, err)
	}
	cursor, stateRaw, ok := api.LatestCheckpoint(artifacts)
	if !ok {
		return nil, api.Cursor{}, fmt.Errorf("load run %s: %w", runID, ErrNoCheckpoint)
	}
	if len(stateRaw) == 0 {
		return nil, api.Cursor{}, fmt.Errorf("load run %s: cursor present but state artifact missing", runID)
	}
	state, err := api.RestoreState(stateRaw)
	if err != nil {
		return nil, api.Cursor{}, fmt.Errorf("load run %s: %w", runID, err)
	}
	return state, cursor, nil
}
