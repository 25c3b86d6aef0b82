package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/petrijr/fabula/pkg/api"
)

// MemoryCheckpointStore is a goroutine-safe CheckpointStore backed by
// maps. Nothing survives the process; use it for tests and development.
type MemoryCheckpointStore struct {
	mu   sync.RWMutex
	runs map[string]map[api.Phase]map[string][]byte
}

// NewMemoryCheckpointStore creates an empty in-memory store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		runs: make(map[string]map[api.Phase]map[string][]byte),
	}
}

// Ensure MemoryCheckpointStore implements the interface.
var _ api.CheckpointStore = (*MemoryCheckpointStore)(nil)

func (s *MemoryCheckpointStore) Store(ctx context.Context, runID string, phase api.Phase, artifactType string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	phases, ok := s.runs[runID]
	if !ok {
		phases = make(map[api.Phase]map[string][]byte)
		s.runs[runID] = phases
	}
	artifacts, ok := phases[phase]
	if !ok {
		artifacts = make(map[string][]byte)
		phases[phase] = artifacts
	}

	// Copy so later caller mutations cannot corrupt stored state.
	buf := make([]byte, len(content))
	copy(buf, content)
	artifacts[artifactType] = buf
	return nil
}

func (s *MemoryCheckpointStore) Get(ctx context.Context, runID string) (map[api.Phase]map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[api.Phase]map[string][]byte)
	for phase, artifacts := range s.runs[runID] {
		byType := make(map[string][]byte, len(artifacts))
		for typ, content := range artifacts {
			buf := make([]byte, len(content))
			copy(buf, content)
			byType[typ] = buf
		}
		out[phase] = byType
	}
	return out, nil
}

func (s *MemoryCheckpointStore) ListRuns(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// MemoryEventLog is a goroutine-safe in-memory EventLog, mostly useful
// for tests asserting on emitted events.
type MemoryEventLog struct {
	mu     sync.RWMutex
	events map[string][]api.Event
}

// NewMemoryEventLog creates an empty in-memory event log.
func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{events: make(map[string][]api.Event)}
}

var _ api.EventLog = (*MemoryEventLog)(nil)
var _ api.Emitter = (*MemoryEventLog)(nil)

func (l *MemoryEventLog) AppendEvent(ctx context.Context, ev api.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[ev.RunID] = append(l.events[ev.RunID], ev)
	return nil
}

func (l *MemoryEventLog) ListEvents(ctx context.Context, runID string) ([]api.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	evs := l.events[runID]
	out := make([]api.Event, len(evs))
	copy(out, evs)
	return out, nil
}

// Emit makes the log usable directly as an event transport.
func (l *MemoryEventLog) Emit(ctx context.Context, ev api.Event) error {
	return l.AppendEvent(ctx, ev)
}
