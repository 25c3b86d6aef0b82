package api

import (
	"testing"
	"time"
)

func TestCursorEncodeDecode(t *testing.T) {
	c := Cursor{
		Node:      "draft_scene",
		Iteration: 17,
		Phase:     PhaseDrafting,
		SavedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	data, err := c.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeCursor(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Node != c.Node || got.Iteration != c.Iteration || got.Phase != c.Phase {
		t.Fatalf("round trip lost fields: %+v", got)
	}
	if !got.SavedAt.Equal(c.SavedAt) {
		t.Fatalf("saved at = %v, want %v", got.SavedAt, c.SavedAt)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	if _, err := DecodeCursor([]byte("nope")); err == nil {
		t.Fatalf("expected error for invalid json")
	}
	if _, err := DecodeCursor([]byte(`{"iteration":3}`)); err == nil {
		t.Fatalf("expected error for cursor without node")
	}
}

func TestLatestCheckpointPicksHighestIteration(t *testing.T) {
	older, _ := Cursor{Node: "outline", Iteration: 4, Phase: PhaseOutlining}.Encode()
	newer, _ := Cursor{Node: "draft_scene", Iteration: 9, Phase: PhaseDrafting}.Encode()

	artifacts := map[Phase]map[string][]byte{
		PhaseOutlining: {
			ArtifactCursor: older,
			ArtifactState:  []byte(`{"run_id":"r","phase":"outlining"}`),
		},
		PhaseDrafting: {
			ArtifactCursor: newer,
			ArtifactState:  []byte(`{"run_id":"r","phase":"drafting"}`),
		},
	}

	cursor, state, ok := LatestCheckpoint(artifacts)
	if !ok {
		t.Fatalf("expected a checkpoint")
	}
	if cursor.Node != "draft_scene" || cursor.Iteration != 9 {
		t.Fatalf("wrong cursor picked: %+v", cursor)
	}
	if string(state) != `{"run_id":"r","phase":"drafting"}` {
		t.Fatalf("state not taken from the cursor's phase: %s", state)
	}
}

func TestLatestCheckpointEmpty(t *testing.T) {
	if _, _, ok := LatestCheckpoint(nil); ok {
		t.Fatalf("nil artifacts should report no checkpoint")
	}
	if _, _, ok := LatestCheckpoint(map[Phase]map[string][]byte{
		PhaseGenesis: {ArtifactState: []byte("{}")},
	}); ok {
		t.Fatalf("artifacts without cursors should report no checkpoint")
	}
}
