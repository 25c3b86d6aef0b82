package api

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// SceneOutline describes one planned scene.
type SceneOutline struct {
	Scene    int      `json:"scene"`
	Title    string   `json:"title,omitempty"`
	Summary  string   `json:"summary,omitempty"`
	Entities []string `json:"entities,omitempty"`
}

// Change records one mutation applied to a State, for audit and debugging.
type Change struct {
	At    time.Time `json:"at"`
	Actor string    `json:"actor,omitempty"`
	Field string    `json:"field"`
	Note  string    `json:"note,omitempty"`
}

// State is the shared mutable state of a single pipeline run.
//
// Exactly one State exists per run and exactly one goroutine (the
// runner's) mutates it. All writes go through the typed setters below;
// each setter marks the touched field dirty and appends to the change
// log. Reading exported fields directly is fine.
type State struct {
	RunID        string
	Phase        Phase
	Premise      string
	WorldContext string
	StyleGuide   string
	Outline      []SceneOutline
	Drafts       map[int]string
	Entities     map[string]string
	Facts        *FactStore

	QualityScores  map[int]float64
	RevisionCounts map[int]int
	CurrentScene   int

	dirty   map[string]struct{}
	changes []Change
	actor   string
}

// NewState creates an empty state for a run. An empty runID is replaced
// with a fresh one.
func NewState(runID string) *State {
	if runID == "" {
		runID = NewRunID()
	}
	return &State{
		RunID:          runID,
		Phase:          PhaseGenesis,
		Drafts:         make(map[int]string),
		Entities:       make(map[string]string),
		Facts:          NewFactStore(),
		QualityScores:  make(map[int]float64),
		RevisionCounts: make(map[int]int),
		dirty:          make(map[string]struct{}),
	}
}

// SetActor attributes subsequent changes to the given node id. The
// runner calls this before dispatching each node.
func (s *State) SetActor(node string) {
	s.actor = node
}

func (s *State) touch(field, note string) {
	if s.dirty == nil {
		s.dirty = make(map[string]struct{})
	}
	s.dirty[field] = struct{}{}
	s.changes = append(s.changes, Change{
		At:    time.Now(),
		Actor: s.actor,
		Field: field,
		Note:  note,
	})
}

// SetPremise records the story premise.
func (s *State) SetPremise(premise string) {
	s.Premise = premise
	s.touch("premise", "")
}

// SetWorldContext records the worldbuilding document.
func (s *State) SetWorldContext(text string) {
	s.WorldContext = text
	s.touch("world_context", "")
}

// SetStyleGuide records the style guide.
func (s *State) SetStyleGuide(text string) {
	s.StyleGuide = text
	s.touch("style_guide", "")
}

// SetOutline replaces the scene outline.
func (s *State) SetOutline(outline []SceneOutline) {
	s.Outline = outline
	s.touch("outline", fmt.Sprintf("%d scenes", len(outline)))
}

// SceneByNumber returns the outline entry for the given scene.
func (s *State) SceneByNumber(scene int) (SceneOutline, bool) {
	for _, o := range s.Outline {
		if o.Scene == scene {
			return o, true
		}
	}
	return SceneOutline{}, false
}

// SetDraft stores the draft text of a scene.
func (s *State) SetDraft(scene int, text string) {
	if s.Drafts == nil {
		s.Drafts = make(map[int]string)
	}
	s.Drafts[scene] = text
	s.touch("drafts", fmt.Sprintf("scene %d", scene))
}

// Draft returns the draft text of a scene.
func (s *State) Draft(scene int) (string, bool) {
	text, ok := s.Drafts[scene]
	return text, ok
}

// SetEntity records or replaces an entity description.
func (s *State) SetEntity(name, description string) {
	if s.Entities == nil {
		s.Entities = make(map[string]string)
	}
	s.Entities[name] = description
	s.touch("entities", name)
}

// AddFact appends a consistency fact to the run's fact store.
func (s *State) AddFact(f Fact) {
	if s.Facts == nil {
		s.Facts = NewFactStore()
	}
	if f.Source == "" {
		f.Source = s.actor
	}
	s.Facts.Append(f)
	s.touch("facts", string(f.Category))
}

// SetQualityScore records the latest quality score for a scene.
func (s *State) SetQualityScore(scene int, score float64) {
	if s.QualityScores == nil {
		s.QualityScores = make(map[int]float64)
	}
	s.QualityScores[scene] = score
	s.touch("quality_scores", fmt.Sprintf("scene %d", scene))
}

// QualityScore returns the latest score for a scene.
func (s *State) QualityScore(scene int) (float64, bool) {
	score, ok := s.QualityScores[scene]
	return score, ok
}

// BumpRevision increments and returns the revision count of a scene.
func (s *State) BumpRevision(scene int) int {
	if s.RevisionCounts == nil {
		s.RevisionCounts = make(map[int]int)
	}
	s.RevisionCounts[scene]++
	s.touch("revision_counts", fmt.Sprintf("scene %d", scene))
	return s.RevisionCounts[scene]
}

// Revisions returns how many times a scene has been revised.
func (s *State) Revisions(scene int) int {
	return s.RevisionCounts[scene]
}

// SetCurrentScene moves the drafting cursor to the given scene.
func (s *State) SetCurrentScene(scene int) {
	s.CurrentScene = scene
	s.touch("current_scene", fmt.Sprintf("scene %d", scene))
}

// AdvancePhase moves to the next pipeline phase. Phases only move
// forward; at the final phase it returns ok=false and changes nothing.
func (s *State) AdvancePhase() (Phase, bool) {
	next, ok := s.Phase.Next()
	if !ok {
		return s.Phase, false
	}
	s.Phase = next
	s.touch("phase", string(next))
	return next, true
}

// Dirty returns the sorted names of fields changed since the last
// ClearDirty.
func (s *State) Dirty() []string {
	if len(s.dirty) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.dirty))
	for f := range s.dirty {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// ClearDirty marks the given fields clean, or every field when called
// with no arguments. The runner calls it after a checkpoint persists.
func (s *State) ClearDirty(fields ...string) {
	if len(fields) == 0 {
		s.dirty = make(map[string]struct{})
		return
	}
	for _, f := range fields {
		delete(s.dirty, f)
	}
}

// ChangeLog returns a copy of the ordered mutation history.
func (s *State) ChangeLog() []Change {
	out := make([]Change, len(s.changes))
	copy(out, s.changes)
	return out
}

// stateSnapshot is the JSON form used for checkpoints.
type stateSnapshot struct {
	RunID          string            `json:"run_id"`
	Phase          Phase             `json:"phase"`
	Premise        string            `json:"premise,omitempty"`
	WorldContext   string            `json:"world_context,omitempty"`
	StyleGuide     string            `json:"style_guide,omitempty"`
	Outline        []SceneOutline    `json:"outline,omitempty"`
	Drafts         map[int]string    `json:"drafts,omitempty"`
	Entities       map[string]string `json:"entities,omitempty"`
	Facts          []Fact            `json:"facts,omitempty"`
	QualityScores  map[int]float64   `json:"quality_scores,omitempty"`
	RevisionCounts map[int]int       `json:"revision_counts,omitempty"`
	CurrentScene   int               `json:"current_scene,omitempty"`
	Changes        []Change          `json:"changes,omitempty"`
}

// Snapshot serializes the state to JSON for checkpointing. The snapshot
// includes the change log so a resumed run keeps its audit trail.
func (s *State) Snapshot() ([]byte, error) {
	snap := stateSnapshot{
		RunID:          s.RunID,
		Phase:          s.Phase,
		Premise:        s.Premise,
		WorldContext:   s.WorldContext,
		StyleGuide:     s.StyleGuide,
		Outline:        s.Outline,
		Drafts:         s.Drafts,
		Entities:       s.Entities,
		QualityScores:  s.QualityScores,
		RevisionCounts: s.RevisionCounts,
		CurrentScene:   s.CurrentScene,
		Changes:        s.changes,
	}
	if s.Facts != nil {
		snap.Facts = s.Facts.All()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("state: snapshot: %w", err)
	}
	return data, nil
}

// RestoreState rebuilds a State from a Snapshot. The restored state is
// clean: nothing is marked dirty until the next mutation.
func RestoreState(data []byte) (*State, error) {
	var snap stateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("state: restore: %w", err)
	}
	if snap.RunID == "" {
		return nil, fmt.Errorf("state: restore: snapshot has no run id")
	}
	if snap.Phase != "" && !snap.Phase.Valid() {
		return nil, fmt.Errorf("state: restore: unknown phase %q", snap.Phase)
	}
	st := NewState(snap.RunID)
	if snap.Phase != "" {
		st.Phase = snap.Phase
	}
	st.Premise = snap.Premise
	st.WorldContext = snap.WorldContext
	st.StyleGuide = snap.StyleGuide
	st.Outline = snap.Outline
	if snap.Drafts != nil {
		st.Drafts = snap.Drafts
	}
	if snap.Entities != nil {
		st.Entities = snap.Entities
	}
	for _, f := range snap.Facts {
		st.Facts.Append(f)
	}
	if snap.QualityScores != nil {
		st.QualityScores = snap.QualityScores
	}
	if snap.RevisionCounts != nil {
		st.RevisionCounts = snap.RevisionCounts
	}
	st.CurrentScene = snap.CurrentScene
	st.changes = snap.Changes
	return st, nil
}
