package api

import (
	"strings"
	"time"
)

// FactCategory classifies a consistency fact.
type FactCategory string

const (
	FactWorldRule FactCategory = "world_rule"
	FactCharacter FactCategory = "character"
	FactPlot      FactCategory = "plot"
	FactSetting   FactCategory = "setting"
	FactStyle     FactCategory = "style"
)

// factSections fixes the order categories appear in rendered output.
var factSections = []struct {
	Category FactCategory
	Label    string
}{
	{FactWorldRule, "World rules"},
	{FactCharacter, "Characters"},
	{FactPlot, "Plot"},
	{FactSetting, "Setting"},
	{FactStyle, "Style"},
}

// GlobalScene is the scene id of facts that apply to the whole story.
const GlobalScene = 0

// Fact is a single immutable consistency constraint extracted from a
// generated artifact. Facts are never edited or deleted; a correction is
// expressed by appending a newer fact, and Render guarantees the newer
// one is read last.
type Fact struct {
	Text     string       `json:"text"`
	Category FactCategory `json:"category"`

	// Source is the id of the node that recorded the fact.
	Source string `json:"source,omitempty"`

	// SceneID scopes the fact to one scene (1-based), or GlobalScene.
	SceneID int `json:"scene_id,omitempty"`

	// Entity optionally names the character or element the fact is
	// about. Empty means the fact is not tied to a particular entity.
	Entity string `json:"entity,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// FactStore is an append-only, insertion-ordered collection of facts.
//
// It is owned by a single State and is mutated only by the goroutine
// running that state's pipeline, so it carries no locking of its own.
type FactStore struct {
	facts []Fact
}

// NewFactStore returns an empty store.
func NewFactStore() *FactStore {
	return &FactStore{}
}

// Append adds a fact. A zero CreatedAt is stamped with the current time.
func (s *FactStore) Append(f Fact) {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	s.facts = append(s.facts, f)
}

// Len returns the number of facts ever appended.
func (s *FactStore) Len() int {
	return len(s.facts)
}

// All returns a copy of every fact in insertion order.
func (s *FactStore) All() []Fact {
	out := make([]Fact, len(s.facts))
	copy(out, s.facts)
	return out
}

// ForScene returns global facts plus facts scoped to sceneID, in
// insertion order.
func (s *FactStore) ForScene(sceneID int) []Fact {
	var out []Fact
	for _, f := range s.facts {
		if f.SceneID == GlobalScene || f.SceneID == sceneID {
			out = append(out, f)
		}
	}
	return out
}

// ForEntity returns facts about the named entity (case-insensitive), in
// insertion order.
func (s *FactStore) ForEntity(name string) []Fact {
	var out []Fact
	for _, f := range s.facts {
		if strings.EqualFold(f.Entity, name) && f.Entity != "" {
			out = append(out, f)
		}
	}
	return out
}

// ForCategory returns facts in the given category, in insertion order.
func (s *FactStore) ForCategory(c FactCategory) []Fact {
	var out []Fact
	for _, f := range s.facts {
		if f.Category == c {
			out = append(out, f)
		}
	}
	return out
}

// Render produces the constraint block for a prompt: facts relevant to
// sceneID (global facts always included) and to the given entities,
// grouped under category headings.
//
// Entity filtering is conjunctive: facts tied to an entity outside the
// given list are dropped; facts with no entity always pass. An empty
// entity list disables entity filtering.
//
// When the selection exceeds maxFacts (>0), the oldest facts are dropped
// first. Within a section facts keep insertion order, so when two facts
// conflict the newest is rendered last and wins on read.
func (s *FactStore) Render(sceneID int, entities []string, maxFacts int) string {
	selected := make([]Fact, 0, len(s.facts))
	for _, f := range s.facts {
		if f.SceneID != GlobalScene && f.SceneID != sceneID {
			continue
		}
		if f.Entity != "" && len(entities) > 0 && !containsFold(entities, f.Entity) {
			continue
		}
		selected = append(selected, f)
	}
	if maxFacts > 0 && len(selected) > maxFacts {
		selected = selected[len(selected)-maxFacts:]
	}
	if len(selected) == 0 {
		return ""
	}

	var b strings.Builder
	for _, sec := range factSections {
		writeFactSection(&b, sec.Label, sec.Category, selected)
	}
	// Facts in categories outside the known set still render, last.
	var leftover []Fact
	for _, f := range selected {
		if !knownCategory(f.Category) {
			leftover = append(leftover, f)
		}
	}
	if len(leftover) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Other:\n")
		for _, f := range leftover {
			writeFactLine(&b, f)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeFactSection(b *strings.Builder, label string, c FactCategory, facts []Fact) {
	first := true
	for _, f := range facts {
		if f.Category != c {
			continue
		}
		if first {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(label)
			b.WriteString(":\n")
			first = false
		}
		writeFactLine(b, f)
	}
}

func writeFactLine(b *strings.Builder, f Fact) {
	b.WriteString("- ")
	if f.Entity != "" {
		b.WriteString(f.Entity)
		b.WriteString(": ")
	}
	b.WriteString(f.Text)
	b.WriteString("\n")
}

func knownCategory(c FactCategory) bool {
	for _, sec := range factSections {
		if sec.Category == c {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
