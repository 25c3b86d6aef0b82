package compose

import (
	"fmt"
	"math"
	"strings"

	"github.com/petrijr/fabula/pkg/api"
)

// Default budget split and section caps.
const (
	DefaultTotalBudget          = 128000
	DefaultSystemReserved       = 2000
	DefaultOutputReserved       = 4000
	DefaultSummaryReserved      = 2000
	DefaultCurrentSceneReserved = 4000

	DefaultMaxEntities = 5
	DefaultMaxFacts    = 20
)

// Budget is the token allowance of an assembled context. The free
// budget is Total minus every reserve; reserves account for the parts
// of the final prompt the assembler does not produce (system prompt,
// model output, running summary, the current scene's own text).
type Budget struct {
	Total                int
	SystemReserved       int
	OutputReserved       int
	SummaryReserved      int
	CurrentSceneReserved int
}

// DefaultBudget returns the standard 128k/2k/4k/2k/4k split.
func DefaultBudget() Budget {
	return Budget{
		Total:                DefaultTotalBudget,
		SystemReserved:       DefaultSystemReserved,
		OutputReserved:       DefaultOutputReserved,
		SummaryReserved:      DefaultSummaryReserved,
		CurrentSceneReserved: DefaultCurrentSceneReserved,
	}
}

// Free returns the tokens left for assembled context sections.
func (b Budget) Free() int {
	return b.Total - b.SystemReserved - b.OutputReserved - b.SummaryReserved - b.CurrentSceneReserved
}

// EstimateTokens approximates the token count of text as word count
// times 1.3. It is deliberately rough; the assembler promises budget
// adherence only to this estimate.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int(math.Ceil(float64(words) * 1.3))
}

// Assembler builds the bounded prompt context for the current scene.
//
// Sections are assembled in a fixed order: established constraints,
// archived batch summaries, recent scene summaries, the current scene's
// outline, relevant entities, then world and style context. The
// constraint block is always included when non-empty, regardless of
// remaining budget; dropping constraints is the failure mode this
// component exists to prevent. Every other section is included only
// while it fits.
type Assembler struct {
	// Budget defaults to DefaultBudget() when Total is zero.
	Budget Budget

	// MaxEntities caps the relevant-entity section (default 5).
	MaxEntities int

	// MaxFacts caps the rendered constraint block (default 20);
	// FactStore.Render keeps the newest when over the cap.
	MaxFacts int
}

func (a *Assembler) budget() Budget {
	if a.Budget.Total <= 0 {
		return DefaultBudget()
	}
	return a.Budget
}

func (a *Assembler) maxEntities() int {
	if a.MaxEntities > 0 {
		return a.MaxEntities
	}
	return DefaultMaxEntities
}

func (a *Assembler) maxFacts() int {
	if a.MaxFacts > 0 {
		return a.MaxFacts
	}
	return DefaultMaxFacts
}

// Assemble builds the context payload for the state's current scene.
// sum may be nil when no summaries exist yet.
func (a *Assembler) Assemble(state *api.State, sum *Summarizer) string {
	remaining := a.budget().Free()

	var sections []string
	add := func(text string) {
		sections = append(sections, text)
		remaining -= EstimateTokens(text)
	}
	addIfFits := func(text string) bool {
		if text == "" || EstimateTokens(text) > remaining {
			return false
		}
		add(text)
		return true
	}

	scene := state.CurrentScene
	outline, hasOutline := state.SceneByNumber(scene)

	entities := outline.Entities
	if len(entities) > a.maxEntities() {
		entities = entities[:a.maxEntities()]
	}

	// Constraints come first and are never dropped.
	if state.Facts != nil {
		if constraints := state.Facts.Render(scene, entities, a.maxFacts()); constraints != "" {
			add("Established constraints:\n" + constraints)
		}
	}

	if sum != nil {
		for _, batch := range sum.Archived() {
			if !addIfFits(batchSection(batch)) {
				break
			}
		}
		for _, recent := range sum.Recent() {
			if !addIfFits(recentSection(recent)) {
				break
			}
		}
	}

	if hasOutline {
		addIfFits(outlineSection(outline))
	}

	if len(entities) > 0 {
		addIfFits(entitySection(entities, state.Entities))
	}

	if state.WorldContext != "" {
		addIfFits("World:\n" + state.WorldContext)
	}
	if state.StyleGuide != "" {
		addIfFits("Style:\n" + state.StyleGuide)
	}

	return strings.Join(sections, "\n\n")
}

func batchSection(batch Summary) string {
	if len(batch.SourceIDs) == 0 {
		return "Earlier scenes:\n" + batch.Text
	}
	first := batch.SourceIDs[0]
	last := batch.SourceIDs[len(batch.SourceIDs)-1]
	return fmt.Sprintf("Scenes %d-%d (summary):\n%s", first, last, batch.Text)
}

func recentSection(recent Summary) string {
	if len(recent.SourceIDs) == 0 {
		return recent.Text
	}
	return fmt.Sprintf("Scene %d (summary):\n%s", recent.SourceIDs[0], recent.Text)
}

func outlineSection(outline api.SceneOutline) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current scene %d", outline.Scene)
	if outline.Title != "" {
		fmt.Fprintf(&b, ": %s", outline.Title)
	}
	b.WriteString("\n")
	if outline.Summary != "" {
		b.WriteString(outline.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

func entitySection(names []string, descriptions map[string]string) string {
	var b strings.Builder
	b.WriteString("Entities:\n")
	wrote := false
	for _, name := range names {
		desc, ok := descriptions[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", name, desc)
		wrote = true
	}
	if !wrote {
		return ""
	}
	return strings.TrimRight(b.String(), "\n")
}
