package api

// Phase identifies a stage of the narrative pipeline. Phases advance
// linearly; there are no backward transitions. Revision loops happen
// inside a phase (node cycles), not across phases.
type Phase string

const (
	PhaseGenesis       Phase = "genesis"
	PhaseWorldbuilding Phase = "worldbuilding"
	PhaseOutlining     Phase = "outlining"
	PhaseDrafting      Phase = "drafting"
	PhaseRevision      Phase = "revision"
	PhaseCompleted     Phase = "completed"
)

// phaseOrder fixes the linear progression of the pipeline.
var phaseOrder = [...]Phase{
	PhaseGenesis,
	PhaseWorldbuilding,
	PhaseOutlining,
	PhaseDrafting,
	PhaseRevision,
	PhaseCompleted,
}

// Next returns the phase that follows p. It returns ok=false when p is
// the final phase or not a known phase.
func (p Phase) Next() (Phase, bool) {
	for i, ph := range phaseOrder {
		if ph == p && i+1 < len(phaseOrder) {
			return phaseOrder[i+1], true
		}
	}
	return p, false
}

// Valid reports whether p is one of the known pipeline phases.
func (p Phase) Valid() bool {
	for _, ph := range phaseOrder {
		if ph == p {
			return true
		}
	}
	return false
}
