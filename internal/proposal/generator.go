package proposal

import (
	"github.com/utsync/taskbridge/internal/detect"
)

// Generate turns a change set into open proposals, one per distinct
// (tool, raw concept) finding. The candidate role and suggested entity
// id are carried over as suggestions; nothing here touches
// configuration.
func Generate(cs *detect.ChangeSet) []Proposal {
	if cs == nil || cs.Empty() {
		return nil
	}

	now := timeNow().UTC()
	out := make([]Proposal, 0, len(cs.Changes))
	for _, c := range cs.Changes {
		reason := ReasonNew
		if c.Kind == detect.KindConflict {
			reason = ReasonConflict
		}

		affected := make([]string, len(c.AffectedProjects))
		copy(affected, c.AffectedProjects)

		out = append(out, Proposal{
			ID:                newID(),
			Tool:              c.Tool,
			RawConceptID:      c.RawConceptID,
			RawLabel:          c.RawLabel,
			Reason:            reason,
			CandidateRole:     c.RoleHint,
			SuggestedEntityID: Slugify(c.RawLabel),
			AffectedProjects:  affected,
			State:             StateOpen,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}
	return out
}
