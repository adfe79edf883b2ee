package proposal

import (
	"fmt"
	"time"

	"github.com/utsync/taskbridge/internal/semantic"
)

// --- Decision outcome enum ---

// Outcome is the recorded resolution of a proposal.
type Outcome string

const (
	// OutcomeAccept maps the concept to an existing entity.
	OutcomeAccept Outcome = "accept"
	// OutcomeCreateNew registers a new entity globally and maps the
	// concept to it in the deciding project.
	OutcomeCreateNew Outcome = "create-new"
	// OutcomeIgnore records an explicit "do not map" for the pair.
	OutcomeIgnore Outcome = "ignore"
	// OutcomeDefer leaves the question open for a future run.
	OutcomeDefer Outcome = "defer"
)

// validOutcomes is the set of allowed decision outcomes.
var validOutcomes = map[Outcome]bool{
	OutcomeAccept:    true,
	OutcomeCreateNew: true,
	OutcomeIgnore:    true,
	OutcomeDefer:     true,
}

// ValidateOutcome returns an error if the outcome is not recognized.
func ValidateOutcome(o Outcome) error {
	if !validOutcomes[o] {
		return fmt.Errorf("invalid decision outcome %q: must be one of: accept, create-new, ignore, defer", o)
	}
	return nil
}

// stateFor maps a decision outcome to the proposal state it produces.
var stateFor = map[Outcome]State{
	OutcomeAccept:    StateAccepted,
	OutcomeCreateNew: StateAccepted,
	OutcomeIgnore:    StateIgnored,
	OutcomeDefer:     StateDeferred,
}

// StateFor returns the proposal state an outcome leads to.
func StateFor(o Outcome) State {
	return stateFor[o]
}

// Decision is one user-approved resolution of a proposal, scoped to one
// project.
type Decision struct {
	ProposalID string  `json:"proposal_id"`
	ProjectID  string  `json:"project_id"`
	Outcome    Outcome `json:"outcome"`

	// EntityID is the target of an Accept.
	EntityID string `json:"entity_id,omitempty"`
	// Entity is the definition a CreateNew introduces.
	Entity *semantic.Entity `json:"entity,omitempty"`

	DecidedAt time.Time `json:"decided_at"`
}

// Validate checks the decision's internal consistency before it reaches
// the applicator.
func (d Decision) Validate() error {
	if d.ProposalID == "" {
		return fmt.Errorf("decision has no proposal id")
	}
	if err := ValidateOutcome(d.Outcome); err != nil {
		return err
	}

	switch d.Outcome {
	case OutcomeAccept:
		if d.ProjectID == "" {
			return fmt.Errorf("accept decision for proposal %s has no project", d.ProposalID)
		}
		if d.EntityID == "" {
			return fmt.Errorf("accept decision for proposal %s names no entity", d.ProposalID)
		}
	case OutcomeCreateNew:
		if d.ProjectID == "" {
			return fmt.Errorf("create-new decision for proposal %s has no project", d.ProposalID)
		}
		if d.Entity == nil {
			return fmt.Errorf("create-new decision for proposal %s carries no entity definition", d.ProposalID)
		}
		if err := d.Entity.Validate(); err != nil {
			return fmt.Errorf("create-new decision for proposal %s: %w", d.ProposalID, err)
		}
	case OutcomeIgnore:
		if d.ProjectID == "" {
			return fmt.Errorf("ignore decision for proposal %s has no project", d.ProposalID)
		}
	}
	return nil
}

// Defer builds the fallback decision for an unanswered proposal.
func Defer(proposalID string) Decision {
	return Decision{ProposalID: proposalID, Outcome: OutcomeDefer, DecidedAt: timeNow().UTC()}
}
