// Package proposal turns detected semantic changes into proposals and
// defines the decisions that resolve them.
//
// A proposal is a surfaced, undecided classification question: "tool X
// uses concept Y — what does it mean?". Proposals are inert data;
// generating them changes nothing. Only an applied decision (see the
// apply package) mutates configuration, which is how the engine
// guarantees that no semantic interpretation ever happens silently.
package proposal

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/utsync/taskbridge/internal/config"
	"github.com/utsync/taskbridge/internal/semantic"
)

// --- Proposal state enum ---

// State tracks where a proposal is in its lifecycle.
type State string

const (
	StateOpen     State = "open"
	StateAccepted State = "accepted"
	StateIgnored  State = "ignored"
	StateDeferred State = "deferred"
)

// validTransitions is the proposal state machine. Accepted and Ignored
// are terminal for the exact (tool, concept, project) tuple; Deferred
// reopens on the next run.
var validTransitions = map[State][]State{
	StateOpen:     {StateAccepted, StateIgnored, StateDeferred},
	StateDeferred: {StateOpen},
}

// Reason says why a proposal was raised.
type Reason string

const (
	// ReasonNew: the concept has never been classified.
	ReasonNew Reason = "new"
	// ReasonConflict: the concept is classified, but its observed usage
	// contradicts the mapped role.
	ReasonConflict Reason = "conflict"
)

// Proposal is one open classification question.
type Proposal struct {
	ID           string `json:"id"`
	Tool         string `json:"tool"`
	RawConceptID string `json:"raw_concept_id"`
	RawLabel     string `json:"raw_label,omitempty"`
	Reason       Reason `json:"reason"`

	// CandidateRole is the plugin's hint. It is presented as a
	// suggestion only and is never applied without a decision.
	CandidateRole semantic.Role `json:"candidate_role,omitempty"`

	// SuggestedEntityID is a prefilled entity id derived from the raw
	// label, offered as a starting point for a CreateNew decision.
	SuggestedEntityID string `json:"suggested_entity_id,omitempty"`

	AffectedProjects []string  `json:"affected_projects"`
	State            State     `json:"state"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Key returns the mapping key the proposal is about.
func (p *Proposal) Key() config.Key {
	return config.NewKey(p.Tool, p.RawConceptID)
}

// Terminal reports whether the proposal can never change state again.
func (p *Proposal) Terminal() bool {
	return p.State == StateAccepted || p.State == StateIgnored
}

// Transition moves the proposal to a new state, enforcing the state
// machine.
func (p *Proposal) Transition(to State) error {
	for _, allowed := range validTransitions[p.State] {
		if allowed == to {
			p.State = to
			p.UpdatedAt = timeNow().UTC()
			return nil
		}
	}
	return fmt.Errorf("proposal %s: invalid transition %s -> %s", p.ID, p.State, to)
}

// Reopen re-surfaces a deferred proposal at the start of a run.
func (p *Proposal) Reopen() error {
	return p.Transition(StateOpen)
}

// --- Entity id suggestions ---

const maxSlugLen = 50

// Slugify converts a raw concept label into an entity-id-safe slug.
// Example: "Won't Fix" -> "won-t-fix". Empty input returns "".
func Slugify(label string) string {
	if strings.TrimSpace(label) == "" {
		return ""
	}

	s := strings.ToLower(strings.TrimSpace(label))

	var b strings.Builder
	prevHyphen := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			prevHyphen = false
		default:
			if !prevHyphen {
				b.WriteByte('-')
				prevHyphen = true
			}
		}
	}

	slug := strings.Trim(b.String(), "-")
	if len(slug) <= maxSlugLen {
		return slug
	}

	// Truncate at a word boundary if possible.
	truncated := slug[:maxSlugLen]
	if lastHyphen := strings.LastIndex(truncated, "-"); lastHyphen > maxSlugLen/2 {
		truncated = truncated[:lastHyphen]
	}
	return strings.TrimRight(truncated, "-")
}

// newID returns a fresh proposal id. Package var for test injection.
var newID = uuid.NewString
