// Package apply executes decisions against the configuration layers.
//
// An apply is all-or-nothing: the proposal transition, the decision
// record, and every configuration consequence land in one store commit
// or not at all. Apply works on the configuration snapshot the caller
// read when the decision batch was collected; a snapshot that has gone
// stale loses the compare-and-append in the store and the decision
// fails without side effects.
package apply

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/utsync/taskbridge/internal/config"
	"github.com/utsync/taskbridge/internal/proposal"
	"github.com/utsync/taskbridge/internal/semantic"
	"github.com/utsync/taskbridge/internal/store"
)

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// ConfigConflictError reports a create-new decision that lost a race
// for the entity id: by commit time another writer had taken it. The
// decision is failed; the project's override is not written.
type ConfigConflictError struct {
	ProposalID string
	EntityID   string
	Err        error
}

func (e *ConfigConflictError) Error() string {
	return fmt.Sprintf("proposal %s: entity %q was created concurrently: %v", e.ProposalID, e.EntityID, e.Err)
}

func (e *ConfigConflictError) Unwrap() error { return e.Err }

// Applicator applies decisions. Mutations of the global vocabulary are
// serialized through a process-wide lock; cross-process writers are
// fenced by the store's version checks.
type Applicator struct {
	store *store.Store

	globalMu sync.Mutex

	mu       sync.Mutex
	projects map[string]*sync.Mutex
}

// New returns an applicator backed by st.
func New(st *store.Store) *Applicator {
	return &Applicator{store: st, projects: make(map[string]*sync.Mutex)}
}

func (a *Applicator) projectLock(projectID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.projects[projectID]
	if !ok {
		l = &sync.Mutex{}
		a.projects[projectID] = l
	}
	return l
}

// Apply executes one decision. p is the proposal being resolved; gc and
// pc are the configuration versions the caller read when collecting the
// batch (pc may be nil for a defer). On success Apply returns the
// committed configuration states, which the caller should adopt as its
// new snapshot. On failure the returned configs are the inputs,
// untouched.
func (a *Applicator) Apply(p *proposal.Proposal, d proposal.Decision,
	gc *config.GlobalConfig, pc *config.ProjectConfig) (*config.GlobalConfig, *config.ProjectConfig, error) {

	if err := d.Validate(); err != nil {
		return gc, pc, err
	}
	if p.ID != d.ProposalID {
		return gc, pc, fmt.Errorf("decision targets proposal %s but %s was supplied", d.ProposalID, p.ID)
	}
	if d.ProjectID != "" {
		if pc == nil || pc.ProjectID != d.ProjectID {
			return gc, pc, fmt.Errorf("decision for project %s applied without its configuration", d.ProjectID)
		}
		l := a.projectLock(d.ProjectID)
		l.Lock()
		defer l.Unlock()
	}

	staged := *p
	if err := staged.Transition(proposal.StateFor(d.Outcome)); err != nil {
		return gc, pc, err
	}
	staged.UpdatedAt = timeNow().UTC()

	decidedAt := d.DecidedAt
	if decidedAt.IsZero() {
		decidedAt = timeNow().UTC()
	}
	rec := config.DecisionRecord{
		ProposalID:   d.ProposalID,
		ProjectID:    d.ProjectID,
		Tool:         p.Tool,
		RawConceptID: p.RawConceptID,
		Outcome:      string(d.Outcome),
		DecidedAt:    decidedAt,
	}

	key := config.NewKey(p.Tool, p.RawConceptID)
	commit := store.Commit{Proposal: &staged}

	switch d.Outcome {
	case proposal.OutcomeDefer:
		// Nothing executable; the proposal simply waits for a future run.

	case proposal.OutcomeIgnore:
		npc := pc.Clone()
		npc.Overrides[key] = config.ExplicitNone()
		npc.Decisions = append(npc.Decisions, rec)
		commit.Project = npc

	case proposal.OutcomeAccept:
		entity, ok := findEntity(gc, d.EntityID)
		if !ok {
			return gc, pc, fmt.Errorf("proposal %s: accept names unknown entity %q", p.ID, d.EntityID)
		}
		if p.CandidateRole != semantic.RoleUnknown && p.CandidateRole != entity.Role {
			return gc, pc, &semantic.RoleConflictError{
				EntityID: entity.ID, Registered: entity.Role, Attempted: p.CandidateRole,
			}
		}
		rec.EntityID = d.EntityID
		npc := pc.Clone()
		npc.Overrides[key] = config.MapTo(d.EntityID)
		npc.Decisions = append(npc.Decisions, rec)
		commit.Project = npc

	case proposal.OutcomeCreateNew:
		return a.applyCreateNew(p, d, &staged, rec, key, gc, pc)
	}

	commit.Decision = &rec
	if err := a.store.ApplyCommit(commit); err != nil {
		return gc, pc, err
	}
	npc := pc
	if commit.Project != nil {
		npc = commit.Project
	}
	return gc, npc, nil
}

// applyCreateNew registers the entity globally and writes the mapping
// into the project's overrides. The entity id must be unclaimed; a
// commit that loses the version race is retried once against a fresh
// read of the global configuration, then surfaced as a conflict.
func (a *Applicator) applyCreateNew(p *proposal.Proposal, d proposal.Decision, staged *proposal.Proposal,
	rec config.DecisionRecord, key config.Key,
	gc *config.GlobalConfig, pc *config.ProjectConfig) (*config.GlobalConfig, *config.ProjectConfig, error) {

	a.globalMu.Lock()
	defer a.globalMu.Unlock()

	rec.EntityID = d.Entity.ID

	base := gc
	for attempt := 0; ; attempt++ {
		if existing, ok := findEntity(base, d.Entity.ID); ok {
			if existing.Role != d.Entity.Role {
				return gc, pc, &semantic.RoleConflictError{
					EntityID: existing.ID, Registered: existing.Role, Attempted: d.Entity.Role,
				}
			}
			return gc, pc, &ConfigConflictError{
				ProposalID: p.ID, EntityID: d.Entity.ID,
				Err: errors.New("entity id already registered"),
			}
		}

		ngc := base.Clone()
		if err := ngc.AddEntity(*d.Entity); err != nil {
			return gc, pc, err
		}

		npc := pc.Clone()
		npc.Overrides[key] = config.MapTo(d.Entity.ID)
		npc.Decisions = append(npc.Decisions, rec)

		err := a.store.ApplyCommit(store.Commit{
			Global:   ngc,
			Project:  npc,
			Proposal: staged,
			Decision: &rec,
		})
		if err == nil {
			return ngc, npc, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return gc, pc, err
		}
		if attempt > 0 {
			return gc, pc, &ConfigConflictError{ProposalID: p.ID, EntityID: d.Entity.ID, Err: err}
		}

		fresh, loadErr := a.store.LoadGlobal()
		if loadErr != nil {
			return gc, pc, loadErr
		}
		base = fresh
	}
}

func findEntity(gc *config.GlobalConfig, id string) (semantic.Entity, bool) {
	for _, e := range gc.Entities {
		if e.ID == id {
			return e, true
		}
	}
	return semantic.Entity{}, false
}
