package apply

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/utsync/taskbridge/internal/config"
	"github.com/utsync/taskbridge/internal/proposal"
	"github.com/utsync/taskbridge/internal/semantic"
	"github.com/utsync/taskbridge/internal/store"
)

func init() {
	// Freeze time for deterministic tests.
	timeNow = func() time.Time {
		return time.Date(2026, 4, 12, 9, 0, 0, 0, time.UTC)
	}
}

func testApplicator(t *testing.T) (*Applicator, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st), st
}

func openProposal(id, tool, concept string, role semantic.Role) *proposal.Proposal {
	now := timeNow().UTC()
	return &proposal.Proposal{
		ID: id, Tool: tool, RawConceptID: concept, RawLabel: concept,
		Reason: proposal.ReasonNew, CandidateRole: role,
		AffectedProjects: []string{"demo"},
		State:            proposal.StateOpen, CreatedAt: now, UpdatedAt: now,
	}
}

func seedEntity(t *testing.T, st *store.Store, id string, role semantic.Role) *config.GlobalConfig {
	t.Helper()
	gc, err := st.LoadGlobal()
	if err != nil {
		t.Fatalf("LoadGlobal: %v", err)
	}
	if err := gc.AddEntity(semantic.Entity{ID: id, Role: role}); err != nil {
		t.Fatalf("AddEntity: %v", err)
	}
	if err := st.SaveGlobal(gc); err != nil {
		t.Fatalf("SaveGlobal: %v", err)
	}
	return gc
}

func TestApply_AcceptMapsConceptInProject(t *testing.T) {
	a, st := testApplicator(t)
	gc := seedEntity(t, st, "bug", semantic.RoleLabel)
	pc, _ := st.LoadProject("demo")

	p := openProposal("p-1", "tw", "+bug", semantic.RoleLabel)
	st.SaveProposal(p)

	_, npc, err := a.Apply(p, proposal.Decision{
		ProposalID: "p-1", ProjectID: "demo",
		Outcome: proposal.OutcomeAccept, EntityID: "bug",
	}, gc, pc)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// The merge result must now resolve the concept to the accepted
	// entity on every subsequent lookup.
	res := config.Resolve(gc, npc, "tw", "+bug")
	if res.Kind != config.Mapped || res.EntityID != "bug" {
		t.Errorf("Resolve after accept = %+v, want mapped to bug", res)
	}

	stored, _ := st.Proposal("p-1")
	if stored.State != proposal.StateAccepted {
		t.Errorf("stored proposal state = %s, want accepted", stored.State)
	}
	if len(npc.Decisions) != 1 || npc.Decisions[0].EntityID != "bug" {
		t.Errorf("project decision trace = %+v", npc.Decisions)
	}
}

func TestApply_AcceptUnknownEntityFails(t *testing.T) {
	a, st := testApplicator(t)
	gc, _ := st.LoadGlobal()
	pc, _ := st.LoadProject("demo")

	p := openProposal("p-1", "tw", "+bug", semantic.RoleLabel)
	st.SaveProposal(p)

	_, npc, err := a.Apply(p, proposal.Decision{
		ProposalID: "p-1", ProjectID: "demo",
		Outcome: proposal.OutcomeAccept, EntityID: "ghost",
	}, gc, pc)
	if err == nil {
		t.Fatal("accept of unregistered entity succeeded")
	}
	if len(npc.Overrides) != 0 {
		t.Errorf("failed accept wrote overrides: %+v", npc.Overrides)
	}
	stored, _ := st.Proposal("p-1")
	if stored.State != proposal.StateOpen {
		t.Errorf("proposal state after failed accept = %s, want open", stored.State)
	}
}

func TestApply_AcceptRoleMismatchFails(t *testing.T) {
	a, st := testApplicator(t)
	gc := seedEntity(t, st, "urgent", semantic.RolePriority)
	pc, _ := st.LoadProject("demo")

	// The concept is observed used as a label; the target entity is a
	// priority. The decision must fail without touching configuration.
	p := openProposal("p-1", "tw", "+urgent", semantic.RoleLabel)
	st.SaveProposal(p)

	_, _, err := a.Apply(p, proposal.Decision{
		ProposalID: "p-1", ProjectID: "demo",
		Outcome: proposal.OutcomeAccept, EntityID: "urgent",
	}, gc, pc)

	var rc *semantic.RoleConflictError
	if !errors.As(err, &rc) {
		t.Fatalf("Apply = %v, want RoleConflictError", err)
	}
	loaded, _ := st.LoadProject("demo")
	if loaded.Version != 0 {
		t.Errorf("project config moved to v%d on a failed decision", loaded.Version)
	}
}

func TestApply_IgnoreWritesExplicitNone(t *testing.T) {
	a, st := testApplicator(t)
	gc, _ := st.LoadGlobal()
	pc, _ := st.LoadProject("demo")

	p := openProposal("p-1", "redmine", "internal-only", semantic.RoleUnknown)
	st.SaveProposal(p)

	_, npc, err := a.Apply(p, proposal.Decision{
		ProposalID: "p-1", ProjectID: "demo", Outcome: proposal.OutcomeIgnore,
	}, gc, pc)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	res := config.Resolve(gc, npc, "redmine", "internal-only")
	if res.Kind != config.None {
		t.Errorf("Resolve after ignore = %+v, want explicit none", res)
	}

	// The pair must stay quiet in this project from now on.
	if sup, _ := st.Suppressed("demo", "redmine", "internal-only"); !sup {
		t.Error("ignored pair is not suppressed")
	}
	if sup, _ := st.Suppressed("other", "redmine", "internal-only"); sup {
		t.Error("ignore leaked into another project")
	}
}

func TestApply_DeferRecordsNothingExecutable(t *testing.T) {
	a, st := testApplicator(t)
	gc, _ := st.LoadGlobal()

	p := openProposal("p-1", "tw", "+bug", semantic.RoleLabel)
	st.SaveProposal(p)

	_, _, err := a.Apply(p, proposal.Defer("p-1"), gc, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	stored, _ := st.Proposal("p-1")
	if stored.State != proposal.StateDeferred {
		t.Errorf("proposal state = %s, want deferred", stored.State)
	}
	if loaded, _ := st.LoadGlobal(); loaded.Version != 0 {
		t.Errorf("defer moved global config to v%d", loaded.Version)
	}
}

func TestApply_CreateNewRegistersGloballyMapsLocally(t *testing.T) {
	a, st := testApplicator(t)
	gc, _ := st.LoadGlobal()
	pc, _ := st.LoadProject("demo")

	p := openProposal("p-1", "taskwarrior", "+bug", semantic.RoleLabel)
	st.SaveProposal(p)

	ngc, npc, err := a.Apply(p, proposal.Decision{
		ProposalID: "p-1", ProjectID: "demo", Outcome: proposal.OutcomeCreateNew,
		Entity: &semantic.Entity{ID: "bug", Role: semantic.RoleLabel},
	}, gc, pc)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if !ngc.HasEntity("bug") {
		t.Error("entity bug missing from committed global config")
	}
	res := config.Resolve(ngc, npc, "taskwarrior", "+bug")
	if res.Kind != config.Mapped || res.EntityID != "bug" || res.Source != config.SourceProject {
		t.Errorf("Resolve after create-new = %+v, want project-mapped to bug", res)
	}

	// The mapping is project-local: a fresh project inherits nothing.
	other, _ := st.LoadProject("other")
	if res := config.Resolve(ngc, other, "taskwarrior", "+bug"); res.Kind != config.Unmapped {
		t.Errorf("other project resolves %+v, want unmapped", res)
	}
}

func TestApply_CreateNewTakenIDFails(t *testing.T) {
	a, st := testApplicator(t)
	gc := seedEntity(t, st, "bug", semantic.RoleLabel)
	pc, _ := st.LoadProject("demo")

	p := openProposal("p-1", "tw", "+bug", semantic.RoleLabel)
	st.SaveProposal(p)

	_, _, err := a.Apply(p, proposal.Decision{
		ProposalID: "p-1", ProjectID: "demo", Outcome: proposal.OutcomeCreateNew,
		Entity: &semantic.Entity{ID: "bug", Role: semantic.RoleLabel},
	}, gc, pc)

	var cc *ConfigConflictError
	if !errors.As(err, &cc) {
		t.Fatalf("Apply = %v, want ConfigConflictError", err)
	}
}

func TestApply_CreateNewRoleClashFails(t *testing.T) {
	a, st := testApplicator(t)
	gc := seedEntity(t, st, "urgent", semantic.RolePriority)
	pc, _ := st.LoadProject("demo")

	p := openProposal("p-1", "tw", "+urgent", semantic.RoleLabel)
	st.SaveProposal(p)

	_, _, err := a.Apply(p, proposal.Decision{
		ProposalID: "p-1", ProjectID: "demo", Outcome: proposal.OutcomeCreateNew,
		Entity: &semantic.Entity{ID: "urgent", Role: semantic.RoleLabel},
	}, gc, pc)

	var rc *semantic.RoleConflictError
	if !errors.As(err, &rc) {
		t.Fatalf("Apply = %v, want RoleConflictError", err)
	}
}

func TestApply_CreateNewConcurrentLoser(t *testing.T) {
	a, st := testApplicator(t)

	// Two batches read the same empty global configuration, then both
	// try to create the same entity for different projects.
	gc1, _ := st.LoadGlobal()
	gc2, _ := st.LoadGlobal()
	pcDemo, _ := st.LoadProject("demo")
	pcOps, _ := st.LoadProject("ops")

	p1 := openProposal("p-1", "tw", "+high", semantic.RolePriority)
	p2 := openProposal("p-2", "gh", "high", semantic.RolePriority)
	st.SaveProposal(p1)
	st.SaveProposal(p2)

	entity := &semantic.Entity{ID: "priority-high", Role: semantic.RolePriority}

	_, _, err := a.Apply(p1, proposal.Decision{
		ProposalID: "p-1", ProjectID: "demo", Outcome: proposal.OutcomeCreateNew, Entity: entity,
	}, gc1, pcDemo)
	if err != nil {
		t.Fatalf("first create-new: %v", err)
	}

	_, _, err = a.Apply(p2, proposal.Decision{
		ProposalID: "p-2", ProjectID: "ops", Outcome: proposal.OutcomeCreateNew, Entity: entity,
	}, gc2, pcOps)
	var cc *ConfigConflictError
	if !errors.As(err, &cc) {
		t.Fatalf("second create-new = %v, want ConfigConflictError", err)
	}

	// The loser's project override must not be written.
	ops, _ := st.LoadProject("ops")
	if ops.Version != 0 || len(ops.Overrides) != 0 {
		t.Errorf("losing project was written: v%d %+v", ops.Version, ops.Overrides)
	}
	stored, _ := st.Proposal("p-2")
	if stored.State != proposal.StateOpen {
		t.Errorf("losing proposal state = %s, want open", stored.State)
	}
}

func TestApply_TerminalProposalCannotBeDecidedAgain(t *testing.T) {
	a, st := testApplicator(t)
	gc := seedEntity(t, st, "bug", semantic.RoleLabel)
	pc, _ := st.LoadProject("demo")

	p := openProposal("p-1", "tw", "+bug", semantic.RoleLabel)
	st.SaveProposal(p)

	d := proposal.Decision{
		ProposalID: "p-1", ProjectID: "demo",
		Outcome: proposal.OutcomeAccept, EntityID: "bug",
	}
	_, npc, err := a.Apply(p, d, gc, pc)
	if err != nil {
		t.Fatalf("first Apply: %v", err)
	}

	p.State = proposal.StateAccepted
	if _, _, err := a.Apply(p, d, gc, npc); err == nil {
		t.Error("second decision on an accepted proposal succeeded")
	}
}
