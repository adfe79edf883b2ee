package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/utsync/taskbridge/internal/cif"
	"github.com/utsync/taskbridge/internal/config"
	"github.com/utsync/taskbridge/internal/proposal"
	"github.com/utsync/taskbridge/internal/semantic"
)

func init() {
	// Freeze time for deterministic tests.
	timeNow = func() time.Time {
		return time.Date(2026, 4, 12, 9, 0, 0, 0, time.UTC)
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// --- Global configuration ---

func TestGlobalConfig_EmptyStoreIsVersionZero(t *testing.T) {
	s := openTestStore(t)
	gc, err := s.LoadGlobal()
	if err != nil {
		t.Fatalf("LoadGlobal: %v", err)
	}
	if gc.Version != 0 || len(gc.Entities) != 0 {
		t.Errorf("fresh store returned version %d with %d entities, want empty v0",
			gc.Version, len(gc.Entities))
	}
}

func TestGlobalConfig_SaveBumpsVersionAndRoundTrips(t *testing.T) {
	s := openTestStore(t)

	gc, _ := s.LoadGlobal()
	gc.AddEntity(semantic.Entity{ID: "bug", Role: semantic.RoleLabel})
	gc.DefaultMappings[config.NewKey("tw", "+bug")] = "bug"

	if err := s.SaveGlobal(gc); err != nil {
		t.Fatalf("SaveGlobal: %v", err)
	}
	if gc.Version != 1 {
		t.Errorf("Version after first save = %d, want 1", gc.Version)
	}

	loaded, err := s.LoadGlobal()
	if err != nil {
		t.Fatalf("LoadGlobal: %v", err)
	}
	if loaded.Version != 1 {
		t.Errorf("loaded Version = %d, want 1", loaded.Version)
	}
	if !loaded.HasEntity("bug") {
		t.Error("loaded config lost the bug entity")
	}
	if got := loaded.DefaultMappings[config.NewKey("tw", "+bug")]; got != "bug" {
		t.Errorf("default mapping = %q, want bug", got)
	}
}

func TestGlobalConfig_StaleVersionIsRejected(t *testing.T) {
	s := openTestStore(t)

	first, _ := s.LoadGlobal()
	second, _ := s.LoadGlobal()

	first.AddEntity(semantic.Entity{ID: "bug", Role: semantic.RoleLabel})
	if err := s.SaveGlobal(first); err != nil {
		t.Fatalf("first SaveGlobal: %v", err)
	}

	second.AddEntity(semantic.Entity{ID: "feature", Role: semantic.RoleLabel})
	err := s.SaveGlobal(second)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale SaveGlobal = %v, want ErrVersionConflict", err)
	}

	// The losing writer must not have changed the committed chain.
	loaded, _ := s.LoadGlobal()
	if loaded.Version != 1 || loaded.HasEntity("feature") {
		t.Errorf("losing writer leaked into store: v%d HasEntity(feature)=%v",
			loaded.Version, loaded.HasEntity("feature"))
	}
}

func TestGlobalConfig_DroppingEntitiesIsRejected(t *testing.T) {
	s := openTestStore(t)

	gc, _ := s.LoadGlobal()
	gc.AddEntity(semantic.Entity{ID: "bug", Role: semantic.RoleLabel})
	gc.AddEntity(semantic.Entity{ID: "urgent", Role: semantic.RolePriority})
	if err := s.SaveGlobal(gc); err != nil {
		t.Fatalf("SaveGlobal: %v", err)
	}

	shrunk := config.NewGlobalConfig()
	shrunk.Version = gc.Version
	shrunk.AddEntity(semantic.Entity{ID: "bug", Role: semantic.RoleLabel})

	err := s.SaveGlobal(shrunk)
	var addErr *AdditivityError
	if !errors.As(err, &addErr) {
		t.Fatalf("shrinking SaveGlobal = %v, want AdditivityError", err)
	}
	if len(addErr.Missing) != 1 || addErr.Missing[0] != "urgent" {
		t.Errorf("Missing = %v, want [urgent]", addErr.Missing)
	}
}

// --- Project configuration ---

func TestProjectConfig_RoundTripAndVersioning(t *testing.T) {
	s := openTestStore(t)

	pc, err := s.LoadProject("demo")
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	if pc.Version != 0 {
		t.Fatalf("fresh project version = %d, want 0", pc.Version)
	}

	pc.Overrides[config.NewKey("tw", "+bug")] = config.ExplicitNone()
	if err := s.SaveProject(pc); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}

	loaded, _ := s.LoadProject("demo")
	if loaded.Version != 1 {
		t.Errorf("loaded version = %d, want 1", loaded.Version)
	}
	if ov, ok := loaded.Overrides[config.NewKey("tw", "+bug")]; !ok || !ov.None {
		t.Errorf("explicit-none override did not survive the round trip: %+v ok=%v", ov, ok)
	}

	stale := config.NewProjectConfig("demo")
	if err := s.SaveProject(stale); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("stale SaveProject = %v, want ErrVersionConflict", err)
	}
}

func TestListProjects(t *testing.T) {
	s := openTestStore(t)
	for _, id := range []string{"ops", "demo"} {
		pc := config.NewProjectConfig(id)
		if err := s.SaveProject(pc); err != nil {
			t.Fatalf("SaveProject(%s): %v", id, err)
		}
	}
	got, err := s.ListProjects()
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(got) != 2 || got[0] != "demo" || got[1] != "ops" {
		t.Errorf("ListProjects = %v, want [demo ops]", got)
	}
}

// --- Proposals ---

func storedProposal(id, tool, concept string) *proposal.Proposal {
	now := timeNow().UTC()
	return &proposal.Proposal{
		ID: id, Tool: tool, RawConceptID: concept,
		RawLabel: concept, Reason: proposal.ReasonNew,
		State: proposal.StateOpen, CreatedAt: now, UpdatedAt: now,
	}
}

func TestProposal_SaveLoadAndStateFilter(t *testing.T) {
	s := openTestStore(t)

	p := storedProposal("p-1", "tw", "+bug")
	if err := s.SaveProposal(p); err != nil {
		t.Fatalf("SaveProposal: %v", err)
	}

	loaded, err := s.Proposal("p-1")
	if err != nil {
		t.Fatalf("Proposal: %v", err)
	}
	if loaded.Tool != "tw" || loaded.State != proposal.StateOpen {
		t.Errorf("loaded proposal = %+v", loaded)
	}

	p.State = proposal.StateDeferred
	if err := s.SaveProposal(p); err != nil {
		t.Fatalf("SaveProposal update: %v", err)
	}

	open, err := s.ProposalsByState(proposal.StateOpen)
	if err != nil {
		t.Fatalf("ProposalsByState: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("open proposals after defer = %d, want 0", len(open))
	}

	deferred, _ := s.ProposalsByState(proposal.StateDeferred)
	if len(deferred) != 1 || deferred[0].ID != "p-1" {
		t.Errorf("deferred proposals = %+v, want p-1", deferred)
	}
}

func TestOpenProposal_FindsAwaitingDecision(t *testing.T) {
	s := openTestStore(t)

	if p, err := s.OpenProposal("tw", "+bug"); err != nil || p != nil {
		t.Fatalf("OpenProposal on empty store = %+v, %v", p, err)
	}

	stored := storedProposal("p-1", "tw", "+bug")
	s.SaveProposal(stored)

	p, err := s.OpenProposal("tw", "+bug")
	if err != nil || p == nil || p.ID != "p-1" {
		t.Fatalf("OpenProposal = %+v, %v, want p-1", p, err)
	}

	stored.State = proposal.StateAccepted
	s.SaveProposal(stored)
	if p, _ := s.OpenProposal("tw", "+bug"); p != nil {
		t.Errorf("OpenProposal after accept = %+v, want nil", p)
	}
}

// --- Atomic commit ---

func TestApplyCommit_AllOrNothing(t *testing.T) {
	s := openTestStore(t)

	gc, _ := s.LoadGlobal()
	gc.AddEntity(semantic.Entity{ID: "bug", Role: semantic.RoleLabel})
	if err := s.SaveGlobal(gc); err != nil {
		t.Fatalf("seed SaveGlobal: %v", err)
	}

	p := storedProposal("p-1", "tw", "+bug")
	s.SaveProposal(p)

	// Stage a commit against a stale global version. Every part of the
	// commit must be rolled back, including the proposal transition.
	stale := config.NewGlobalConfig()
	stale.AddEntity(semantic.Entity{ID: "bug", Role: semantic.RoleLabel})
	stale.AddEntity(semantic.Entity{ID: "feature", Role: semantic.RoleLabel})

	p.State = proposal.StateAccepted
	err := s.ApplyCommit(Commit{
		Global:   stale,
		Proposal: p,
		Decision: &config.DecisionRecord{
			ProposalID: "p-1", ProjectID: "demo", Tool: "tw", RawConceptID: "+bug",
			Outcome: string(proposal.OutcomeAccept), EntityID: "bug", DecidedAt: timeNow(),
		},
	})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("ApplyCommit = %v, want ErrVersionConflict", err)
	}

	loaded, _ := s.Proposal("p-1")
	if loaded.State != proposal.StateOpen {
		t.Errorf("proposal state after failed commit = %s, want open", loaded.State)
	}
	if recs, _ := s.Decisions("demo"); len(recs) != 0 {
		t.Errorf("decision journal after failed commit = %d records, want 0", len(recs))
	}
}

func TestApplyCommit_WritesEverything(t *testing.T) {
	s := openTestStore(t)

	p := storedProposal("p-1", "tw", "+bug")
	s.SaveProposal(p)

	gc, _ := s.LoadGlobal()
	gc.AddEntity(semantic.Entity{ID: "bug", Role: semantic.RoleLabel})

	pc, _ := s.LoadProject("demo")
	pc.Overrides[config.NewKey("tw", "+bug")] = config.MapTo("bug")

	p.State = proposal.StateAccepted
	err := s.ApplyCommit(Commit{
		Global:   gc,
		Project:  pc,
		Proposal: p,
		Decision: &config.DecisionRecord{
			ProposalID: "p-1", ProjectID: "demo", Tool: "tw", RawConceptID: "+bug",
			Outcome: string(proposal.OutcomeAccept), EntityID: "bug", DecidedAt: timeNow(),
		},
	})
	if err != nil {
		t.Fatalf("ApplyCommit: %v", err)
	}
	if gc.Version != 1 || pc.Version != 1 {
		t.Errorf("versions after commit = global %d project %d, want 1 and 1", gc.Version, pc.Version)
	}

	loadedP, _ := s.Proposal("p-1")
	if loadedP.State != proposal.StateAccepted {
		t.Errorf("proposal state = %s, want accepted", loadedP.State)
	}
	recs, _ := s.Decisions("demo")
	if len(recs) != 1 || recs[0].Outcome != string(proposal.OutcomeAccept) {
		t.Errorf("decision journal = %+v, want one accept", recs)
	}
}

// --- Decision history suppression ---

func TestSuppressed(t *testing.T) {
	s := openTestStore(t)

	record := func(outcome proposal.Outcome) {
		err := s.ApplyCommit(Commit{Decision: &config.DecisionRecord{
			ProposalID: "p-1", ProjectID: "demo", Tool: "tw", RawConceptID: "+bug",
			Outcome: string(outcome), DecidedAt: timeNow(),
		}})
		if err != nil {
			t.Fatalf("record %s: %v", outcome, err)
		}
	}

	if got, _ := s.Suppressed("demo", "tw", "+bug"); got {
		t.Error("undecided concept reported as suppressed")
	}

	record(proposal.OutcomeIgnore)
	if got, _ := s.Suppressed("demo", "tw", "+bug"); !got {
		t.Error("ignored concept not suppressed")
	}
	if got, _ := s.Suppressed("other", "tw", "+bug"); got {
		t.Error("suppression leaked across projects")
	}

	record(proposal.OutcomeAccept)
	if got, _ := s.Suppressed("demo", "tw", "+bug"); got {
		t.Error("later accept did not lift suppression")
	}

	record(proposal.OutcomeDefer)
	if got, _ := s.Suppressed("demo", "tw", "+bug"); !got {
		t.Error("deferred concept not suppressed")
	}
}

// --- Identity bridge ---

func TestMapIdentity(t *testing.T) {
	s := openTestStore(t)

	id, err := s.MapIdentity("tw", "ext-1", "")
	if err != nil {
		t.Fatalf("MapIdentity: %v", err)
	}
	if id == "" {
		t.Fatal("MapIdentity minted empty uuid")
	}

	// Re-mapping keeps the existing link.
	again, err := s.MapIdentity("tw", "ext-1", "other")
	if err != nil || again != id {
		t.Errorf("re-map = %q, %v, want existing %q", again, err, id)
	}

	ext, ok, err := s.ExternalID("tw", id)
	if err != nil || !ok || ext != "ext-1" {
		t.Errorf("ExternalID = %q, %v, %v, want ext-1", ext, ok, err)
	}

	if _, ok, _ := s.InternalID("gh", "ext-1"); ok {
		t.Error("mapping leaked across tools")
	}
}

func TestTaskState_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	task := &cif.Task{
		UUID:        "u-1",
		SourceTool:  "tw",
		Description: "fix the importer",
		Status:      cif.StatusPending,
		Modified:    timeNow(),
	}
	if err := s.SaveTaskState(task); err != nil {
		t.Fatalf("SaveTaskState: %v", err)
	}

	loaded, hash, err := s.TaskState("u-1")
	if err != nil {
		t.Fatalf("TaskState: %v", err)
	}
	if loaded == nil || loaded.Description != "fix the importer" {
		t.Fatalf("loaded task = %+v", loaded)
	}
	if hash != task.ContentHash() {
		t.Errorf("stored hash %q != recomputed %q", hash, task.ContentHash())
	}

	if got, _, _ := s.TaskState("missing"); got != nil {
		t.Errorf("TaskState(missing) = %+v, want nil", got)
	}
}
