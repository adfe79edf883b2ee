package proposal

import (
	"testing"
	"time"

	"github.com/utsync/taskbridge/internal/semantic"
)

func init() {
	// Freeze time for deterministic tests.
	timeNow = func() time.Time {
		return time.Date(2026, 4, 12, 9, 0, 0, 0, time.UTC)
	}
}

func openProposal() *Proposal {
	return &Proposal{
		ID:           "p-1",
		Tool:         "tw",
		RawConceptID: "+bug",
		State:        StateOpen,
	}
}

// --- State machine ---

func TestTransition_OpenToTerminalStates(t *testing.T) {
	for _, to := range []State{StateAccepted, StateIgnored, StateDeferred} {
		p := openProposal()
		if err := p.Transition(to); err != nil {
			t.Errorf("Transition(open -> %s) = %v, want nil", to, err)
		}
		if p.State != to {
			t.Errorf("State = %q, want %q", p.State, to)
		}
	}
}

func TestTransition_TerminalStatesAreFinal(t *testing.T) {
	for _, from := range []State{StateAccepted, StateIgnored} {
		p := openProposal()
		p.State = from
		for _, to := range []State{StateOpen, StateAccepted, StateIgnored, StateDeferred} {
			if err := p.Transition(to); err == nil {
				t.Errorf("Transition(%s -> %s) = nil, want error", from, to)
			}
		}
	}
}

func TestReopen_DeferredOnly(t *testing.T) {
	p := openProposal()
	p.State = StateDeferred
	if err := p.Reopen(); err != nil {
		t.Fatalf("Reopen deferred = %v, want nil", err)
	}
	if p.State != StateOpen {
		t.Errorf("State = %q, want open", p.State)
	}

	p.State = StateAccepted
	if err := p.Reopen(); err == nil {
		t.Error("Reopen accepted = nil, want error")
	}
}

func TestTerminal(t *testing.T) {
	tests := []struct {
		state State
		want  bool
	}{
		{StateOpen, false},
		{StateDeferred, false},
		{StateAccepted, true},
		{StateIgnored, true},
	}
	for _, tt := range tests {
		p := openProposal()
		p.State = tt.state
		if got := p.Terminal(); got != tt.want {
			t.Errorf("Terminal() in %s = %v, want %v", tt.state, got, tt.want)
		}
	}
}

// --- Slugify ---

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Won't Fix", "won-t-fix"},
		{"bug", "bug"},
		{"High Priority!", "high-priority"},
		{"  spaced  out  ", "spaced-out"},
		{"", ""},
		{"///", ""},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// --- Decisions ---

func TestDecisionValidate(t *testing.T) {
	entity := &semantic.Entity{ID: "bug", Role: semantic.RoleLabel}
	tests := []struct {
		name    string
		d       Decision
		wantErr bool
	}{
		{"accept ok", Decision{ProposalID: "p", ProjectID: "demo", Outcome: OutcomeAccept, EntityID: "bug"}, false},
		{"accept without entity", Decision{ProposalID: "p", ProjectID: "demo", Outcome: OutcomeAccept}, true},
		{"accept without project", Decision{ProposalID: "p", Outcome: OutcomeAccept, EntityID: "bug"}, true},
		{"create ok", Decision{ProposalID: "p", ProjectID: "demo", Outcome: OutcomeCreateNew, Entity: entity}, false},
		{"create without definition", Decision{ProposalID: "p", ProjectID: "demo", Outcome: OutcomeCreateNew}, true},
		{"create with bad role", Decision{ProposalID: "p", ProjectID: "demo", Outcome: OutcomeCreateNew,
			Entity: &semantic.Entity{ID: "x", Role: "milestone"}}, true},
		{"ignore ok", Decision{ProposalID: "p", ProjectID: "demo", Outcome: OutcomeIgnore}, false},
		{"defer needs no project", Decision{ProposalID: "p", Outcome: OutcomeDefer}, false},
		{"missing proposal id", Decision{Outcome: OutcomeDefer}, true},
		{"bad outcome", Decision{ProposalID: "p", Outcome: "shrug"}, true},
	}
	for _, tt := range tests {
		err := tt.d.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() = %v, wantErr=%v", tt.name, err, tt.wantErr)
		}
	}
}

func TestStateFor(t *testing.T) {
	tests := []struct {
		o    Outcome
		want State
	}{
		{OutcomeAccept, StateAccepted},
		{OutcomeCreateNew, StateAccepted},
		{OutcomeIgnore, StateIgnored},
		{OutcomeDefer, StateDeferred},
	}
	for _, tt := range tests {
		if got := StateFor(tt.o); got != tt.want {
			t.Errorf("StateFor(%s) = %s, want %s", tt.o, got, tt.want)
		}
	}
}
