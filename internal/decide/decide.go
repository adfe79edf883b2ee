// Package decide is the boundary where proposals meet an answer. The
// engine hands a batch of proposals to a Source and gets decisions
// back; anything the source leaves unanswered resolves to a defer, so
// a silent, aborted, or slow session can never mutate configuration.
package decide

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/utsync/taskbridge/internal/proposal"
)

// ErrAborted signals that the user ended the session without finishing
// the batch. Remaining proposals are deferred, not failed.
var ErrAborted = errors.New("decision session aborted")

// Source collects decisions for a batch of proposals. It may answer a
// subset; the engine defers the rest. A source never applies anything
// itself.
type Source interface {
	Collect(ctx context.Context, proposals []proposal.Proposal) ([]proposal.Decision, error)
}

// Static answers every proposal with one fixed outcome. It is the
// non-interactive default. Mapping outcomes are refused at
// construction: an unattended run must never accept or create
// vocabulary on its own.
type Static struct {
	outcome proposal.Outcome
	project string
}

// NewStatic builds a static source. outcome must be defer or ignore;
// ignore additionally needs the project it applies to.
func NewStatic(outcome proposal.Outcome, projectID string) (*Static, error) {
	switch outcome {
	case proposal.OutcomeDefer:
	case proposal.OutcomeIgnore:
		if projectID == "" {
			return nil, fmt.Errorf("static ignore needs a project")
		}
	default:
		return nil, fmt.Errorf("static source cannot answer %q: unattended runs may only defer or ignore", outcome)
	}
	return &Static{outcome: outcome, project: projectID}, nil
}

func (s *Static) Collect(ctx context.Context, proposals []proposal.Proposal) ([]proposal.Decision, error) {
	out := make([]proposal.Decision, 0, len(proposals))
	for _, p := range proposals {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out = append(out, proposal.Decision{
			ProposalID: p.ID,
			ProjectID:  s.project,
			Outcome:    s.outcome,
		})
	}
	return out, nil
}

// Scripted replays prepared decisions keyed by proposal id. Used for
// batch files and tests; proposals without an entry stay unanswered.
type Scripted struct {
	Decisions map[string]proposal.Decision
}

func (s *Scripted) Collect(ctx context.Context, proposals []proposal.Proposal) ([]proposal.Decision, error) {
	var out []proposal.Decision
	for _, p := range proposals {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if d, ok := s.Decisions[p.ID]; ok {
			d.ProposalID = p.ID
			out = append(out, d)
		}
	}
	return out, nil
}

// FillDeferred completes a batch: every proposal without a decision
// gets a defer, and decisions that match no proposal in the batch are
// dropped. The result answers each proposal exactly once.
func FillDeferred(proposals []proposal.Proposal, decisions []proposal.Decision) []proposal.Decision {
	byID := make(map[string]proposal.Decision, len(decisions))
	for _, d := range decisions {
		byID[d.ProposalID] = d
	}

	out := make([]proposal.Decision, 0, len(proposals))
	for _, p := range proposals {
		if d, ok := byID[p.ID]; ok {
			out = append(out, d)
			continue
		}
		out = append(out, proposal.Defer(p.ID))
	}
	return out
}

// Collect runs the source under a deadline and completes the batch. A
// timeout, cancellation, or user abort resolves the unanswered
// remainder to defers rather than surfacing an error; only unexpected
// source failures propagate.
func Collect(ctx context.Context, src Source, timeout time.Duration,
	proposals []proposal.Proposal) ([]proposal.Decision, error) {

	if len(proposals) == 0 {
		return nil, nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		decisions []proposal.Decision
		err       error
	}
	ch := make(chan result, 1)
	go func() {
		ds, err := src.Collect(ctx, proposals)
		ch <- result{ds, err}
	}()

	var partial []proposal.Decision
	select {
	case r := <-ch:
		switch {
		case r.err == nil:
		case errors.Is(r.err, ErrAborted),
			errors.Is(r.err, context.DeadlineExceeded),
			errors.Is(r.err, context.Canceled):
			// Session ended early; keep what was answered.
		default:
			return nil, r.err
		}
		partial = r.decisions
	case <-ctx.Done():
		// The source is still blocked; answer nothing from it.
	}

	return FillDeferred(proposals, partial), nil
}
