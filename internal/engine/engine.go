// Package engine orchestrates one mediation run: discover, detect,
// propose, collect decisions, apply, and normalize. Each phase reads
// the committed output of the previous one, so a run interrupted at
// any point leaves every configuration record at its last fully
// committed version.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/utsync/taskbridge/internal/apply"
	"github.com/utsync/taskbridge/internal/cif"
	"github.com/utsync/taskbridge/internal/config"
	"github.com/utsync/taskbridge/internal/decide"
	"github.com/utsync/taskbridge/internal/detect"
	"github.com/utsync/taskbridge/internal/plugin"
	"github.com/utsync/taskbridge/internal/proposal"
	"github.com/utsync/taskbridge/internal/semantic"
	"github.com/utsync/taskbridge/internal/store"
)

// DecisionResult records the fate of one decision in a run.
type DecisionResult struct {
	ProposalID string
	Outcome    proposal.Outcome
	Err        error
}

// Report summarizes one run.
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time

	// FailedTools lists plugins whose discovery failed; their data is
	// absent from this run but everything else proceeded.
	FailedTools []string

	EntitiesObserved int
	ItemsObserved    int
	Reopened         int
	ProposalsOpened  int
	Decisions        []DecisionResult
	TasksNormalized  int
}

// Failed returns the decisions that could not be applied.
func (r *Report) Failed() []DecisionResult {
	var out []DecisionResult
	for _, d := range r.Decisions {
		if d.Err != nil {
			out = append(out, d)
		}
	}
	return out
}

// Engine wires the run pipeline together.
type Engine struct {
	plugins *plugin.Registry
	store   *store.Store
	apply   *apply.Applicator
	source  decide.Source
	timeout time.Duration
	log     *zap.Logger
}

// Options configures an Engine.
type Options struct {
	Plugins *plugin.Registry
	Store   *store.Store
	// Source answers proposals. When nil, every proposal is deferred.
	Source decide.Source
	// DecisionTimeout bounds interactive collection; zero means no bound.
	DecisionTimeout time.Duration
	Log             *zap.Logger
}

// New builds an engine.
func New(opts Options) (*Engine, error) {
	if opts.Plugins == nil || opts.Store == nil {
		return nil, fmt.Errorf("engine needs a plugin registry and a store")
	}
	src := opts.Source
	if src == nil {
		src, _ = decide.NewStatic(proposal.OutcomeDefer, "")
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		plugins: opts.Plugins,
		store:   opts.Store,
		apply:   apply.New(opts.Store),
		source:  src,
		timeout: opts.DecisionTimeout,
		log:     log,
	}, nil
}

// Run executes one full mediation pass.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	report := &Report{StartedAt: time.Now().UTC()}
	defer func() { report.FinishedAt = time.Now().UTC() }()

	snap, err := e.plugins.DiscoverAll(ctx)
	if err != nil {
		return report, err
	}
	report.EntitiesObserved = len(snap.Entities)
	report.ItemsObserved = len(snap.Items)
	for tool, derr := range snap.Failed {
		report.FailedTools = append(report.FailedTools, tool)
		e.log.Warn("discovery failed, proceeding without tool",
			zap.String("tool", tool), zap.Error(derr.Err))
	}

	gc, err := e.store.LoadGlobal()
	if err != nil {
		return report, err
	}
	projects, err := e.loadProjects(snap)
	if err != nil {
		return report, err
	}

	reopened, err := e.reopenDeferred()
	if err != nil {
		return report, err
	}
	report.Reopened = reopened

	cs, err := detect.Detect(snap, gc, projects, e.store)
	if err != nil {
		return report, err
	}

	opened, err := e.fileProposals(cs)
	if err != nil {
		return report, err
	}
	report.ProposalsOpened = opened

	pending, err := e.store.ProposalsByState(proposal.StateOpen)
	if err != nil {
		return report, err
	}

	if len(pending) > 0 {
		decisions, err := decide.Collect(ctx, e.source, e.timeout, pending)
		if err != nil {
			return report, err
		}
		var applyErr error
		gc, projects, report.Decisions, applyErr = e.applyAll(pending, decisions, gc, projects)
		if applyErr != nil {
			return report, applyErr
		}
	}

	if err := e.normalizeItems(snap, gc, projects, report); err != nil {
		return report, err
	}

	e.log.Info("run complete",
		zap.Int("entities", report.EntitiesObserved),
		zap.Int("items", report.ItemsObserved),
		zap.Int("proposals_opened", report.ProposalsOpened),
		zap.Int("decisions", len(report.Decisions)),
		zap.Int("failed_tools", len(report.FailedTools)))
	return report, nil
}

// loadProjects loads the configuration of every project with committed
// state plus every project the snapshot observed.
func (e *Engine) loadProjects(snap *plugin.Snapshot) (map[string]*config.ProjectConfig, error) {
	ids := make(map[string]bool)
	known, err := e.store.ListProjects()
	if err != nil {
		return nil, err
	}
	for _, id := range known {
		ids[id] = true
	}
	for _, ent := range snap.Entities {
		for _, p := range ent.Projects {
			ids[p] = true
		}
	}
	for _, item := range snap.Items {
		if item.Project != "" {
			ids[item.Project] = true
		}
	}

	out := make(map[string]*config.ProjectConfig, len(ids))
	for id := range ids {
		pc, err := e.store.LoadProject(id)
		if err != nil {
			return nil, err
		}
		out[id] = pc
	}
	return out, nil
}

// reopenDeferred re-surfaces proposals parked by a previous run.
func (e *Engine) reopenDeferred() (int, error) {
	deferred, err := e.store.ProposalsByState(proposal.StateDeferred)
	if err != nil {
		return 0, err
	}
	for i := range deferred {
		p := &deferred[i]
		if err := p.Reopen(); err != nil {
			return 0, err
		}
		p.UpdatedAt = time.Now().UTC()
		if err := e.store.SaveProposal(p); err != nil {
			return 0, err
		}
	}
	return len(deferred), nil
}

// fileProposals stores a proposal per finding, skipping concepts that
// already have one awaiting a decision.
func (e *Engine) fileProposals(cs *detect.ChangeSet) (int, error) {
	opened := 0
	for _, p := range proposal.Generate(cs) {
		existing, err := e.store.OpenProposal(p.Tool, p.RawConceptID)
		if err != nil {
			return opened, err
		}
		if existing != nil {
			continue
		}
		if err := e.store.SaveProposal(&p); err != nil {
			return opened, err
		}
		opened++
		e.log.Debug("proposal opened",
			zap.String("id", p.ID),
			zap.String("tool", p.Tool),
			zap.String("concept", p.RawConceptID),
			zap.String("reason", string(p.Reason)))
	}
	return opened, nil
}

// applyAll applies a decision batch. Failures are contained per
// decision: a conflicting or invalid decision is reported and the batch
// moves on with the configs of the last successful apply. The one
// exception is a storage failure while committing the shared
// vocabulary — that risks the additivity guarantee, so the batch stops
// at the last committed state and the error is returned.
func (e *Engine) applyAll(pending []proposal.Proposal, decisions []proposal.Decision,
	gc *config.GlobalConfig, projects map[string]*config.ProjectConfig) (
	*config.GlobalConfig, map[string]*config.ProjectConfig, []DecisionResult, error) {

	byID := make(map[string]*proposal.Proposal, len(pending))
	for i := range pending {
		byID[pending[i].ID] = &pending[i]
	}

	results := make([]DecisionResult, 0, len(decisions))
	for _, d := range decisions {
		res := DecisionResult{ProposalID: d.ProposalID, Outcome: d.Outcome}

		p, ok := byID[d.ProposalID]
		if !ok {
			res.Err = fmt.Errorf("no pending proposal %s", d.ProposalID)
			results = append(results, res)
			continue
		}

		var pc *config.ProjectConfig
		if d.ProjectID != "" {
			pc = projects[d.ProjectID]
			if pc == nil {
				loaded, err := e.store.LoadProject(d.ProjectID)
				if err != nil {
					res.Err = err
					results = append(results, res)
					continue
				}
				pc = loaded
			}
		}

		ngc, npc, err := e.apply.Apply(p, d, gc, pc)
		if err != nil {
			res.Err = err
			var pe *store.PersistenceError
			if d.Outcome == proposal.OutcomeCreateNew && errors.As(err, &pe) {
				results = append(results, res)
				e.log.Error("shared vocabulary commit failed, aborting batch",
					zap.String("proposal", d.ProposalID),
					zap.Error(err))
				return gc, projects, results, err
			}
			e.log.Warn("decision failed",
				zap.String("proposal", d.ProposalID),
				zap.String("outcome", string(d.Outcome)),
				zap.Error(err))
		} else {
			gc = ngc
			if npc != nil {
				projects[npc.ProjectID] = npc
			}
		}
		results = append(results, res)
	}
	return gc, projects, results, nil
}

// normalizeItems converts the snapshot's items into CIF tasks under the
// post-decision configuration and records them in the identity bridge.
func (e *Engine) normalizeItems(snap *plugin.Snapshot, gc *config.GlobalConfig,
	projects map[string]*config.ProjectConfig, report *Report) error {

	reg := semantic.NewRegistry()
	for _, ent := range gc.Entities {
		if err := reg.Register(ent); err != nil {
			return err
		}
	}

	for _, item := range snap.Items {
		task := cif.Normalize(item, gc, projects[item.Project], reg)

		internal, err := e.store.MapIdentity(item.Tool, item.ExternalID, "")
		if err != nil {
			return err
		}
		task.UUID = internal

		if err := e.store.SaveTaskState(&task); err != nil {
			return err
		}
		report.TasksNormalized++
	}
	return nil
}
