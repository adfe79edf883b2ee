package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/utsync/taskbridge/internal/config"
	"github.com/utsync/taskbridge/internal/proposal"
)

// SaveProposal inserts or replaces the proposal row keyed by id. The
// indexed columns mirror the payload for querying.
func (s *Store) SaveProposal(p *proposal.Proposal) error {
	return s.saveProposal(s.db, p)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (s *Store) saveProposal(db execer, p *proposal.Proposal) error {
	data, err := json.Marshal(p)
	if err != nil {
		return &PersistenceError{Op: "encode proposal", Err: err}
	}
	_, err = db.Exec(`
INSERT INTO proposals (id, tool, raw_concept_id, state, payload, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    state = excluded.state,
    payload = excluded.payload,
    updated_at = excluded.updated_at`,
		p.ID, p.Tool, p.RawConceptID, string(p.State), string(data),
		p.CreatedAt.UTC().Format(time.RFC3339), p.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return &PersistenceError{Op: "save proposal", Err: err}
	}
	return nil
}

// Proposal loads a single proposal by id.
func (s *Store) Proposal(id string) (*proposal.Proposal, error) {
	row := s.db.QueryRow(`SELECT payload FROM proposals WHERE id = ?`, id)

	var payload string
	switch err := row.Scan(&payload); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("proposal %s not found", id)
	case err != nil:
		return nil, &PersistenceError{Op: "load proposal", Err: err}
	}

	var p proposal.Proposal
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, &PersistenceError{Op: "decode proposal", Err: err}
	}
	return &p, nil
}

// ProposalsByState returns all proposals in the given states, oldest
// first.
func (s *Store) ProposalsByState(states ...proposal.State) ([]proposal.Proposal, error) {
	if len(states) == 0 {
		return nil, nil
	}
	query := `SELECT payload FROM proposals WHERE state IN (?` // at least one
	args := []any{string(states[0])}
	for _, st := range states[1:] {
		query += ", ?"
		args = append(args, string(st))
	}
	query += `) ORDER BY created_at, id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &PersistenceError{Op: "list proposals", Err: err}
	}
	defer rows.Close()

	var out []proposal.Proposal
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, &PersistenceError{Op: "list proposals", Err: err}
		}
		var p proposal.Proposal
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, &PersistenceError{Op: "decode proposal", Err: err}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// OpenProposal returns the open or deferred proposal for the concept,
// if one exists. Used to avoid filing a duplicate when detection keeps
// reporting a concept that already awaits a decision.
func (s *Store) OpenProposal(tool, rawConceptID string) (*proposal.Proposal, error) {
	row := s.db.QueryRow(`
SELECT payload FROM proposals
WHERE tool = ? AND raw_concept_id = ? AND state IN (?, ?)
ORDER BY created_at DESC LIMIT 1`,
		tool, rawConceptID, string(proposal.StateOpen), string(proposal.StateDeferred))

	var payload string
	switch err := row.Scan(&payload); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, &PersistenceError{Op: "load proposal", Err: err}
	}

	var p proposal.Proposal
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, &PersistenceError{Op: "decode proposal", Err: err}
	}
	return &p, nil
}

// Suppressed reports whether the concept should stay quiet for the
// project: its most recent decision there was an ignore or a defer.
// Deferred concepts are re-surfaced by reopening the stored proposal,
// not by re-detecting.
func (s *Store) Suppressed(projectID, tool, rawConceptID string) (bool, error) {
	row := s.db.QueryRow(`
SELECT outcome FROM decisions
WHERE (project_id = ? OR project_id = '') AND tool = ? AND raw_concept_id = ?
ORDER BY id DESC LIMIT 1`,
		projectID, tool, rawConceptID)

	var outcome string
	switch err := row.Scan(&outcome); {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, &PersistenceError{Op: "check decision history", Err: err}
	}
	return outcome == string(proposal.OutcomeIgnore) || outcome == string(proposal.OutcomeDefer), nil
}

// Commit is the unit of an atomic decision apply. Every non-nil field
// is written in one transaction; if any write fails, none land.
type Commit struct {
	Global   *config.GlobalConfig  // staged global, at its read version
	Project  *config.ProjectConfig // staged project, at its read version
	Proposal *proposal.Proposal    // proposal in its post-decision state
	Decision *config.DecisionRecord
}

// ApplyCommit writes the staged configuration versions, the proposal
// state, and the decision record in a single transaction. Version
// checks and the additivity check run inside the transaction, so a
// conflicting writer cannot slip in between check and write. On
// success the staged configs' Version fields are bumped.
func (s *Store) ApplyCommit(c Commit) error {
	tx, err := s.db.Begin()
	if err != nil {
		return &PersistenceError{Op: "apply decision", Err: err}
	}
	defer tx.Rollback()

	if c.Global != nil {
		if err := saveGlobalTx(tx, c.Global); err != nil {
			return err
		}
	}
	if c.Project != nil {
		if err := saveProjectTx(tx, c.Project); err != nil {
			return err
		}
	}
	if c.Proposal != nil {
		if err := s.saveProposal(tx, c.Proposal); err != nil {
			return err
		}
	}
	if c.Decision != nil {
		d := c.Decision
		_, err := tx.Exec(`
INSERT INTO decisions (proposal_id, project_id, tool, raw_concept_id, outcome, entity_id, decided_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			d.ProposalID, d.ProjectID, d.Tool, d.RawConceptID, d.Outcome, d.EntityID,
			d.DecidedAt.UTC().Format(time.RFC3339))
		if err != nil {
			return &PersistenceError{Op: "record decision", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "apply decision", Err: err}
	}

	if c.Global != nil {
		c.Global.Version++
	}
	if c.Project != nil {
		c.Project.Version++
	}
	return nil
}

// Decisions returns the decision journal for a project, oldest first.
func (s *Store) Decisions(projectID string) ([]config.DecisionRecord, error) {
	rows, err := s.db.Query(`
SELECT proposal_id, project_id, tool, raw_concept_id, outcome, entity_id, decided_at
FROM decisions WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, &PersistenceError{Op: "list decisions", Err: err}
	}
	defer rows.Close()

	var out []config.DecisionRecord
	for rows.Next() {
		var d config.DecisionRecord
		var decidedAt string
		if err := rows.Scan(&d.ProposalID, &d.ProjectID, &d.Tool, &d.RawConceptID,
			&d.Outcome, &d.EntityID, &decidedAt); err != nil {
			return nil, &PersistenceError{Op: "list decisions", Err: err}
		}
		if t, err := time.Parse(time.RFC3339, decidedAt); err == nil {
			d.DecidedAt = t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
