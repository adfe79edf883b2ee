// Package store persists the engine's semantic state in SQLite: the
// versioned global and project configuration records, the proposal and
// decision journal, and the task identity bridge used by downstream
// sync.
//
// Configuration records are append-only version chains. A write never
// updates a row in place: it appends the next version, and only if the
// caller's base version is still the newest — a compare-and-append.
// Global commits additionally verify additivity: the new entity set
// must contain every entity of the previous version. Together these two
// checks make lost updates and silent vocabulary shrinkage impossible
// at the persistence layer, whatever the callers do.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/utsync/taskbridge/internal/config"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// ErrVersionConflict is returned when a compare-and-append loses the
// race: the record gained a version since the caller last read it.
var ErrVersionConflict = errors.New("configuration version conflict")

// AdditivityError reports a global commit that would drop entities.
type AdditivityError struct {
	Missing []string
}

func (e *AdditivityError) Error() string {
	return fmt.Sprintf("global configuration commit would drop entities %v", e.Missing)
}

// PersistenceError wraps a storage-layer failure. The attempted write
// is rolled back; the record stays at its last committed version.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store is a SQLite-backed persistence manager.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS global_config (
    version    INTEGER PRIMARY KEY,
    payload    TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS project_config (
    project_id TEXT NOT NULL,
    version    INTEGER NOT NULL,
    payload    TEXT NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (project_id, version)
);

CREATE TABLE IF NOT EXISTS proposals (
    id             TEXT PRIMARY KEY,
    tool           TEXT NOT NULL,
    raw_concept_id TEXT NOT NULL,
    state          TEXT NOT NULL,
    payload        TEXT NOT NULL,
    created_at     TEXT NOT NULL,
    updated_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_proposals_key ON proposals (tool, raw_concept_id, state);

CREATE TABLE IF NOT EXISTS decisions (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    proposal_id    TEXT NOT NULL,
    project_id     TEXT NOT NULL,
    tool           TEXT NOT NULL,
    raw_concept_id TEXT NOT NULL,
    outcome        TEXT NOT NULL,
    entity_id      TEXT,
    decided_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_scope ON decisions (project_id, tool, raw_concept_id, id);

CREATE TABLE IF NOT EXISTS id_map (
    internal_uuid TEXT NOT NULL,
    tool          TEXT NOT NULL,
    external_id   TEXT NOT NULL,
    PRIMARY KEY (internal_uuid, tool)
);
CREATE INDEX IF NOT EXISTS idx_id_map_ext ON id_map (external_id, tool);

CREATE TABLE IF NOT EXISTS sync_state (
    internal_uuid TEXT PRIMARY KEY,
    content_hash  TEXT NOT NULL,
    payload       TEXT NOT NULL,
    last_modified TEXT
);
`

// Open opens (creating if needed) the state database at path. Use
// ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, &PersistenceError{Op: "open", Err: err}
	}

	// SQLite handles one writer at a time; serialize access through a
	// single connection so concurrent applies queue instead of failing
	// with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &PersistenceError{Op: "init schema", Err: err}
	}
	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Global configuration ---

// LoadGlobal returns the newest committed global configuration, or an
// empty version-0 record if none has been committed yet.
func (s *Store) LoadGlobal() (*config.GlobalConfig, error) {
	row := s.db.QueryRow(`SELECT version, payload FROM global_config ORDER BY version DESC LIMIT 1`)

	var version int64
	var payload string
	switch err := row.Scan(&version, &payload); {
	case errors.Is(err, sql.ErrNoRows):
		return config.NewGlobalConfig(), nil
	case err != nil:
		return nil, &PersistenceError{Op: "load global config", Err: err}
	}

	gc := config.NewGlobalConfig()
	if err := json.Unmarshal([]byte(payload), gc); err != nil {
		return nil, &PersistenceError{Op: "decode global config", Err: err}
	}
	gc.Version = version
	return gc, nil
}

// SaveGlobal commits gc as the next version. gc.Version must be the
// version the caller read; if the chain has moved on, the commit fails
// with ErrVersionConflict and nothing is written. Commits that would
// drop entities fail with AdditivityError. On success gc.Version is
// bumped to the committed version.
func (s *Store) SaveGlobal(gc *config.GlobalConfig) error {
	tx, err := s.db.Begin()
	if err != nil {
		return &PersistenceError{Op: "save global config", Err: err}
	}
	defer tx.Rollback()

	if err := saveGlobalTx(tx, gc); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "save global config", Err: err}
	}
	gc.Version++
	return nil
}

func saveGlobalTx(tx *sql.Tx, gc *config.GlobalConfig) error {
	prev := config.NewGlobalConfig()
	row := tx.QueryRow(`SELECT version, payload FROM global_config ORDER BY version DESC LIMIT 1`)

	var latest int64
	var payload string
	switch err := row.Scan(&latest, &payload); {
	case errors.Is(err, sql.ErrNoRows):
		latest = 0
	case err != nil:
		return &PersistenceError{Op: "save global config", Err: err}
	default:
		if err := json.Unmarshal([]byte(payload), prev); err != nil {
			return &PersistenceError{Op: "decode global config", Err: err}
		}
	}

	if latest != gc.Version {
		return fmt.Errorf("global config moved from v%d to v%d: %w", gc.Version, latest, ErrVersionConflict)
	}

	if !gc.IsSupersetOf(prev) {
		var missing []string
		ids := gc.EntityIDs()
		for _, e := range prev.Entities {
			if !ids[e.ID] {
				missing = append(missing, e.ID)
			}
		}
		return &AdditivityError{Missing: missing}
	}

	staged := gc.Clone()
	staged.Version = latest + 1
	data, err := json.Marshal(staged)
	if err != nil {
		return &PersistenceError{Op: "encode global config", Err: err}
	}

	_, err = tx.Exec(`INSERT INTO global_config (version, payload, created_at) VALUES (?, ?, ?)`,
		staged.Version, string(data), timeNow().UTC().Format(time.RFC3339))
	if err != nil {
		return &PersistenceError{Op: "save global config", Err: err}
	}
	return nil
}

// --- Project configuration ---

// LoadProject returns the newest committed configuration for the
// project, or an empty version-0 record if it has none yet.
func (s *Store) LoadProject(projectID string) (*config.ProjectConfig, error) {
	row := s.db.QueryRow(
		`SELECT version, payload FROM project_config WHERE project_id = ? ORDER BY version DESC LIMIT 1`,
		projectID)

	var version int64
	var payload string
	switch err := row.Scan(&version, &payload); {
	case errors.Is(err, sql.ErrNoRows):
		return config.NewProjectConfig(projectID), nil
	case err != nil:
		return nil, &PersistenceError{Op: "load project config", Err: err}
	}

	pc := config.NewProjectConfig(projectID)
	if err := json.Unmarshal([]byte(payload), pc); err != nil {
		return nil, &PersistenceError{Op: "decode project config", Err: err}
	}
	pc.Version = version
	return pc, nil
}

// ListProjects returns the ids of all projects with committed
// configuration, sorted.
func (s *Store) ListProjects() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT project_id FROM project_config ORDER BY project_id`)
	if err != nil {
		return nil, &PersistenceError{Op: "list projects", Err: err}
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &PersistenceError{Op: "list projects", Err: err}
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func saveProjectTx(tx *sql.Tx, pc *config.ProjectConfig) error {
	row := tx.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM project_config WHERE project_id = ?`, pc.ProjectID)
	var latest int64
	if err := row.Scan(&latest); err != nil {
		return &PersistenceError{Op: "save project config", Err: err}
	}

	if latest != pc.Version {
		return fmt.Errorf("project %s config moved from v%d to v%d: %w",
			pc.ProjectID, pc.Version, latest, ErrVersionConflict)
	}

	staged := pc.Clone()
	staged.Version = latest + 1
	data, err := json.Marshal(staged)
	if err != nil {
		return &PersistenceError{Op: "encode project config", Err: err}
	}

	_, err = tx.Exec(
		`INSERT INTO project_config (project_id, version, payload, created_at) VALUES (?, ?, ?, ?)`,
		pc.ProjectID, staged.Version, string(data), timeNow().UTC().Format(time.RFC3339))
	if err != nil {
		return &PersistenceError{Op: "save project config", Err: err}
	}
	return nil
}

// SaveProject commits pc as the project's next version, with the same
// compare-and-append semantics as SaveGlobal.
func (s *Store) SaveProject(pc *config.ProjectConfig) error {
	tx, err := s.db.Begin()
	if err != nil {
		return &PersistenceError{Op: "save project config", Err: err}
	}
	defer tx.Rollback()

	if err := saveProjectTx(tx, pc); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "save project config", Err: err}
	}
	pc.Version++
	return nil
}
