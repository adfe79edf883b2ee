package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/utsync/taskbridge/internal/cif"
)

// newUUID is a package-level var to allow test injection.
var newUUID = uuid.NewString

// The identity bridge links one internal task to its ids in each tool,
// and remembers the last normalized snapshot so change detection on
// task content can compare hashes instead of full payloads.

// InternalID returns the internal uuid mapped to a tool's external id.
func (s *Store) InternalID(tool, externalID string) (string, bool, error) {
	row := s.db.QueryRow(
		`SELECT internal_uuid FROM id_map WHERE tool = ? AND external_id = ?`, tool, externalID)
	var id string
	switch err := row.Scan(&id); {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, &PersistenceError{Op: "lookup id mapping", Err: err}
	}
	return id, true, nil
}

// ExternalID returns the tool-side id for an internal uuid.
func (s *Store) ExternalID(tool, internalID string) (string, bool, error) {
	row := s.db.QueryRow(
		`SELECT external_id FROM id_map WHERE tool = ? AND internal_uuid = ?`, tool, internalID)
	var id string
	switch err := row.Scan(&id); {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, &PersistenceError{Op: "lookup id mapping", Err: err}
	}
	return id, true, nil
}

// MapIdentity links a tool's external id to an internal uuid, minting
// one when internalID is empty. Returns the internal uuid in effect:
// re-mapping an already linked external id returns the existing link
// unchanged.
func (s *Store) MapIdentity(tool, externalID, internalID string) (string, error) {
	if existing, ok, err := s.InternalID(tool, externalID); err != nil {
		return "", err
	} else if ok {
		return existing, nil
	}

	if internalID == "" {
		internalID = newUUID()
	}
	_, err := s.db.Exec(
		`INSERT INTO id_map (internal_uuid, tool, external_id) VALUES (?, ?, ?)`,
		internalID, tool, externalID)
	if err != nil {
		return "", &PersistenceError{Op: "save id mapping", Err: err}
	}
	return internalID, nil
}

// SaveTaskState stores the task's normalized snapshot and content hash
// under its internal uuid, replacing any previous snapshot.
func (s *Store) SaveTaskState(t *cif.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return &PersistenceError{Op: "encode task state", Err: err}
	}
	_, err = s.db.Exec(`
INSERT INTO sync_state (internal_uuid, content_hash, payload, last_modified)
VALUES (?, ?, ?, ?)
ON CONFLICT(internal_uuid) DO UPDATE SET
    content_hash = excluded.content_hash,
    payload = excluded.payload,
    last_modified = excluded.last_modified`,
		t.UUID, t.ContentHash(), string(data), t.Modified.UTC().Format(time.RFC3339))
	if err != nil {
		return &PersistenceError{Op: "save task state", Err: err}
	}
	return nil
}

// TaskState returns the stored snapshot and its content hash, if the
// task has been seen before.
func (s *Store) TaskState(internalID string) (*cif.Task, string, error) {
	row := s.db.QueryRow(
		`SELECT content_hash, payload FROM sync_state WHERE internal_uuid = ?`, internalID)

	var hash, payload string
	switch err := row.Scan(&hash, &payload); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, "", nil
	case err != nil:
		return nil, "", &PersistenceError{Op: "load task state", Err: err}
	}

	var t cif.Task
	if err := json.Unmarshal([]byte(payload), &t); err != nil {
		return nil, "", &PersistenceError{Op: "decode task state", Err: err}
	}
	return &t, hash, nil
}
