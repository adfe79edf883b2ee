// Package config holds the two configuration layers the mediation engine
// merges for every lookup: the shared global vocabulary with its default
// mappings, and per-project overrides with their recorded decisions.
//
// Both layers are versioned records. The global layer only ever grows —
// entities may be appended, never edited or removed — and every write is
// a compare-and-append against the last-read version (see the store
// package). Project overrides are authoritative: an entry there always
// wins over a global default, including the explicit "do not map" marker,
// which is distinct from having no entry at all.
package config

import (
	"bytes"
	"fmt"
	"time"

	"github.com/utsync/taskbridge/internal/semantic"
)

// keySep separates tool and concept inside a serialized Key. The unit
// separator cannot appear in tool names or raw concept ids.
const keySep = "\x1f"

// Key identifies one tool-specific concept: a (tool, raw concept id) pair.
type Key struct {
	Tool         string
	RawConceptID string
}

// NewKey builds a mapping key.
func NewKey(tool, rawConceptID string) Key {
	return Key{Tool: tool, RawConceptID: rawConceptID}
}

func (k Key) String() string {
	return k.Tool + ":" + k.RawConceptID
}

// MarshalText lets Key serve as a JSON map key.
func (k Key) MarshalText() ([]byte, error) {
	if k.Tool == "" || k.RawConceptID == "" {
		return nil, fmt.Errorf("mapping key needs both tool and concept: %q/%q", k.Tool, k.RawConceptID)
	}
	return []byte(k.Tool + keySep + k.RawConceptID), nil
}

// UnmarshalText is the inverse of MarshalText.
func (k *Key) UnmarshalText(text []byte) error {
	tool, concept, ok := bytes.Cut(text, []byte(keySep))
	if !ok {
		return fmt.Errorf("malformed mapping key %q", text)
	}
	k.Tool = string(tool)
	k.RawConceptID = string(concept)
	return nil
}

// Override is one project-level mapping entry. None marks the concept as
// intentionally unmapped; that is a recorded statement, not an absence,
// and it permanently suppresses proposals for the pair until cleared.
type Override struct {
	EntityID string `json:"entity_id,omitempty"`
	None     bool   `json:"none,omitempty"`
}

// ExplicitNone is the recorded "do not map" override.
func ExplicitNone() Override {
	return Override{None: true}
}

// MapTo is an override mapping the concept to a registered entity.
func MapTo(entityID string) Override {
	return Override{EntityID: entityID}
}

// DecisionRecord is the persisted trace of one applied decision, kept in
// the project configuration in application order.
type DecisionRecord struct {
	ProposalID   string    `json:"proposal_id"`
	ProjectID    string    `json:"project_id,omitempty"`
	Tool         string    `json:"tool"`
	RawConceptID string    `json:"raw_concept_id"`
	Outcome      string    `json:"outcome"`
	EntityID     string    `json:"entity_id,omitempty"`
	DecidedAt    time.Time `json:"decided_at"`
}

// GlobalConfig is the shared, additive vocabulary layer.
type GlobalConfig struct {
	Version         int64             `json:"version"`
	Entities        []semantic.Entity `json:"entities"`
	DefaultMappings map[Key]string    `json:"default_mappings"`
}

// NewGlobalConfig returns an empty version-0 global configuration.
func NewGlobalConfig() *GlobalConfig {
	return &GlobalConfig{DefaultMappings: make(map[Key]string)}
}

// HasEntity reports whether the vocabulary contains the entity id.
func (gc *GlobalConfig) HasEntity(id string) bool {
	for _, e := range gc.Entities {
		if e.ID == id {
			return true
		}
	}
	return false
}

// AddEntity appends a new entity to the vocabulary. Adding an id that is
// already present with the same role is a no-op; a different role fails
// with semantic.RoleConflictError.
func (gc *GlobalConfig) AddEntity(e semantic.Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}
	for _, existing := range gc.Entities {
		if existing.ID == e.ID {
			if existing.Role != e.Role {
				return &semantic.RoleConflictError{EntityID: e.ID, Registered: existing.Role, Attempted: e.Role}
			}
			return nil
		}
	}
	gc.Entities = append(gc.Entities, e)
	return nil
}

// EntityIDs returns the set of entity ids, used for additivity checks.
func (gc *GlobalConfig) EntityIDs() map[string]bool {
	ids := make(map[string]bool, len(gc.Entities))
	for _, e := range gc.Entities {
		ids[e.ID] = true
	}
	return ids
}

// IsSupersetOf reports whether this configuration's entity set contains
// every entity of prev. Persistence refuses commits that would violate it.
func (gc *GlobalConfig) IsSupersetOf(prev *GlobalConfig) bool {
	ids := gc.EntityIDs()
	for _, e := range prev.Entities {
		if !ids[e.ID] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy, so callers can stage changes against a
// snapshot before a compare-and-append commit.
func (gc *GlobalConfig) Clone() *GlobalConfig {
	out := &GlobalConfig{
		Version:         gc.Version,
		Entities:        make([]semantic.Entity, len(gc.Entities)),
		DefaultMappings: make(map[Key]string, len(gc.DefaultMappings)),
	}
	copy(out.Entities, gc.Entities)
	for k, v := range gc.DefaultMappings {
		out.DefaultMappings[k] = v
	}
	return out
}

// ProjectConfig is the per-project authority layer.
type ProjectConfig struct {
	ProjectID string           `json:"project_id"`
	Version   int64            `json:"version"`
	Overrides map[Key]Override `json:"overrides"`
	Decisions []DecisionRecord `json:"decisions"`
}

// NewProjectConfig returns an empty version-0 project configuration.
func NewProjectConfig(projectID string) *ProjectConfig {
	return &ProjectConfig{ProjectID: projectID, Overrides: make(map[Key]Override)}
}

// Clone returns a deep copy.
func (pc *ProjectConfig) Clone() *ProjectConfig {
	out := &ProjectConfig{
		ProjectID: pc.ProjectID,
		Version:   pc.Version,
		Overrides: make(map[Key]Override, len(pc.Overrides)),
		Decisions: make([]DecisionRecord, len(pc.Decisions)),
	}
	for k, v := range pc.Overrides {
		out.Overrides[k] = v
	}
	copy(out.Decisions, pc.Decisions)
	return out
}
