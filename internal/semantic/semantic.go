// Package semantic defines the universal vocabulary shared by every
// synchronized tool: semantic entities, their fixed roles, and the
// registry that guards role assignments.
//
// A semantic entity names a tool-independent task concept ("bug",
// "in-progress", "high"). Its role places it in one of four closed
// categories and never changes after registration — the registry is the
// single authority for that rule, and every other component consults it
// instead of caching role assignments.
package semantic

import (
	"fmt"
	"sort"
	"sync"
)

// --- Role enum ---

// Role is the fixed global category of a semantic entity.
type Role string

const (
	RoleLabel     Role = "label"
	RoleContainer Role = "container"
	RoleStatus    Role = "status"
	RolePriority  Role = "priority"

	// RoleUnknown marks a concept whose role has not been decided yet.
	// It is valid on proposals, never on registered entities.
	RoleUnknown Role = ""
)

// validRoles is the set of roles an entity may carry.
var validRoles = map[Role]bool{
	RoleLabel:     true,
	RoleContainer: true,
	RoleStatus:    true,
	RolePriority:  true,
}

// ValidateRole returns an error if the role is not one of the four
// registrable categories.
func ValidateRole(r Role) error {
	if !validRoles[r] {
		return fmt.Errorf("invalid semantic role %q: must be one of: label, container, status, priority", r)
	}
	return nil
}

// AllRoles returns the closed role set in a stable order.
func AllRoles() []Role {
	return []Role{RoleLabel, RoleContainer, RoleStatus, RolePriority}
}

// --- Entity ---

// Entity is one named concept in the shared vocabulary.
type Entity struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	Description string `json:"description,omitempty"`
}

// Validate checks that the entity can be registered.
func (e Entity) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("entity id must not be empty")
	}
	return ValidateRole(e.Role)
}

// --- Errors ---

// RoleConflictError reports an attempt to reuse an entity id with a
// different role than the one it was registered with.
type RoleConflictError struct {
	EntityID   string
	Registered Role
	Attempted  Role
}

func (e *RoleConflictError) Error() string {
	return fmt.Sprintf("entity %q is registered with role %q and cannot be reused with role %q",
		e.EntityID, e.Registered, e.Attempted)
}

// NotFoundError reports a lookup for an unregistered entity id.
type NotFoundError struct {
	EntityID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("entity %q is not registered", e.EntityID)
}

// --- Registry ---

// Registry holds the registered vocabulary. It is safe for concurrent
// use; registration is append-only.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]Entity
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entities: make(map[string]Entity)}
}

// Register adds an entity to the vocabulary. Re-registering the same id
// with the same role is a no-op; the same id with a different role fails
// with RoleConflictError. Descriptions of already-registered entities are
// never overwritten.
func (r *Registry) Register(e Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entities[e.ID]; ok {
		if existing.Role != e.Role {
			return &RoleConflictError{EntityID: e.ID, Registered: existing.Role, Attempted: e.Role}
		}
		return nil
	}

	r.entities[e.ID] = e
	return nil
}

// Lookup returns the entity for the given id, or NotFoundError.
func (r *Registry) Lookup(id string) (Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entities[id]
	if !ok {
		return Entity{}, &NotFoundError{EntityID: id}
	}
	return e, nil
}

// Contains reports whether an entity id is registered.
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entities[id]
	return ok
}

// All returns every registered entity, sorted by id for deterministic
// iteration in reports and persistence.
func (r *Registry) All() []Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered entities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}
