package plugin

import (
	"sort"

	"github.com/utsync/taskbridge/internal/semantic"
)

// ConceptIndex accumulates concept observations across the items of one
// discovery run and deduplicates them into RawEntity records. Plugins
// use it so each distinct concept appears once, carrying the full set of
// projects it was seen in.
type ConceptIndex struct {
	tool     string
	observed map[string]*RawEntity
	projects map[string]map[string]bool
}

// NewConceptIndex creates an index for one tool.
func NewConceptIndex(tool string) *ConceptIndex {
	return &ConceptIndex{
		tool:     tool,
		observed: make(map[string]*RawEntity),
		projects: make(map[string]map[string]bool),
	}
}

// Observe records one sighting of a concept in a project. The first
// sighting fixes label and role hint; later sightings only add projects.
func (c *ConceptIndex) Observe(rawConceptID, label, project string, hint semantic.Role) {
	e, ok := c.observed[rawConceptID]
	if !ok {
		e = &RawEntity{
			Tool:         c.tool,
			RawConceptID: rawConceptID,
			RawLabel:     label,
			RoleHint:     hint,
		}
		c.observed[rawConceptID] = e
		c.projects[rawConceptID] = make(map[string]bool)
	}
	if project != "" {
		c.projects[rawConceptID][project] = true
	}
}

// MarkConflict flags a concept as conflicting with its mapped role.
func (c *ConceptIndex) MarkConflict(rawConceptID string) {
	if e, ok := c.observed[rawConceptID]; ok {
		e.Conflict = true
	}
}

// Entities returns the deduplicated concepts, sorted by concept id, with
// sorted project lists. Deterministic output keeps detection idempotent.
func (c *ConceptIndex) Entities() []RawEntity {
	ids := make([]string, 0, len(c.observed))
	for id := range c.observed {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]RawEntity, 0, len(ids))
	for _, id := range ids {
		e := *c.observed[id]
		for p := range c.projects[id] {
			e.Projects = append(e.Projects, p)
		}
		sort.Strings(e.Projects)
		out = append(out, e)
	}
	return out
}
