// Package detect compares a fresh discovery snapshot against the
// current configuration layers and reports which tool concepts are
// unclassified or in conflict, together with the projects each finding
// affects.
//
// Detection is a pure read: it mutates nothing and, given the same
// snapshot and configuration, always produces the same change set. The
// findings are consumed by the proposal generator in the same run and
// are never persisted directly.
package detect

import (
	"fmt"
	"sort"

	"github.com/utsync/taskbridge/internal/config"
	"github.com/utsync/taskbridge/internal/plugin"
	"github.com/utsync/taskbridge/internal/semantic"
)

// Kind classifies a finding.
type Kind string

const (
	// KindNew: the concept resolves to nothing anywhere it was observed.
	KindNew Kind = "new"
	// KindConflict: the concept is mapped, but the plugin flagged its
	// observed usage as contradicting the mapped role.
	KindConflict Kind = "conflict"
)

// Change is one finding: a distinct (tool, raw concept) pair that needs
// a human decision, with every project the decision would touch.
type Change struct {
	Tool             string
	RawConceptID     string
	RawLabel         string
	Kind             Kind
	RoleHint         semantic.Role
	AffectedProjects []string
}

// Key returns the mapping key for the finding.
func (c Change) Key() config.Key {
	return config.NewKey(c.Tool, c.RawConceptID)
}

// ChangeSet is the result of one detection pass.
type ChangeSet struct {
	Changes []Change
}

// Empty reports whether detection found nothing actionable.
func (cs *ChangeSet) Empty() bool { return len(cs.Changes) == 0 }

// AffectedProjects returns the union of projects across all findings.
func (cs *ChangeSet) AffectedProjects() []string {
	set := make(map[string]bool)
	for _, c := range cs.Changes {
		for _, p := range c.AffectedProjects {
			set[p] = true
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// History answers whether a past decision already settled — or is
// holding open — the question a finding would raise for a project.
// Recorded Ignore outcomes suppress the pair permanently (until an
// administrator clears them); Defer outcomes suppress re-detection
// because the original proposal is still open and is re-surfaced by the
// engine instead of being rediscovered as new.
type History interface {
	Suppressed(projectID, tool, rawConceptID string) (bool, error)
}

// NoHistory is an empty History for callers without persistence.
type NoHistory struct{}

// Suppressed implements History; nothing is ever suppressed.
func (NoHistory) Suppressed(string, string, string) (bool, error) { return false, nil }

// Detect scans the snapshot and classifies every observed concept.
//
// A project is affected by a finding if it observed the concept, or —
// for conflicts on a globally mapped concept — if it inherits the global
// default without an override, since any correction to that default
// would otherwise ripple into it silently.
func Detect(snap *plugin.Snapshot, gc *config.GlobalConfig, projects map[string]*config.ProjectConfig, hist History) (*ChangeSet, error) {
	if hist == nil {
		hist = NoHistory{}
	}

	type finding struct {
		entity   plugin.RawEntity
		kind     Kind
		projects map[string]bool
	}
	findings := make(map[config.Key]*finding)

	for _, e := range snap.Entities {
		// A concept observed outside any project still needs a decision;
		// scope it to the empty project id, which resolves against the
		// global defaults alone.
		projectIDs := e.Projects
		if len(projectIDs) == 0 {
			projectIDs = []string{""}
		}
		for _, projectID := range projectIDs {
			pc := projects[projectID]
			res := config.Resolve(gc, pc, e.Tool, e.RawConceptID)

			var kind Kind
			switch {
			case res.Kind == config.Unmapped:
				suppressed, err := hist.Suppressed(projectID, e.Tool, e.RawConceptID)
				if err != nil {
					return nil, fmt.Errorf("checking decision history for %s/%s: %w", e.Tool, e.RawConceptID, err)
				}
				if suppressed {
					continue
				}
				kind = KindNew
			case res.Kind == config.Mapped && e.Conflict:
				kind = KindConflict
			default:
				continue
			}

			key := config.NewKey(e.Tool, e.RawConceptID)
			f, ok := findings[key]
			if !ok {
				f = &finding{entity: e, kind: kind, projects: make(map[string]bool)}
				findings[key] = f
			}
			// A conflict observation outranks a plain "new" one.
			if kind == KindConflict {
				f.kind = KindConflict
			}
			f.projects[projectID] = true
		}
	}

	// Widen conflicts to every project inheriting the global default.
	for key, f := range findings {
		if f.kind != KindConflict {
			continue
		}
		for projectID, pc := range projects {
			if config.InheritsDefault(gc, pc, key.Tool, key.RawConceptID) {
				f.projects[projectID] = true
			}
		}
	}

	cs := &ChangeSet{}
	for key, f := range findings {
		affected := make([]string, 0, len(f.projects))
		for p := range f.projects {
			if p == "" {
				continue
			}
			affected = append(affected, p)
		}
		sort.Strings(affected)
		cs.Changes = append(cs.Changes, Change{
			Tool:             key.Tool,
			RawConceptID:     key.RawConceptID,
			RawLabel:         f.entity.RawLabel,
			Kind:             f.kind,
			RoleHint:         f.entity.RoleHint,
			AffectedProjects: affected,
		})
	}

	sort.Slice(cs.Changes, func(i, j int) bool {
		a, b := cs.Changes[i], cs.Changes[j]
		if a.Tool != b.Tool {
			return a.Tool < b.Tool
		}
		return a.RawConceptID < b.RawConceptID
	})
	return cs, nil
}
