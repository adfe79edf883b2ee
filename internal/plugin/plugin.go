// Package plugin defines the contract between the mediation engine and
// tool-specific discovery plugins, and runs discovery across all
// registered plugins.
//
// A plugin is a pure reader of one external tool: it reports the
// semantic concepts it observed (tags, states, columns, priorities) and
// the raw items carrying them. Plugins never touch the semantic registry
// or any configuration — classification happens exclusively inside the
// engine, gated by recorded decisions.
package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/utsync/taskbridge/internal/semantic"
)

// RawEntity is one tool-specific concept observed during discovery.
// The engine treats it as opaque beyond its identity: (Tool, RawConceptID).
type RawEntity struct {
	Tool         string            `json:"tool"`
	RawConceptID string            `json:"raw_concept_id"`
	RawLabel     string            `json:"raw_label,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`

	// Projects lists the project ids in which the concept was observed
	// during this run. Needed to compute which projects a change affects.
	// An empty list still surfaces the concept for a decision; it is then
	// scoped to no particular project and resolved against the global
	// defaults alone.
	Projects []string `json:"projects,omitempty"`

	// Conflict is the plugin-supplied signal that the concept's observed
	// usage contradicts its currently mapped role. The engine does not
	// second-guess it; the heuristic belongs to the plugin.
	Conflict bool `json:"conflict,omitempty"`

	// RoleHint is the plugin's suggestion for an unclassified concept.
	// It only ever seeds a proposal, never a mapping.
	RoleHint semantic.Role `json:"role_hint,omitempty"`
}

// RawItem is one task-like item reported by a plugin, with the raw
// concepts attached to it. Concepts maps a raw concept id to the value
// it carries on this item (empty for presence-only concepts like tags).
type RawItem struct {
	Tool        string            `json:"tool"`
	ExternalID  string            `json:"external_id"`
	Description string            `json:"description"`
	Project     string            `json:"project,omitempty"`
	Concepts    map[string]string `json:"concepts,omitempty"`
	Modified    time.Time         `json:"modified,omitzero"`
}

// Discoverer is the plugin contract. Discover must be side-effect free
// with respect to engine state and should honor ctx cancellation.
type Discoverer interface {
	// Name returns the tool identifier used in mapping keys ("tw", "gh").
	Name() string
	// ConfigDefaults returns the plugin's settings defaults, merged into
	// the settings manifest under "<name>." keys.
	ConfigDefaults() map[string]string
	// Discover fetches the current state of the external tool.
	Discover(ctx context.Context) (Discovery, error)
}

// Discovery is one plugin's output for a run.
type Discovery struct {
	Entities []RawEntity
	Items    []RawItem
}

// DiscoveryError wraps a single plugin's failure. Discovery errors are
// contained: other plugins proceed, and the affected tool's projects are
// marked as carrying partial results.
type DiscoveryError struct {
	Tool string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery failed for tool %q: %v", e.Tool, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// Snapshot is the joined output of one discovery run across all plugins.
type Snapshot struct {
	Entities []RawEntity
	Items    []RawItem

	// Failed records per-tool discovery errors. Tools listed here
	// contributed nothing to this snapshot.
	Failed map[string]*DiscoveryError
}

// Partial reports whether any plugin failed during the run.
func (s *Snapshot) Partial() bool { return len(s.Failed) > 0 }

// Registry holds the known plugins by name.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Discoverer
	order   []string
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Discoverer)}
}

// Register adds a plugin. Registering two plugins under one name is a
// wiring bug and fails loudly.
func (r *Registry) Register(d Discoverer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := d.Name()
	if name == "" {
		return fmt.Errorf("plugin name must not be empty")
	}
	if _, ok := r.plugins[name]; ok {
		return fmt.Errorf("plugin %q already registered", name)
	}
	r.plugins[name] = d
	r.order = append(r.order, name)
	sort.Strings(r.order)
	return nil
}

// Get returns the plugin registered under name.
func (r *Registry) Get(name string) (Discoverer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.plugins[name]
	if !ok {
		return nil, fmt.Errorf("plugin %q not found (installed: %v)", name, r.order)
	}
	return d, nil
}

// Names returns the registered plugin names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ConfigDefaults collects every plugin's settings defaults, keyed by
// plugin name, for the settings manifest.
func (r *Registry) ConfigDefaults() map[string]map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]map[string]string, len(r.plugins))
	for name, d := range r.plugins {
		if defaults := d.ConfigDefaults(); len(defaults) > 0 {
			out[name] = defaults
		}
	}
	return out
}

// DiscoverAll runs every registered plugin concurrently and joins the
// results into one snapshot. Plugins share no mutable state, so the
// fan-out is unsynchronized apart from result collection. A failing
// plugin is recorded in Snapshot.Failed and does not abort the others;
// only context cancellation stops the run early.
func (r *Registry) DiscoverAll(ctx context.Context) (*Snapshot, error) {
	r.mu.RLock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	plugins := make(map[string]Discoverer, len(r.plugins))
	for n, d := range r.plugins {
		plugins[n] = d
	}
	r.mu.RUnlock()

	snap := &Snapshot{Failed: make(map[string]*DiscoveryError)}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	results := make(map[string]Discovery, len(names))

	for _, name := range names {
		d := plugins[name]
		g.Go(func() error {
			disc, err := d.Discover(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Cancellation is the batch's problem, not the plugin's.
				if ctx.Err() != nil {
					return ctx.Err()
				}
				snap.Failed[name] = &DiscoveryError{Tool: name, Err: err}
				return nil
			}
			results[name] = disc
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Join in name order so snapshots are deterministic run to run.
	for _, name := range names {
		disc, ok := results[name]
		if !ok {
			continue
		}
		snap.Entities = append(snap.Entities, disc.Entities...)
		snap.Items = append(snap.Items, disc.Items...)
	}
	return snap, nil
}
