package config

// --- Merge resolver ---
//
// The two configuration layers are kept separate and consulted in order
// (project override first, then global default) instead of being
// flattened at load time. Keeping the layers apart preserves provenance:
// callers can report *why* a concept resolved the way it did, and the
// change detector can tell which projects merely inherit a default.

// ResolutionKind classifies a lookup result.
type ResolutionKind string

const (
	// Mapped: the concept resolves to a registered entity id.
	Mapped ResolutionKind = "mapped"
	// None: the concept is intentionally unmapped for this project.
	None ResolutionKind = "none"
	// Unmapped: neither layer knows the concept — an open question.
	Unmapped ResolutionKind = "unmapped"
)

// ResolutionSource records which layer answered the lookup.
type ResolutionSource string

const (
	SourceProject ResolutionSource = "project"
	SourceGlobal  ResolutionSource = "global"
)

// Resolution is the outcome of one merge lookup.
type Resolution struct {
	Kind     ResolutionKind
	EntityID string
	Source   ResolutionSource
}

// Resolve computes the effective mapping for (tool, rawConceptID) in one
// project. Project overrides always win, including the explicit "do not
// map" marker; an absent override falls through to the global default.
// The function is pure: given the same two snapshots it always returns
// the same result.
//
// pc may be nil for a project with no configuration yet.
func Resolve(gc *GlobalConfig, pc *ProjectConfig, tool, rawConceptID string) Resolution {
	key := NewKey(tool, rawConceptID)

	if pc != nil {
		if ov, ok := pc.Overrides[key]; ok {
			if ov.None {
				return Resolution{Kind: None, Source: SourceProject}
			}
			return Resolution{Kind: Mapped, EntityID: ov.EntityID, Source: SourceProject}
		}
	}

	if gc != nil {
		if entityID, ok := gc.DefaultMappings[key]; ok {
			return Resolution{Kind: Mapped, EntityID: entityID, Source: SourceGlobal}
		}
	}

	return Resolution{Kind: Unmapped}
}

// InheritsDefault reports whether the project takes the global default
// for the concept without any override of its own. A correction to such
// a default would silently ripple into the project, so changes to it must
// be surfaced there too.
func InheritsDefault(gc *GlobalConfig, pc *ProjectConfig, tool, rawConceptID string) bool {
	key := NewKey(tool, rawConceptID)
	if pc != nil {
		if _, ok := pc.Overrides[key]; ok {
			return false
		}
	}
	if gc == nil {
		return false
	}
	_, ok := gc.DefaultMappings[key]
	return ok
}
