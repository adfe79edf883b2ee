package taskwarrior

import (
	"context"
	"errors"
	"testing"
)

const exportJSON = `[
  {
    "uuid": "a1b2",
    "description": "Fix login crash",
    "project": "webapp",
    "status": "pending",
    "priority": "H",
    "tags": ["bug", "urgent"],
    "modified": "20260115T103000Z"
  },
  {
    "uuid": "c3d4",
    "description": "Write release notes",
    "project": "webapp",
    "status": "pending",
    "tags": ["bug"]
  },
  {
    "uuid": "e5f6",
    "description": "Untracked chore",
    "status": "completed"
  }
]`

func testPlugin(output string, err error) *Plugin {
	p := New("task", "")
	p.runExport = func(ctx context.Context) ([]byte, error) {
		return []byte(output), err
	}
	return p
}

func TestDiscover_TranslatesConcepts(t *testing.T) {
	p := testPlugin(exportJSON, nil)
	disc, err := p.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover = %v", err)
	}

	if len(disc.Items) != 3 {
		t.Fatalf("Items len = %d, want 3", len(disc.Items))
	}

	byID := make(map[string]int)
	for i, e := range disc.Entities {
		byID[e.RawConceptID] = i
	}

	// Tags become "+<tag>" concepts with label role hints.
	i, ok := byID["+bug"]
	if !ok {
		t.Fatalf("concept +bug missing, have %v", byID)
	}
	bug := disc.Entities[i]
	if bug.RoleHint != "label" {
		t.Errorf("+bug RoleHint = %q, want label", bug.RoleHint)
	}
	// Seen on two items, both in project webapp: one project entry.
	if len(bug.Projects) != 1 || bug.Projects[0] != "webapp" {
		t.Errorf("+bug Projects = %v, want [webapp]", bug.Projects)
	}

	// Status values become "status:<v>" concepts.
	if _, ok := byID["status:pending"]; !ok {
		t.Error("concept status:pending missing")
	}
	if _, ok := byID["status:completed"]; !ok {
		t.Error("concept status:completed missing")
	}

	// Projectless tasks land in the inbox pseudo-project.
	i = byID["status:completed"]
	if got := disc.Entities[i].Projects; len(got) != 1 || got[0] != "inbox" {
		t.Errorf("status:completed Projects = %v, want [inbox]", got)
	}

	// The project itself is a container concept.
	i, ok = byID["project:webapp"]
	if !ok {
		t.Fatal("concept project:webapp missing")
	}
	if disc.Entities[i].RoleHint != "container" {
		t.Errorf("project:webapp RoleHint = %q, want container", disc.Entities[i].RoleHint)
	}
}

func TestDiscover_ItemConceptRefs(t *testing.T) {
	p := testPlugin(exportJSON, nil)
	disc, err := p.Discover(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	first := disc.Items[0]
	if first.ExternalID != "a1b2" {
		t.Fatalf("ExternalID = %q, want a1b2", first.ExternalID)
	}
	for _, want := range []string{"+bug", "+urgent", "status:pending", "priority:H", "project:webapp"} {
		if _, ok := first.Concepts[want]; !ok {
			t.Errorf("item missing concept ref %q: %v", want, first.Concepts)
		}
	}
	if first.Modified.IsZero() {
		t.Error("Modified not parsed from taskwarrior timestamp")
	}
}

func TestDiscover_ExportFailure(t *testing.T) {
	p := testPlugin("", errors.New("task: command not found"))
	if _, err := p.Discover(context.Background()); err == nil {
		t.Error("Discover with failing export = nil, want error")
	}
}

func TestDiscover_MalformedOutput(t *testing.T) {
	p := testPlugin("{not json", nil)
	if _, err := p.Discover(context.Background()); err == nil {
		t.Error("Discover with malformed output = nil, want error")
	}
}

func TestDiscover_Deterministic(t *testing.T) {
	p := testPlugin(exportJSON, nil)
	a, err := p.Discover(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Discover(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Entities) != len(b.Entities) {
		t.Fatalf("entity counts differ: %d vs %d", len(a.Entities), len(b.Entities))
	}
	for i := range a.Entities {
		if a.Entities[i].RawConceptID != b.Entities[i].RawConceptID {
			t.Fatalf("entity order differs at %d: %q vs %q",
				i, a.Entities[i].RawConceptID, b.Entities[i].RawConceptID)
		}
	}
}
