package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeDump(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDiscover_List(t *testing.T) {
	path := writeDump(t, `[
	  {"uuid":"1","description":"Ship it","project":"demo","status":"pending","tags":["bug"],"modified":"2026-01-15T10:30:00Z"},
	  {"uuid":"2","description":"Polish docs","project":"demo","priority":"L"}
	]`)

	disc, err := New(path).Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover = %v", err)
	}
	if len(disc.Items) != 2 {
		t.Fatalf("Items len = %d, want 2", len(disc.Items))
	}

	ids := make(map[string]bool)
	for _, e := range disc.Entities {
		ids[e.RawConceptID] = true
	}
	for _, want := range []string{"+bug", "status:pending", "priority:L", "project:demo"} {
		if !ids[want] {
			t.Errorf("concept %q missing from %v", want, ids)
		}
	}
	if !disc.Items[0].Modified.Equal(disc.Items[0].Modified.UTC()) && disc.Items[0].Modified.IsZero() {
		t.Error("Modified not parsed")
	}
}

func TestDiscover_SingleObject(t *testing.T) {
	path := writeDump(t, `{"uuid":"1","description":"Lone task","status":"pending"}`)
	disc, err := New(path).Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover = %v", err)
	}
	if len(disc.Items) != 1 {
		t.Fatalf("Items len = %d, want 1", len(disc.Items))
	}
	if disc.Items[0].Project != "inbox" {
		t.Errorf("Project = %q, want inbox fallback", disc.Items[0].Project)
	}
}

func TestDiscover_MissingFileIsEmpty(t *testing.T) {
	disc, err := New(filepath.Join(t.TempDir(), "absent.json")).Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover = %v, want nil for missing file", err)
	}
	if len(disc.Items) != 0 || len(disc.Entities) != 0 {
		t.Errorf("Discover of missing file = %+v, want empty", disc)
	}
}

func TestDiscover_NoPathConfigured(t *testing.T) {
	if _, err := New("").Discover(context.Background()); err == nil {
		t.Error("Discover with empty path = nil, want error")
	}
}

func TestDiscover_MalformedJSON(t *testing.T) {
	path := writeDump(t, "not json at all")
	if _, err := New(path).Discover(context.Background()); err == nil {
		t.Error("Discover on malformed dump = nil, want error")
	}
}
