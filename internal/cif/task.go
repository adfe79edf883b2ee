// Package cif defines the Common Intermediate Form: the normalized,
// tool-independent task representation every plugin's data converges to,
// and the normalizer that produces it from raw tool data.
//
// Normalization never guesses. A raw concept only contributes a semantic
// field if the effective mapping knows it; everything else lands in the
// task's Unmapped set, which is carried along rather than dropped so the
// open question stays visible downstream.
package cif

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/utsync/taskbridge/internal/semantic"
)

// Status is the normalized task lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusDeleted   Status = "deleted"
	StatusWaiting   Status = "waiting"
)

// Priority is the normalized three-level task priority.
type Priority string

const (
	PriorityHigh   Priority = "H"
	PriorityMedium Priority = "M"
	PriorityLow    Priority = "L"
)

// Task is one normalized task.
type Task struct {
	// Identity. UUID is the engine-internal id bridging external ids
	// across tools; it is excluded from content hashing.
	UUID       string    `json:"uuid,omitempty"`
	SourceTool string    `json:"source_tool"`
	SourceID   string    `json:"source_id"`
	Modified   time.Time `json:"modified,omitzero"`

	// Content.
	Description string `json:"description"`
	Body        string `json:"body,omitempty"`

	// Context.
	Project  string   `json:"project,omitempty"`
	Status   Status   `json:"status,omitempty"`
	Priority Priority `json:"priority,omitempty"`
	Tags     []string `json:"tags,omitempty"`

	// Timing.
	Start        time.Time     `json:"start,omitzero"`
	Due          time.Time     `json:"due,omitzero"`
	Scheduled    time.Time     `json:"scheduled,omitzero"`
	Effort       time.Duration `json:"-"`
	ActualEffort time.Duration `json:"-"`

	// Progress and relationships.
	Progress  int      `json:"progress,omitempty"`
	Depends   []string `json:"depends,omitempty"`
	Followers []string `json:"followers,omitempty"`

	// People.
	Owner    string `json:"owner,omitempty"`
	Delegate string `json:"delegate,omitempty"`

	// Extra metadata.
	SourceURL string            `json:"source_url,omitempty"`
	Custom    map[string]string `json:"custom,omitempty"`

	// Semantic classification. Fields holds the entity ids resolved per
	// role; Unmapped holds raw concept ids the effective mapping could
	// not classify.
	Fields   map[semantic.Role][]string `json:"fields,omitempty"`
	Unmapped []string                   `json:"unmapped,omitempty"`
}

// MarshalJSON encodes durations as ISO-8601 strings.
func (t Task) MarshalJSON() ([]byte, error) {
	type alias Task // drop methods to avoid recursion
	out := struct {
		alias
		EffortISO       string `json:"effort,omitempty"`
		ActualEffortISO string `json:"actual_effort,omitempty"`
	}{alias: alias(t)}
	if t.Effort != 0 {
		out.EffortISO = FormatDuration(t.Effort)
	}
	if t.ActualEffort != 0 {
		out.ActualEffortISO = FormatDuration(t.ActualEffort)
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (t *Task) UnmarshalJSON(data []byte) error {
	type alias Task
	in := struct {
		*alias
		EffortISO       string `json:"effort,omitempty"`
		ActualEffortISO string `json:"actual_effort,omitempty"`
	}{alias: (*alias)(t)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.EffortISO != "" {
		d, err := ParseDuration(in.EffortISO)
		if err != nil {
			return err
		}
		t.Effort = d
	}
	if in.ActualEffortISO != "" {
		d, err := ParseDuration(in.ActualEffortISO)
		if err != nil {
			return err
		}
		t.ActualEffort = d
	}
	return nil
}

// hashContent is the canonical view of a task's mergeable content.
// Identity fields (uuid, source ids, modification time) are excluded so
// the same content hashes identically across tools and runs.
type hashContent struct {
	Description string   `json:"description"`
	Body        string   `json:"body"`
	Status      Status   `json:"status"`
	Priority    Priority `json:"priority"`
	Tags        []string `json:"tags"`
	Progress    int      `json:"progress"`
}

// ContentHash returns a stable hex digest of the task's mergeable
// content, used to detect changes between sync runs.
func (t Task) ContentHash() string {
	tags := make([]string, len(t.Tags))
	copy(tags, t.Tags)
	sort.Strings(tags)

	data, err := json.Marshal(hashContent{
		Description: t.Description,
		Body:        t.Body,
		Status:      t.Status,
		Priority:    t.Priority,
		Tags:        tags,
		Progress:    t.Progress,
	})
	if err != nil {
		// hashContent contains only marshalable fields.
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
