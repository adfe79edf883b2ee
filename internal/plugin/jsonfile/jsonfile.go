// Package jsonfile implements a discovery plugin that reads a JSON task
// dump from disk. It is the simplest real plugin: no network, no
// credentials, useful for piping tasks between tools and for exercising
// the engine end to end.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/utsync/taskbridge/internal/plugin"
	"github.com/utsync/taskbridge/internal/semantic"
)

// ToolName is the identifier used in mapping keys.
const ToolName = "json"

// task mirrors one entry of the JSON dump.
type task struct {
	UUID        string   `json:"uuid"`
	Description string   `json:"description"`
	Project     string   `json:"project,omitempty"`
	Status      string   `json:"status,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Modified    string   `json:"modified,omitempty"`
}

// Plugin reads tasks from a fixed file path.
type Plugin struct {
	path string
}

// New creates a jsonfile plugin reading from path.
func New(path string) *Plugin {
	return &Plugin{path: path}
}

// Name implements plugin.Discoverer.
func (p *Plugin) Name() string { return ToolName }

// ConfigDefaults implements plugin.Discoverer.
func (p *Plugin) ConfigDefaults() map[string]string {
	return map[string]string{"path": ""}
}

// Discover reads and translates the dump. A missing file yields an empty
// discovery rather than an error: an absent dump means no tasks.
func (p *Plugin) Discover(ctx context.Context) (plugin.Discovery, error) {
	if err := ctx.Err(); err != nil {
		return plugin.Discovery{}, err
	}
	if p.path == "" {
		return plugin.Discovery{}, fmt.Errorf("jsonfile: no path configured (set json.path)")
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return plugin.Discovery{}, nil
		}
		return plugin.Discovery{}, fmt.Errorf("reading %s: %w", p.path, err)
	}

	var tasks []task
	if err := json.Unmarshal(data, &tasks); err != nil {
		// Accept a single object as well as a list.
		var one task
		if err2 := json.Unmarshal(data, &one); err2 != nil {
			return plugin.Discovery{}, fmt.Errorf("parsing %s: %w", p.path, err)
		}
		tasks = []task{one}
	}

	return translate(tasks), nil
}

func translate(tasks []task) plugin.Discovery {
	var disc plugin.Discovery
	concepts := plugin.NewConceptIndex(ToolName)

	for _, tk := range tasks {
		project := tk.Project
		if project == "" {
			project = "inbox"
		}

		item := plugin.RawItem{
			Tool:        ToolName,
			ExternalID:  tk.UUID,
			Description: tk.Description,
			Project:     project,
			Concepts:    make(map[string]string),
		}
		if tk.Modified != "" {
			if ts, err := time.Parse(time.RFC3339, tk.Modified); err == nil {
				item.Modified = ts
			}
		}

		for _, tag := range tk.Tags {
			id := "+" + tag
			item.Concepts[id] = ""
			concepts.Observe(id, tag, project, semantic.RoleLabel)
		}
		if tk.Status != "" {
			id := "status:" + tk.Status
			item.Concepts[id] = tk.Status
			concepts.Observe(id, tk.Status, project, semantic.RoleStatus)
		}
		if tk.Priority != "" {
			id := "priority:" + tk.Priority
			item.Concepts[id] = tk.Priority
			concepts.Observe(id, tk.Priority, project, semantic.RolePriority)
		}
		if tk.Project != "" {
			id := "project:" + tk.Project
			item.Concepts[id] = tk.Project
			concepts.Observe(id, tk.Project, project, semantic.RoleContainer)
		}

		disc.Items = append(disc.Items, item)
	}

	disc.Entities = concepts.Entities()
	return disc
}
