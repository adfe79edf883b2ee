// Package taskwarrior implements a discovery plugin backed by the
// Taskwarrior CLI. It shells out to `task export` and translates the
// exported JSON into raw concepts and items.
package taskwarrior

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/utsync/taskbridge/internal/plugin"
	"github.com/utsync/taskbridge/internal/semantic"
)

// ToolName is the identifier used in mapping keys.
const ToolName = "tw"

// twTimeLayout is Taskwarrior's compact UTC timestamp format.
const twTimeLayout = "20060102T150405Z"

// task mirrors the fields of `task export` output this plugin consumes.
type task struct {
	UUID        string   `json:"uuid"`
	Description string   `json:"description"`
	Project     string   `json:"project,omitempty"`
	Status      string   `json:"status,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Modified    string   `json:"modified,omitempty"`
}

// Plugin shells out to the Taskwarrior binary.
type Plugin struct {
	command string
	filter  string

	// runExport is swappable for tests.
	runExport func(ctx context.Context) ([]byte, error)
}

// New creates a taskwarrior plugin. command is the task binary (usually
// "task"); filter is an optional Taskwarrior filter expression.
func New(command, filter string) *Plugin {
	if command == "" {
		command = "task"
	}
	p := &Plugin{command: command, filter: filter}
	p.runExport = p.execExport
	return p
}

// Name implements plugin.Discoverer.
func (p *Plugin) Name() string { return ToolName }

// ConfigDefaults implements plugin.Discoverer.
func (p *Plugin) ConfigDefaults() map[string]string {
	return map[string]string{
		"command": "task",
		"filter":  "",
	}
}

// Discover exports and translates the Taskwarrior database.
func (p *Plugin) Discover(ctx context.Context) (plugin.Discovery, error) {
	out, err := p.runExport(ctx)
	if err != nil {
		return plugin.Discovery{}, err
	}

	var tasks []task
	if err := json.Unmarshal(out, &tasks); err != nil {
		return plugin.Discovery{}, fmt.Errorf("parsing task export output: %w", err)
	}
	return translate(tasks), nil
}

func (p *Plugin) execExport(ctx context.Context) ([]byte, error) {
	args := []string{"rc.json.array=on"}
	if p.filter != "" {
		args = append(args, p.filter)
	}
	args = append(args, "export")

	cmd := exec.CommandContext(ctx, p.command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("running %s export: %w (%s)", p.command, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}

// translate converts exported tasks into a discovery. The concept id
// scheme matches Taskwarrior conventions: tags are "+<tag>", other
// attributes are "<attr>:<value>".
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
			if ts, err := time.Parse(twTimeLayout, tk.Modified); err == nil {
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
