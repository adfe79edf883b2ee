package cif

import (
	"sort"

	"github.com/utsync/taskbridge/internal/config"
	"github.com/utsync/taskbridge/internal/plugin"
	"github.com/utsync/taskbridge/internal/semantic"
)

// Normalize converts one raw item into a CIF task under the effective
// mapping for its project.
//
// For each raw concept attached to the item, the merge resolver decides
// its fate:
//   - mapped: the entity id is recorded under the entity's registered
//     role in Fields;
//   - explicitly unmapped ("do not map"): the concept is omitted — it is
//     an answered question, not an open one;
//   - unknown: the concept id is recorded in Unmapped.
//
// A mapping that points at an entity the registry does not know (or that
// carries no registrable role) is treated as unknown rather than
// trusted: normalization never invents vocabulary. New entities enter
// exclusively through the proposal/decision path.
func Normalize(item plugin.RawItem, gc *config.GlobalConfig, pc *config.ProjectConfig, reg *semantic.Registry) Task {
	task := Task{
		SourceTool:  item.Tool,
		SourceID:    item.ExternalID,
		Description: item.Description,
		Project:     item.Project,
		Modified:    item.Modified,
	}

	// Walk concepts in sorted order for deterministic output.
	concepts := make([]string, 0, len(item.Concepts))
	for id := range item.Concepts {
		concepts = append(concepts, id)
	}
	sort.Strings(concepts)

	for _, conceptID := range concepts {
		res := config.Resolve(gc, pc, item.Tool, conceptID)
		switch res.Kind {
		case config.None:
			continue
		case config.Unmapped:
			task.Unmapped = append(task.Unmapped, conceptID)
		case config.Mapped:
			entity, err := reg.Lookup(res.EntityID)
			if err != nil {
				task.Unmapped = append(task.Unmapped, conceptID)
				continue
			}
			if task.Fields == nil {
				task.Fields = make(map[semantic.Role][]string)
			}
			task.Fields[entity.Role] = append(task.Fields[entity.Role], entity.ID)
		}
	}

	for role := range task.Fields {
		sort.Strings(task.Fields[role])
	}
	return task
}
