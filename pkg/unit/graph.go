package unit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/core-tools/hsu-dash/pkg/errors"
)

// Graph is the validated, acyclic set of unit definitions.
type Graph struct {
	units      []Definition
	index      map[ID]int
	dependents map[ID][]ID
	levels     [][]ID
}

// NewGraph validates defs and builds the dependency graph. A dependency
// cycle is reported as a graph_cycle error; nothing may be spawned from a
// graph that failed to build.
func NewGraph(defs []Definition) (*Graph, error) {
	g := &Graph{
		units:      make([]Definition, len(defs)),
		index:      make(map[ID]int, len(defs)),
		dependents: make(map[ID][]ID, len(defs)),
	}
	copy(g.units, defs)

	for i, def := range g.units {
		if err := ValidateDefinition(def); err != nil {
			return nil, err
		}
		if _, exists := g.index[def.ID]; exists {
			return nil, errors.NewValidationError("duplicate unit id", nil).WithContext("id", string(def.ID))
		}
		g.index[def.ID] = i
	}

	for _, def := range g.units {
		for _, dep := range def.DependsOn {
			if _, ok := g.index[dep]; !ok {
				return nil, errors.NewValidationError("unknown dependency", nil).
					WithContext("id", string(def.ID)).
					WithContext("depends_on", string(dep))
			}
			g.dependents[dep] = append(g.dependents[dep], def.ID)
		}
	}
	for id := range g.dependents {
		sortIDs(g.dependents[id])
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, errors.NewGraphCycleError(fmt.Sprintf("circular dependency detected: %s", formatCycle(cycle)), nil).
			WithContext("cycle", cycle)
	}

	g.levels = g.computeLevels()
	return g, nil
}

func (g *Graph) Len() int {
	return len(g.units)
}

// Units returns the definitions in load order.
func (g *Graph) Units() []Definition {
	out := make([]Definition, len(g.units))
	copy(out, g.units)
	return out
}

func (g *Graph) Get(id ID) (Definition, bool) {
	i, ok := g.index[id]
	if !ok {
		return Definition{}, false
	}
	return g.units[i], true
}

// Dependents returns the units that depend directly on id.
func (g *Graph) Dependents(id ID) []ID {
	return append([]ID(nil), g.dependents[id]...)
}

// Levels groups units so that every unit only depends on units of earlier
// levels. Ids are sorted within a level.
func (g *Graph) Levels() [][]ID {
	out := make([][]ID, len(g.levels))
	for i, level := range g.levels {
		out[i] = append([]ID(nil), level...)
	}
	return out
}

// StartOrder is a deterministic topological order, dependencies first.
func (g *Graph) StartOrder() []ID {
	out := make([]ID, 0, len(g.units))
	for _, level := range g.levels {
		out = append(out, level...)
	}
	return out
}

func (g *Graph) findCycle() []ID {
	visited := make(map[ID]bool, len(g.units))
	onStack := make(map[ID]bool, len(g.units))

	var visit func(id ID, path []ID) []ID
	visit = func(id ID, path []ID) []ID {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		def := g.units[g.index[id]]
		deps := append([]ID(nil), def.DependsOn...)
		sortIDs(deps)
		for _, dep := range deps {
			if !visited[dep] {
				if cycle := visit(dep, path); cycle != nil {
					return cycle
				}
			} else if onStack[dep] {
				for i, p := range path {
					if p == dep {
						cycle := append([]ID(nil), path[i:]...)
						return append(cycle, dep)
					}
				}
			}
		}

		onStack[id] = false
		return nil
	}

	for _, def := range g.units {
		if !visited[def.ID] {
			if cycle := visit(def.ID, nil); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// computeLevels runs Kahn's algorithm level by level.
func (g *Graph) computeLevels() [][]ID {
	inDegree := make(map[ID]int, len(g.units))
	for _, def := range g.units {
		inDegree[def.ID] = len(uniqueIDs(def.DependsOn))
	}

	var current []ID
	for _, def := range g.units {
		if inDegree[def.ID] == 0 {
			current = append(current, def.ID)
		}
	}

	var levels [][]ID
	for len(current) > 0 {
		sortIDs(current)
		levels = append(levels, current)

		var next []ID
		for _, id := range current {
			for _, dependent := range uniqueIDs(g.dependents[id]) {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}
	return levels
}

func formatCycle(cycle []ID) string {
	parts := make([]string, len(cycle))
	for i, id := range cycle {
		parts[i] = string(id)
	}
	return strings.Join(parts, " -> ")
}

func uniqueIDs(ids []ID) []ID {
	seen := make(map[ID]bool, len(ids))
	out := make([]ID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func sortIDs(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
