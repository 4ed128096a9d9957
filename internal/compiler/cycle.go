package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/pcx/internal/ir"
)

// CycleWarning reports entity types joined by a loop of EAGER associations.
//
// Cycles are warnings, not errors: loading terminates because every
// instance is loaded at most once per session, but a single find can pull
// in every record reachable around the loop.
type CycleWarning struct {
	Path    []string `json:"path"`    // e.g. ["Member", "Team", "Member"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning"
}

// AnalyzeEagerCycles finds strongly connected components in the graph of
// EAGER associations (Tarjan) and reports each one that forms a loop,
// including a self-referencing eager association.
//
// Output is deterministic: nodes are visited in name order and warnings are
// sorted by their first path element.
func AnalyzeEagerCycles(schema *ir.Schema) []CycleWarning {
	warnings := []CycleWarning{}
	if schema == nil {
		return warnings
	}

	graph := buildEagerGraph(schema)
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	slices.SortFunc(warnings, func(a, b CycleWarning) int {
		return strings.Compare(a.Path[0], b.Path[0])
	})
	return warnings
}

// eagerGraph maps entity name to the targets of its EAGER associations,
// in declaration order.
type eagerGraph map[string][]string

func buildEagerGraph(schema *ir.Schema) eagerGraph {
	graph := make(eagerGraph, len(schema.Entities))
	for _, et := range schema.Entities {
		graph[et.Name] = []string{}
		for _, a := range et.Associations {
			if a.Fetch == ir.FetchEager && !slices.Contains(graph[et.Name], a.Target) {
				graph[et.Name] = append(graph[et.Name], a.Target)
			}
		}
	}
	return graph
}

func hasSelfLoop(node string, graph eagerGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Each SCC is returned with its members sorted by name.
func tarjanSCC(graph eagerGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is the root of an SCC: pop it.
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

func cycleSCCToWarning(scc []string, graph eagerGraph) CycleWarning {
	if len(scc) == 1 {
		name := scc[0]
		return CycleWarning{
			Path:    []string{name, name},
			Message: fmt.Sprintf("self-referencing eager association: %s → %s", name, name),
			Level:   "warning",
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("eager association cycle: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// reconstructCyclePath walks edges inside the SCC from its first member
// until it returns to the start.
func reconstructCyclePath(scc []string, graph eagerGraph) []string {
	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)
	for {
		visited[current] = true
		var next string
		for _, neighbor := range graph[current] {
			if members[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
