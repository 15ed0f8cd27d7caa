package board

import (
	"fmt"
	"sort"
)

// Graph is the derived dependency graph over a feature set: feature id to
// the set of ids it depends on. It is rebuilt from the features on each use,
// never stored.
type Graph struct {
	edges map[string][]string
}

// NewGraph builds the dependency graph from a feature set.
func NewGraph(features map[string]*Feature) *Graph {
	edges := make(map[string][]string, len(features))
	for id, f := range features {
		edges[id] = append([]string(nil), f.Dependencies...)
	}
	return &Graph{edges: edges}
}

// ValidationResult reports the outcome of a proposed dependency write.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Validate checks a proposed dependency list for a feature against the
// existing graph. It rejects self-reference, duplicate entries, and any
// proposed dependency from which a path leads back to the candidate.
// Pure: safe to call speculatively before committing the write.
func (g *Graph) Validate(candidateID string, proposedDeps []string) ValidationResult {
	var errs []string

	seen := make(map[string]bool, len(proposedDeps))
	for _, depID := range proposedDeps {
		if depID == candidateID {
			errs = append(errs, fmt.Sprintf("feature %s cannot depend on itself", candidateID))
			continue
		}
		if seen[depID] {
			errs = append(errs, fmt.Sprintf("duplicate dependency %s", depID))
			continue
		}
		seen[depID] = true
	}

	// Cycle check: walk the existing graph plus the proposed edges from each
	// proposed dependency; reaching the candidate means the write would close
	// a cycle. The visited set bounds the walk by feature count, so the check
	// terminates even if stored data already contains a cycle.
	overlay := g.withEdges(candidateID, proposedDeps)
	for _, depID := range proposedDeps {
		if depID == candidateID || !seen[depID] {
			continue
		}
		visited := make(map[string]bool)
		if overlay.reaches(depID, candidateID, visited) {
			errs = append(errs, fmt.Sprintf("dependency %s would create a cycle back to %s", depID, candidateID))
		}
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// withEdges returns a copy of the graph with the candidate's edges replaced
// by the proposed list.
func (g *Graph) withEdges(candidateID string, deps []string) *Graph {
	edges := make(map[string][]string, len(g.edges)+1)
	for id, targets := range g.edges {
		edges[id] = targets
	}
	edges[candidateID] = deps
	return &Graph{edges: edges}
}

// reaches performs a depth-first search from `from` and reports whether
// `target` is reachable. The caller-supplied visited set guarantees
// termination over arbitrary (including corrupt, cyclic) stored graphs.
func (g *Graph) reaches(from, target string, visited map[string]bool) bool {
	if from == target {
		return true
	}
	if visited[from] {
		return false
	}
	visited[from] = true

	for _, next := range g.edges[from] {
		if g.reaches(next, target, visited) {
			return true
		}
	}
	return false
}

// AllTransitiveDependencies returns every feature id the given feature
// depends on, directly or transitively, sorted for deterministic output.
// O(V+E) per call with the visited-set dedup; no memoization. Fine at the
// expected scale of dozens of features.
func (g *Graph) AllTransitiveDependencies(id string) []string {
	visited := make(map[string]bool)
	g.collectDeps(id, visited)
	delete(visited, id)

	result := make([]string, 0, len(visited))
	for depID := range visited {
		result = append(result, depID)
	}
	sort.Strings(result)
	return result
}

func (g *Graph) collectDeps(id string, visited map[string]bool) {
	if visited[id] {
		return
	}
	visited[id] = true
	for _, depID := range g.edges[id] {
		g.collectDeps(depID, visited)
	}
}

// AllTransitiveDependents returns every feature id that depends on the given
// feature, directly or transitively, sorted for deterministic output.
func (g *Graph) AllTransitiveDependents(id string) []string {
	// Invert the edges once, then walk the inverted graph.
	dependents := make(map[string][]string, len(g.edges))
	for from, targets := range g.edges {
		for _, to := range targets {
			dependents[to] = append(dependents[to], from)
		}
	}
	inverted := &Graph{edges: dependents}

	visited := make(map[string]bool)
	inverted.collectDeps(id, visited)
	delete(visited, id)

	result := make([]string, 0, len(visited))
	for depID := range visited {
		result = append(result, depID)
	}
	sort.Strings(result)
	return result
}

// DetectCycles finds dependency cycles in the stored graph. Used by the
// deadlock check; Validate prevents new cycles, this catches pre-existing
// corrupt data.
func (g *Graph) DetectCycles() [][]string {
	var cycles [][]string
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	ids := make([]string, 0, len(g.edges))
	for id := range g.edges {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if !visited[id] {
			if cycle := g.detectCyclesDFS(id, visited, recStack, []string{}); len(cycle) > 0 {
				cycles = append(cycles, cycle)
			}
		}
	}
	return cycles
}

func (g *Graph) detectCyclesDFS(id string, visited, recStack map[string]bool, path []string) []string {
	visited[id] = true
	recStack[id] = true
	path = append(path, id)

	for _, depID := range g.edges[id] {
		if !visited[depID] {
			if cycle := g.detectCyclesDFS(depID, visited, recStack, path); len(cycle) > 0 {
				return cycle
			}
		} else if recStack[depID] {
			cycleStart := -1
			for i, pathID := range path {
				if pathID == depID {
					cycleStart = i
					break
				}
			}
			if cycleStart >= 0 {
				return append(path[cycleStart:], depID)
			}
		}
	}

	recStack[id] = false
	return nil
}
