package unit

import "sort"

// PageRank parameters. Iteration count is fixed rather than run to
// convergence so cost stays bounded on large graphs.
const (
	pageRankDamping    = 0.85
	pageRankIterations = 50
)

// DependencyGraph holds forward and reverse adjacency between unit
// identifiers. Cycles are permitted; traversals terminate via visited sets.
type DependencyGraph struct {
	forward map[string][]Dependency
	reverse map[string][]string
	types   map[string]Type
}

// NewDependencyGraph builds a graph from a set of units. Edges pointing at
// identifiers outside the set are kept (dangling edges are permitted).
func NewDependencyGraph(units []*Unit) *DependencyGraph {
	g := &DependencyGraph{
		forward: make(map[string][]Dependency, len(units)),
		reverse: make(map[string][]string),
		types:   make(map[string]Type, len(units)),
	}
	for _, u := range units {
		g.Add(u)
	}
	return g
}

// Add inserts or replaces a unit's edges.
func (g *DependencyGraph) Add(u *Unit) {
	if old, ok := g.forward[u.Identifier]; ok {
		for _, dep := range old {
			g.removeReverse(dep.Target, u.Identifier)
		}
	}
	deps := make([]Dependency, len(u.Dependencies))
	copy(deps, u.Dependencies)
	g.forward[u.Identifier] = deps
	g.types[u.Identifier] = u.Type
	for _, dep := range deps {
		g.reverse[dep.Target] = append(g.reverse[dep.Target], u.Identifier)
	}
}

func (g *DependencyGraph) removeReverse(target, source string) {
	list := g.reverse[target]
	for i, id := range list {
		if id == source {
			g.reverse[target] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Contains reports whether the identifier is a known unit (not just an edge
// target).
func (g *DependencyGraph) Contains(id string) bool {
	_, ok := g.forward[id]
	return ok
}

// Size returns the number of units in the graph.
func (g *DependencyGraph) Size() int {
	return len(g.forward)
}

// TypeOf returns the type tag recorded for id, or TypeNone for unknown ids.
func (g *DependencyGraph) TypeOf(id string) Type {
	return g.types[id]
}

// Identifiers returns all unit identifiers, sorted for determinism.
func (g *DependencyGraph) Identifiers() []string {
	ids := make([]string, 0, len(g.forward))
	for id := range g.forward {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DependenciesOf returns the direct forward edges of id.
func (g *DependencyGraph) DependenciesOf(id string) []Dependency {
	deps := g.forward[id]
	out := make([]Dependency, len(deps))
	copy(out, deps)
	return out
}

// DependentsOf returns identifiers with a direct edge to id, sorted.
func (g *DependencyGraph) DependentsOf(id string) []string {
	deps := g.reverse[id]
	out := make([]string, len(deps))
	copy(out, deps)
	sort.Strings(out)
	return out
}

// AffectedBy returns the transitive dependents of id (everything that would
// be affected by a change to it), BFS order, excluding id itself.
func (g *DependencyGraph) AffectedBy(id string) []string {
	visited := map[string]bool{id: true}
	queue := g.DependentsOf(id)
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		out = append(out, cur)
		queue = append(queue, g.DependentsOf(cur)...)
	}
	return out
}

// Neighborhood returns identifiers reachable from id within maxHops in the
// forward direction, paired with their hop distance. BFS with a visited set,
// so cycles terminate.
func (g *DependencyGraph) Neighborhood(id string, maxHops int) map[string]int {
	dist := map[string]int{id: 0}
	frontier := []string{id}
	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, cur := range frontier {
			for _, dep := range g.forward[cur] {
				if _, seen := dist[dep.Target]; seen {
					continue
				}
				dist[dep.Target] = hop
				next = append(next, dep.Target)
			}
			for _, dependent := range g.reverse[cur] {
				if _, seen := dist[dependent]; seen {
					continue
				}
				dist[dependent] = hop
				next = append(next, dependent)
			}
		}
		frontier = next
	}
	delete(dist, id)
	return dist
}

// ByType returns identifiers of all units tagged with t, sorted.
func (g *DependencyGraph) ByType(t Type) []string {
	var out []string
	for id, ut := range g.types {
		if ut == t {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// PageRank computes importance scores over the graph with damping 0.85 and a
// fixed 50 iterations. Dangling edge targets participate as sink nodes so
// rank mass is not lost. Scores are normalized so the max is 1.0.
func (g *DependencyGraph) PageRank() map[string]float64 {
	// Node set: units plus any edge target.
	nodes := make(map[string]bool, len(g.forward))
	for id, deps := range g.forward {
		nodes[id] = true
		for _, dep := range deps {
			nodes[dep.Target] = true
		}
	}
	n := len(nodes)
	if n == 0 {
		return map[string]float64{}
	}

	ranks := make(map[string]float64, n)
	initial := 1.0 / float64(n)
	for id := range nodes {
		ranks[id] = initial
	}

	base := (1.0 - pageRankDamping) / float64(n)
	for i := 0; i < pageRankIterations; i++ {
		next := make(map[string]float64, n)
		var sinkMass float64
		for id := range nodes {
			out := len(g.forward[id])
			if out == 0 {
				sinkMass += ranks[id]
			}
		}
		sinkShare := pageRankDamping * sinkMass / float64(n)
		for id := range nodes {
			next[id] = base + sinkShare
		}
		for id, deps := range g.forward {
			if len(deps) == 0 {
				continue
			}
			share := pageRankDamping * ranks[id] / float64(len(deps))
			for _, dep := range deps {
				next[dep.Target] += share
			}
		}
		ranks = next
	}

	// Normalize to [0,1] with max = 1 for use as a ranking feature.
	var max float64
	for _, r := range ranks {
		if r > max {
			max = r
		}
	}
	if max > 0 {
		for id := range ranks {
			ranks[id] /= max
		}
	}
	return ranks
}
