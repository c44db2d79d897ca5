package dependencies

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/platinummonkey/axle/pkg/plugins"
)

// Resolution is the outcome of resolving a descriptor set.
type Resolution struct {
	// Order lists every accepted plugin after all of its hard dependencies.
	// Among plugins that are ready at the same time the smallest id goes first.
	Order []string
	// Levels groups Order into batches whose members only depend on earlier batches.
	Levels [][]string
	// Rejected maps every excluded plugin to the reason it was excluded.
	Rejected map[string]*plugins.PluginError
	Graph    *Graph
}

// Accepted reports whether id resolved.
func (r *Resolution) Accepted(id string) bool {
	_, rejected := r.Rejected[id]
	return !rejected && r.Graph.Node(id) != nil
}

// Resolve builds the hard dependency graph over descriptors, rejects plugins
// whose dependencies cannot be satisfied and orders the rest. A rejection
// propagates to every transitive dependent with the originating reason;
// unrelated plugins are unaffected.
func Resolve(descriptors []*plugins.Descriptor) *Resolution {
	g := BuildGraph(descriptors)
	rejected := make(map[string]*plugins.PluginError)

	// Cycles are fatal for all their members, whatever else is wrong with them.
	for _, cycle := range findCycles(g) {
		for _, id := range cycle {
			path := cyclePath(g, id, cycle)
			pe := plugins.NewPluginError(plugins.ErrCircularDependency, id, strings.Join(path, " -> "))
			pe.Chain = path
			rejected[id] = pe
		}
	}

	for _, id := range g.Nodes() {
		if _, ok := rejected[id]; ok {
			continue
		}
		if pe := checkEdges(g, id); pe != nil {
			rejected[id] = pe
		}
	}

	// Propagate to dependents. Rejected nodes are never entered, so the walk
	// only runs over the acyclic remainder.
	done := make(map[string]bool)
	var visit func(id string) *plugins.PluginError
	visit = func(id string) *plugins.PluginError {
		if pe, ok := rejected[id]; ok {
			return pe
		}
		if done[id] {
			return nil
		}
		done[id] = true
		for _, e := range g.Dependencies(id) {
			if g.Node(e.Provider) == nil {
				continue
			}
			if pe := visit(e.Provider); pe != nil {
				propagated := pe.Propagate(id)
				rejected[id] = propagated
				return propagated
			}
		}
		return nil
	}
	for _, id := range g.Nodes() {
		visit(id)
	}

	order, levels := kahn(g, rejected)
	return &Resolution{
		Order:    order,
		Levels:   levels,
		Rejected: rejected,
		Graph:    g,
	}
}

// checkEdges validates the direct hard dependencies of id in declared order.
func checkEdges(g *Graph, id string) *plugins.PluginError {
	for _, e := range g.Dependencies(id) {
		provider := g.Node(e.Provider)
		if provider == nil {
			pe := plugins.NewPluginError(plugins.ErrMissingDependency, id,
				fmt.Sprintf("requires %s %s which is not present", e.Provider, e.Range))
			pe.Chain = []string{id, e.Provider}
			return pe
		}
		if !e.Range.Contains(provider.Version) {
			pe := plugins.NewPluginError(plugins.ErrIncompatibleVersion, id,
				fmt.Sprintf("requires %s %s, found %s", e.Provider, e.Range, provider.Version))
			pe.Chain = []string{id, e.Provider}
			return pe
		}
	}
	return nil
}

// CheckDependency validates one hard dependency against a concrete provider.
// A nil provider means the provider is not present.
func CheckDependency(consumer string, dep plugins.Dependency, provider *plugins.Descriptor) *plugins.PluginError {
	g := NewGraph()
	g.AddNode(&plugins.Descriptor{ID: consumer})
	if provider != nil {
		g.AddNode(provider)
	}
	g.addEdge(Edge{Consumer: consumer, Provider: dep.PluginID, Range: dep.Range, Kind: EdgeHard})
	return checkEdges(g, consumer)
}

// kahn orders the accepted nodes. Ready nodes are taken in ascending id
// order; levels group nodes by the length of their longest dependency chain.
func kahn(g *Graph, rejected map[string]*plugins.PluginError) ([]string, [][]string) {
	indegree := make(map[string]int)
	for _, id := range g.Nodes() {
		if _, ok := rejected[id]; ok {
			continue
		}
		indegree[id] = len(g.Dependencies(id))
	}

	var ready []string
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	level := make(map[string]int, len(indegree))
	order := make([]string, 0, len(indegree))
	var levels [][]string

	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		l := level[id]
		for len(levels) <= l {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], id)

		for _, consumer := range g.Dependents(id) {
			if _, ok := indegree[consumer]; !ok {
				continue
			}
			// one decrement per declared edge to id
			for _, e := range g.Dependencies(consumer) {
				if e.Provider == id {
					indegree[consumer]--
				}
			}
			level[consumer] = max(level[consumer], l+1)
			if indegree[consumer] == 0 {
				pos, _ := slices.BinarySearch(ready, consumer)
				ready = slices.Insert(ready, pos, consumer)
			}
		}
	}

	return order, levels
}

// findCycles returns the strongly connected components of the hard graph that
// contain a cycle (more than one member, or a self-dependency), each sorted.
func findCycles(g *Graph) [][]string {
	index := 0
	indices := make(map[string]int)
	lowlink := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	var cycles [][]string

	var strongconnect func(v string)
	strongconnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, e := range g.Dependencies(v) {
			w := e.Provider
			if g.Node(w) == nil {
				continue
			}
			if _, seen := indices[w]; !seen {
				strongconnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] != indices[v] {
			return
		}
		var component []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			component = append(component, w)
			if w == v {
				break
			}
		}
		if len(component) > 1 || selfDependent(g, v) {
			sort.Strings(component)
			cycles = append(cycles, component)
		}
	}

	for _, id := range g.Nodes() {
		if _, seen := indices[id]; !seen {
			strongconnect(id)
		}
	}
	return cycles
}

func selfDependent(g *Graph, id string) bool {
	for _, e := range g.Dependencies(id) {
		if e.Provider == id {
			return true
		}
	}
	return false
}

// cyclePath returns the shortest path from id back to itself within the
// component, e.g. [a b c a]. Neighbours are explored in declared order.
func cyclePath(g *Graph, id string, component []string) []string {
	members := make(map[string]bool, len(component))
	for _, m := range component {
		members[m] = true
	}

	prev := map[string]string{}
	queue := []string{id}
	visited := map[string]bool{}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.Dependencies(cur) {
			next := e.Provider
			if !members[next] {
				continue
			}
			if next == id {
				path := []string{id}
				for n := cur; n != id; n = prev[n] {
					path = append(path, n)
				}
				// path is id followed by the walk back from cur; flip the tail
				slices.Reverse(path[1:])
				return append(path, id)
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			prev[next] = cur
			queue = append(queue, next)
		}
	}
	return []string{id, id}
}
