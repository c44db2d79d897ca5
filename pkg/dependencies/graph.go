package dependencies

import (
	"slices"
	"sort"

	"github.com/platinummonkey/axle/pkg/plugins"
)

// EdgeKind distinguishes declared dependencies from live capability wiring.
type EdgeKind string

const (
	// EdgeHard is a declared plugin-to-plugin dependency.
	EdgeHard EdgeKind = "hard"
	// EdgeCapability links a consumer to a provider of a capability it allows.
	EdgeCapability EdgeKind = "capability"
)

// Edge points from a consumer to the provider it needs.
type Edge struct {
	Consumer   string               `json:"consumer"`
	Provider   string               `json:"provider"`
	Range      plugins.VersionRange `json:"version_range,omitempty"`
	Capability string               `json:"capability,omitempty"`
	Kind       EdgeKind             `json:"kind"`
}

// Node is a plugin in the graph.
type Node struct {
	ID         string
	Version    plugins.Version
	Descriptor *plugins.Descriptor
}

// Graph is the dependency graph over a set of descriptors. A Graph is not
// safe for concurrent mutation; the host builds a fresh one per query.
type Graph struct {
	nodes map[string]*Node
	out   map[string][]Edge // consumer -> edges
	in    map[string][]Edge // provider -> edges
}

// NewGraph creates an empty graph
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		out:   make(map[string][]Edge),
		in:    make(map[string][]Edge),
	}
}

// BuildGraph creates a graph with one node per descriptor and one hard edge
// per declared dependency. Edges to absent providers are kept so dependents
// of a missing plugin can be listed. The first descriptor wins on duplicate ids.
func BuildGraph(descriptors []*plugins.Descriptor) *Graph {
	g := NewGraph()
	for _, d := range descriptors {
		if d == nil {
			continue
		}
		if _, exists := g.nodes[d.ID]; exists {
			continue
		}
		g.AddNode(d)
	}
	for _, d := range descriptors {
		if d == nil || g.nodes[d.ID].Descriptor != d {
			continue
		}
		for _, dep := range d.Dependencies {
			g.addEdge(Edge{
				Consumer: d.ID,
				Provider: dep.PluginID,
				Range:    dep.Range,
				Kind:     EdgeHard,
			})
		}
	}
	return g
}

// AddNode adds a node to the graph
func (g *Graph) AddNode(d *plugins.Descriptor) {
	g.nodes[d.ID] = &Node{ID: d.ID, Version: d.Version, Descriptor: d}
}

// AddCapabilityEdge records that consumer is wired to provider through capability.
func (g *Graph) AddCapabilityEdge(consumer, provider, capability string) {
	for _, e := range g.out[consumer] {
		if e.Kind == EdgeCapability && e.Provider == provider && e.Capability == capability {
			return
		}
	}
	g.addEdge(Edge{
		Consumer:   consumer,
		Provider:   provider,
		Capability: capability,
		Kind:       EdgeCapability,
	})
}

func (g *Graph) addEdge(e Edge) {
	g.out[e.Consumer] = append(g.out[e.Consumer], e)
	g.in[e.Provider] = append(g.in[e.Provider], e)
}

// Node returns the node for id, or nil.
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// Nodes returns all node ids in ascending order.
func (g *Graph) Nodes() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Edges returns every edge ordered by consumer, kind, provider and capability.
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for _, es := range g.out {
		edges = append(edges, es...)
	}
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.Consumer != b.Consumer {
			return a.Consumer < b.Consumer
		}
		if a.Kind != b.Kind {
			return a.Kind > b.Kind // hard before capability
		}
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		return a.Capability < b.Capability
	})
	return edges
}

// Dependencies returns the hard dependency edges of id in declared order.
func (g *Graph) Dependencies(id string) []Edge {
	var deps []Edge
	for _, e := range g.out[id] {
		if e.Kind == EdgeHard {
			deps = append(deps, e)
		}
	}
	return deps
}

// Dependents returns the ids that hard-depend on id, ascending.
func (g *Graph) Dependents(id string) []string {
	var ids []string
	for _, e := range g.in[id] {
		if e.Kind == EdgeHard && !slices.Contains(ids, e.Consumer) {
			ids = append(ids, e.Consumer)
		}
	}
	sort.Strings(ids)
	return ids
}

// TransitiveDependencies returns every id id reaches through hard edges, ascending.
func (g *Graph) TransitiveDependencies(id string) []string {
	return g.reach(id, func(n string) []string {
		var ids []string
		for _, e := range g.Dependencies(n) {
			ids = append(ids, e.Provider)
		}
		return ids
	})
}

// TransitiveDependents returns every id that reaches id through hard edges, ascending.
func (g *Graph) TransitiveDependents(id string) []string {
	return g.reach(id, g.Dependents)
}

func (g *Graph) reach(start string, next func(string) []string) []string {
	visited := map[string]bool{start: true}
	queue := []string{start}
	var result []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range next(cur) {
			if visited[n] {
				continue
			}
			visited[n] = true
			result = append(result, n)
			queue = append(queue, n)
		}
	}
	sort.Strings(result)
	return result
}

// ImpactAnalysis represents what unloading or changing a plugin affects
type ImpactAnalysis struct {
	Plugin               string   `json:"plugin"`
	DirectDependents     []string `json:"direct_dependents"`
	TransitiveDependents []string `json:"transitive_dependents"`
	CapabilityConsumers  []string `json:"capability_consumers,omitempty"`
	TotalImpact          int      `json:"total_impact"`
}

// ImpactAnalysis returns the plugins affected by changes to id.
func (g *Graph) ImpactAnalysis(id string) *ImpactAnalysis {
	direct := g.Dependents(id)
	transitive := g.TransitiveDependents(id)

	var consumers []string
	for _, e := range g.in[id] {
		if e.Kind == EdgeCapability && !slices.Contains(consumers, e.Consumer) {
			consumers = append(consumers, e.Consumer)
		}
	}
	sort.Strings(consumers)

	return &ImpactAnalysis{
		Plugin:               id,
		DirectDependents:     direct,
		TransitiveDependents: transitive,
		CapabilityConsumers:  consumers,
		TotalImpact:          len(transitive),
	}
}

// UnloadOrder returns ids arranged so every plugin comes before the plugins
// it hard-depends on: the reverse of a load order.
func (g *Graph) UnloadOrder(ids []string) []string {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}

	order := make([]string, 0, len(ids))
	visited := make(map[string]bool, len(ids))
	var visit func(string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, dep := range g.Dependents(id) {
			if set[dep] {
				visit(dep)
			}
		}
		order = append(order, id)
	}

	sorted := slices.Clone(ids)
	sort.Strings(sorted)
	for _, id := range sorted {
		visit(id)
	}
	return order
}
