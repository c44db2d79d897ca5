package dependencies

import (
	"fmt"
	"strings"
)

// CytoscapeNode represents a node in Cytoscape.js format
type CytoscapeNode struct {
	Data CytoscapeNodeData `json:"data"`
}

// CytoscapeNodeData contains node data for Cytoscape.js
type CytoscapeNodeData struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	// State is filled in by the host (LOADED, INVALID, ...); "missing" marks
	// a dependency that no descriptor provides.
	State string `json:"state,omitempty"`
}

// CytoscapeEdge represents an edge in Cytoscape.js format
type CytoscapeEdge struct {
	Data CytoscapeEdgeData `json:"data"`
}

// CytoscapeEdgeData contains edge data for Cytoscape.js
type CytoscapeEdgeData struct {
	ID         string `json:"id"`
	Source     string `json:"source"`
	Target     string `json:"target"`
	Type       string `json:"type"` // "hard", "capability"
	Range      string `json:"range,omitempty"`
	Capability string `json:"capability,omitempty"`
}

// CytoscapeGraph represents the complete graph in Cytoscape.js format
type CytoscapeGraph struct {
	Nodes []CytoscapeNode `json:"nodes"`
	Edges []CytoscapeEdge `json:"edges"`
}

// Cytoscape converts the graph to Cytoscape.js JSON. states maps plugin ids
// to a display state and may be nil.
func (g *Graph) Cytoscape(states map[string]string) CytoscapeGraph {
	cytoGraph := CytoscapeGraph{
		Nodes: make([]CytoscapeNode, 0, len(g.nodes)),
		Edges: make([]CytoscapeEdge, 0),
	}

	for _, id := range g.Nodes() {
		node := g.nodes[id]
		name := id
		if node.Descriptor != nil && node.Descriptor.Name != "" {
			name = node.Descriptor.Name
		}
		cytoGraph.Nodes = append(cytoGraph.Nodes, CytoscapeNode{
			Data: CytoscapeNodeData{
				ID:      id,
				Name:    name,
				Version: node.Version.String(),
				State:   states[id],
			},
		})
	}

	missing := make(map[string]bool)
	for _, e := range g.Edges() {
		if g.nodes[e.Provider] == nil && !missing[e.Provider] {
			missing[e.Provider] = true
			cytoGraph.Nodes = append(cytoGraph.Nodes, CytoscapeNode{
				Data: CytoscapeNodeData{ID: e.Provider, Name: e.Provider, State: "missing"},
			})
		}

		edgeID := e.Consumer + "->" + e.Provider
		data := CytoscapeEdgeData{
			Source: e.Consumer,
			Target: e.Provider,
			Type:   string(e.Kind),
		}
		if e.Kind == EdgeCapability {
			edgeID += "#" + e.Capability
			data.Capability = e.Capability
		} else {
			data.Range = e.Range.String()
		}
		data.ID = edgeID
		cytoGraph.Edges = append(cytoGraph.Edges, CytoscapeEdge{Data: data})
	}

	return cytoGraph
}

// DOT renders the graph in Graphviz format. Capability edges are dashed and
// plugins in states are labelled with their state.
func (g *Graph) DOT(states map[string]string) string {
	var b strings.Builder
	b.WriteString("digraph plugins {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box];\n")

	for _, id := range g.Nodes() {
		label := fmt.Sprintf("%s\\n%s", id, g.nodes[id].Version)
		attrs := ""
		if state := states[id]; state != "" {
			label += "\\n" + state
			if state == "INVALID" {
				attrs = ", color=red"
			}
		}
		fmt.Fprintf(&b, "  %q [label=\"%s\"%s];\n", id, label, attrs)
	}

	for _, e := range g.Edges() {
		if e.Kind == EdgeCapability {
			fmt.Fprintf(&b, "  %q -> %q [style=dashed, label=%q];\n", e.Consumer, e.Provider, e.Capability)
			continue
		}
		if g.nodes[e.Provider] == nil {
			fmt.Fprintf(&b, "  %q [style=dotted];\n", e.Provider)
		}
		fmt.Fprintf(&b, "  %q -> %q [label=%q];\n", e.Consumer, e.Provider, e.Range.String())
	}

	b.WriteString("}\n")
	return b.String()
}
