package dependencies

import (
	"reflect"
	"strings"
	"testing"

	"github.com/platinummonkey/axle/pkg/plugins"
)

func desc(id, version string, deps ...string) *plugins.Descriptor {
	d := &plugins.Descriptor{ID: id, Version: plugins.MustParseVersion(version)}
	for _, dep := range deps {
		target, rng, _ := strings.Cut(dep, "@")
		d.Dependencies = append(d.Dependencies, plugins.Dependency{
			PluginID: target,
			Range:    plugins.MustParseVersionRange(rng),
		})
	}
	return d
}

func TestGraph_Dependencies(t *testing.T) {
	graph := BuildGraph([]*plugins.Descriptor{
		desc("base", "1.0.0"),
		desc("common", "1.0.0", "base@1.x.x"),
		desc("user", "1.0.0", "common@1.x.x", "base@*"),
	})

	deps := graph.Dependencies("user")
	if len(deps) != 2 {
		t.Fatalf("Expected 2 dependencies, got %d", len(deps))
	}
	if deps[0].Provider != "common" || deps[1].Provider != "base" {
		t.Errorf("Expected declared order [common base], got %v", deps)
	}
	if deps[0].Kind != EdgeHard {
		t.Errorf("Expected hard edge, got %s", deps[0].Kind)
	}

	got := graph.TransitiveDependencies("user")
	if !reflect.DeepEqual(got, []string{"base", "common"}) {
		t.Errorf("Expected [base common], got %v", got)
	}
}

func TestGraph_Dependents(t *testing.T) {
	graph := BuildGraph([]*plugins.Descriptor{
		desc("base", "1.0.0"),
		desc("common", "1.0.0", "base@*"),
		desc("user", "1.0.0", "common@*"),
		desc("order", "1.0.0", "common@*", "base@*"),
	})

	if got := graph.Dependents("base"); !reflect.DeepEqual(got, []string{"common", "order"}) {
		t.Errorf("Expected [common order], got %v", got)
	}
	if got := graph.TransitiveDependents("base"); !reflect.DeepEqual(got, []string{"common", "order", "user"}) {
		t.Errorf("Expected [common order user], got %v", got)
	}
	if got := graph.Dependents("user"); len(got) != 0 {
		t.Errorf("Expected no dependents, got %v", got)
	}
}

func TestGraph_ImpactAnalysis(t *testing.T) {
	graph := BuildGraph([]*plugins.Descriptor{
		desc("base", "1.0.0"),
		desc("common", "1.0.0", "base@*"),
		desc("user", "1.0.0", "common@*"),
		desc("viewer", "1.0.0"),
	})
	graph.AddCapabilityEdge("viewer", "base", "store.inventory")
	graph.AddCapabilityEdge("viewer", "base", "store.inventory")

	impact := graph.ImpactAnalysis("base")
	if !reflect.DeepEqual(impact.DirectDependents, []string{"common"}) {
		t.Errorf("Expected direct [common], got %v", impact.DirectDependents)
	}
	if impact.TotalImpact != 2 {
		t.Errorf("Expected total impact 2, got %d", impact.TotalImpact)
	}
	if !reflect.DeepEqual(impact.CapabilityConsumers, []string{"viewer"}) {
		t.Errorf("Expected capability consumers [viewer], got %v", impact.CapabilityConsumers)
	}
	if len(graph.Edges()) != 3 {
		t.Errorf("Expected 3 edges, got %d", len(graph.Edges()))
	}
}

func TestGraph_UnloadOrder(t *testing.T) {
	graph := BuildGraph([]*plugins.Descriptor{
		desc("a", "1.0.0"),
		desc("b", "1.0.0", "a@*"),
		desc("c", "1.0.0", "b@*"),
		desc("d", "1.0.0", "a@*"),
	})

	order := graph.UnloadOrder([]string{"a", "b", "c", "d"})
	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	if len(order) != 4 {
		t.Fatalf("Expected 4 ids, got %v", order)
	}
	for _, e := range graph.Edges() {
		if pos[e.Consumer] > pos[e.Provider] {
			t.Errorf("%s must be unloaded before %s: %v", e.Consumer, e.Provider, order)
		}
	}
}

func TestGraph_MissingProviderEdgesKept(t *testing.T) {
	graph := BuildGraph([]*plugins.Descriptor{desc("user", "1.0.0", "ghost@1.x.x")})

	if graph.Node("ghost") != nil {
		t.Error("Expected no node for missing provider")
	}
	if got := graph.Dependents("ghost"); !reflect.DeepEqual(got, []string{"user"}) {
		t.Errorf("Expected [user], got %v", got)
	}
}

func TestGraph_DuplicateDescriptorFirstWins(t *testing.T) {
	first := desc("a", "1.0.0")
	graph := BuildGraph([]*plugins.Descriptor{first, desc("a", "2.0.0", "b@*"), desc("b", "1.0.0")})

	if graph.Node("a").Descriptor != first {
		t.Error("Expected first descriptor to win")
	}
	if len(graph.Dependencies("a")) != 0 {
		t.Error("Expected dependencies of the duplicate to be ignored")
	}
}
