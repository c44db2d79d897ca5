// Package dependencies resolves hard dependencies between plugin descriptors.
//
// # Overview
//
// Resolve builds a directed graph from each plugin's declared dependencies,
// rejects plugins whose dependencies cannot be satisfied and orders the rest
// so every plugin comes after its providers.
//
// # Rules
//
// Missing provider: ErrMissingDependency
// Provider outside the version range: ErrIncompatibleVersion
// Cycle (including self-dependency): ErrCircularDependency for every member, with the cycle path
// Dependents of a rejected plugin: rejected with the originating reason and dependency chain
//
// Load order is Kahn's algorithm with ascending-id tie-break, so it is
// reproducible for a given descriptor set. Levels group plugins that can be
// loaded concurrently.
//
// # Usage Example
//
//	res := dependencies.Resolve(descriptors)
//	for id, err := range res.Rejected {
//		log.Printf("%s: %v", id, err)
//	}
//	for _, level := range res.Levels {
//		// load every plugin of the level, then move on
//	}
//
// Impact analysis:
//
//	impact := res.Graph.ImpactAnalysis("com.example.db")
//	fmt.Printf("Plugins affected: %d\n", impact.TotalImpact)
//
// # Related Packages
//
//   - pkg/host: drives loading in resolved order
//   - pkg/admin: serves the graph as Cytoscape.js JSON and Graphviz DOT
package dependencies
