package dependencies

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// GraphSource supplies the current graph and plugin states to the handlers.
type GraphSource interface {
	Graph() *Graph
	States() map[string]string
}

// GraphHandlers provides HTTP handlers for the dependency graph
type GraphHandlers struct {
	source GraphSource
}

// NewGraphHandlers creates new graph handlers
func NewGraphHandlers(source GraphSource) *GraphHandlers {
	return &GraphHandlers{source: source}
}

// RegisterRoutes registers graph routes
func (h *GraphHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/graph", h.getCytoscapeGraph).Methods("GET")
	router.HandleFunc("/api/v1/graph.dot", h.getDOTGraph).Methods("GET")
	router.HandleFunc("/api/v1/plugins/{id}/dependencies", h.getDependencies).Methods("GET")
	router.HandleFunc("/api/v1/plugins/{id}/dependents", h.getDependents).Methods("GET")
	router.HandleFunc("/api/v1/plugins/{id}/impact", h.getImpact).Methods("GET")
}

// getCytoscapeGraph handles GET /api/v1/graph
func (h *GraphHandlers) getCytoscapeGraph(w http.ResponseWriter, r *http.Request) {
	graph := h.source.Graph()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(graph.Cytoscape(h.source.States()))
}

// getDOTGraph handles GET /api/v1/graph.dot
func (h *GraphHandlers) getDOTGraph(w http.ResponseWriter, r *http.Request) {
	graph := h.source.Graph()

	w.Header().Set("Content-Type", "text/vnd.graphviz")
	w.Write([]byte(graph.DOT(h.source.States())))
}

// getDependencies handles GET /api/v1/plugins/{id}/dependencies
func (h *GraphHandlers) getDependencies(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	graph := h.source.Graph()
	if graph.Node(id) == nil {
		http.Error(w, "plugin not found: "+id, http.StatusNotFound)
		return
	}

	deps := graph.Dependencies(id)
	if deps == nil {
		deps = []Edge{}
	}
	transitive := graph.TransitiveDependencies(id)
	if transitive == nil {
		transitive = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"plugin":       id,
		"dependencies": deps,
		"transitive":   transitive,
		"count":        len(deps),
	})
}

// getDependents handles GET /api/v1/plugins/{id}/dependents
func (h *GraphHandlers) getDependents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	graph := h.source.Graph()
	if graph.Node(id) == nil {
		http.Error(w, "plugin not found: "+id, http.StatusNotFound)
		return
	}

	dependents := graph.Dependents(id)
	if dependents == nil {
		dependents = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"plugin":     id,
		"dependents": dependents,
		"count":      len(dependents),
	})
}

// getImpact handles GET /api/v1/plugins/{id}/impact
func (h *GraphHandlers) getImpact(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	graph := h.source.Graph()
	if graph.Node(id) == nil {
		http.Error(w, "plugin not found: "+id, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(graph.ImpactAnalysis(id))
}
