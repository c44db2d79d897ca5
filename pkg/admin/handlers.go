package admin

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/platinummonkey/axle/pkg/capabilities"
	"github.com/platinummonkey/axle/pkg/contextkeys"
	"github.com/platinummonkey/axle/pkg/events"
	"github.com/platinummonkey/axle/pkg/host"
	"github.com/platinummonkey/axle/pkg/httputil"
	"github.com/sirupsen/logrus"
)

// DiscoverResponse is returned by POST /api/v1/discover.
type DiscoverResponse struct {
	Discovery *host.DiscoveryReport `json:"discovery"`
	// Load is set when the request asked for ?load=true.
	Load *host.Report `json:"load,omitempty"`
}

// PublishResponse is returned by POST /api/v1/events/{name}.
type PublishResponse struct {
	Event         string   `json:"event"`
	Subscribers   int      `json:"subscribers"`
	HandlerErrors []string `json:"handler_errors,omitempty"`
}

// CapabilitiesResponse is returned by GET /api/v1/capabilities.
type CapabilitiesResponse struct {
	Capabilities []host.ProvidedCapability `json:"capabilities"`
	Links        []capabilities.Link       `json:"links"`
}

// listPlugins handles GET /api/v1/plugins
func (s *Server) listPlugins(w http.ResponseWriter, r *http.Request) {
	statuses := s.manager.List()

	if state := r.URL.Query().Get("state"); state != "" {
		filtered := make([]host.Status, 0, len(statuses))
		for _, st := range statuses {
			if string(st.State) == state {
				filtered = append(filtered, st)
			}
		}
		statuses = filtered
	}

	httputil.WriteSuccess(w, statuses)
}

// getPlugin handles GET /api/v1/plugins/{id}
func (s *Server) getPlugin(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	st, err := s.manager.Get(id)
	if err != nil {
		writePluginError(w, err)
		return
	}
	httputil.WriteSuccess(w, st)
}

// loadPlugin handles POST /api/v1/plugins/{id}/load
func (s *Server) loadPlugin(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := s.manager.Load(transitionContext(r), id); err != nil {
		s.logFailure(r, "load", id, err)
		writePluginError(w, err)
		return
	}
	s.writeStatus(w, id)
}

// unloadPlugin handles POST /api/v1/plugins/{id}/unload
func (s *Server) unloadPlugin(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	cascade, ok := httputil.ParseQueryBoolOrError(w, r, "cascade", false)
	if !ok {
		return
	}

	if err := s.manager.Unload(transitionContext(r), id, host.UnloadOptions{Cascade: cascade}); err != nil {
		s.logFailure(r, "unload", id, err)
		writePluginError(w, err)
		return
	}
	s.writeStatus(w, id)
}

// reloadPlugin handles POST /api/v1/plugins/{id}/reload
func (s *Server) reloadPlugin(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	cascade, ok := httputil.ParseQueryBoolOrError(w, r, "cascade", false)
	if !ok {
		return
	}

	if err := s.manager.Reload(transitionContext(r), id, host.UnloadOptions{Cascade: cascade}); err != nil {
		s.logFailure(r, "reload", id, err)
		writePluginError(w, err)
		return
	}
	s.writeStatus(w, id)
}

// discover handles POST /api/v1/discover
func (s *Server) discover(w http.ResponseWriter, r *http.Request) {
	load, ok := httputil.ParseQueryBoolOrError(w, r, "load", false)
	if !ok {
		return
	}

	ctx := transitionContext(r)
	report, err := s.manager.Discover(ctx)
	if err != nil {
		s.log.WithError(err).Error("Discovery failed")
		httputil.WriteInternalError(w, err)
		return
	}

	resp := DiscoverResponse{Discovery: report}
	if load {
		resp.Load = s.manager.LoadAll(ctx)
	}
	httputil.WriteSuccess(w, resp)
}

// publishEvent handles POST /api/v1/events/{name}
//
// The body is an optional JSON array of handler arguments. Handler failures
// do not fail the request; they are listed in the response.
func (s *Server) publishEvent(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}

	var args []any
	if err := httputil.ParseJSON(r, &args); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteBadRequest(w, "event arguments must be a JSON array: "+err.Error())
		return
	}

	resp := PublishResponse{
		Event:       name,
		Subscribers: len(s.manager.Subscriptions(name)),
	}
	if err := s.manager.Publish(r.Context(), name, args...); err != nil {
		if errors.Is(err, events.ErrInvalidEvent) {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		resp.HandlerErrors = handlerErrors(err)
	}
	httputil.WriteSuccess(w, resp)
}

// listSubscriptions handles GET /api/v1/events/{name}/subscriptions
func (s *Server) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}
	httputil.WriteSuccess(w, s.manager.Subscriptions(name))
}

// listCapabilities handles GET /api/v1/capabilities
func (s *Server) listCapabilities(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, CapabilitiesResponse{
		Capabilities: s.manager.Capabilities(),
		Links:        s.manager.Links(),
	})
}

func (s *Server) writeStatus(w http.ResponseWriter, id string) {
	st, err := s.manager.Get(id)
	if err != nil {
		writePluginError(w, err)
		return
	}
	httputil.WriteSuccess(w, st)
}

func (s *Server) logFailure(r *http.Request, op, id string, err error) {
	s.log.WithFields(logrus.Fields{
		"operation":  op,
		"plugin":     id,
		"request_id": contextkeys.GetRequestID(r.Context()),
	}).WithError(err).Warn("Plugin operation failed")
}

// transitionContext detaches a lifecycle transition from the client
// connection. A dropped request must not abort a load half way.
func transitionContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// handlerErrors flattens the joined error returned by Publish.
func handlerErrors(err error) []string {
	var out []string
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
