package admin

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/axle/pkg/httputil"
	"github.com/platinummonkey/axle/pkg/plugins"
)

// StatusCode maps a runtime error to the HTTP status the admin API returns for it.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, plugins.ErrPluginNotFound):
		return http.StatusNotFound
	case errors.Is(err, plugins.ErrUnloadBlocked),
		errors.Is(err, plugins.ErrLoadAborted),
		errors.Is(err, plugins.ErrNotLoaded),
		errors.Is(err, plugins.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, plugins.ErrMalformedDescriptor),
		errors.Is(err, plugins.ErrMissingDependency),
		errors.Is(err, plugins.ErrIncompatibleVersion),
		errors.Is(err, plugins.ErrCircularDependency),
		errors.Is(err, plugins.ErrUnsupportedPlatform),
		errors.Is(err, plugins.ErrMissingPackage),
		errors.Is(err, plugins.ErrFactoryNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, plugins.ErrDependencyFailed):
		return http.StatusFailedDependency
	default:
		// hook failures and anything unexpected
		return http.StatusInternalServerError
	}
}

// writePluginError writes err with its kind, plugin and propagation chain.
func writePluginError(w http.ResponseWriter, err error) {
	resp := httputil.ErrorResponse{Error: err.Error()}
	if kind := plugins.Kind(err); kind != nil {
		resp.Kind = kind.Error()
	}
	if pe, ok := plugins.AsPluginError(err); ok {
		resp.Plugin = pe.PluginID
		resp.Chain = pe.Chain
	}
	httputil.WriteDetailedError(w, StatusCode(err), resp)
}
