// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteError(w, http.StatusBadRequest, err)
//	httputil.WriteDetailedError(w, http.StatusConflict, httputil.ErrorResponse{
//		Error: err.Error(),
//		Kind:  "unload blocked",
//	})
//
// # Request Parsing
//
//	var args []any
//	if !httputil.ParseJSONOrError(w, r, &args) {
//		return // Error response already written
//	}
//	cascade, ok := httputil.ParseQueryBoolOrError(w, r, "cascade", false)
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.RecoveryMiddleware(log),
//		httputil.LoggingMiddleware(log),
//	)(router)
package httputil
