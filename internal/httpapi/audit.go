package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"chatarra.io/internal/audit"
	"chatarra.io/internal/auth"
	"chatarra.io/internal/obs"
)

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// auditMutations records every mutating request before its handler runs.
// If the record cannot be written the request fails with 500 and the
// handler is skipped.
func (a *API) auditMutations(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isMutation(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		p, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			unauthorized(w, r, "authentication required")
			return
		}

		route := obs.RoutePattern(r)
		data, _ := json.Marshal(map[string]any{
			"requestId": RequestIDFromContext(r.Context()),
			"route":     route,
			"query":     r.URL.RawQuery,
		})
		if _, err := a.audit.Record(r.Context(), audit.Entry{
			SubjectID: p.SubjectID,
			Username:  p.Username,
			Action:    r.Method + " " + route,
			Method:    r.Method,
			Path:      r.URL.Path,
			Data:      data,
		}); err != nil {
			a.logger.Error("record request", zap.String("request_id", RequestIDFromContext(r.Context())), zap.Error(err))
			writeError(w, r, http.StatusInternalServerError, "audit unavailable")
			return
		}
		next.ServeHTTP(w, r)
	})
}
