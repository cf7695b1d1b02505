package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/example/arctica/internal/platform/api"
	"github.com/example/arctica/internal/platform/auth"
	"github.com/example/arctica/internal/platform/httpserver"
	"github.com/example/arctica/services/gateway/internal/scope"
)

const maxRequestBodyBytes = 64 << 10 // 64 KiB

// decodeJSON reads up to maxRequestBodyBytes from r.Body and decodes JSON into dst.
// An empty body leaves dst untouched when optional is set.
// On failure it writes a 400 response and returns false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, rid string, dst *T, optional bool) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(dst)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	api.BadRequest(w, "INVALID_JSON", "Invalid JSON", rid, nil)
	return false
}

// scopeFromRequest resolves the scope named by the verified scope token.
func scopeFromRequest(w http.ResponseWriter, r *http.Request, reg *scope.Registry) (*scope.Scope, string, bool) {
	rid := httpserver.RequestIDFromContext(r.Context())
	id, ok := auth.ScopeIDFromContext(r.Context())
	if !ok || strings.TrimSpace(id) == "" {
		api.Unauthorized(w, "AUTH_MISSING", "Missing scope token", rid)
		return nil, rid, false
	}
	sc, err := reg.Get(id)
	if err != nil {
		api.Unauthorized(w, "SCOPE_EXPIRED", "Scope is closed or expired", rid)
		return nil, rid, false
	}
	return sc, rid, true
}

func postIDParam(w http.ResponseWriter, r *http.Request, rid string) (string, bool) {
	postID := strings.TrimSpace(chi.URLParam(r, "post_id"))
	if postID == "" {
		api.BadRequest(w, "MISSING_ID", "post_id is required", rid, nil)
		return "", false
	}
	return postID, true
}
