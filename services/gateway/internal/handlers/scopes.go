package handlers

import (
	"net/http"
	"time"

	"github.com/example/arctica/internal/platform/analytics"
	"github.com/example/arctica/internal/platform/api"
	"github.com/example/arctica/internal/platform/auth"
	"github.com/example/arctica/internal/platform/httpserver"
	"github.com/example/arctica/services/gateway/internal/scope"
)

type scopeResponse struct {
	ScopeID   string `json:"scope_id"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// OpenScope creates an anonymous UI scope and returns the token that
// addresses it.
func OpenScope(reg *scope.Registry, issuer auth.Issuer, ap *analytics.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		sc := reg.Open()
		token, exp, err := issuer.Issue(sc.ID, sc.CreatedAt)
		if err != nil {
			_ = reg.Close(sc.ID)
			api.Internal(w, rid)
			return
		}
		ap.Publish(analytics.SubjectScopeOpened, "scope_opened", sc.ID, nil)
		api.WriteJSON(w, http.StatusCreated, scopeResponse{
			ScopeID:   sc.ID,
			Token:     token,
			ExpiresAt: exp.UTC().Format(time.RFC3339),
		})
	}
}

// CloseScope tears the caller's scope down. onClose hooks run after the
// scope is gone.
func CloseScope(reg *scope.Registry, onClose ...func(scopeID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, rid, ok := scopeFromRequest(w, r, reg)
		if !ok {
			return
		}
		if err := reg.Close(sc.ID); err != nil {
			api.Unauthorized(w, "SCOPE_EXPIRED", "Scope is closed or expired", rid)
			return
		}
		for _, fn := range onClose {
			fn(sc.ID)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
