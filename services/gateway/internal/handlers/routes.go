package handlers

import (
	"github.com/go-chi/chi/v5"

	"github.com/example/arctica/internal/platform/analytics"
	"github.com/example/arctica/internal/platform/auth"
	gatewayhttp "github.com/example/arctica/services/gateway/internal/http"
	"github.com/example/arctica/services/gateway/internal/scope"
)

type Deps struct {
	Registry  *scope.Registry
	Verifier  auth.JWTVerifier
	Issuer    auth.Issuer
	Analytics *analytics.Publisher
	// Limiter is optional.
	Limiter *gatewayhttp.RateLimiter
}

// Routes registers the gateway API on r. SetupRouter must have run first.
func Routes(r chi.Router, d Deps) {
	r.Post("/v1/scopes", OpenScope(d.Registry, d.Issuer, d.Analytics))

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireScope(d.Verifier))
		var onClose []func(string)
		if d.Limiter != nil {
			r.Use(d.Limiter.Middleware)
			onClose = append(onClose, d.Limiter.Forget)
		}

		r.Delete("/v1/scope", CloseScope(d.Registry, onClose...))

		r.Post("/v1/session", Login(d.Registry, d.Analytics))
		r.Get("/v1/session", GetSession(d.Registry))
		r.Delete("/v1/session", Logout(d.Registry))

		r.Route("/v1/posts/{post_id}/comments", func(r chi.Router) {
			r.Put("/", MountComments(d.Registry, d.Analytics))
			r.Get("/", GetComments(d.Registry))
			r.Delete("/", UnmountComments(d.Registry))
			r.Post("/", SubmitComment(d.Registry, d.Analytics))
			r.Post("/refetch", RefetchComments(d.Registry, d.Analytics))
			r.Post("/more", LoadMoreComments(d.Registry, d.Analytics))
		})
	})
}
