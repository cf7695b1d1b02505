package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/example/arctica/internal/comments"
	"github.com/example/arctica/internal/platform/analytics"
	"github.com/example/arctica/internal/platform/api"
	"github.com/example/arctica/internal/session"
	"github.com/example/arctica/services/gateway/internal/scope"
)

type loginRequest struct {
	AccessToken string `json:"access_token"`
}

type sessionResponse struct {
	LoggedIn  bool             `json:"logged_in"`
	Account   *comments.Author `json:"account,omitempty"`
	ExpiresAt string           `json:"expires_at,omitempty"`
}

func toSessionResponse(s *session.Session) sessionResponse {
	if s == nil {
		return sessionResponse{}
	}
	p := s.CurrentProfile()
	if p == nil {
		return sessionResponse{}
	}
	a := comments.Author{Address: p.Address}
	if p.Username != nil {
		a.Handle = p.Username.LocalName
	}
	if p.Metadata != nil {
		a.DisplayName = p.Metadata.Name
		a.Avatar = p.Metadata.Picture
	}
	resp := sessionResponse{LoggedIn: true, Account: &a}
	if exp := s.ExpiresAt(); !exp.IsZero() {
		resp.ExpiresAt = exp.UTC().Format(time.RFC3339)
	}
	return resp
}

// Login attaches a protocol session to the caller's scope.
func Login(reg *scope.Registry, ap *analytics.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, rid, ok := scopeFromRequest(w, r, reg)
		if !ok {
			return
		}
		var req loginRequest
		if !decodeJSON(w, r, rid, &req, false) {
			return
		}
		if strings.TrimSpace(req.AccessToken) == "" {
			api.BadRequest(w, "VALIDATION_ERROR", "access_token is required", rid, map[string]any{"access_token": "required"})
			return
		}

		sess, err := sc.Login(r.Context(), req.AccessToken)
		if err != nil {
			writeDomainError(w, rid, err)
			return
		}
		resp := toSessionResponse(sess)
		if resp.Account != nil {
			ap.Publish(analytics.SubjectSessionLoggedIn, "session_logged_in", sc.ID, map[string]any{
				"account": resp.Account.Address,
			})
		}
		api.WriteJSON(w, http.StatusOK, resp)
	}
}

func GetSession(reg *scope.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, _, ok := scopeFromRequest(w, r, reg)
		if !ok {
			return
		}
		api.WriteJSON(w, http.StatusOK, toSessionResponse(sc.Session()))
	}
}

func Logout(reg *scope.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, _, ok := scopeFromRequest(w, r, reg)
		if !ok {
			return
		}
		sc.Logout()
		w.WriteHeader(http.StatusNoContent)
	}
}
