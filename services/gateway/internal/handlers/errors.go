package handlers

import (
	"errors"
	"net/http"

	"github.com/example/arctica/internal/comments"
	"github.com/example/arctica/internal/lens"
	"github.com/example/arctica/internal/platform/api"
	"github.com/example/arctica/internal/session"
	"github.com/example/arctica/services/gateway/internal/scope"
)

// writeDomainError maps store, session and protocol errors onto the API
// error envelope.
func writeDomainError(w http.ResponseWriter, requestID string, err error) {
	var pe *lens.ProtocolError
	switch {
	case errors.Is(err, comments.ErrNotLoggedIn):
		api.Unauthorized(w, "NOT_LOGGED_IN", comments.MsgLoginRequired, requestID)
	case errors.Is(err, comments.ErrEmptyContent):
		api.Unprocessable(w, "EMPTY_CONTENT", comments.MsgEmptyComment, requestID)
	case errors.Is(err, comments.ErrNotAllowed):
		api.Forbidden(w, "COMMENT_NOT_ALLOWED", comments.MsgNotAllowed, requestID)
	case errors.Is(err, comments.ErrNoSessionClient):
		api.Unprocessable(w, "SESSION_CLIENT_MISSING", comments.MsgSessionRequired, requestID)
	case errors.Is(err, comments.ErrClosed), errors.Is(err, scope.ErrClosed):
		api.NotFound(w, "STORE_CLOSED", "Comments are no longer mounted", requestID)
	case errors.Is(err, session.ErrInvalidToken):
		api.BadRequest(w, "INVALID_ACCESS_TOKEN", "Invalid access token", requestID, nil)
	case errors.Is(err, session.ErrExpiredToken):
		api.Unauthorized(w, "ACCESS_TOKEN_EXPIRED", "Access token expired", requestID)
	case errors.Is(err, session.ErrNoAccount):
		api.Forbidden(w, "NO_ACCOUNT", "Access token is not logged in as an account", requestID)
	case errors.Is(err, lens.ErrUnavailable):
		api.WriteError(w, http.StatusServiceUnavailable, "PROTOCOL_UNAVAILABLE", "Protocol API unavailable", requestID, nil)
	case errors.Is(err, lens.ErrNotFound):
		api.NotFound(w, "NOT_FOUND", "Not found", requestID)
	case errors.As(err, &pe):
		details := map[string]any{"operation": pe.Operation}
		if pe.Code != "" {
			details["code"] = pe.Code
		}
		api.WriteError(w, http.StatusBadGateway, "PROTOCOL_ERROR", pe.Message, requestID, details)
	default:
		api.BadGateway(w, "UPSTREAM_ERROR", "Upstream request failed", requestID)
	}
}
