package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/example/arctica/internal/comments"
	"github.com/example/arctica/internal/lens"
	"github.com/example/arctica/internal/notify"
	"github.com/example/arctica/internal/platform/analytics"
	"github.com/example/arctica/internal/platform/api"
	"github.com/example/arctica/services/gateway/internal/scope"
)

type mountRequest struct {
	ReferenceTypes []string `json:"reference_types"`
	Authors        []string `json:"authors"`
	ManualFetch    bool     `json:"manual_fetch"`
}

type refetchRequest struct {
	Cursor string `json:"cursor"`
}

type submitRequest struct {
	Content string `json:"content"`
}

// commentsView is what the UI renders for one mounted post.
type commentsView struct {
	PostID string `json:"post_id"`
	comments.State
	CanComment bool            `json:"can_comment"`
	Notices    []notify.Notice `json:"notices"`
}

func viewOf(sc *scope.Scope, st *comments.Store) commentsView {
	return commentsView{
		PostID:     st.PostID(),
		State:      st.Snapshot(),
		CanComment: st.CanComment(),
		Notices:    sc.Notices(st.PostID()),
	}
}

// detached keeps fetches alive when the browser navigates away mid-request;
// the store's own lifetime still cancels them on unmount.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// MountComments creates the store for a post, loads the caller's comment
// permissions and, unless fetching is manual, the first page.
func MountComments(reg *scope.Registry, ap *analytics.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, rid, ok := scopeFromRequest(w, r, reg)
		if !ok {
			return
		}
		postID, ok := postIDParam(w, r, rid)
		if !ok {
			return
		}
		var req mountRequest
		if !decodeJSON(w, r, rid, &req, true) {
			return
		}

		opts := scope.MountOptions{ManualFetch: req.ManualFetch}
		for _, raw := range req.ReferenceTypes {
			rt, ok := lens.ParseReferenceType(strings.TrimSpace(raw))
			if !ok {
				api.BadRequest(w, "VALIDATION_ERROR", "unknown reference type", rid, map[string]any{"reference_types": raw})
				return
			}
			opts.ReferenceTypes = append(opts.ReferenceTypes, rt)
		}
		for _, a := range req.Authors {
			if a = strings.TrimSpace(a); a != "" {
				opts.ByAuthors = append(opts.ByAuthors, a)
			}
		}

		st, created, err := sc.Mount(postID, opts)
		if err != nil {
			writeDomainError(w, rid, err)
			return
		}
		if !created {
			api.WriteJSON(w, http.StatusOK, viewOf(sc, st))
			return
		}

		ctx := detached(r)
		sc.LoadOperations(ctx, st)
		if err := st.Mount(ctx); err == nil && !req.ManualFetch {
			publishLoaded(ap, sc.ID, postID, "initial", st)
		}
		api.WriteJSON(w, http.StatusCreated, viewOf(sc, st))
	}
}

func GetComments(reg *scope.Registry) http.HandlerFunc {
	return withStore(reg, func(w http.ResponseWriter, r *http.Request, sc *scope.Scope, st *comments.Store, _ string) {
		api.WriteJSON(w, http.StatusOK, viewOf(sc, st))
	})
}

// RefetchComments reloads the first page, or the page at the given cursor.
// Load failures are reported through the view's error field and notices.
func RefetchComments(reg *scope.Registry, ap *analytics.Publisher) http.HandlerFunc {
	return withStore(reg, func(w http.ResponseWriter, r *http.Request, sc *scope.Scope, st *comments.Store, rid string) {
		var req refetchRequest
		if !decodeJSON(w, r, rid, &req, true) {
			return
		}
		cursor := strings.TrimSpace(req.Cursor)
		if err := st.Fetch(detached(r), cursor); err != nil {
			if isClosed(err) {
				writeDomainError(w, rid, err)
				return
			}
		} else {
			mode := "initial"
			if cursor != "" {
				mode = "more"
			}
			publishLoaded(ap, sc.ID, st.PostID(), mode, st)
		}
		api.WriteJSON(w, http.StatusOK, viewOf(sc, st))
	})
}

func LoadMoreComments(reg *scope.Registry, ap *analytics.Publisher) http.HandlerFunc {
	return withStore(reg, func(w http.ResponseWriter, r *http.Request, sc *scope.Scope, st *comments.Store, rid string) {
		before := st.Snapshot()
		if err := st.LoadMore(detached(r)); err != nil {
			if isClosed(err) {
				writeDomainError(w, rid, err)
				return
			}
		} else if before.HasMore && !before.Loading {
			publishLoaded(ap, sc.ID, st.PostID(), "more", st)
		}
		api.WriteJSON(w, http.StatusOK, viewOf(sc, st))
	})
}

func SubmitComment(reg *scope.Registry, ap *analytics.Publisher) http.HandlerFunc {
	return withStore(reg, func(w http.ResponseWriter, r *http.Request, sc *scope.Scope, st *comments.Store, rid string) {
		var req submitRequest
		if !decodeJSON(w, r, rid, &req, false) {
			return
		}
		if err := st.Submit(detached(r), req.Content); err != nil {
			writeDomainError(w, rid, err)
			return
		}
		ap.Publish(analytics.SubjectCommentAdded, "comment_added", sc.ID, map[string]any{
			"post_id": st.PostID(),
			"length":  len(strings.TrimSpace(req.Content)),
		})
		api.WriteJSON(w, http.StatusCreated, viewOf(sc, st))
	})
}

func UnmountComments(reg *scope.Registry) http.HandlerFunc {
	return withStore(reg, func(w http.ResponseWriter, _ *http.Request, sc *scope.Scope, st *comments.Store, _ string) {
		sc.Unmount(st.PostID())
		w.WriteHeader(http.StatusNoContent)
	})
}

type storeHandler func(w http.ResponseWriter, r *http.Request, sc *scope.Scope, st *comments.Store, rid string)

// withStore resolves the scope and the mounted store for the post_id path
// parameter before calling h.
func withStore(reg *scope.Registry, h storeHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, rid, ok := scopeFromRequest(w, r, reg)
		if !ok {
			return
		}
		postID, ok := postIDParam(w, r, rid)
		if !ok {
			return
		}
		st, ok := sc.Store(postID)
		if !ok {
			api.NotFound(w, "STORE_NOT_MOUNTED", "Comments for this post are not mounted", rid)
			return
		}
		h(w, r, sc, st, rid)
	}
}

func isClosed(err error) bool {
	return errors.Is(err, comments.ErrClosed)
}

func publishLoaded(ap *analytics.Publisher, scopeID, postID, mode string, st *comments.Store) {
	if !ap.Enabled() {
		return
	}
	snap := st.Snapshot()
	ap.Publish(analytics.SubjectCommentsLoaded, "comments_loaded", scopeID, map[string]any{
		"post_id":  postID,
		"mode":     mode,
		"count":    len(snap.Comments),
		"has_more": snap.HasMore,
	})
}
