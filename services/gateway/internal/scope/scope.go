// Package scope tracks the UI scopes served by the gateway. A scope owns the
// identity of one browser tab and the comment stores it has mounted; closing
// the scope tears all of them down.
package scope

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/arctica/internal/comments"
	"github.com/example/arctica/internal/lens"
	"github.com/example/arctica/internal/notify"
	"github.com/example/arctica/internal/platform/metrics"
	"github.com/example/arctica/internal/session"
)

// Scope implements session.Source for its stores. Identity changes made by
// Login and Logout are seen by every mounted store.
type Scope struct {
	ID        string
	CreatedAt time.Time

	reader   lens.Reader
	manager  *session.Manager
	notices  *notify.Recorder
	notifier notify.Notifier
	metrics  *metrics.Registry
	log      *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastSeen time.Time
	sess     *session.Session
	stores   map[string]*comments.Store
	closed   bool
}

var _ session.Source = (*Scope)(nil)

func (s *Scope) Client() lens.Reader { return s.reader }

func (s *Scope) SessionClient() lens.Writer {
	sess := s.activeSession()
	if sess == nil {
		return nil
	}
	return sess.SessionClient()
}

func (s *Scope) CurrentProfile() *lens.Account {
	sess := s.activeSession()
	if sess == nil {
		return nil
	}
	return sess.CurrentProfile()
}

// Session returns the logged-in session, or nil when logged out or expired.
func (s *Scope) Session() *session.Session {
	return s.activeSession()
}

func (s *Scope) activeSession() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil || s.sess.Closed() || s.sess.Expired(s.now()) {
		return nil
	}
	return s.sess
}

func (s *Scope) touch() {
	s.mu.Lock()
	s.lastSeen = s.now()
	s.mu.Unlock()
}

func (s *Scope) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Login replaces the scope's session and refreshes the comment permissions of
// every mounted store.
func (s *Scope) Login(ctx context.Context, accessToken string) (*session.Session, error) {
	sess, err := s.manager.Login(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sess.Close()
		return nil, ErrClosed
	}
	prev := s.sess
	s.sess = sess
	stores := s.storesLocked()
	s.mu.Unlock()

	if prev != nil {
		s.manager.Logout(prev)
	}
	for _, st := range stores {
		s.LoadOperations(ctx, st)
	}
	return sess, nil
}

// Logout ends the session. Stores keep their lists but lose write access.
func (s *Scope) Logout() bool {
	s.mu.Lock()
	sess := s.sess
	s.sess = nil
	stores := s.storesLocked()
	s.mu.Unlock()
	if sess == nil {
		return false
	}
	s.manager.Logout(sess)
	for _, st := range stores {
		st.SetOperations(nil)
	}
	return true
}

// LoadOperations reads the logged-in operations of the store's post. Without
// a session, or when the read fails, the store is left unable to comment.
func (s *Scope) LoadOperations(ctx context.Context, st *comments.Store) {
	writer := s.SessionClient()
	if writer == nil {
		st.SetOperations(nil)
		return
	}
	post, err := writer.FetchPost(ctx, st.PostID())
	if err != nil {
		s.log.Warn("load post operations failed", zap.String("post_id", st.PostID()), zap.Error(err))
		st.SetOperations(nil)
		return
	}
	st.SetOperations(post.Operations)
}

// MountOptions are the caller-chosen store options.
type MountOptions struct {
	ReferenceTypes []lens.PostReferenceType
	ByAuthors      []string
	ManualFetch    bool
}

// Mount returns the store for postID, creating it if needed. created reports
// whether a new store was built; options are ignored for existing stores.
func (s *Scope) Mount(postID string, opts MountOptions) (st *comments.Store, created bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	if st, ok := s.stores[postID]; ok {
		return st, false, nil
	}
	st = comments.New(s, comments.Options{
		PostID:         postID,
		ReferenceTypes: opts.ReferenceTypes,
		ByAuthors:      opts.ByAuthors,
		ManualFetch:    opts.ManualFetch,
		Notifier:       s.notifier,
		Logger:         s.log,
		Metrics:        s.metrics,
		Now:            s.now,
	})
	s.stores[postID] = st
	return st, true, nil
}

func (s *Scope) Store(postID string) (*comments.Store, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stores[postID]
	return st, ok
}

// Unmount closes and forgets the store for postID.
func (s *Scope) Unmount(postID string) bool {
	s.mu.Lock()
	st, ok := s.stores[postID]
	delete(s.stores, postID)
	s.mu.Unlock()
	if ok {
		st.Close()
		s.notices.DrainPost(postID)
	}
	return ok
}

// Posts lists the mounted post ids in sorted order.
func (s *Scope) Posts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.stores))
	for id := range s.stores {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Notices drains the notices raised for postID.
func (s *Scope) Notices(postID string) []notify.Notice {
	return s.notices.DrainPost(postID)
}

func (s *Scope) storesLocked() []*comments.Store {
	out := make([]*comments.Store, 0, len(s.stores))
	for _, st := range s.stores {
		out = append(out, st)
	}
	return out
}

func (s *Scope) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sess := s.sess
	s.sess = nil
	stores := s.storesLocked()
	s.stores = map[string]*comments.Store{}
	s.mu.Unlock()

	for _, st := range stores {
		st.Close()
	}
	if sess != nil {
		s.manager.Logout(sess)
	}
}
