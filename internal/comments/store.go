// Package comments keeps the paginated comment list of one parent post and
// submits new comments to it.
package comments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/example/arctica/internal/lens"
	"github.com/example/arctica/internal/lens/metadata"
	"github.com/example/arctica/internal/notify"
	"github.com/example/arctica/internal/session"
)

// User-facing notice texts.
const (
	MsgLoadFailed      = "Failed to load comments"
	MsgLoginRequired   = "Please login to comment"
	MsgEmptyComment    = "Comment cannot be empty"
	MsgNotAllowed      = "You are not allowed to comment on this post"
	MsgSessionRequired = "Please login with Lens to comment"
	MsgAddFailed       = "Failed to add comment"
	MsgAdded           = "Comment added successfully!"
)

var (
	ErrNotLoggedIn     = errors.New("comments: no current profile")
	ErrEmptyContent    = errors.New("comments: content is empty")
	ErrNotAllowed      = errors.New("comments: commenting not allowed")
	ErrNoSessionClient = errors.New("comments: session client not available")
	ErrClosed          = errors.New("comments: store closed")
)

// optimisticTimeLayout matches the client clock format used for
// locally inserted comments: millisecond precision, UTC.
const optimisticTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Store holds the comment list of one parent post for the lifetime of a UI
// scope. All methods are safe for concurrent use. The session source is
// consulted on every call, so a source that changes identity (login, logout)
// is picked up without rebuilding the store.
//
// A fetch that is superseded by a newer one, or that completes after Close,
// never touches state.
type Store struct {
	src      session.Source
	opts     Options
	log      *zap.Logger
	notifier notify.Notifier

	lifetime context.Context
	shutdown context.CancelFunc

	mu          sync.Mutex
	comments    []Comment
	loading     bool
	errMsg      string
	cursor      string
	pagination  Pagination
	ops         *lens.PostOperations
	gen         uint64
	cancelFetch context.CancelFunc
	closed      bool
}

func New(src session.Source, opts Options) *Store {
	if len(opts.ReferenceTypes) == 0 {
		opts.ReferenceTypes = []lens.PostReferenceType{lens.ReferenceCommentOn}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return "temp-" + ulid.Make().String() }
	}
	lifetime, shutdown := context.WithCancel(context.Background())
	s := &Store{
		src:      src,
		opts:     opts,
		log:      opts.Logger.With(zap.String("post_id", opts.PostID)),
		notifier: opts.Notifier,
		lifetime: lifetime,
		shutdown: shutdown,
		comments: []Comment{},
		ops:      opts.Operations,
	}
	if opts.Metrics != nil {
		opts.Metrics.ActiveStores.Inc()
	}
	return s
}

func (s *Store) PostID() string { return s.opts.PostID }

// Mount loads the first page unless fetching is manual, the post id is
// empty or comments are already present.
func (s *Store) Mount(ctx context.Context) error {
	s.mu.Lock()
	skip := s.opts.ManualFetch || s.opts.PostID == "" || len(s.comments) > 0
	s.mu.Unlock()
	if skip {
		return nil
	}
	return s.Fetch(ctx, "")
}

// Refetch reloads the first page, replacing the list.
func (s *Store) Refetch(ctx context.Context) error {
	return s.Fetch(ctx, "")
}

// LoadMore fetches the next page. It does nothing unless more pages exist
// and no fetch is in flight.
func (s *Store) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	reader := s.reader()
	if s.closed || reader == nil || s.pagination != PageMore || s.cursor == "" || s.loading {
		s.mu.Unlock()
		return nil
	}
	cursor := s.cursor
	gen, fctx, done := s.beginFetchLocked(ctx, true)
	s.mu.Unlock()
	return s.runFetch(fctx, reader, gen, cursor, done)
}

// Fetch loads one page. An empty cursor loads the first page and replaces the
// list; otherwise the page is appended. It is a no-op without a read client.
// A new fetch supersedes any fetch still in flight.
func (s *Store) Fetch(ctx context.Context, cursor string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	reader := s.reader()
	if reader == nil {
		s.mu.Unlock()
		return nil
	}
	gen, fctx, done := s.beginFetchLocked(ctx, cursor != "")
	s.mu.Unlock()
	return s.runFetch(fctx, reader, gen, cursor, done)
}

func (s *Store) reader() lens.Reader {
	if s.src == nil {
		return nil
	}
	return s.src.Client()
}

// beginFetchLocked cancels the fetch in flight and marks a new one as
// current. The returned func releases the fetch context.
func (s *Store) beginFetchLocked(ctx context.Context, continuation bool) (uint64, context.Context, func()) {
	if s.cancelFetch != nil {
		s.cancelFetch()
	}
	s.gen++
	fctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.lifetime, cancel)
	s.cancelFetch = cancel
	s.loading = true
	if !continuation {
		s.errMsg = ""
	}
	return s.gen, fctx, func() {
		stop()
		cancel()
	}
}

func (s *Store) runFetch(ctx context.Context, reader lens.Reader, gen uint64, cursor string, done func()) error {
	defer done()
	continuation := cursor != ""
	mode := "initial"
	if continuation {
		mode = "more"
	}

	page, err := reader.FetchPostReferences(ctx, lens.FetchPostReferencesRequest{
		ReferencedPost: s.opts.PostID,
		ReferenceTypes: s.opts.ReferenceTypes,
		ByAuthors:      s.opts.ByAuthors,
		Cursor:         cursor,
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.observeFetch(mode, "dropped")
		return ErrClosed
	}
	if gen != s.gen {
		s.mu.Unlock()
		s.log.Debug("dropping superseded comments page", zap.String("mode", mode))
		s.observeFetch(mode, "dropped")
		return nil
	}
	s.loading = false
	s.cancelFetch = nil

	if err != nil {
		s.errMsg = err.Error()
		s.mu.Unlock()
		s.log.Warn("fetch comments failed", zap.String("mode", mode), zap.Error(err))
		s.observeFetch(mode, "error")
		s.notify(ctx, notify.LevelError, MsgLoadFailed)
		return fmt.Errorf("fetch comments: %w", err)
	}

	fetched := make([]Comment, 0, len(page.Items))
	for _, item := range page.Items {
		if item.Typename != lens.TypenamePost {
			continue
		}
		fetched = append(fetched, commentFromPost(item))
	}
	if continuation {
		s.comments = append(s.comments, fetched...)
	} else {
		s.comments = fetched
	}
	if next := page.PageInfo.Next; next != nil && *next != "" {
		s.cursor = *next
		s.pagination = PageMore
	} else {
		s.cursor = ""
		s.pagination = PageExhausted
	}
	total := len(s.comments)
	s.mu.Unlock()

	s.log.Debug("comments page loaded", zap.String("mode", mode), zap.Int("page", len(fetched)), zap.Int("total", total))
	s.observeFetch(mode, "ok")
	return nil
}

// Operations returns the permission descriptor the store currently uses.
func (s *Store) Operations() *lens.PostOperations {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ops
}

func (s *Store) SetOperations(ops *lens.PostOperations) {
	s.mu.Lock()
	s.ops = ops
	s.mu.Unlock()
}

// CanComment evaluates the store's current permission descriptor.
func (s *Store) CanComment() bool {
	return canComment(s.Operations(), s.log)
}

// Submit creates a comment on the parent post. On success the comment is
// prepended locally as an optimistic record.
func (s *Store) Submit(ctx context.Context, content string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	var profile *lens.Account
	var writer lens.Writer
	if s.src != nil {
		profile = s.src.CurrentProfile()
		writer = s.src.SessionClient()
	}
	if profile == nil {
		s.notify(ctx, notify.LevelError, MsgLoginRequired)
		return ErrNotLoggedIn
	}
	content = strings.TrimSpace(content)
	if content == "" {
		s.notify(ctx, notify.LevelError, MsgEmptyComment)
		return ErrEmptyContent
	}
	if !s.CanComment() {
		s.notify(ctx, notify.LevelError, MsgNotAllowed)
		return ErrNotAllowed
	}
	if writer == nil {
		s.notify(ctx, notify.LevelError, MsgSessionRequired)
		s.notify(ctx, notify.LevelError, MsgAddFailed)
		return ErrNoSessionClient
	}

	md, err := metadata.TextOnly(metadata.TextOnlyOptions{Content: content, Locale: metadata.DefaultLocale})
	if err != nil {
		return s.submitFailed(ctx, err)
	}
	uri, err := metadata.DataURI(md)
	if err != nil {
		return s.submitFailed(ctx, err)
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.lifetime, cancel)
	defer stop()

	receipt, err := writer.Post(sctx, lens.CreatePostRequest{
		ContentURI: uri,
		CommentOn:  &lens.ReferencingPost{Post: s.opts.PostID},
	})
	if err != nil {
		return s.submitFailed(ctx, err)
	}

	c := Comment{
		ID:         s.opts.NewID(),
		Content:    content,
		Author:     authorFromAccount(profile),
		Timestamp:  s.opts.Now().UTC().Format(optimisticTimeLayout),
		Likes:      0,
		Replies:    []Comment{},
		Optimistic: true,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.comments = append([]Comment{c}, s.comments...)
	s.mu.Unlock()

	s.log.Info("comment submitted", zap.String("temp_id", c.ID), zap.String("tx", receipt.Hash))
	if s.opts.Metrics != nil {
		s.opts.Metrics.OptimisticAdds.Inc()
	}
	s.notify(ctx, notify.LevelSuccess, MsgAdded)
	return nil
}

func (s *Store) submitFailed(ctx context.Context, err error) error {
	s.log.Error("add comment failed", zap.Error(err))
	s.notify(ctx, notify.LevelError, MsgAddFailed)
	return fmt.Errorf("add comment: %w", err)
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Comments:   cloneComments(s.comments),
		Loading:    s.loading,
		Error:      s.errMsg,
		Cursor:     s.cursor,
		Pagination: s.pagination,
		HasMore:    s.pagination == PageMore,
	}
}

// Close cancels in-flight work. Later calls return ErrClosed.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.loading = false
	s.cancelFetch = nil
	s.mu.Unlock()
	s.shutdown()
	if s.opts.Metrics != nil {
		s.opts.Metrics.ActiveStores.Dec()
	}
}

func (s *Store) notify(ctx context.Context, level notify.Level, msg string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, notify.Notice{Level: level, Message: msg, PostID: s.opts.PostID, At: s.opts.Now().UTC()})
}

func (s *Store) observeFetch(mode, outcome string) {
	if s.opts.Metrics == nil {
		return
	}
	s.opts.Metrics.StoreFetches.WithLabelValues(mode, outcome).Inc()
}
