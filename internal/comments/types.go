package comments

import (
	"time"

	"go.uber.org/zap"

	"github.com/example/arctica/internal/lens"
	"github.com/example/arctica/internal/notify"
	"github.com/example/arctica/internal/platform/metrics"
)

// Author is a snapshot of the posting account taken when the comment was
// read or created. It is not refreshed.
type Author struct {
	Address     string `json:"address,omitempty"`
	Handle      string `json:"handle,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

type Comment struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Author    Author    `json:"author"`
	Timestamp string    `json:"timestamp"`
	Likes     int       `json:"likes"`
	Replies   []Comment `json:"replies"`
	// Optimistic is set on comments inserted locally after a submit. They are
	// never replaced by the authoritative record.
	Optimistic bool `json:"optimistic,omitempty"`
}

// Pagination tells apart a list that has not been fetched yet from one whose
// last page has been read.
type Pagination int

const (
	PageNotStarted Pagination = iota
	PageMore
	PageExhausted
)

func (p Pagination) String() string {
	switch p {
	case PageMore:
		return "more"
	case PageExhausted:
		return "exhausted"
	default:
		return "not_started"
	}
}

func (p Pagination) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// State is a point-in-time copy of a store.
type State struct {
	Comments   []Comment  `json:"comments"`
	Loading    bool       `json:"loading"`
	Error      string     `json:"error,omitempty"`
	Cursor     string     `json:"cursor,omitempty"`
	Pagination Pagination `json:"pagination"`
	HasMore    bool       `json:"has_more"`
}

// Options configure a store. Only PostID is required.
type Options struct {
	PostID         string
	ReferenceTypes []lens.PostReferenceType
	ByAuthors      []string
	// ManualFetch disables the first-page load in Mount.
	ManualFetch bool
	Operations  *lens.PostOperations

	Notifier notify.Notifier
	Logger   *zap.Logger
	Metrics  *metrics.Registry
	Now      func() time.Time
	NewID    func() string
}

func authorFromAccount(a *lens.Account) Author {
	if a == nil {
		return Author{}
	}
	out := Author{Address: a.Address}
	if a.Username != nil {
		out.Handle = a.Username.LocalName
	}
	if a.Metadata != nil {
		out.DisplayName = a.Metadata.Name
		out.Avatar = a.Metadata.Picture
	}
	return out
}

func commentFromPost(p lens.Post) Comment {
	c := Comment{
		ID:        p.ID,
		Author:    authorFromAccount(p.Author),
		Timestamp: p.Timestamp,
		Replies:   []Comment{},
	}
	if p.Metadata != nil {
		c.Content = p.Metadata.Content
	}
	if p.Stats != nil {
		c.Likes = p.Stats.Upvotes
	}
	return c
}

func cloneComments(in []Comment) []Comment {
	out := make([]Comment, len(in))
	for i, c := range in {
		c.Replies = []Comment{}
		out[i] = c
	}
	return out
}
