package lens

// PostReferenceType classifies how one post relates to another.
type PostReferenceType string

const (
	ReferenceCommentOn PostReferenceType = "COMMENT_ON"
	ReferenceQuoteOf   PostReferenceType = "QUOTE_OF"
	ReferenceRepostOf  PostReferenceType = "REPOST_OF"
)

// ParseReferenceType accepts the protocol enum spelling only.
func ParseReferenceType(s string) (PostReferenceType, bool) {
	switch t := PostReferenceType(s); t {
	case ReferenceCommentOn, ReferenceQuoteOf, ReferenceRepostOf:
		return t, true
	}
	return "", false
}

// Typenames returned in the __typename field of union results.
const (
	TypenamePost   = "Post"
	TypenameRepost = "Repost"

	ValidationPassed  = "PostOperationValidationPassed"
	ValidationFailed  = "PostOperationValidationFailed"
	ValidationUnknown = "PostOperationValidationUnknown"
)

type Username struct {
	LocalName string `json:"localName"`
	Value     string `json:"value"`
}

type AccountMetadata struct {
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

type Account struct {
	Address  string           `json:"address"`
	Username *Username        `json:"username"`
	Metadata *AccountMetadata `json:"metadata"`
}

type PostContent struct {
	Typename string `json:"__typename"`
	Content  string `json:"content"`
}

type PostStats struct {
	Upvotes int `json:"upvotes"`
}

// Post is the subset of the protocol Post object this client reads.
// Repost items share the struct and only carry Typename and ID.
type Post struct {
	Typename   string          `json:"__typename"`
	ID         string          `json:"id"`
	Author     *Account        `json:"author"`
	Timestamp  string          `json:"timestamp"`
	Metadata   *PostContent    `json:"metadata"`
	Stats      *PostStats      `json:"stats"`
	Operations *PostOperations `json:"operations"`
}

type PageInfo struct {
	Prev *string `json:"prev"`
	Next *string `json:"next"`
}

type PostReferencesPage struct {
	Items    []Post   `json:"items"`
	PageInfo PageInfo `json:"pageInfo"`
}

type UnsatisfiedRule struct {
	Rule    string `json:"rule"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type UnsatisfiedRules struct {
	Required []UnsatisfiedRule `json:"required"`
	AnyOf    []UnsatisfiedRule `json:"anyOf"`
}

type ExtraCheck struct {
	Typename string `json:"__typename"`
	ID       string `json:"id"`
	Address  string `json:"address"`
}

// OperationValidation is the three-way permission union the protocol returns
// for a logged-in operation such as canComment.
type OperationValidation struct {
	Typename            string            `json:"__typename"`
	Reason              string            `json:"reason,omitempty"`
	UnsatisfiedRules    *UnsatisfiedRules `json:"unsatisfiedRules,omitempty"`
	ExtraChecksRequired []ExtraCheck      `json:"extraChecksRequired,omitempty"`
}

type PostOperations struct {
	ID         string               `json:"id"`
	CanComment *OperationValidation `json:"canComment"`
}

type FetchPostReferencesRequest struct {
	ReferencedPost string
	ReferenceTypes []PostReferenceType
	ByAuthors      []string
	Cursor         string
}

type ReferencingPost struct {
	Post string `json:"post"`
}

type CreatePostRequest struct {
	ContentURI string           `json:"contentUri"`
	CommentOn  *ReferencingPost `json:"commentOn,omitempty"`
}

// PostReceipt acknowledges a post submitted to the protocol.
type PostReceipt struct {
	Hash string `json:"hash"`
}
