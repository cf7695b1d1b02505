// Package lens is a small client for the Lens social protocol GraphQL API.
// It covers the operations the comments feature needs: reading post
// references, reading a post with its logged-in operations, resolving the
// logged-in account and creating comment posts.
package lens

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/Khan/genqlient/graphql"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/example/arctica/internal/platform/metrics"
)

const (
	MainnetEndpoint = "https://api.lens.xyz/graphql"
	TestnetEndpoint = "https://api.testnet.lens.xyz/graphql"

	defaultOrigin    = "https://arctica.vercel.app"
	defaultUserAgent = "arctica-gateway/1.0"

	maxResponseBytes = 2 << 20 // 2 MiB
	maxErrorBody     = 512
)

// EndpointFor maps the deployment environment to the protocol network.
func EndpointFor(environment string) string {
	if strings.EqualFold(strings.TrimSpace(environment), "development") {
		return TestnetEndpoint
	}
	return MainnetEndpoint
}

// Reader is the read-only protocol surface.
type Reader interface {
	FetchPostReferences(ctx context.Context, req FetchPostReferencesRequest) (*PostReferencesPage, error)
	FetchPost(ctx context.Context, postID string) (*Post, error)
}

// Writer is the authenticated protocol surface.
type Writer interface {
	Reader
	Me(ctx context.Context) (*Account, error)
	Post(ctx context.Context, req CreatePostRequest) (*PostReceipt, error)
}

var (
	_ Reader = (*Client)(nil)
	_ Writer = (*SessionClient)(nil)
)

// ClientConfig holds configurable settings for the protocol client.
type ClientConfig struct {
	Origin         string
	UserAgent      string
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// Client is the read-only protocol client. It is safe for concurrent use.
type Client struct {
	Endpoint   string
	HTTPClient *http.Client
	Config     ClientConfig
	CB         *gobreaker.CircuitBreaker
	Log        *zap.Logger
	Metrics    *metrics.Registry

	gql graphql.Client
}

// Option configures the Client.
type Option func(*Client)

func WithCircuitBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(c *Client) { c.CB = cb }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.Log = log }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(c *Client) { c.Metrics = m }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

func New(endpoint string, cfg ClientConfig, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = MainnetEndpoint
	}
	if cfg.Origin == "" {
		cfg.Origin = defaultOrigin
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 300 * time.Millisecond
	}
	c := &Client{
		Endpoint: endpoint,
		Config:   cfg,
		Log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	c.gql = graphql.NewClient(endpoint, &headerDoer{base: c.HTTPClient, origin: cfg.Origin, userAgent: cfg.UserAgent})
	return c
}

// NewBreaker builds the circuit breaker used in front of the protocol API.
// Protocol-reported errors and non-retryable HTTP statuses count as
// successes: the API answered.
func NewBreaker(name string, failureThreshold uint32, openTimeout time.Duration, log *zap.Logger) *gobreaker.CircuitBreaker {
	if failureThreshold == 0 {
		failureThreshold = 5
	}
	if log == nil {
		log = zap.NewNop()
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		IsSuccessful: func(err error) bool {
			return !retryable(err) || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit-breaker state change", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
}

// WithAccessToken returns a session client authenticated with the given
// protocol access token. The receiver is not modified.
func (c *Client) WithAccessToken(token string) *SessionClient {
	cp := *c
	cp.gql = graphql.NewClient(c.Endpoint, &headerDoer{
		base:      c.HTTPClient,
		origin:    c.Config.Origin,
		userAgent: c.Config.UserAgent,
		token:     strings.TrimSpace(token),
	})
	return &SessionClient{Client: &cp}
}

// FetchPostReferences reads one page of posts referencing a parent post.
func (c *Client) FetchPostReferences(ctx context.Context, req FetchPostReferencesRequest) (*PostReferencesPage, error) {
	if strings.TrimSpace(req.ReferencedPost) == "" {
		return nil, errors.New("lens: referenced post is required")
	}
	types := req.ReferenceTypes
	if len(types) == 0 {
		types = []PostReferenceType{ReferenceCommentOn}
	}
	request := map[string]any{
		"referencedPost": req.ReferencedPost,
		"referenceTypes": types,
	}
	if len(req.ByAuthors) > 0 {
		request["authors"] = req.ByAuthors
	}
	if req.Cursor != "" {
		request["cursor"] = req.Cursor
	}

	var out struct {
		PostReferences *PostReferencesPage `json:"postReferences"`
	}
	if err := c.execute(ctx, operation{name: "PostReferences", query: postReferencesQuery, read: true}, map[string]any{"request": request}, &out); err != nil {
		return nil, err
	}
	if out.PostReferences == nil {
		return &PostReferencesPage{}, nil
	}
	return out.PostReferences, nil
}

// FetchPost reads a single post. Operations are only populated when the
// call is made through a SessionClient.
func (c *Client) FetchPost(ctx context.Context, postID string) (*Post, error) {
	if strings.TrimSpace(postID) == "" {
		return nil, errors.New("lens: post id is required")
	}
	var out struct {
		Post *Post `json:"post"`
	}
	vars := map[string]any{"request": map[string]any{"post": postID}}
	if err := c.execute(ctx, operation{name: "Post", query: postQuery, read: true}, vars, &out); err != nil {
		return nil, err
	}
	if out.Post == nil || out.Post.Typename != TypenamePost {
		return nil, ErrNotFound
	}
	return out.Post, nil
}

// SessionClient is the authenticated protocol client.
type SessionClient struct {
	*Client
}

// Me resolves the account the access token is logged in as.
func (s *SessionClient) Me(ctx context.Context) (*Account, error) {
	var out struct {
		Me *struct {
			LoggedInAs *struct {
				Account *Account `json:"account"`
			} `json:"loggedInAs"`
		} `json:"me"`
	}
	if err := s.execute(ctx, operation{name: "Me", query: meQuery, read: true}, nil, &out); err != nil {
		return nil, err
	}
	if out.Me == nil || out.Me.LoggedInAs == nil || out.Me.LoggedInAs.Account == nil {
		return nil, ErrNotFound
	}
	return out.Me.LoggedInAs.Account, nil
}

// Post creates a post. Writes are never retried.
func (s *SessionClient) Post(ctx context.Context, req CreatePostRequest) (*PostReceipt, error) {
	if strings.TrimSpace(req.ContentURI) == "" {
		return nil, errors.New("lens: content uri is required")
	}
	var out struct {
		Post *struct {
			Typename string `json:"__typename"`
			Hash     string `json:"hash"`
			Reason   string `json:"reason"`
		} `json:"post"`
	}
	if err := s.execute(ctx, operation{name: "CreatePost", query: createPostMutation}, map[string]any{"request": req}, &out); err != nil {
		return nil, err
	}
	if out.Post == nil {
		return nil, &ProtocolError{Operation: "CreatePost", Message: "empty response"}
	}
	switch out.Post.Typename {
	case "PostResponse":
		return &PostReceipt{Hash: out.Post.Hash}, nil
	case "SponsoredTransactionRequest", "SelfFundedTransactionRequest":
		// Wallet signing lives outside this client.
		return nil, &ProtocolError{Operation: "CreatePost", Message: "transaction requires wallet signature", Code: out.Post.Typename}
	default:
		msg := out.Post.Reason
		if msg == "" {
			msg = "post rejected"
		}
		return nil, &ProtocolError{Operation: "CreatePost", Message: msg, Code: out.Post.Typename}
	}
}

type operation struct {
	name  string
	query string
	read  bool
}

func (c *Client) execute(ctx context.Context, op operation, vars any, out any) error {
	start := time.Now()
	err := c.withBreaker(ctx, op, vars, out)
	c.observe(op.name, start, err)
	return err
}

func (c *Client) withBreaker(ctx context.Context, op operation, vars any, out any) error {
	if c.CB == nil {
		return c.withRetry(ctx, op, vars, out)
	}
	_, err := c.CB.Execute(func() (interface{}, error) {
		return nil, c.withRetry(ctx, op, vars, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrUnavailable
	}
	return err
}

func (c *Client) withRetry(ctx context.Context, op operation, vars any, out any) error {
	attempts := 0
	if op.read {
		attempts = c.Config.MaxRetries
	}
	var lastErr error
	for attempt := 0; attempt <= attempts; attempt++ {
		if attempt > 0 {
			delay := c.Config.RetryBaseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			c.Log.Debug("retrying protocol request", zap.String("operation", op.name), zap.Int("attempt", attempt), zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		err := c.do(ctx, op, vars, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) || ctx.Err() != nil {
			return err
		}
		c.Log.Warn("protocol request failed", zap.String("operation", op.name), zap.Int("attempt", attempt), zap.Error(err))
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, op operation, vars any, out any) error {
	req := &graphql.Request{OpName: op.name, Query: op.query, Variables: vars}
	resp := &graphql.Response{Data: out}
	if err := c.gql.MakeRequest(ctx, req, resp); err != nil {
		return fromGraphQL(op.name, err)
	}
	return nil
}

func (c *Client) observe(op string, start time.Time, err error) {
	if c.Metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case IsProtocolError(err), errors.Is(err, ErrNotFound):
		outcome = "protocol_error"
	case errors.Is(err, ErrUnavailable):
		outcome = "unavailable"
	default:
		outcome = "error"
	}
	c.Metrics.ProtocolRequests.WithLabelValues(op, outcome).Inc()
	c.Metrics.ProtocolLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// headerDoer decorates outgoing GraphQL requests with the headers the
// protocol API expects from a browser app, plus the bearer token if any.
type headerDoer struct {
	base      *http.Client
	origin    string
	userAgent string
	token     string
}

func (d *headerDoer) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Origin", d.origin)
	req.Header.Set("User-Agent", d.userAgent)
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}
	resp, err := d.base.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	resp.Body = &limitedBody{rc: resp.Body, remaining: maxResponseBytes}
	return resp, nil
}

// limitedBody fails reads once more than remaining bytes have been read.
type limitedBody struct {
	rc        io.ReadCloser
	remaining int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		var one [1]byte
		n, err := b.rc.Read(one[:])
		if n > 0 {
			return 0, ErrResponseTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.rc.Read(p)
	b.remaining -= int64(n)
	return n, err
}

func (b *limitedBody) Close() error {
	return b.rc.Close()
}
