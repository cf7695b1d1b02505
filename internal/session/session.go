// Package session holds the identity of a UI scope: the protocol clients it
// may use and the account it is logged in as.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/arctica/internal/lens"
)

var (
	ErrInvalidToken = errors.New("session: invalid access token")
	ErrExpiredToken = errors.New("session: access token expired")
	ErrNoAccount    = errors.New("session: access token is not logged in as an account")
)

// Source is what a comments store needs from the surrounding identity.
// Any method may return nil.
type Source interface {
	Client() lens.Reader
	SessionClient() lens.Writer
	CurrentProfile() *lens.Account
}

type anonymous struct {
	reader lens.Reader
}

// Anonymous returns a Source with read access only.
func Anonymous(reader lens.Reader) Source {
	return anonymous{reader: reader}
}

func (a anonymous) Client() lens.Reader         { return a.reader }
func (anonymous) SessionClient() lens.Writer    { return nil }
func (anonymous) CurrentProfile() *lens.Account { return nil }

// Session is a logged-in identity. It stops handing out the session client
// once closed.
type Session struct {
	reader  lens.Reader
	writer  lens.Writer
	profile lens.Account
	subject string
	expires time.Time

	mu     sync.RWMutex
	closed bool
}

func (s *Session) Client() lens.Reader {
	return s.reader
}

func (s *Session) SessionClient() lens.Writer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	return s.writer
}

// CurrentProfile returns a copy of the logged-in account, or nil once the
// session is closed.
func (s *Session) CurrentProfile() *lens.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	p := s.profile
	if p.Username != nil {
		u := *p.Username
		p.Username = &u
	}
	if p.Metadata != nil {
		m := *p.Metadata
		p.Metadata = &m
	}
	return &p
}

func (s *Session) Subject() string { return s.subject }

// ExpiresAt is zero when the token carries no expiry.
func (s *Session) ExpiresAt() time.Time { return s.expires }

func (s *Session) Expired(now time.Time) bool {
	return !s.expires.IsZero() && !now.Before(s.expires)
}

func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Manager logs UI scopes in and out of the protocol.
type Manager struct {
	reader lens.Reader
	dial   func(token string) lens.Writer
	log    *zap.Logger
	now    func() time.Time
}

type ManagerOption func(*Manager)

func WithLogger(log *zap.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithReader overrides the read client handed to anonymous and logged-in
// sources.
func WithReader(reader lens.Reader) ManagerOption {
	return func(m *Manager) { m.reader = reader }
}

// WithDialer overrides how access tokens become session clients.
func WithDialer(dial func(token string) lens.Writer) ManagerOption {
	return func(m *Manager) { m.dial = dial }
}

func NewManager(client *lens.Client, opts ...ManagerOption) *Manager {
	m := &Manager{
		log: zap.NewNop(),
		now: time.Now,
	}
	if client != nil {
		m.reader = client
		m.dial = func(token string) lens.Writer { return client.WithAccessToken(token) }
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Anonymous returns the read-only source for scopes that are not logged in.
func (m *Manager) Anonymous() Source {
	return Anonymous(m.reader)
}

// Login validates the access token locally and resolves the account it is
// logged in as. The protocol remains the verifier of the signature.
func (m *Manager) Login(ctx context.Context, accessToken string) (*Session, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, ErrInvalidToken
	}
	if m.dial == nil {
		return nil, errors.New("session: no protocol client configured")
	}
	claims, err := parseClaims(accessToken)
	if err != nil {
		return nil, err
	}
	now := m.now()
	var expires time.Time
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
		if !now.Before(expires) {
			return nil, ErrExpiredToken
		}
	}

	writer := m.dial(accessToken)
	account, err := writer.Me(ctx)
	if err != nil {
		if errors.Is(err, lens.ErrNotFound) {
			return nil, ErrNoAccount
		}
		return nil, fmt.Errorf("resolve account: %w", err)
	}
	if account == nil {
		return nil, ErrNoAccount
	}

	s := &Session{
		reader:  m.reader,
		writer:  writer,
		profile: *account,
		subject: claims.Subject,
		expires: expires,
	}
	m.log.Info("session logged in", zap.String("account", account.Address), zap.Time("expires_at", expires))
	return s, nil
}

func (m *Manager) Logout(s *Session) {
	if s == nil || s.Closed() {
		return
	}
	s.Close()
	m.log.Info("session logged out", zap.String("account", s.profile.Address))
}

func parseClaims(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}
