package session

import (
	"context"
	"errors"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/example/arctica/internal/lens"
)

type stubWriter struct {
	account *lens.Account
	err     error
	token   string
}

func (s *stubWriter) FetchPostReferences(context.Context, lens.FetchPostReferencesRequest) (*lens.PostReferencesPage, error) {
	return &lens.PostReferencesPage{}, nil
}

func (s *stubWriter) FetchPost(context.Context, string) (*lens.Post, error) {
	return nil, lens.ErrNotFound
}

func (s *stubWriter) Me(context.Context) (*lens.Account, error) {
	return s.account, s.err
}

func (s *stubWriter) Post(context.Context, lens.CreatePostRequest) (*lens.PostReceipt, error) {
	return &lens.PostReceipt{Hash: "0x1"}, nil
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func makeToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: sub}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("protocol-key"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func newTestManager(w *stubWriter) *Manager {
	return NewManager(nil,
		WithClock(func() time.Time { return fixedNow }),
		WithDialer(func(token string) lens.Writer {
			w.token = token
			return w
		}),
	)
}

func TestLogin_ResolvesProfile(t *testing.T) {
	w := &stubWriter{account: &lens.Account{
		Address:  "0xabc",
		Username: &lens.Username{LocalName: "alice"},
		Metadata: &lens.AccountMetadata{Name: "Alice"},
	}}
	m := newTestManager(w)
	tok := makeToken(t, "0xsigner", fixedNow.Add(time.Hour))

	s, err := m.Login(context.Background(), tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.token != tok {
		t.Fatal("expected dialer to receive the access token")
	}
	if s.Subject() != "0xsigner" {
		t.Fatalf("unexpected subject %q", s.Subject())
	}
	if !s.ExpiresAt().Equal(fixedNow.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", s.ExpiresAt())
	}
	p := s.CurrentProfile()
	if p == nil || p.Address != "0xabc" || p.Username.LocalName != "alice" {
		t.Fatalf("unexpected profile %+v", p)
	}
	if s.SessionClient() == nil {
		t.Fatal("expected session client")
	}
}

func TestLogin_ProfileIsCopied(t *testing.T) {
	w := &stubWriter{account: &lens.Account{Address: "0xabc", Username: &lens.Username{LocalName: "alice"}}}
	s, err := newTestManager(w).Login(context.Background(), makeToken(t, "sub", time.Time{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := s.CurrentProfile()
	p.Username.LocalName = "mallory"
	if s.CurrentProfile().Username.LocalName != "alice" {
		t.Fatal("profile mutation leaked into session")
	}
}

func TestLogin_RejectsExpired(t *testing.T) {
	w := &stubWriter{account: &lens.Account{Address: "0xabc"}}
	_, err := newTestManager(w).Login(context.Background(), makeToken(t, "sub", fixedNow.Add(-time.Minute)))
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
	if w.token != "" {
		t.Fatal("expected no protocol call for an expired token")
	}
}

func TestLogin_RejectsMissingSubject(t *testing.T) {
	_, err := newTestManager(&stubWriter{}).Login(context.Background(), makeToken(t, "", fixedNow.Add(time.Hour)))
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestLogin_RejectsGarbage(t *testing.T) {
	m := newTestManager(&stubWriter{})
	for _, tok := range []string{"", "   ", "not-a-jwt"} {
		if _, err := m.Login(context.Background(), tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", tok, err)
		}
	}
}

func TestLogin_NoAccount(t *testing.T) {
	w := &stubWriter{err: lens.ErrNotFound}
	if _, err := newTestManager(w).Login(context.Background(), makeToken(t, "sub", time.Time{})); !errors.Is(err, ErrNoAccount) {
		t.Fatalf("expected ErrNoAccount, got %v", err)
	}
}

func TestLogin_ProtocolFailure(t *testing.T) {
	w := &stubWriter{err: &lens.ProtocolError{Operation: "Me", Message: "unauthorized"}}
	_, err := newTestManager(w).Login(context.Background(), makeToken(t, "sub", time.Time{}))
	if !lens.IsProtocolError(err) {
		t.Fatalf("expected wrapped protocol error, got %v", err)
	}
}

func TestLogout_RevokesCapabilities(t *testing.T) {
	w := &stubWriter{account: &lens.Account{Address: "0xabc"}}
	m := newTestManager(w)
	s, err := m.Login(context.Background(), makeToken(t, "sub", time.Time{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.Logout(s)
	if !s.Closed() {
		t.Fatal("expected closed session")
	}
	if s.SessionClient() != nil || s.CurrentProfile() != nil {
		t.Fatal("closed session must not expose identity")
	}
	m.Logout(s)
	m.Logout(nil)
}

func TestSession_Expired(t *testing.T) {
	s := &Session{expires: fixedNow}
	if s.Expired(fixedNow.Add(-time.Second)) {
		t.Fatal("not yet expired")
	}
	if !s.Expired(fixedNow) {
		t.Fatal("expected expired at deadline")
	}
	if (&Session{}).Expired(fixedNow) {
		t.Fatal("session without expiry never expires")
	}
}

func TestAnonymous(t *testing.T) {
	src := NewManager(nil).Anonymous()
	if src.Client() != nil || src.SessionClient() != nil || src.CurrentProfile() != nil {
		t.Fatal("anonymous source without a client exposes nothing")
	}
	w := &stubWriter{}
	src = Anonymous(w)
	if src.Client() == nil {
		t.Fatal("expected read client")
	}
	if src.SessionClient() != nil {
		t.Fatal("anonymous source must not expose a session client")
	}
}
