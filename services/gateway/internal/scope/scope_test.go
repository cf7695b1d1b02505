package scope

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/example/arctica/internal/comments"
	"github.com/example/arctica/internal/lens"
	"github.com/example/arctica/internal/notify"
	"github.com/example/arctica/internal/platform/metrics"
	"github.com/example/arctica/internal/session"
)

// fakeLens serves every protocol call from memory.
type fakeLens struct {
	mu      sync.Mutex
	ops     map[string]*lens.PostOperations
	posted  int
	fetches int
}

func (f *fakeLens) FetchPostReferences(_ context.Context, req lens.FetchPostReferencesRequest) (*lens.PostReferencesPage, error) {
	f.mu.Lock()
	f.fetches++
	f.mu.Unlock()
	return &lens.PostReferencesPage{Items: []lens.Post{{Typename: lens.TypenamePost, ID: req.ReferencedPost + "-c1"}}}, nil
}

func (f *fakeLens) FetchPost(_ context.Context, id string) (*lens.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops, ok := f.ops[id]
	if !ok {
		return nil, lens.ErrNotFound
	}
	return &lens.Post{Typename: lens.TypenamePost, ID: id, Operations: ops}, nil
}

func (f *fakeLens) Me(context.Context) (*lens.Account, error) {
	return &lens.Account{Address: "0xme", Username: &lens.Username{LocalName: "me"}}, nil
}

func (f *fakeLens) Post(context.Context, lens.CreatePostRequest) (*lens.PostReceipt, error) {
	f.mu.Lock()
	f.posted++
	f.mu.Unlock()
	return &lens.PostReceipt{Hash: "0x1"}, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func passed() *lens.PostOperations {
	return &lens.PostOperations{ID: "op", CanComment: &lens.OperationValidation{Typename: lens.ValidationPassed}}
}

func token(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "0xsigner",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func newTestRegistry(fl *fakeLens, c *clock, opts ...Option) *Registry {
	mgr := session.NewManager(nil,
		session.WithReader(fl),
		session.WithClock(c.Now),
		session.WithDialer(func(string) lens.Writer { return fl }),
	)
	opts = append([]Option{WithClock(c.Now)}, opts...)
	return NewRegistry(mgr, Config{IdleTTL: 10 * time.Minute}, opts...)
}

func TestRegistry_OpenGetClose(t *testing.T) {
	c := &clock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := metrics.New()
	reg := newTestRegistry(&fakeLens{}, c, WithMetrics(m))

	sc := reg.Open()
	if sc.ID == "" {
		t.Fatal("expected scope id")
	}
	got, err := reg.Get(sc.ID)
	if err != nil || got != sc {
		t.Fatalf("expected same scope, got %v %v", got, err)
	}
	if v := metricValue(t, m.ActiveScopes); v != 1 {
		t.Fatalf("expected 1 active scope, got %v", v)
	}

	if err := reg.Close(sc.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := reg.Get(sc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := reg.Close(sc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double close, got %v", err)
	}
	if v := metricValue(t, m.ActiveScopes); v != 0 {
		t.Fatalf("expected 0 active scopes, got %v", v)
	}
}

func TestScope_MountIsKeyedByPost(t *testing.T) {
	c := &clock{now: time.Now()}
	reg := newTestRegistry(&fakeLens{}, c)
	sc := reg.Open()

	a, created, err := sc.Mount("0x01", MountOptions{})
	if err != nil || !created {
		t.Fatalf("expected new store, got created=%v err=%v", created, err)
	}
	b, created, _ := sc.Mount("0x01", MountOptions{ManualFetch: true})
	if created || a != b {
		t.Fatal("expected existing store for the same post")
	}
	other, created, _ := sc.Mount("0x02", MountOptions{})
	if !created || other == a {
		t.Fatal("expected a separate store per post")
	}
	if posts := sc.Posts(); len(posts) != 2 || posts[0] != "0x01" || posts[1] != "0x02" {
		t.Fatalf("unexpected posts %v", posts)
	}

	if !sc.Unmount("0x01") || sc.Unmount("0x01") {
		t.Fatal("expected single successful unmount")
	}
	if _, ok := sc.Store("0x01"); ok {
		t.Fatal("expected store to be gone")
	}
	if err := a.Fetch(context.Background(), ""); !errors.Is(err, comments.ErrClosed) {
		t.Fatalf("expected unmounted store to be closed, got %v", err)
	}
}

func TestScope_LoginGrantsWriteAccessToMountedStores(t *testing.T) {
	fl := &fakeLens{ops: map[string]*lens.PostOperations{"0x01": passed()}}
	c := &clock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	reg := newTestRegistry(fl, c)
	sc := reg.Open()

	st, _, _ := sc.Mount("0x01", MountOptions{})
	if err := st.Submit(context.Background(), "hi"); !errors.Is(err, comments.ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn before login, got %v", err)
	}

	if _, err := sc.Login(context.Background(), token(t, c.Now().Add(time.Hour))); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !st.CanComment() {
		t.Fatal("expected operations to be loaded on login")
	}
	if err := st.Submit(context.Background(), "hi"); err != nil {
		t.Fatalf("submit after login: %v", err)
	}
	if p := sc.CurrentProfile(); p == nil || p.Address != "0xme" {
		t.Fatalf("unexpected profile %+v", p)
	}

	if !sc.Logout() {
		t.Fatal("expected logout to end a session")
	}
	if sc.Logout() {
		t.Fatal("expected second logout to be a no-op")
	}
	if st.CanComment() {
		t.Fatal("expected operations to be cleared on logout")
	}
	if err := st.Submit(context.Background(), "again"); !errors.Is(err, comments.ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn after logout, got %v", err)
	}
}

func TestScope_ExpiredSessionIsLoggedOut(t *testing.T) {
	c := &clock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	reg := newTestRegistry(&fakeLens{}, c)
	sc := reg.Open()
	if _, err := sc.Login(context.Background(), token(t, c.Now().Add(time.Minute))); err != nil {
		t.Fatalf("login: %v", err)
	}
	c.Advance(2 * time.Minute)
	if sc.Session() != nil || sc.SessionClient() != nil || sc.CurrentProfile() != nil {
		t.Fatal("expected expired session to be ignored")
	}
}

func TestScope_LoadOperationsFailureDenies(t *testing.T) {
	fl := &fakeLens{ops: map[string]*lens.PostOperations{}}
	c := &clock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	sc := newTestRegistry(fl, c).Open()
	if _, err := sc.Login(context.Background(), token(t, c.Now().Add(time.Hour))); err != nil {
		t.Fatalf("login: %v", err)
	}
	st, _, _ := sc.Mount("missing", MountOptions{})
	st.SetOperations(passed())
	sc.LoadOperations(context.Background(), st)
	if st.CanComment() {
		t.Fatal("expected failed operations read to deny commenting")
	}
}

func TestScope_NoticesAreScopedToPost(t *testing.T) {
	fl := &fakeLens{}
	c := &clock{now: time.Now()}
	sink := notify.NewRecorder(0)
	reg := newTestRegistry(fl, c, WithNoticeSink(func(string) notify.Notifier { return sink }))
	sc := reg.Open()

	st, _, _ := sc.Mount("0x01", MountOptions{})
	_ = st.Submit(context.Background(), "hi")

	notices := sc.Notices("0x01")
	if len(notices) != 1 || notices[0].Message != comments.MsgLoginRequired {
		t.Fatalf("unexpected notices %+v", notices)
	}
	if len(sc.Notices("0x01")) != 0 {
		t.Fatal("expected notices to be drained once")
	}
	if sink.Len() != 1 {
		t.Fatalf("expected notice fan out to sink, got %d", sink.Len())
	}
}

func TestRegistry_ReapIdle(t *testing.T) {
	c := &clock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	reg := newTestRegistry(&fakeLens{}, c)
	idle := reg.Open()
	busy := reg.Open()
	st, _, _ := idle.Mount("0x01", MountOptions{})

	c.Advance(6 * time.Minute)
	if _, err := reg.Get(busy.ID); err != nil {
		t.Fatalf("get: %v", err)
	}
	c.Advance(6 * time.Minute)

	if n := reg.Reap(); n != 1 {
		t.Fatalf("expected 1 reaped scope, got %d", n)
	}
	if _, err := reg.Get(idle.ID); !errors.Is(err, ErrNotFound) {
		t.Fatal("expected idle scope to be gone")
	}
	if _, err := reg.Get(busy.ID); err != nil {
		t.Fatal("expected recently used scope to survive")
	}
	if err := st.Fetch(context.Background(), ""); !errors.Is(err, comments.ErrClosed) {
		t.Fatalf("expected reaped scope stores to be closed, got %v", err)
	}
	if _, _, err := idle.Mount("0x02", MountOptions{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed mounting on a closed scope, got %v", err)
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	reg := newTestRegistry(&fakeLens{}, &clock{now: time.Now()})
	reg.Open()
	reg.Open()
	reg.CloseAll()
	if reg.Len() != 0 {
		t.Fatalf("expected no scopes, got %d", reg.Len())
	}
}

func TestRegistry_RunStopsOnCancel(t *testing.T) {
	reg := newTestRegistry(&fakeLens{}, &clock{now: time.Now()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// metricValue reads the current value of a single-series counter or gauge.
func metricValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	close(ch)
	m, ok := <-ch
	if !ok {
		t.Fatal("collector produced no metric")
	}
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	switch {
	case pb.Counter != nil:
		return pb.Counter.GetValue()
	case pb.Gauge != nil:
		return pb.Gauge.GetValue()
	}
	t.Fatal("unsupported metric type")
	return 0
}
