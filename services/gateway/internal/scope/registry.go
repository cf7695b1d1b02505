package scope

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/example/arctica/internal/comments"
	"github.com/example/arctica/internal/notify"
	"github.com/example/arctica/internal/platform/metrics"
	"github.com/example/arctica/internal/session"
)

var (
	ErrNotFound = errors.New("scope: not found")
	ErrClosed   = errors.New("scope: closed")
)

type Config struct {
	// IdleTTL is how long a scope may go unused before Reap closes it.
	IdleTTL        time.Duration
	NoticeCapacity int
}

// Registry owns every open scope. It is safe for concurrent use.
type Registry struct {
	manager *session.Manager
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Registry
	now     func() time.Time
	// sink adds per-scope notice destinations next to the recorder.
	sink func(scopeID string) notify.Notifier

	mu     sync.Mutex
	scopes map[string]*Scope
}

type Option func(*Registry)

func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) { r.log = log }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(r *Registry) { r.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithNoticeSink fans scope notices out to the notifier returned by sink.
func WithNoticeSink(sink func(scopeID string) notify.Notifier) Option {
	return func(r *Registry) { r.sink = sink }
}

func NewRegistry(manager *session.Manager, cfg Config, opts ...Option) *Registry {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	r := &Registry{
		manager: manager,
		cfg:     cfg,
		log:     zap.NewNop(),
		now:     time.Now,
		scopes:  make(map[string]*Scope),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Open creates a new anonymous scope.
func (r *Registry) Open() *Scope {
	now := r.now()
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	log := r.log.With(zap.String("scope_id", id))
	rec := notify.NewRecorder(r.cfg.NoticeCapacity)
	var extra notify.Notifier
	if r.sink != nil {
		extra = r.sink(id)
	}
	sc := &Scope{
		ID:        id,
		CreatedAt: now,
		reader:    r.manager.Anonymous().Client(),
		manager:   r.manager,
		notices:   rec,
		notifier:  notify.Combine(rec, notify.LogNotifier{Log: log}, extra),
		metrics:   r.metrics,
		log:       log,
		now:       r.now,
		lastSeen:  now,
		stores:    make(map[string]*comments.Store),
	}

	r.mu.Lock()
	r.scopes[id] = sc
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.ActiveScopes.Inc()
	}
	log.Info("scope opened")
	return sc
}

// Get returns the scope and marks it as used.
func (r *Registry) Get(id string) (*Scope, error) {
	r.mu.Lock()
	sc, ok := r.scopes[id]
	r.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	sc.touch()
	return sc, nil
}

// Close tears the scope down: every store is closed and the session ends.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	sc, ok := r.scopes[id]
	delete(r.scopes, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	sc.close()
	if r.metrics != nil {
		r.metrics.ActiveScopes.Dec()
	}
	sc.log.Info("scope closed")
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.scopes)
}

// Reap closes scopes idle for longer than the configured TTL and returns how
// many were closed.
func (r *Registry) Reap() int {
	cutoff := r.now().Add(-r.cfg.IdleTTL)
	r.mu.Lock()
	var idle []string
	for id, sc := range r.scopes {
		if sc.idleSince().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	r.mu.Unlock()

	n := 0
	for _, id := range idle {
		if err := r.Close(id); err == nil {
			n++
		}
	}
	if n > 0 {
		r.log.Info("reaped idle scopes", zap.Int("count", n))
	}
	return n
}

// Run reaps idle scopes every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Reap()
		}
	}
}

// CloseAll closes every scope. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.scopes))
	for id := range r.scopes {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		_ = r.Close(id)
	}
}
