// Package notify delivers short-lived user notifications raised by the
// comments feature.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type Level string

const (
	LevelError   Level = "error"
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
)

type Notice struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	PostID  string    `json:"post_id,omitempty"`
	At      time.Time `json:"at"`
}

// Notifier receives notices. Implementations must not block the caller for
// long and must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

const defaultRecorderCapacity = 64

// Recorder buffers notices until the UI drains them. When full the oldest
// notice is dropped.
type Recorder struct {
	mu       sync.Mutex
	notices  []Notice
	capacity int
}

func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = defaultRecorderCapacity
	}
	return &Recorder{capacity: capacity}
}

func (r *Recorder) Notify(_ context.Context, n Notice) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capacity > 0 && len(r.notices) >= r.capacity {
		r.notices = r.notices[1:]
	}
	r.notices = append(r.notices, n)
}

// Drain returns the buffered notices and clears the buffer.
func (r *Recorder) Drain() []Notice {
	if r == nil {
		return []Notice{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.notices
	r.notices = nil
	if out == nil {
		out = []Notice{}
	}
	return out
}

// DrainPost returns and removes only the notices raised for postID.
func (r *Recorder) DrainPost(postID string) []Notice {
	if r == nil {
		return []Notice{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Notice{}
	kept := r.notices[:0]
	for _, n := range r.notices {
		if n.PostID == postID {
			out = append(out, n)
			continue
		}
		kept = append(kept, n)
	}
	r.notices = kept
	return out
}

func (r *Recorder) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notices)
}

// LogNotifier writes notices to a zap logger.
type LogNotifier struct {
	Log *zap.Logger
}

func (l LogNotifier) Notify(_ context.Context, n Notice) {
	if l.Log == nil {
		return
	}
	fields := []zap.Field{zap.String("level", string(n.Level)), zap.String("message", n.Message)}
	if n.PostID != "" {
		fields = append(fields, zap.String("post_id", n.PostID))
	}
	if n.Level == LevelError {
		l.Log.Warn("user notice", fields...)
		return
	}
	l.Log.Debug("user notice", fields...)
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes notices to arctica.notices.<scope> so other UI
// instances of the same scope can show them.
type NATSNotifier struct {
	pub     publisher
	subject string
	log     *zap.Logger
}

func SubjectFor(scopeID string) string {
	return "arctica.notices." + scopeID
}

// NewNATSNotifier returns nil when nc is nil.
func NewNATSNotifier(nc *nats.Conn, scopeID string, log *zap.Logger) *NATSNotifier {
	if nc == nil {
		return nil
	}
	return newNATSNotifier(nc, scopeID, log)
}

func newNATSNotifier(pub publisher, scopeID string, log *zap.Logger) *NATSNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &NATSNotifier{pub: pub, subject: SubjectFor(scopeID), log: log}
}

func (n *NATSNotifier) Notify(_ context.Context, notice Notice) {
	if n == nil || n.pub == nil {
		return
	}
	data, err := json.Marshal(notice)
	if err != nil {
		n.log.Warn("notify: marshal failed", zap.Error(err))
		return
	}
	if err := n.pub.Publish(n.subject, data); err != nil {
		n.log.Warn("notify: publish failed", zap.String("subject", n.subject), zap.Error(err))
	}
}

// Multi fans a notice out to every non-nil notifier.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notice) {
	for _, t := range m {
		if t != nil {
			t.Notify(ctx, n)
		}
	}
}

// Combine drops nil entries, including typed nil pointers of the notifiers
// defined here.
func Combine(ns ...Notifier) Notifier {
	out := make(Multi, 0, len(ns))
	for _, n := range ns {
		switch v := n.(type) {
		case nil:
			continue
		case *Recorder:
			if v == nil {
				continue
			}
		case *NATSNotifier:
			if v == nil {
				continue
			}
		}
		out = append(out, n)
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}
