package analytics

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPublisher_NilSafe(t *testing.T) {
	var p *Publisher
	if p.Enabled() {
		t.Fatal("nil publisher must be disabled")
	}
	p.Publish(SubjectCommentAdded, "comment_added", "scope-1", nil)

	New(nil, nil).Publish(SubjectCommentsLoaded, "comments_loaded", "scope-1", map[string]any{"count": 1})
}

func TestPublisher_Envelope(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	p := New(nil, zap.NewNop())
	p.now = func() time.Time { return fixed }

	ev := p.envelope("comment_added", "scope-1", map[string]any{"post_id": "0x01-0x01"})
	if ev.EventID == "" {
		t.Fatal("expected event id")
	}
	if !ev.OccurredAt.Equal(fixed) || ev.OccurredAt.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp, got %s", ev.OccurredAt)
	}
	if ev.ScopeID != "scope-1" || ev.Properties["post_id"] != "0x01-0x01" {
		t.Fatalf("unexpected envelope %+v", ev)
	}
}
