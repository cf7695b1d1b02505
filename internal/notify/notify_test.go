package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecorder_DrainOnce(t *testing.T) {
	r := NewRecorder(0)
	r.Notify(context.Background(), Notice{Level: LevelError, Message: "a"})
	r.Notify(context.Background(), Notice{Level: LevelSuccess, Message: "b"})

	got := r.Drain()
	if len(got) != 2 || got[0].Message != "a" || got[1].Message != "b" {
		t.Fatalf("unexpected notices %+v", got)
	}
	if again := r.Drain(); len(again) != 0 {
		t.Fatalf("expected empty second drain, got %+v", again)
	}
}

func TestRecorder_DropsOldest(t *testing.T) {
	r := NewRecorder(2)
	for _, m := range []string{"1", "2", "3"} {
		r.Notify(context.Background(), Notice{Message: m})
	}
	got := r.Drain()
	if len(got) != 2 || got[0].Message != "2" || got[1].Message != "3" {
		t.Fatalf("unexpected notices %+v", got)
	}
}

func TestRecorder_DrainPost(t *testing.T) {
	r := NewRecorder(0)
	r.Notify(context.Background(), Notice{Message: "a", PostID: "p1"})
	r.Notify(context.Background(), Notice{Message: "b", PostID: "p2"})
	r.Notify(context.Background(), Notice{Message: "c", PostID: "p1"})

	got := r.DrainPost("p1")
	if len(got) != 2 || got[0].Message != "a" || got[1].Message != "c" {
		t.Fatalf("unexpected notices %+v", got)
	}
	if r.Len() != 1 {
		t.Fatalf("expected one remaining notice, got %d", r.Len())
	}
}

func TestRecorder_NilSafe(t *testing.T) {
	var r *Recorder
	r.Notify(context.Background(), Notice{Message: "x"})
	if len(r.Drain()) != 0 || r.Len() != 0 {
		t.Fatal("nil recorder must be empty")
	}
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	LogNotifier{Log: zap.New(core)}.Notify(context.Background(), Notice{Level: LevelError, Message: "Failed to add comment", PostID: "p1"})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Level != zap.WarnLevel {
		t.Fatalf("expected warn level, got %v", entries[0].Level)
	}
	if entries[0].ContextMap()["post_id"] != "p1" {
		t.Fatalf("expected post_id field, got %v", entries[0].ContextMap())
	}
	LogNotifier{}.Notify(context.Background(), Notice{})
}

type stubPublisher struct {
	subject string
	data    []byte
	err     error
}

func (s *stubPublisher) Publish(subject string, data []byte) error {
	s.subject = subject
	s.data = data
	return s.err
}

func TestNATSNotifier_Publishes(t *testing.T) {
	pub := &stubPublisher{}
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newNATSNotifier(pub, "scope-1", nil).Notify(context.Background(), Notice{Level: LevelSuccess, Message: "ok", At: at})

	if pub.subject != "arctica.notices.scope-1" {
		t.Fatalf("unexpected subject %q", pub.subject)
	}
	var got Notice
	if err := json.Unmarshal(pub.data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Message != "ok" || got.Level != LevelSuccess || !got.At.Equal(at) {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestNATSNotifier_PublishErrorIsSwallowed(t *testing.T) {
	newNATSNotifier(&stubPublisher{err: errors.New("down")}, "s", nil).Notify(context.Background(), Notice{Message: "x"})
}

func TestNATSNotifier_NilConn(t *testing.T) {
	if n := NewNATSNotifier(nil, "s", nil); n != nil {
		t.Fatal("expected nil notifier without a connection")
	}
	var n *NATSNotifier
	n.Notify(context.Background(), Notice{})
}

func TestCombine(t *testing.T) {
	a, b := NewRecorder(0), NewRecorder(0)
	var nilRecorder *Recorder
	var nilNATS *NATSNotifier
	n := Combine(a, nil, nilRecorder, nilNATS, b)
	n.Notify(context.Background(), Notice{Message: "x"})
	if a.Len() != 1 || b.Len() != 1 {
		t.Fatalf("expected fan out to both recorders, got %d and %d", a.Len(), b.Len())
	}

	if single := Combine(a); single != Notifier(a) {
		t.Fatal("expected single notifier to be returned as is")
	}
}
