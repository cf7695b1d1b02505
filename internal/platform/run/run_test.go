package run

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRun_ExitCodes(t *testing.T) {
	r := New(zap.NewNop())

	if code := r.Run(context.Background(), func(context.Context) error { return nil }); code != 0 {
		t.Fatalf("expected 0 for nil error, got %d", code)
	}
	if code := r.Run(context.Background(), func(context.Context) error { return http.ErrServerClosed }); code != 0 {
		t.Fatalf("expected 0 for ErrServerClosed, got %d", code)
	}
	if code := r.Run(context.Background(), func(context.Context) error { return errors.New("boom") }); code != 1 {
		t.Fatalf("expected 1 for failure, got %d", code)
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	r := New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code := r.Run(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return errors.New("late")
	})
	if code != 0 {
		t.Fatalf("expected 0 on cancellation, got %d", code)
	}
}

func TestGraceful_UsesDeadline(t *testing.T) {
	r := New(zap.NewNop())
	r.ShutdownTimeout = time.Second

	var hasDeadline bool
	r.Graceful("test", func(ctx context.Context) error {
		_, hasDeadline = ctx.Deadline()
		return nil
	})
	if !hasDeadline {
		t.Fatal("expected shutdown context with deadline")
	}
}
