package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinummonkey/axle/pkg/observability"
	"github.com/sirupsen/logrus"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestSafeGo_Success(t *testing.T) {
	executed := atomic.Bool{}

	done := SafeGo(context.Background(), quietLogger(), time.Second, "test task", func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})

	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !executed.Load() {
		t.Error("function did not execute")
	}
}

func TestSafeGo_ReturnsError(t *testing.T) {
	want := errors.New("boom")
	done := SafeGo(context.Background(), quietLogger(), 0, "test task", func(ctx context.Context) error {
		return want
	})

	if err := <-done; !errors.Is(err, want) {
		t.Errorf("got %v, want %v", err, want)
	}
	if _, open := <-done; open {
		t.Error("result channel should be closed")
	}
}

func TestSafeGo_Timeout(t *testing.T) {
	completed := atomic.Bool{}

	done := SafeGo(context.Background(), quietLogger(), 50*time.Millisecond, "test task", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			completed.Store(true)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if err := <-done; !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want deadline exceeded", err)
	}
	if completed.Load() {
		t.Error("function should have been cancelled by timeout")
	}
}

func TestSafeGo_PanicRecovery(t *testing.T) {
	done := SafeGo(context.Background(), quietLogger(), 0, "test task", func(ctx context.Context) error {
		panic("test panic")
	})

	err := <-done
	var pe *observability.PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("got %v, want a PanicError", err)
	}
	if pe.Value != "test panic" {
		t.Errorf("panic value = %v", pe.Value)
	}
}

func TestSafeGo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})

	done := SafeGo(ctx, quietLogger(), 0, "test task", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	<-started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want canceled", err)
	}
}

func TestSafeGoNoError(t *testing.T) {
	executed := atomic.Bool{}

	done := SafeGoNoError(context.Background(), quietLogger(), time.Second, "test task", func(ctx context.Context) {
		executed.Store(true)
	})

	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !executed.Load() {
		t.Error("SafeGoNoError did not execute function")
	}
}

func TestWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	log := quietLogger()

	ok := SafeGo(ctx, log, 0, "ok", func(ctx context.Context) error { return nil })
	cancelled := SafeGo(ctx, log, 0, "cancelled", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	failed := SafeGo(ctx, log, 0, "failed", func(ctx context.Context) error {
		return errors.New("failed")
	})

	cancel()
	err := Wait(ok, cancelled, failed)
	if err == nil || err.Error() != "failed" {
		t.Errorf("Wait() = %v, want only the task failure", err)
	}
}
