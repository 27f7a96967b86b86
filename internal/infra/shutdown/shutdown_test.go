package shutdown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"syscall"
	"testing"
	"time"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitAsync(h *Handler, ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- h.Wait(ctx) }()
	return errCh
}

func TestHandler_ReverseOrder(t *testing.T) {
	h := NewHandler(5*time.Second, quiet())

	var (
		mu    sync.Mutex
		order []string
	)
	for _, name := range []string{"storage", "participant", "admin"} {
		name := name
		h.OnShutdown(name, func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		})
	}

	errCh := waitAsync(h, context.Background())
	h.Trigger("test")

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not return")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"admin", "participant", "storage"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	select {
	case <-h.Done():
	default:
		t.Error("Done() not closed")
	}
}

func TestHandler_Signal(t *testing.T) {
	h := NewHandler(time.Second, quiet())
	called := make(chan struct{}, 1)
	h.OnShutdownFunc("closer", func() error {
		called <- struct{}{}
		return nil
	})

	errCh := waitAsync(h, context.Background())
	time.Sleep(50 * time.Millisecond)
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not return after SIGTERM")
	}
	select {
	case <-called:
	default:
		t.Error("hook not called")
	}
}

func TestHandler_ErrorsJoined(t *testing.T) {
	h := NewHandler(time.Second, quiet())
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	ran := 0
	h.OnShutdown("a", func(context.Context) error { ran++; return errA })
	h.OnShutdown("ok", func(context.Context) error { ran++; return nil })
	h.OnShutdown("b", func(context.Context) error { ran++; return errB })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.Wait(ctx)

	if ran != 3 {
		t.Errorf("ran %d hooks, want 3", ran)
	}
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Wait() = %v, want both errors", err)
	}
}

func TestHandler_Deadline(t *testing.T) {
	h := NewHandler(20*time.Millisecond, quiet())
	h.OnShutdown("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	h.Trigger("test")
	err := h.Wait(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v, want deadline exceeded", err)
	}
}

func TestHandler_TriggerOnce(t *testing.T) {
	h := NewHandler(time.Second, quiet())
	h.Trigger("first")
	h.Trigger("second")
	if err := h.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
}
