// Package shutdown runs meshd's stop sequence when the process is asked to
// terminate.
//
// Hooks run in reverse registration order under one deadline, so a
// component registered after its dependencies is stopped before them:
//
//	h := shutdown.NewHandler(15*time.Second, logger)
//	h.OnShutdown("participant", p.Close)
//	h.OnShutdown("admin", admin.Shutdown)
//	return h.Wait(ctx)
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// Handler coordinates graceful shutdown.
type Handler struct {
	timeout time.Duration
	logger  *slog.Logger
	signals []os.Signal

	mu      sync.Mutex
	hooks   []hook
	trigger chan string
	done    chan struct{}
	once    sync.Once
}

// NewHandler creates a Handler that waits for SIGINT or SIGTERM.
func NewHandler(timeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		timeout: timeout,
		logger:  logger,
		signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		trigger: make(chan string, 1),
		done:    make(chan struct{}),
	}
}

// OnShutdown registers a hook.
func (h *Handler) OnShutdown(name string, fn func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, hook{name: name, fn: fn})
}

// OnShutdownFunc registers a hook that cannot observe the deadline, such as
// an io.Closer's Close.
func (h *Handler) OnShutdownFunc(name string, fn func() error) {
	h.OnShutdown(name, func(context.Context) error { return fn() })
}

// Trigger starts shutdown as if a signal had arrived. Only the first call
// has an effect.
func (h *Handler) Trigger(reason string) {
	select {
	case h.trigger <- reason:
	default:
	}
}

// Wait blocks until a signal, Trigger or ctx cancellation, then runs the
// hooks. Every hook runs even when an earlier one fails; the failures are
// joined.
func (h *Handler) Wait(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, h.signals...)
	defer signal.Stop(sigCh)

	var reason string
	select {
	case sig := <-sigCh:
		reason = sig.String()
	case reason = <-h.trigger:
	case <-ctx.Done():
		reason = "context done"
	}
	return h.run(reason)
}

func (h *Handler) run(reason string) error {
	var err error
	h.once.Do(func() {
		defer close(h.done)
		h.logger.Info("shutting down", "reason", reason, "timeout", h.timeout)

		runCtx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		h.mu.Lock()
		hooks := make([]hook, len(h.hooks))
		copy(hooks, h.hooks)
		h.mu.Unlock()

		var errs []error
		for i := len(hooks) - 1; i >= 0; i-- {
			start := time.Now()
			if herr := hooks[i].fn(runCtx); herr != nil {
				h.logger.Error("shutdown hook failed", "hook", hooks[i].name, "error", herr)
				errs = append(errs, fmt.Errorf("%s: %w", hooks[i].name, herr))
				continue
			}
			h.logger.Debug("shutdown hook done", "hook", hooks[i].name, "took", time.Since(start))
		}
		if runCtx.Err() != nil {
			errs = append(errs, fmt.Errorf("shutdown exceeded %s: %w", h.timeout, runCtx.Err()))
		}
		err = errors.Join(errs...)
	})
	return err
}

// Done is closed once every hook has run.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}
