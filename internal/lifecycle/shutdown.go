// Package lifecycle manages graceful shutdown of the gateway process:
// signal interception, root context cancellation and ordered shutdown hooks.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownConfig configures the shutdown behavior.
type ShutdownConfig struct {
	GracePeriod time.Duration // time main and the hooks get after a signal
	HookTimeout time.Duration // hook deadline on a normal exit
}

// DefaultShutdownConfig returns sensible defaults.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		GracePeriod: 10 * time.Second,
		HookTimeout: 5 * time.Second,
	}
}

// Manager coordinates shutdown for the process.
type Manager struct {
	config   ShutdownConfig
	logger   *slog.Logger
	cancel   context.CancelFunc
	mu       sync.Mutex
	hooks    []ShutdownHook
	started  time.Time
	shutdown bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

// ShutdownHook is called during shutdown. Name is for logging.
type ShutdownHook struct {
	Name string
	Fn   func(ctx context.Context) error
}

// NewManager creates a lifecycle manager.
func NewManager(config ShutdownConfig, logger *slog.Logger) *Manager {
	return &Manager{
		config:  config,
		logger:  logger,
		started: time.Now(),
		stopCh:  make(chan struct{}),
	}
}

// OnShutdown registers a hook to run during shutdown.
// Hooks run in registration order.
func (m *Manager) OnShutdown(name string, fn func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, ShutdownHook{Name: name, Fn: fn})
}

// Stop triggers the same graceful shutdown a SIGTERM would.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Run installs signal handlers, runs mainFn, and handles shutdown.
// Returns the process exit code. mainFn returning context.Canceled after
// its context was cancelled is a clean exit.
func (m *Manager) Run(mainFn func(ctx context.Context) error) int {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- mainFn(ctx)
	}()

	select {
	case sig := <-sigCh:
		m.logger.Info("received signal, starting graceful shutdown",
			"signal", sig.String(),
			"uptime", m.Uptime().String(),
		)
		return m.gracefulShutdown(errCh)

	case <-m.stopCh:
		m.logger.Info("stop requested, starting graceful shutdown", "uptime", m.Uptime().String())
		return m.gracefulShutdown(errCh)

	case err := <-errCh:
		code := 0
		if err != nil && !(errors.Is(err, context.Canceled) && ctx.Err() != nil) {
			m.logger.Error("main function error", "error", err)
			code = 1
		}
		m.runHooks(m.config.HookTimeout)
		return code
	}
}

// gracefulShutdown cancels the root context, waits for main to return
// within the grace period, then runs the hooks.
func (m *Manager) gracefulShutdown(errCh <-chan error) int {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return 1
	}
	m.shutdown = true
	m.mu.Unlock()

	// Cancel root context so every account loop starts winding down
	m.cancel()

	deadline := time.NewTimer(m.config.GracePeriod)
	defer deadline.Stop()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("main function returned during shutdown", "error", err)
		}
	case <-deadline.C:
		m.logger.Warn("main function did not return within the grace period")
	}

	m.runHooks(m.config.GracePeriod)
	m.logger.Info("graceful shutdown complete", "uptime", m.Uptime().String())
	return 0
}

func (m *Manager) runHooks(timeout time.Duration) {
	m.mu.Lock()
	hooks := make([]ShutdownHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for _, hook := range hooks {
		m.logger.Debug("running shutdown hook", "name", hook.Name)
		if err := hook.Fn(ctx); err != nil {
			m.logger.Error("shutdown hook failed", "name", hook.Name, "error", err)
		}
	}
}

// Uptime returns how long the process has been running.
func (m *Manager) Uptime() time.Duration {
	return time.Since(m.started)
}
