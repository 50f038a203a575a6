// Package guard implements process-level safety for the controller and its
// units: an on-disk liveness marker with orphan sweeping, a shutdown guard
// running ordered cleanup tasks on termination signals, and a unit-side
// parent liveness probe.
package guard

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/LucasCzechia/discord-cluster/types"
)

// DefaultForceExitTimeout bounds a graceful shutdown before the guard gives
// up and exits anyway.
const DefaultForceExitTimeout = 30 * time.Second

// CleanupTask is one named step of the graceful shutdown sequence.
type CleanupTask struct {
	// Name identifies the task in logs.
	Name string

	// Timeout bounds the task; an overrun is logged and the sequence moves
	// on. Zero or negative means no per-task bound.
	Timeout time.Duration

	// Run performs the cleanup. The context carries the task deadline.
	Run func(ctx context.Context) error
}

// ProcessGuard turns termination signals into one graceful shutdown pass.
//
// Cleanup tasks run in registration order, each raced against its own
// timeout. A second signal or trigger while a shutdown is in flight is
// ignored. A force-exit timer covers the whole sequence so a hung task can
// never keep the process alive indefinitely.
type ProcessGuard struct {
	mu    sync.Mutex
	tasks []CleanupTask

	marker    *Marker
	forceExit time.Duration

	shutdown atomic.Bool
	exitFn   func(code int)

	signals chan os.Signal

	logger types.Logger
}

// NewProcessGuard creates a shutdown guard.
//
// marker may be nil when no liveness marker is in use.
func NewProcessGuard(marker *Marker, forceExit time.Duration, logger types.Logger) *ProcessGuard {
	if forceExit <= 0 {
		forceExit = DefaultForceExitTimeout
	}

	return &ProcessGuard{
		marker:    marker,
		forceExit: forceExit,
		exitFn:    os.Exit,
		logger:    logger,
	}
}

// SetExitFunc replaces the process exit call. Tests use this to observe the
// exit code instead of dying.
func (g *ProcessGuard) SetExitFunc(fn func(code int)) {
	g.exitFn = fn
}

// OnCleanup appends a named cleanup task. Tasks run in registration order.
func (g *ProcessGuard) OnCleanup(name string, timeout time.Duration, run func(ctx context.Context) error) {
	g.mu.Lock()
	g.tasks = append(g.tasks, CleanupTask{Name: name, Timeout: timeout, Run: run})
	g.mu.Unlock()
}

// Start installs the signal handler. SIGINT and SIGTERM trigger Shutdown.
func (g *ProcessGuard) Start() {
	g.mu.Lock()
	if g.signals != nil {
		g.mu.Unlock()

		return
	}
	g.signals = make(chan os.Signal, 1)
	g.mu.Unlock()

	signal.Notify(g.signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig, ok := <-g.signals
		if !ok {
			return
		}

		g.logger.Info("termination signal received", "signal", sig.String())
		g.Shutdown(sig.String())
	}()
}

// Stop uninstalls the signal handler without shutting down.
func (g *ProcessGuard) Stop() {
	g.mu.Lock()
	ch := g.signals
	g.signals = nil
	g.mu.Unlock()

	if ch != nil {
		signal.Stop(ch)
		close(ch)
	}
}

// Shutdown runs the cleanup sequence once and exits the process.
//
// The exit code is 0 when every task succeeded within its bound, 1
// otherwise. Repeated calls are no-ops.
func (g *ProcessGuard) Shutdown(reason string) {
	if !g.shutdown.CompareAndSwap(false, true) {
		return
	}

	g.logger.Info("shutdown starting", "reason", reason)

	// The whole sequence races this timer.
	force := time.AfterFunc(g.forceExit, func() {
		g.logger.Error("shutdown overran force-exit timeout, exiting", "timeout", g.forceExit)
		g.exitFn(1)
	})
	defer force.Stop()

	code := 0

	g.mu.Lock()
	tasks := make([]CleanupTask, len(g.tasks))
	copy(tasks, g.tasks)
	g.mu.Unlock()

	for _, task := range tasks {
		if err := g.runTask(task); err != nil {
			g.logger.Error("cleanup task failed", "task", task.Name, "error", err)
			code = 1
		} else {
			g.logger.Debug("cleanup task complete", "task", task.Name)
		}
	}

	if g.marker != nil {
		g.marker.Stop()
		if err := g.marker.Remove(); err != nil {
			g.logger.Warn("failed to remove liveness marker on shutdown", "error", err)
			code = 1
		}
	}

	g.logger.Info("shutdown complete", "exit_code", code)
	g.exitFn(code)
}

// runTask races one task against its own timeout.
func (g *ProcessGuard) runTask(task CleanupTask) error {
	ctx := context.Background()
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- task.Run(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
