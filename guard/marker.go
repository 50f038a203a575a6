package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/LucasCzechia/discord-cluster/types"
)

// DefaultMarkerInterval is the periodic marker rewrite cadence.
const DefaultMarkerInterval = 15 * time.Second

// markerFile is the on-disk liveness record.
type markerFile struct {
	ControllerPID int       `json:"controller_pid"`
	ChildPIDs     []int     `json:"child_pids"`
	WrittenAt     time.Time `json:"written_at"`
}

// Marker maintains the on-disk liveness record for a running controller.
//
// The record names the controller's own PID and every child process it
// currently owns. A later controller run uses a stale record to sweep
// orphaned children left behind by a crash. Writes go through a temp file
// and rename so readers never observe a partial record.
type Marker struct {
	path     string
	interval time.Duration
	pids     func() []int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	logger types.Logger
}

// NewMarker creates a liveness marker.
//
// Parameters:
//   - path: Marker file location
//   - interval: Periodic rewrite cadence; zero uses DefaultMarkerInterval
//   - pids: Snapshot source for currently-owned child PIDs
//   - logger: Structured logger
func NewMarker(path string, interval time.Duration, pids func() []int, logger types.Logger) *Marker {
	if interval <= 0 {
		interval = DefaultMarkerInterval
	}

	return &Marker{
		path:     path,
		interval: interval,
		pids:     pids,
		logger:   logger,
	}
}

// Start writes the marker immediately and keeps rewriting it on the
// configured interval until ctx is cancelled.
func (m *Marker) Start(ctx context.Context) {
	m.mu.Lock()
	if m.done != nil {
		m.mu.Unlock()

		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	done := make(chan struct{})
	m.done = done
	m.mu.Unlock()

	m.Rewrite()

	go func() {
		defer close(done)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Rewrite()
			}
		}
	}()
}

// Stop halts periodic rewrites. The marker file stays in place until Remove.
func (m *Marker) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Rewrite writes the current record. Called on the interval and after every
// fleet mutation so the child PID list never goes stale for long.
func (m *Marker) Rewrite() {
	if err := m.write(); err != nil {
		m.logger.Warn("failed to write liveness marker", "path", m.path, "error", err)
	}
}

// Remove deletes the marker file. A missing file is not an error.
func (m *Marker) Remove() error {
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove liveness marker: %w", err)
	}

	return nil
}

func (m *Marker) write() error {
	record := markerFile{
		ControllerPID: os.Getpid(),
		ChildPIDs:     m.pids(),
		WrittenAt:     time.Now().UTC(),
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}

	return os.Rename(tmp, m.path)
}

// SweepOrphans reads a stale marker left by a crashed controller and
// terminates any of its children that are still running.
//
// A marker whose recorded controller is still alive belongs to a concurrent
// run and is left untouched. The stale marker is removed after the sweep.
//
// Parameters:
//   - path: Marker file location
//   - logger: Structured logger
//
// Returns:
//   - int: Number of orphaned processes signaled
//   - error: Unreadable or undecodable marker
func SweepOrphans(path string, logger types.Logger) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}

		return 0, fmt.Errorf("failed to read liveness marker: %w", err)
	}

	var record markerFile
	if err := json.Unmarshal(raw, &record); err != nil {
		return 0, fmt.Errorf("invalid liveness marker: %w", err)
	}

	if record.ControllerPID != os.Getpid() && processAlive(record.ControllerPID) {
		logger.Debug("liveness marker belongs to a running controller, skipping sweep",
			"path", path, "controller_pid", record.ControllerPID)

		return 0, nil
	}

	swept := 0
	for _, pid := range record.ChildPIDs {
		if pid <= 0 || !processAlive(pid) {
			continue
		}

		logger.Warn("terminating orphaned unit process", "pid", pid)
		if proc, ferr := os.FindProcess(pid); ferr == nil {
			if serr := proc.Signal(syscall.SIGTERM); serr == nil {
				swept++
			}
		}
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to remove stale liveness marker", "path", path, "error", err)
	}

	return swept, nil
}

// processAlive probes a PID with the null signal. EPERM means the process
// exists but belongs to someone else, which still counts as alive.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = proc.Signal(syscall.Signal(0))

	return err == nil || errors.Is(err, syscall.EPERM)
}
