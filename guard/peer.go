package guard

import (
	"context"
	"os"
	"time"

	"github.com/LucasCzechia/discord-cluster/types"
)

// DefaultParentProbeInterval is the cadence of parent liveness probes.
const DefaultParentProbeInterval = 5 * time.Second

// DefaultMaxParentProbeFailures is the consecutive failure count after
// which a unit considers its controller gone.
const DefaultMaxParentProbeFailures = 3

// PeerGuard is the unit-side half of liveness protection: a spawned process
// periodically probes its parent controller and exits when the controller
// has died, so crashed controllers never leave unit processes running.
type PeerGuard struct {
	parentPID   int
	interval    time.Duration
	maxFailures int

	exitFn func(code int)

	logger types.Logger
}

// NewPeerGuard creates a parent liveness guard for the current process.
//
// Parameters:
//   - interval: Probe cadence; zero uses DefaultParentProbeInterval
//   - maxFailures: Consecutive failures before exiting; zero uses
//     DefaultMaxParentProbeFailures
//   - logger: Structured logger
func NewPeerGuard(interval time.Duration, maxFailures int, logger types.Logger) *PeerGuard {
	if interval <= 0 {
		interval = DefaultParentProbeInterval
	}
	if maxFailures <= 0 {
		maxFailures = DefaultMaxParentProbeFailures
	}

	return &PeerGuard{
		parentPID:   os.Getppid(),
		interval:    interval,
		maxFailures: maxFailures,
		exitFn:      os.Exit,
		logger:      logger,
	}
}

// SetExitFunc replaces the process exit call. Tests use this to observe the
// exit instead of dying.
func (g *PeerGuard) SetExitFunc(fn func(code int)) {
	g.exitFn = fn
}

// SetParentPID overrides the probed PID. Tests use this to point the guard
// at a dead PID.
func (g *PeerGuard) SetParentPID(pid int) {
	g.parentPID = pid
}

// Start launches the probe loop until ctx is cancelled.
func (g *PeerGuard) Start(ctx context.Context) {
	go g.run(ctx)
}

func (g *PeerGuard) run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Reparenting to init means the controller died even when the
		// inherited PID got recycled.
		if processAlive(g.parentPID) && os.Getppid() == g.parentPID {
			failures = 0

			continue
		}

		failures++
		g.logger.Warn("controller liveness probe failed",
			"parent_pid", g.parentPID,
			"failures", failures,
			"max_failures", g.maxFailures,
		)

		if failures >= g.maxFailures {
			g.logger.Error("controller is gone, exiting", "parent_pid", g.parentPID)
			g.exitFn(1)

			return
		}
	}
}
