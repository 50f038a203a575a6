// Package hbmon implements the controller-side liveness monitor.
//
// On every interval tick the monitor probes each ready unit with a nonced
// heartbeat message. A probe unanswered within the check timeout counts as
// one missed heartbeat; an acknowledgment at any time resets the unit's
// missed counter. A unit that accumulates the configured consecutive misses
// is declared unresponsive, killed, and handed to the respawn or fatal
// callback depending on its restart budget.
package hbmon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/LucasCzechia/discord-cluster/internal/pending"
	"github.com/LucasCzechia/discord-cluster/internal/registry"
	"github.com/LucasCzechia/discord-cluster/types"
)

// Config holds the monitor tuning knobs.
type Config struct {
	// Interval between probe rounds.
	Interval time.Duration

	// Timeout after which an unanswered probe counts as missed.
	Timeout time.Duration

	// MaxMissed consecutive misses before a unit is declared unresponsive.
	MaxMissed int

	// MaxRestarts bounds policy-driven restarts per unit ID; negative is
	// unlimited.
	MaxRestarts int
}

type probe struct {
	unit   *registry.Unit
	sentAt time.Time
}

// Monitor probes fleet liveness and drives the unresponsive-unit policy.
type Monitor struct {
	cfg Config
	reg *registry.Registry

	nonces *pending.NonceSource
	probes *xsync.Map[string, probe]

	// respawn replaces an unresponsive unit that still has restart budget.
	// The unit's handle is already terminated when this fires.
	respawn func(u *registry.Unit)

	// fatal reports a unit whose restart budget is exhausted.
	fatal func(unitID int, err error)

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	logger  types.Logger
	metrics types.MetricsCollector
}

// New creates a heartbeat monitor over the given registry.
func New(cfg Config, reg *registry.Registry, nonces *pending.NonceSource, logger types.Logger, metrics types.MetricsCollector) *Monitor {
	return &Monitor{
		cfg:     cfg,
		reg:     reg,
		nonces:  nonces,
		probes:  xsync.NewMap[string, probe](),
		logger:  logger,
		metrics: metrics,
	}
}

// SetRespawn wires the restart path. Must be set before Start.
func (m *Monitor) SetRespawn(respawn func(u *registry.Unit)) {
	m.respawn = respawn
}

// SetFatal wires the budget-exhausted path. Must be set before Start.
func (m *Monitor) SetFatal(fatal func(unitID int, err error)) {
	m.fatal = fatal
}

// Start launches the probe loop. No-op when the interval is zero or the
// monitor is already running.
func (m *Monitor) Start(ctx context.Context) {
	if m.cfg.Interval <= 0 {
		return
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()

		return
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx)
}

// Stop terminates the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.started = false
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// HandleAck processes a heartbeat acknowledgment from a unit.
//
// A matched nonce records round-trip time; any ack, matched or not, resets
// the unit's missed counter as long as the sender is still current.
func (m *Monitor) HandleAck(u *registry.Unit, nonce string) {
	now := time.Now()

	if p, ok := m.probes.LoadAndDelete(nonce); ok && p.unit == u {
		m.metrics.RecordHeartbeatAck(u.ID, now.Sub(p.sentAt).Seconds())
	}

	if m.reg.IsCurrent(u) {
		u.RecordAck(now)
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeRound(ctx)
		}
	}
}

func (m *Monitor) probeRound(ctx context.Context) {
	for _, id := range m.reg.ReadyIDs() {
		u, ok := m.reg.Get(id)
		if !ok || !u.Ready() {
			continue
		}

		nonce := m.nonces.Next()
		m.probes.Store(nonce, probe{unit: u, sentAt: time.Now()})

		if err := u.Send(types.Message{
			Type:  types.MsgHeartbeat,
			Nonce: nonce,
			From:  types.ControllerID,
			To:    u.ID,
		}); err != nil {
			m.probes.Delete(nonce)
			m.logger.Warn("heartbeat probe send failed", "unit_id", u.ID, "error", err)

			continue
		}

		m.expireAfter(ctx, nonce)
	}
}

// expireAfter schedules the missed-heartbeat check for one probe.
func (m *Monitor) expireAfter(ctx context.Context, nonce string) {
	time.AfterFunc(m.cfg.Timeout, func() {
		if ctx.Err() != nil {
			return
		}

		p, ok := m.probes.LoadAndDelete(nonce)
		if !ok {
			// Acked in time.
			return
		}

		m.recordMiss(p.unit)
	})
}

func (m *Monitor) recordMiss(u *registry.Unit) {
	if !m.reg.IsCurrent(u) || !u.Ready() {
		return
	}

	missed := u.IncrementMissed()
	m.metrics.RecordMissedHeartbeat(u.ID)
	m.logger.Warn("missed heartbeat", "unit_id", u.ID, "missed", missed, "max_missed", m.cfg.MaxMissed)

	if missed >= m.cfg.MaxMissed {
		m.declareUnresponsive(u)
	}
}

func (m *Monitor) declareUnresponsive(u *registry.Unit) {
	m.metrics.RecordUnresponsiveUnit(u.ID)
	m.logger.Error("unit unresponsive", "unit_id", u.ID, "restarts", u.Restarts())

	// The monitor owns what happens next; the exit this produces must not
	// trigger the controller's generic respawn policy.
	u.MarkSuperseded()

	if err := u.Terminate("unresponsive"); err != nil {
		m.logger.Warn("failed to terminate unresponsive unit", "unit_id", u.ID, "error", err)
	}

	if m.cfg.MaxRestarts >= 0 && u.Restarts() >= m.cfg.MaxRestarts {
		m.reg.Remove(u.ID, u)
		m.fatal(u.ID, fmt.Errorf("%w: unit %d exceeded %d restarts",
			types.ErrHeartbeatExhausted, u.ID, m.cfg.MaxRestarts))

		return
	}

	m.metrics.RecordRespawn(u.ID)
	m.respawn(u)
}
