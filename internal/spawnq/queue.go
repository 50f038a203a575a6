// Package spawnq implements the ordered, paced unit spawn queue.
//
// Items are consumed in FIFO order. In automatic mode the queue advances
// itself: it spawns the next unit, waits (bounded) for it to become ready,
// sleeps the configured inter-spawn delay, and repeats. In manual mode an
// external caller drives every step through Advance.
package spawnq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LucasCzechia/discord-cluster/types"
)

// Mode selects how the queue progresses.
type Mode int

const (
	// Auto advances the queue on its own after each inter-spawn delay.
	Auto Mode = iota

	// Manual requires an explicit Advance call per item.
	Manual
)

// String returns the string representation of the queue mode.
func (m Mode) String() string {
	switch m {
	case Auto:
		return "auto"
	case Manual:
		return "manual"
	default:
		return "unknown"
	}
}

// ReadyWaiter exposes the ready signal of a freshly spawned unit.
type ReadyWaiter interface {
	ReadyCh() <-chan struct{}
}

// SpawnFunc materializes one queue item and returns its ready waiter.
type SpawnFunc func(ctx context.Context, item types.SpawnItem) (ReadyWaiter, error)

// Queue orders and paces unit creation.
type Queue struct {
	mu      sync.Mutex
	items   []types.SpawnItem
	started bool

	mode    Mode
	delay   time.Duration
	timeout time.Duration // < 0 waits indefinitely for ready

	spawn  SpawnFunc
	logger types.Logger

	signal chan struct{}
	done   chan struct{}
}

// New creates a spawn queue.
//
// Parameters:
//   - mode: Auto or Manual progression
//   - delay: Inter-spawn delay applied in Auto mode
//   - timeout: Per-item ready wait; negative waits indefinitely
//   - spawn: Callback materializing a unit
//   - logger: Structured logger
func New(mode Mode, delay, timeout time.Duration, spawn SpawnFunc, logger types.Logger) *Queue {
	return &Queue{
		mode:    mode,
		delay:   delay,
		timeout: timeout,
		spawn:   spawn,
		logger:  logger,
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue appends items to the queue.
func (q *Queue) Enqueue(items ...types.SpawnItem) {
	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// Start launches automatic progression. No-op in manual mode.
//
// The loop exits when ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	if q.mode != Auto {
		return
	}

	q.mu.Lock()
	if q.started {
		q.mu.Unlock()

		return
	}
	q.started = true
	q.done = make(chan struct{})
	q.mu.Unlock()

	go q.run(ctx)
}

// Wait blocks until the automatic loop exits. Used by shutdown.
func (q *Queue) Wait() {
	q.mu.Lock()
	done := q.done
	q.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Advance pops and spawns the next item. Manual mode only.
//
// Returns ErrAutoAdvance in automatic mode and ErrQueueEmpty when nothing
// is queued. The ready wait is bounded by the configured timeout; a
// timeout is logged and reported but leaves the spawned unit in place.
func (q *Queue) Advance(ctx context.Context) error {
	if q.mode == Auto {
		return types.ErrAutoAdvance
	}

	item, ok := q.pop()
	if !ok {
		return types.ErrQueueEmpty
	}

	return q.spawnOne(ctx, item)
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)

	for {
		item, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.signal:
				continue
			}
		}

		if err := q.spawnOne(ctx, item); err != nil && !errors.Is(err, types.ErrSpawnTimeout) {
			// Spawn failures are logged and the queue proceeds; a timeout
			// does not block progression either (already logged).
			q.logger.Error("spawn failed", "unit_id", item.UnitID, "error", err)
		}

		if ctx.Err() != nil {
			return
		}

		// Inter-spawn delay before the next advance.
		if q.delay > 0 {
			timer := time.NewTimer(q.delay)
			select {
			case <-ctx.Done():
				timer.Stop()

				return
			case <-timer.C:
			}
		}
	}
}

func (q *Queue) spawnOne(ctx context.Context, item types.SpawnItem) error {
	q.logger.Debug("advancing spawn queue", "unit_id", item.UnitID, "mode", q.mode.String())

	waiter, err := q.spawn(ctx, item)
	if err != nil {
		return err
	}

	return q.waitReady(ctx, item, waiter)
}

func (q *Queue) waitReady(ctx context.Context, item types.SpawnItem, waiter ReadyWaiter) error {
	if q.timeout < 0 {
		// Disabled timeout: wait until ready or shutdown.
		select {
		case <-waiter.ReadyCh():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	timer := time.NewTimer(q.timeout)
	defer timer.Stop()

	select {
	case <-waiter.ReadyCh():
		return nil
	case <-timer.C:
		q.logger.Warn("unit did not become ready before spawn timeout, proceeding",
			"unit_id", item.UnitID,
			"timeout", q.timeout,
		)

		return fmt.Errorf("%w: unit %d", types.ErrSpawnTimeout, item.UnitID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) pop() (types.SpawnItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return types.SpawnItem{}, false
	}

	item := q.items[0]
	q.items = q.items[1:]

	return item, true
}
