// Package replace implements zero-downtime fleet regeneration.
//
// A regeneration spawns a fresh generation of units for a (possibly
// different) fleet shape and swaps it in for the old one. Rolling swaps one
// unit at a time; graceful switch brings the entire new generation up before
// any old unit goes down. At most one regeneration runs at a time.
package replace

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/LucasCzechia/discord-cluster/internal/registry"
	"github.com/LucasCzechia/discord-cluster/routing"
	"github.com/LucasCzechia/discord-cluster/types"
)

// Strategy selects how a regeneration replaces the old generation.
type Strategy int

const (
	// Rolling replaces units one at a time, ascending by ID. Each old unit
	// goes down only after its replacement signaled ready, so at most one
	// unit's shard range is ever degraded.
	Rolling Strategy = iota

	// GracefulSwitch spawns the entire new generation first and swaps it in
	// only once every replacement signaled ready. Peak resource usage is two
	// full fleets.
	GracefulSwitch
)

// String returns the string representation of the strategy.
func (s Strategy) String() string {
	switch s {
	case Rolling:
		return "rolling"
	case GracefulSwitch:
		return "graceful_switch"
	default:
		return "unknown"
	}
}

// Generation describes the fleet shape of a regeneration target.
type Generation struct {
	TotalShards      int
	TotalClusters    int
	ShardsPerCluster int

	// Data is passed to every spawned unit as opaque startup data.
	Data map[string]any
}

// Validate checks the generation's internal consistency.
func (g Generation) Validate() error {
	if g.TotalShards <= 0 || g.TotalClusters <= 0 || g.ShardsPerCluster <= 0 {
		return fmt.Errorf("%w: fleet shape values must be positive", types.ErrInvalidConfig)
	}
	if g.TotalClusters*g.ShardsPerCluster < g.TotalShards {
		return fmt.Errorf("%w: %d clusters x %d shards cannot cover %d shards",
			types.ErrInvalidConfig, g.TotalClusters, g.ShardsPerCluster, g.TotalShards)
	}

	return nil
}

// Replacer drives fleet regenerations over the registry.
type Replacer struct {
	reg          *registry.Registry
	spawnTimeout time.Duration
	inflight     atomic.Bool

	logger  types.Logger
	metrics types.MetricsCollector
}

// New creates a replacer.
//
// spawnTimeout bounds each replacement's ready wait; negative waits
// indefinitely.
func New(reg *registry.Registry, spawnTimeout time.Duration, logger types.Logger, metrics types.MetricsCollector) *Replacer {
	return &Replacer{
		reg:          reg,
		spawnTimeout: spawnTimeout,
		logger:       logger,
		metrics:      metrics,
	}
}

// InProgress reports whether a regeneration is currently running.
func (r *Replacer) InProgress() bool {
	return r.inflight.Load()
}

// Replace regenerates the fleet for the given shape.
//
// The shape is validated before any spawn. A failed regeneration returns an
// error wrapping ErrReplacementFailed and leaves already-swapped units in
// place; unready replacements are terminated.
//
// Parameters:
//   - ctx: Cancels the regeneration between steps
//   - strategy: Rolling or GracefulSwitch
//   - gen: Target fleet shape
//
// Returns:
//   - error: ErrReplacementInProgress, ErrInvalidConfig, or a wrapped
//     ErrReplacementFailed
func (r *Replacer) Replace(ctx context.Context, strategy Strategy, gen Generation) error {
	if !r.inflight.CompareAndSwap(false, true) {
		return types.ErrReplacementInProgress
	}
	defer r.inflight.Store(false)

	if err := gen.Validate(); err != nil {
		return err
	}

	start := time.Now()
	plan := routing.Plan(gen.TotalShards, gen.TotalClusters, gen.ShardsPerCluster)
	ids := make([]int, 0, len(plan))
	for id := range plan {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	r.logger.Info("fleet regeneration starting",
		"strategy", strategy.String(),
		"units", len(ids),
		"total_shards", gen.TotalShards,
	)

	// The new shape takes effect for all subsequent spawns and for the
	// fleet-ready accounting of the new generation.
	r.reg.SetBaseInfo(registry.BaseInfo{
		TotalShards:      gen.TotalShards,
		TotalClusters:    gen.TotalClusters,
		ShardsPerCluster: gen.ShardsPerCluster,
		Data:             gen.Data,
	})
	r.reg.SetExpected(len(ids))

	var err error
	switch strategy {
	case GracefulSwitch:
		err = r.graceful(ctx, ids, plan)
	default:
		err = r.rolling(ctx, ids, plan)
	}

	if err == nil {
		r.removeStale(ids)
	}

	r.metrics.RecordReplacement(strategy.String(), err == nil, time.Since(start).Seconds())

	if err != nil {
		r.logger.Error("fleet regeneration failed", "strategy", strategy.String(), "error", err)

		return err
	}

	r.logger.Info("fleet regeneration complete", "strategy", strategy.String(), "units", len(ids))

	return nil
}

func (r *Replacer) rolling(ctx context.Context, ids []int, plan map[int][]int) error {
	for _, id := range ids {
		u, err := r.reg.Spawn(ctx, types.SpawnItem{UnitID: id, ShardIDs: plan[id]}, 0)
		if err != nil {
			return fmt.Errorf("%w: %v", types.ErrReplacementFailed, err)
		}

		if err := r.waitReady(ctx, u); err != nil {
			if terr := u.Terminate("replacement aborted"); terr != nil {
				r.logger.Warn("failed to terminate aborted replacement", "unit_id", id, "error", terr)
			}

			return fmt.Errorf("%w: unit %d: %v", types.ErrReplacementFailed, id, err)
		}

		// Replacement is ready; only now does the old unit go down.
		r.reg.Swap(id, u)
		r.logger.Debug("unit replaced", "unit_id", id)
	}

	return nil
}

func (r *Replacer) graceful(ctx context.Context, ids []int, plan map[int][]int) error {
	replacements := make(map[int]*registry.Unit, len(ids))

	abort := func() {
		for id, u := range replacements {
			if terr := u.Terminate("replacement aborted"); terr != nil {
				r.logger.Warn("failed to terminate aborted replacement", "unit_id", id, "error", terr)
			}
		}
	}

	for _, id := range ids {
		u, err := r.reg.Spawn(ctx, types.SpawnItem{UnitID: id, ShardIDs: plan[id]}, 0)
		if err != nil {
			abort()

			return fmt.Errorf("%w: %v", types.ErrReplacementFailed, err)
		}
		replacements[id] = u
	}

	for _, id := range ids {
		if err := r.waitReady(ctx, replacements[id]); err != nil {
			abort()

			return fmt.Errorf("%w: unit %d: %v", types.ErrReplacementFailed, id, err)
		}
	}

	// Every replacement is ready; the old generation goes down as a whole.
	for _, id := range ids {
		r.reg.Swap(id, replacements[id])
	}

	return nil
}

// removeStale kills units whose IDs fell out of the new generation's plan.
func (r *Replacer) removeStale(ids []int) {
	keep := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}

	for _, id := range r.reg.IDs() {
		if _, ok := keep[id]; ok {
			continue
		}

		u, found := r.reg.Get(id)
		if !found {
			continue
		}

		// Stale IDs have no slot in the new plan; nothing replaces them.
		u.MarkSuperseded()

		if err := u.Terminate("generation shrink"); err != nil {
			r.logger.Warn("failed to terminate stale unit", "unit_id", id, "error", err)
		}
		r.reg.Remove(id, u)
	}
}

func (r *Replacer) waitReady(ctx context.Context, u *registry.Unit) error {
	if r.spawnTimeout < 0 {
		select {
		case <-u.ReadyCh():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	timer := time.NewTimer(r.spawnTimeout)
	defer timer.Stop()

	select {
	case <-u.ReadyCh():
		return nil
	case <-timer.C:
		return types.ErrSpawnTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
