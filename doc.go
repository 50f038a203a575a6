// Package cluster provides a sharded fleet controller for Discord-style
// gateway sharding: it spawns a fleet of unit processes, assigns shard
// ranges to each, and coordinates them over a message-based IPC layer.
//
// The controller owns the full unit lifecycle. Units are spawned through a
// rate-limited queue (identify pacing), report readiness, answer heartbeat
// probes, and are respawned on crash. The whole fleet can be regenerated
// with a new shard shape at runtime, either unit-by-unit (rolling) or as a
// complete standby generation switched over at once (graceful switch).
//
// # Quick Start
//
// Controller process:
//
//	import "github.com/LucasCzechia/discord-cluster"
//
//	cfg := cluster.DefaultConfig(16, 4, 4)
//	spawner := handle.NewProcessSpawner(os.Args[0], []string{"--unit"}, os.Environ())
//
//	mgr, err := cluster.NewManager(cfg, spawner)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := mgr.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Stop()
//
//	mgr.WaitState(ctx, cluster.StateReady)
//
// Unit process:
//
//	u, err := unit.RunProcess()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	u.Handle("stats", func(ctx context.Context, data any) (any, error) {
//	    return collectStats(), nil
//	})
//
//	u.Run(ctx)
//
// # Key Features
//
//   - Paced Spawning: Units start sequentially with a configurable delay, in
//     automatic or operator-stepped manual mode
//   - Deterministic Routing: Snowflake IDs and string keys map to shards and
//     units without coordination
//   - Request/Response IPC: Named handlers on any unit or the controller,
//     with broadcast aggregation across the fleet
//   - Shared Store: Controller-local TTL key/value store reachable from
//     every unit
//   - Event Relay: Fire-and-forget pub/sub between units plus tracked
//     broadcasts with delivery acknowledgement counting
//   - Zero-Downtime Regeneration: Rolling or graceful-switch fleet
//     replacement for new shard shapes
//   - Process Guarding: Liveness marker files, orphan sweeping, and
//     parent-death detection in units
//
// # Architecture
//
// The controller progresses through a state machine:
//
//	INIT → SPAWNING → READY ⇄ REPLACING
//
// with DEGRADED entered when a unit is terminally down and SHUTDOWN as the
// terminal state. Every unit connection feeds a single dispatch loop on the
// controller; stale units from a previous generation are fenced off so
// their messages cannot corrupt the current one.
//
// # Advanced Usage
//
// Hooks and metrics:
//
//	hooks := cluster.Hooks{
//	    OnUnitExited: func(ctx context.Context, u cluster.UnitSnapshot, info cluster.ExitInfo) error {
//	        log.Printf("unit %d exited: %s", u.ID, info.Reason)
//	        return nil
//	    },
//	}
//
//	mgr, err := cluster.NewManager(cfg, spawner,
//	    cluster.WithHooks(hooks),
//	    cluster.WithMetrics(metrics.NewPrometheus(prometheus.DefaultRegisterer, "fleet")),
//	)
package cluster
