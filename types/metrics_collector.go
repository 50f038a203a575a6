package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods are called from internal goroutines and must be thread-safe.
//
// This interface composes smaller, domain-focused interfaces for better modularity.
type MetricsCollector interface {
	ManagerMetrics
	SpawnMetrics
	HeartbeatMetrics
	RouterMetrics
	StoreMetrics
}

// ManagerMetrics defines metrics for controller-level operations.
type ManagerMetrics interface {
	// RecordStateTransition records a controller state transition event.
	RecordStateTransition(from, to State, duration float64)

	// RecordFleetSize sets the current registry size (gauge metric).
	RecordFleetSize(count int)
}

// SpawnMetrics defines metrics for unit spawning and replacement.
type SpawnMetrics interface {
	// RecordSpawn records a spawn attempt for a unit ID.
	RecordSpawn(unitID int, success bool)

	// RecordSpawnDuration records the time from spawn to ready in seconds.
	RecordSpawnDuration(seconds float64)

	// RecordRespawn records a policy-driven respawn of a unit ID.
	RecordRespawn(unitID int)

	// RecordReplacement records a fleet regeneration attempt.
	//
	// Parameters:
	//   - strategy: "rolling" or "graceful_switch"
	//   - success: true if every unit was replaced
	//   - seconds: Total regeneration duration
	RecordReplacement(strategy string, success bool, seconds float64)
}

// HeartbeatMetrics defines metrics for liveness monitoring.
type HeartbeatMetrics interface {
	// RecordHeartbeatAck records an acknowledged probe and its round trip.
	RecordHeartbeatAck(unitID int, rttSeconds float64)

	// RecordMissedHeartbeat records a probe that timed out.
	RecordMissedHeartbeat(unitID int)

	// RecordUnresponsiveUnit records a unit declared unresponsive.
	RecordUnresponsiveUnit(unitID int)
}

// RouterMetrics defines metrics for the IPC message router.
type RouterMetrics interface {
	// RecordRequest records a correlated request outcome.
	//
	// Parameters:
	//   - kind: "request", "request_to", "request_all", "store", "event_wait"
	//   - success: false for timeouts and routing failures
	//   - seconds: Time until resolution
	RecordRequest(kind string, success bool, seconds float64)

	// RecordBroadcastFanout records the number of units a broadcast reached.
	RecordBroadcastFanout(units int)

	// RecordLateReply records a reply for an already-resolved nonce.
	RecordLateReply()
}

// StoreMetrics defines metrics for the shared store.
type StoreMetrics interface {
	// RecordStoreOp records a store operation.
	RecordStoreOp(op string, seconds float64)

	// RecordStoreSize sets the current entry count (gauge metric).
	RecordStoreSize(count int)

	// RecordStoreEvictions records entries removed by a sweep.
	RecordStoreEvictions(count int)
}
