// Package metrics provides MetricsCollector implementations for the cluster library.
package metrics

import "github.com/LucasCzechia/discord-cluster/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Returns:
//   - *NopMetrics: A new no-op metrics collector instance
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// ManagerMetrics implementation

// RecordStateTransition discards the state transition metric.
func (n *NopMetrics) RecordStateTransition(_ /* from */, _ /* to */ types.State, _ /* duration */ float64) {
	// No-op
}

// RecordFleetSize discards the fleet size gauge.
func (n *NopMetrics) RecordFleetSize(_ /* count */ int) {
	// No-op
}

// SpawnMetrics implementation

// RecordSpawn discards the spawn attempt metric.
func (n *NopMetrics) RecordSpawn(_ /* unitID */ int, _ /* success */ bool) {
	// No-op
}

// RecordSpawnDuration discards the spawn duration metric.
func (n *NopMetrics) RecordSpawnDuration(_ /* seconds */ float64) {
	// No-op
}

// RecordRespawn discards the respawn counter.
func (n *NopMetrics) RecordRespawn(_ /* unitID */ int) {
	// No-op
}

// RecordReplacement discards the replacement metric.
func (n *NopMetrics) RecordReplacement(_ /* strategy */ string, _ /* success */ bool, _ /* seconds */ float64) {
	// No-op
}

// HeartbeatMetrics implementation

// RecordHeartbeatAck discards the heartbeat ack metric.
func (n *NopMetrics) RecordHeartbeatAck(_ /* unitID */ int, _ /* rttSeconds */ float64) {
	// No-op
}

// RecordMissedHeartbeat discards the missed heartbeat counter.
func (n *NopMetrics) RecordMissedHeartbeat(_ /* unitID */ int) {
	// No-op
}

// RecordUnresponsiveUnit discards the unresponsive unit counter.
func (n *NopMetrics) RecordUnresponsiveUnit(_ /* unitID */ int) {
	// No-op
}

// RouterMetrics implementation

// RecordRequest discards the request outcome metric.
func (n *NopMetrics) RecordRequest(_ /* kind */ string, _ /* success */ bool, _ /* seconds */ float64) {
	// No-op
}

// RecordBroadcastFanout discards the fan-out size metric.
func (n *NopMetrics) RecordBroadcastFanout(_ /* units */ int) {
	// No-op
}

// RecordLateReply discards the late reply counter.
func (n *NopMetrics) RecordLateReply() {
	// No-op
}

// StoreMetrics implementation

// RecordStoreOp discards the store operation metric.
func (n *NopMetrics) RecordStoreOp(_ /* op */ string, _ /* seconds */ float64) {
	// No-op
}

// RecordStoreSize discards the store size gauge.
func (n *NopMetrics) RecordStoreSize(_ /* count */ int) {
	// No-op
}

// RecordStoreEvictions discards the eviction counter.
func (n *NopMetrics) RecordStoreEvictions(_ /* count */ int) {
	// No-op
}
