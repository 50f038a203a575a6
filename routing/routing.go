// Package routing provides the pure partition-routing functions.
//
// Routing maps a partition key to its shard and a shard to the unit owning
// it, so callers can address the owning unit directly instead of fanning a
// request across the whole fleet. Both directions are pure functions with no
// I/O; they are safe to call from any goroutine.
package routing

import "github.com/zeebo/xxh3"

// idShiftBits strips the millisecond-timestamp low bits from externally
// issued monotonically increasing identifiers before sharding, so entities
// created close together still spread across shards.
const idShiftBits = 22

// ShardForID maps a numeric snowflake-style identifier to a shard.
//
// Parameters:
//   - id: Externally issued monotonically increasing identifier
//   - totalShards: Shard count of the current generation (> 0)
//
// Returns:
//   - int: Shard ID in [0, totalShards)
func ShardForID(id uint64, totalShards int) int {
	return int((id >> idShiftBits) % uint64(totalShards)) //nolint:gosec // totalShards is validated > 0
}

// ShardForKey maps an arbitrary string partition key to a shard.
//
// Keys without snowflake structure are reduced through xxh3, matching the
// hashing used elsewhere in the fleet.
//
// Parameters:
//   - key: Partition key
//   - totalShards: Shard count of the current generation (> 0)
//
// Returns:
//   - int: Shard ID in [0, totalShards)
func ShardForKey(key string, totalShards int) int {
	return int(xxh3.HashString(key) % uint64(totalShards)) //nolint:gosec // totalShards is validated > 0
}

// UnitForShard maps a shard to the unit owning it.
//
// Units own contiguous shard blocks, so ownership is a floor division.
//
// Parameters:
//   - shardID: Shard ID in [0, totalShards)
//   - shardsPerCluster: Block size of the current generation (> 0)
//
// Returns:
//   - int: Unit ID owning the shard
func UnitForShard(shardID, shardsPerCluster int) int {
	return shardID / shardsPerCluster
}

// ShardRange returns the contiguous shard block owned by a unit.
//
// The last unit's block is truncated at totalShards, so the ranges of all
// units partition [0, totalShards) exactly once.
//
// Parameters:
//   - unitID: Unit ID (>= 0)
//   - shardsPerCluster: Block size of the current generation (> 0)
//   - totalShards: Shard count of the current generation (> 0)
//
// Returns:
//   - []int: Shard IDs owned by the unit (empty if the block starts past the end)
func ShardRange(unitID, shardsPerCluster, totalShards int) []int {
	start := unitID * shardsPerCluster
	if start >= totalShards {
		return nil
	}

	end := start + shardsPerCluster
	if end > totalShards {
		end = totalShards
	}

	shards := make([]int, 0, end-start)
	for s := start; s < end; s++ {
		shards = append(shards, s)
	}

	return shards
}

// Plan returns the per-unit shard blocks for a whole generation.
//
// The result has one entry per unit that owns at least one shard; entries
// are disjoint, contiguous, and jointly cover [0, totalShards).
//
// Parameters:
//   - totalShards: Shard count (> 0)
//   - totalClusters: Unit count (> 0)
//   - shardsPerCluster: Block size (shardsPerCluster*totalClusters >= totalShards)
//
// Returns:
//   - map[int][]int: Unit ID to owned shard block
func Plan(totalShards, totalClusters, shardsPerCluster int) map[int][]int {
	plan := make(map[int][]int, totalClusters)
	for unitID := 0; unitID < totalClusters; unitID++ {
		shards := ShardRange(unitID, shardsPerCluster, totalShards)
		if len(shards) == 0 {
			continue
		}
		plan[unitID] = shards
	}

	return plan
}
