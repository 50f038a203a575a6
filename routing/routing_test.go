package routing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShardForID_Deterministic(t *testing.T) {
	const id = uint64(123456789012345678)

	first := ShardForID(id, 16)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, ShardForID(id, 16))
	}
	require.GreaterOrEqual(t, first, 0)
	require.Less(t, first, 16)
}

func TestShardForID_StripsSequenceBits(t *testing.T) {
	// Identifiers differing only in the low 22 bits land on the same shard.
	base := uint64(175928847299117063)
	require.Equal(t, ShardForID(base, 8), ShardForID(base|0x3FFFFF, 8))
}

func TestShardForKey_Deterministic(t *testing.T) {
	first := ShardForKey("general", 16)
	require.Equal(t, first, ShardForKey("general", 16))
	require.GreaterOrEqual(t, first, 0)
	require.Less(t, first, 16)

	// Distinct keys should not all collapse onto one shard.
	seen := map[int]bool{}
	for _, key := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		seen[ShardForKey(key, 16)] = true
	}
	require.Greater(t, len(seen), 1)
}

func TestUnitForShard(t *testing.T) {
	require.Equal(t, 0, UnitForShard(0, 4))
	require.Equal(t, 0, UnitForShard(3, 4))
	require.Equal(t, 1, UnitForShard(4, 4))
	require.Equal(t, 3, UnitForShard(15, 4))
}

func TestPlan_PartitionsShardsExactlyOnce(t *testing.T) {
	cases := []struct {
		name             string
		totalShards      int
		totalClusters    int
		shardsPerCluster int
	}{
		{"even split", 16, 4, 4},
		{"uneven tail", 10, 3, 4},
		{"single unit", 7, 1, 7},
		{"more capacity than shards", 5, 4, 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := Plan(tc.totalShards, tc.totalClusters, tc.shardsPerCluster)

			owned := map[int]int{}
			for unitID, shards := range plan {
				// Contiguity inside each block.
				for i, s := range shards {
					if i > 0 {
						require.Equal(t, shards[i-1]+1, s)
					}
					owned[s]++
					require.Equal(t, unitID, UnitForShard(s, tc.shardsPerCluster))
				}
			}

			// Every shard owned exactly once.
			require.Len(t, owned, tc.totalShards)
			for s := 0; s < tc.totalShards; s++ {
				require.Equal(t, 1, owned[s], "shard %d", s)
			}
		})
	}
}

func TestRoundTrip_KeyToOwningUnit(t *testing.T) {
	const (
		totalShards      = 16
		shardsPerCluster = 4
	)

	for _, id := range []uint64{0, 1 << 22, 175928847299117063, ^uint64(0)} {
		shard := ShardForID(id, totalShards)
		unit := UnitForShard(shard, shardsPerCluster)
		require.Contains(t, ShardRange(unit, shardsPerCluster, totalShards), shard)
	}
}
