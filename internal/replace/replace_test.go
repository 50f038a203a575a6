package replace

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LucasCzechia/discord-cluster/internal/logging"
	"github.com/LucasCzechia/discord-cluster/internal/metrics"
	"github.com/LucasCzechia/discord-cluster/internal/registry"
	"github.com/LucasCzechia/discord-cluster/types"
)

// genSpawner records spawn and terminate events per unit generation and
// optionally signals ready immediately through the deliver path.
type genSpawner struct {
	mu        sync.Mutex
	events    []string
	seq       map[int]int
	autoReady bool
}

func newGenSpawner(autoReady bool) *genSpawner {
	return &genSpawner{seq: make(map[int]int), autoReady: autoReady}
}

type genHandle struct {
	sp  *genSpawner
	tag string
}

func (h genHandle) Send(types.Message) error { return nil }
func (h genHandle) PID() int                 { return 0 }

func (h genHandle) Terminate(string) error {
	h.sp.record("term " + h.tag)

	return nil
}

func (sp *genSpawner) Spawn(_ context.Context, opts types.SpawnOptions) (types.Handle, error) {
	sp.mu.Lock()
	seq := sp.seq[opts.Info.UnitID]
	sp.seq[opts.Info.UnitID] = seq + 1
	tag := fmt.Sprintf("%d#%d", opts.Info.UnitID, seq)
	sp.events = append(sp.events, "spawn "+tag)
	sp.mu.Unlock()

	if sp.autoReady {
		opts.Deliver(types.Message{
			Type: types.MsgControl,
			From: opts.Info.UnitID,
			To:   types.ControllerID,
			Name: types.ControlReady,
		})
	}

	return genHandle{sp: sp, tag: tag}, nil
}

func (sp *genSpawner) record(ev string) {
	sp.mu.Lock()
	sp.events = append(sp.events, ev)
	sp.mu.Unlock()
}

func (sp *genSpawner) index(ev string) int {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	for i, e := range sp.events {
		if e == ev {
			return i
		}
	}

	return -1
}

func newTestFleet(t *testing.T, sp *genSpawner, units int) *registry.Registry {
	t.Helper()

	reg := registry.New(sp, units, registry.BaseInfo{
		TotalShards:      units,
		TotalClusters:    units,
		ShardsPerCluster: 1,
	}, logging.NewNop(), metrics.NewNop())
	reg.SetDeliver(func(u *registry.Unit, msg types.Message) {
		if msg.Type == types.MsgControl && msg.Name == types.ControlReady {
			u.MarkReady()
		}
	})
	reg.SetOnExit(func(*registry.Unit, types.ExitInfo) {})

	for id := 0; id < units; id++ {
		u, err := reg.Create(context.Background(), types.SpawnItem{UnitID: id, ShardIDs: []int{id}}, 0)
		require.NoError(t, err)
		u.MarkReady()
	}

	return reg
}

func TestReplacer_RollingOrder(t *testing.T) {
	sp := newGenSpawner(true)
	reg := newTestFleet(t, sp, 2)
	r := New(reg, time.Second, logging.NewNop(), metrics.NewNop())

	err := r.Replace(context.Background(), Rolling, Generation{
		TotalShards:      2,
		TotalClusters:    2,
		ShardsPerCluster: 1,
	})
	require.NoError(t, err)

	// Each old unit goes down only after its replacement exists, and unit 0
	// is fully swapped before unit 1's replacement spawns.
	require.Less(t, sp.index("spawn 0#1"), sp.index("term 0#0"))
	require.Less(t, sp.index("term 0#0"), sp.index("spawn 1#1"))
	require.Less(t, sp.index("spawn 1#1"), sp.index("term 1#0"))

	require.Equal(t, []int{0, 1}, reg.ReadyIDs())
}

func TestReplacer_GracefulSwitchOrder(t *testing.T) {
	sp := newGenSpawner(true)
	reg := newTestFleet(t, sp, 2)
	r := New(reg, time.Second, logging.NewNop(), metrics.NewNop())

	err := r.Replace(context.Background(), GracefulSwitch, Generation{
		TotalShards:      2,
		TotalClusters:    2,
		ShardsPerCluster: 1,
	})
	require.NoError(t, err)

	// The whole new generation is up before any old unit goes down.
	firstTerm := sp.index("term 0#0")
	require.Less(t, sp.index("spawn 0#1"), firstTerm)
	require.Less(t, sp.index("spawn 1#1"), firstTerm)

	require.Equal(t, []int{0, 1}, reg.ReadyIDs())
}

func TestReplacer_ShrinkRemovesStaleUnits(t *testing.T) {
	sp := newGenSpawner(true)
	reg := newTestFleet(t, sp, 2)
	r := New(reg, time.Second, logging.NewNop(), metrics.NewNop())

	err := r.Replace(context.Background(), Rolling, Generation{
		TotalShards:      1,
		TotalClusters:    1,
		ShardsPerCluster: 1,
	})
	require.NoError(t, err)

	require.Equal(t, []int{0}, reg.IDs())
	require.Equal(t, 1, reg.Expected())
	require.GreaterOrEqual(t, sp.index("term 1#0"), 0)
}

func TestReplacer_InvalidShape(t *testing.T) {
	sp := newGenSpawner(true)
	reg := newTestFleet(t, sp, 1)
	r := New(reg, time.Second, logging.NewNop(), metrics.NewNop())

	err := r.Replace(context.Background(), Rolling, Generation{
		TotalShards:      10,
		TotalClusters:    2,
		ShardsPerCluster: 2,
	})
	require.ErrorIs(t, err, types.ErrInvalidConfig)

	// No replacement was spawned.
	require.Equal(t, -1, sp.index("spawn 0#1"))
}

func TestReplacer_SingleFlightAndFailure(t *testing.T) {
	sp := newGenSpawner(false) // replacements never become ready
	reg := newTestFleet(t, sp, 1)

	u, ok := reg.Get(0)
	require.True(t, ok)

	r := New(reg, 100*time.Millisecond, logging.NewNop(), metrics.NewNop())

	done := make(chan error, 1)
	go func() {
		done <- r.Replace(context.Background(), Rolling, Generation{
			TotalShards:      1,
			TotalClusters:    1,
			ShardsPerCluster: 1,
		})
	}()

	require.Eventually(t, r.InProgress, time.Second, time.Millisecond)

	err := r.Replace(context.Background(), Rolling, Generation{
		TotalShards:      1,
		TotalClusters:    1,
		ShardsPerCluster: 1,
	})
	require.ErrorIs(t, err, types.ErrReplacementInProgress)

	err = <-done
	require.ErrorIs(t, err, types.ErrReplacementFailed)

	// The unready replacement was terminated; the old unit is untouched.
	require.GreaterOrEqual(t, sp.index("term 0#1"), 0)
	cur, ok := reg.Get(0)
	require.True(t, ok)
	require.Same(t, u, cur)
	require.Equal(t, -1, sp.index("term 0#0"))
}
