package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/LucasCzechia/discord-cluster/internal/logging"
	"github.com/LucasCzechia/discord-cluster/internal/metrics"
	"github.com/LucasCzechia/discord-cluster/types"
)

// recordSpawner hands out handles that record sent messages and report
// termination.
type recordSpawner struct {
	mu      sync.Mutex
	handles []*recordHandle
}

type recordHandle struct {
	mu         sync.Mutex
	sent       []types.Message
	terminated bool
	reason     string
	info       types.SpawnInfo
}

func (h *recordHandle) Send(msg types.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminated {
		return types.ErrUnitTerminated
	}
	h.sent = append(h.sent, msg)

	return nil
}

func (h *recordHandle) Terminate(reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminated = true
	h.reason = reason

	return nil
}

func (h *recordHandle) PID() int { return 4000 + h.info.UnitID }

func (h *recordHandle) isTerminated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.terminated
}

func (s *recordSpawner) Spawn(_ context.Context, opts types.SpawnOptions) (types.Handle, error) {
	h := &recordHandle{info: opts.Info}
	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()

	return h, nil
}

func newRegistry(t *testing.T, spawner types.Spawner, expected int) *Registry {
	t.Helper()

	r := New(spawner, expected, BaseInfo{
		TotalShards:      4,
		TotalClusters:    2,
		ShardsPerCluster: 2,
		Data:             map[string]any{"env": "test"},
	}, logging.NewNop(), metrics.NewNop())
	r.SetDeliver(func(*Unit, types.Message) {})
	r.SetOnExit(func(*Unit, types.ExitInfo) {})

	return r
}

func TestCreateCarriesBaseInfo(t *testing.T) {
	spawner := &recordSpawner{}
	r := newRegistry(t, spawner, 2)

	u, err := r.Create(context.Background(), types.SpawnItem{UnitID: 1, ShardIDs: []int{2, 3}}, 0)
	require.NoError(t, err)
	require.Equal(t, 1, u.ID)
	require.Equal(t, []int{2, 3}, u.ShardIDs)

	info := spawner.handles[0].info
	require.Equal(t, 4, info.TotalShards)
	require.Equal(t, 2, info.TotalClusters)
	require.Equal(t, "test", info.Data["env"])

	got, ok := r.Get(1)
	require.True(t, ok)
	require.Same(t, u, got)
	require.True(t, r.IsCurrent(u))
}

func TestSwapFencesOldGeneration(t *testing.T) {
	spawner := &recordSpawner{}
	r := newRegistry(t, spawner, 1)
	ctx := context.Background()

	old, err := r.Create(ctx, types.SpawnItem{UnitID: 0, ShardIDs: []int{0, 1}}, 0)
	require.NoError(t, err)
	old.MarkReady()

	replacement, err := r.Spawn(ctx, types.SpawnItem{UnitID: 0, ShardIDs: []int{0, 1}}, 0)
	require.NoError(t, err)
	replacement.MarkReady()

	// Detached until swapped in.
	require.True(t, r.IsCurrent(old))
	require.False(t, r.IsCurrent(replacement))

	r.Swap(0, replacement)

	require.False(t, r.IsCurrent(old))
	require.True(t, r.IsCurrent(replacement))
	require.True(t, spawner.handles[0].isTerminated())
	require.Equal(t, "generation swap", spawner.handles[0].reason)
	require.False(t, spawner.handles[1].isTerminated())
}

func TestFanoutSkipsUnreadyAndExcluded(t *testing.T) {
	spawner := &recordSpawner{}
	r := newRegistry(t, spawner, 3)
	ctx := context.Background()

	for id := range 3 {
		u, err := r.Create(ctx, types.SpawnItem{UnitID: id, ShardIDs: []int{id}}, 0)
		require.NoError(t, err)
		if id != 2 {
			u.MarkReady()
		}
	}

	reached := r.Fanout(types.Message{Type: types.MsgEvent, Name: "evt"}, 0)
	require.Equal(t, []int{1}, reached)

	reached = r.Fanout(types.Message{Type: types.MsgEvent, Name: "evt"}, types.ControllerID)
	require.ElementsMatch(t, []int{0, 1}, reached)

	require.Len(t, spawner.handles[2].sent, 0)
}

func TestTryAnnounceReadyOncePerGeneration(t *testing.T) {
	spawner := &recordSpawner{}
	r := newRegistry(t, spawner, 2)
	ctx := context.Background()

	u0, err := r.Create(ctx, types.SpawnItem{UnitID: 0, ShardIDs: []int{0, 1}}, 0)
	require.NoError(t, err)
	u1, err := r.Create(ctx, types.SpawnItem{UnitID: 1, ShardIDs: []int{2, 3}}, 0)
	require.NoError(t, err)

	require.False(t, r.TryAnnounceReady())
	u0.MarkReady()
	require.False(t, r.TryAnnounceReady())
	u1.MarkReady()
	require.True(t, r.TryAnnounceReady())
	require.False(t, r.TryAnnounceReady(), "announcement must fire once")

	// A new generation re-arms the announcement.
	r.SetExpected(2)
	require.True(t, r.TryAnnounceReady())
}

func TestRemoveOnlyDropsMatchingUnit(t *testing.T) {
	spawner := &recordSpawner{}
	r := newRegistry(t, spawner, 1)
	ctx := context.Background()

	old, err := r.Create(ctx, types.SpawnItem{UnitID: 0, ShardIDs: []int{0}}, 0)
	require.NoError(t, err)

	replacement, err := r.Create(ctx, types.SpawnItem{UnitID: 0, ShardIDs: []int{0}}, 1)
	require.NoError(t, err)

	// Stale removal request for the superseded unit must not evict the
	// current one.
	r.Remove(0, old)
	require.Equal(t, 1, r.Size())

	r.Remove(0, replacement)
	require.Equal(t, 0, r.Size())
}

func TestKillAndChildPIDs(t *testing.T) {
	spawner := &recordSpawner{}
	r := newRegistry(t, spawner, 2)
	ctx := context.Background()

	for id := range 2 {
		_, err := r.Create(ctx, types.SpawnItem{UnitID: id, ShardIDs: []int{id}}, 0)
		require.NoError(t, err)
	}

	require.ElementsMatch(t, []int{4000, 4001}, r.ChildPIDs())

	require.NoError(t, r.Kill(0, "operator request"))
	require.True(t, spawner.handles[0].isTerminated())
	require.Equal(t, "operator request", spawner.handles[0].reason)

	require.ErrorIs(t, r.Kill(7, "no such unit"), types.ErrUnreachableUnit)
}
