package spawnq

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LucasCzechia/discord-cluster/internal/logging"
	"github.com/LucasCzechia/discord-cluster/types"
)

type fakeWaiter struct {
	ch chan struct{}
}

func newFakeWaiter(ready bool) *fakeWaiter {
	w := &fakeWaiter{ch: make(chan struct{})}
	if ready {
		close(w.ch)
	}

	return w
}

func (w *fakeWaiter) ReadyCh() <-chan struct{} { return w.ch }

func TestQueue_AutoOrder(t *testing.T) {
	var mu sync.Mutex
	var order []int

	spawn := func(_ context.Context, item types.SpawnItem) (ReadyWaiter, error) {
		mu.Lock()
		order = append(order, item.UnitID)
		mu.Unlock()

		return newFakeWaiter(true), nil
	}

	q := New(Auto, 0, time.Second, spawn, logging.NewNop())
	q.Enqueue(
		types.SpawnItem{UnitID: 0},
		types.SpawnItem{UnitID: 1},
		types.SpawnItem{UnitID: 2},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(order) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	require.Equal(t, []int{0, 1, 2}, order)
	mu.Unlock()

	cancel()
	q.Wait()
}

func TestQueue_ManualAdvance(t *testing.T) {
	var spawned []int
	spawn := func(_ context.Context, item types.SpawnItem) (ReadyWaiter, error) {
		spawned = append(spawned, item.UnitID)

		return newFakeWaiter(true), nil
	}

	q := New(Manual, 0, time.Second, spawn, logging.NewNop())
	q.Enqueue(types.SpawnItem{UnitID: 7})

	require.NoError(t, q.Advance(context.Background()))
	require.Equal(t, []int{7}, spawned)

	err := q.Advance(context.Background())
	require.ErrorIs(t, err, types.ErrQueueEmpty)
}

func TestQueue_AdvanceRejectedInAutoMode(t *testing.T) {
	q := New(Auto, 0, time.Second, func(context.Context, types.SpawnItem) (ReadyWaiter, error) {
		return newFakeWaiter(true), nil
	}, logging.NewNop())

	err := q.Advance(context.Background())
	require.ErrorIs(t, err, types.ErrAutoAdvance)
}

func TestQueue_SpawnTimeoutProceeds(t *testing.T) {
	var mu sync.Mutex
	var order []int

	spawn := func(_ context.Context, item types.SpawnItem) (ReadyWaiter, error) {
		mu.Lock()
		order = append(order, item.UnitID)
		mu.Unlock()

		// First unit never signals ready.
		return newFakeWaiter(item.UnitID != 0), nil
	}

	q := New(Auto, 0, 20*time.Millisecond, spawn, logging.NewNop())
	q.Enqueue(types.SpawnItem{UnitID: 0}, types.SpawnItem{UnitID: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(order) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	q.Wait()
}
