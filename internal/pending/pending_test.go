package pending

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LucasCzechia/discord-cluster/types"
)

func TestNonceSource_Unique(t *testing.T) {
	src := NewNonceSource()

	const n = 10000
	seen := sync.Map{}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < n/8; j++ {
				nonce := src.Next()
				_, dup := seen.LoadOrStore(nonce, true)
				require.False(t, dup, "duplicate nonce %s", nonce)
			}
		}()
	}
	wg.Wait()
}

func TestNonceSource_DistinctSources(t *testing.T) {
	a := NewNonceSource()
	b := NewNonceSource()
	require.NotEqual(t, a.Next(), b.Next())
}

func TestRequests_ResolveOnce(t *testing.T) {
	reqs := NewRequests()
	ch := reqs.Add("n1")

	require.True(t, reqs.Resolve("n1", "value"))

	out := <-ch
	require.NoError(t, out.Err)
	require.Equal(t, "value", out.Data)

	// Duplicate replies for a resolved nonce are no-ops.
	require.False(t, reqs.Resolve("n1", "other"))
	require.False(t, reqs.Reject("n1", errors.New("late")))
	require.Zero(t, reqs.Len())
}

func TestRequests_RejectOnce(t *testing.T) {
	reqs := NewRequests()
	ch := reqs.Add("n2")

	boom := errors.New("boom")
	require.True(t, reqs.Reject("n2", boom))

	out := <-ch
	require.ErrorIs(t, out.Err, boom)
	require.False(t, reqs.Resolve("n2", "late"))
}

func TestRequests_AbandonDropsLateReply(t *testing.T) {
	reqs := NewRequests()
	ch := reqs.Add("n3")

	reqs.Abandon("n3")
	require.False(t, reqs.Resolve("n3", "late"))

	select {
	case <-ch:
		t.Fatal("abandoned waiter must not receive an outcome")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestRequests_ConcurrentSingleResolution(t *testing.T) {
	reqs := NewRequests()
	ch := reqs.Add("race")

	var wins int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if reqs.Resolve("race", i) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, wins)
	require.Len(t, ch, 1)
}

func TestBroadcasts_CompletesAtExpected(t *testing.T) {
	bcs := NewBroadcasts()
	ticket := bcs.Add("b1", 3)

	require.True(t, bcs.Deliver("b1", types.Result{UnitID: 0, Status: types.StatusOk, Data: 1}))
	require.True(t, bcs.Deliver("b1", types.Result{UnitID: 1, Status: types.StatusError, Err: "x"}))

	select {
	case <-ticket.Done():
		t.Fatal("broadcast complete before expected count")
	default:
	}

	require.True(t, bcs.Deliver("b1", types.Result{UnitID: 2, Status: types.StatusOk, Data: 3}))

	select {
	case <-ticket.Done():
	case <-time.After(time.Second):
		t.Fatal("broadcast did not complete")
	}

	col := ticket.Collect()
	require.Equal(t, 3, col.Len())
	require.Equal(t, 2, col.OkCount())
}

func TestBroadcasts_DuplicateUnitIgnored(t *testing.T) {
	bcs := NewBroadcasts()
	ticket := bcs.Add("b2", 2)

	require.True(t, bcs.Deliver("b2", types.Result{UnitID: 0, Status: types.StatusOk, Data: "first"}))
	require.False(t, bcs.Deliver("b2", types.Result{UnitID: 0, Status: types.StatusOk, Data: "second"}))

	require.True(t, bcs.Deliver("b2", types.Result{UnitID: 1, Status: types.StatusOk}))
	col := ticket.Collect()

	r, ok := col.ByUnit(0)
	require.True(t, ok)
	require.Equal(t, "first", r.Data)
}

func TestBroadcasts_PartialCollect(t *testing.T) {
	bcs := NewBroadcasts()
	ticket := bcs.Add("b3", 4)

	bcs.Deliver("b3", types.Result{UnitID: 0, Status: types.StatusOk})
	bcs.Deliver("b3", types.Result{UnitID: 2, Status: types.StatusOk})

	// Caller timed out; collect whatever arrived.
	col := ticket.Collect()
	require.Equal(t, 2, col.Len())

	// Entries arriving after collection find no broadcast and are dropped.
	require.False(t, bcs.Deliver("b3", types.Result{UnitID: 1, Status: types.StatusOk}))
	require.Zero(t, bcs.Len())
}

func TestBroadcasts_ZeroExpectedCompletesImmediately(t *testing.T) {
	bcs := NewBroadcasts()
	ticket := bcs.Add("b4", 0)

	select {
	case <-ticket.Done():
	default:
		t.Fatal("zero-expected broadcast must complete immediately")
	}
	require.Zero(t, ticket.Collect().Len())
}
