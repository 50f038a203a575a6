package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LucasCzechia/discord-cluster/internal/logging"
	"github.com/LucasCzechia/discord-cluster/internal/metrics"
)

func newTestStore(sweep time.Duration) *Store {
	return New(sweep, logging.NewNop(), metrics.NewNop())
}

func TestStore_SetGet(t *testing.T) {
	s := newTestStore(0)

	s.Set("k", "v", 0)

	v, ok := s.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", v)
	require.True(t, s.Has("k"))
}

func TestStore_TTLExpiry(t *testing.T) {
	s := newTestStore(0)

	s.Set("k", "v", 50*time.Millisecond)

	v, ok := s.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", v)

	time.Sleep(60 * time.Millisecond)

	_, ok = s.Get("k")
	require.False(t, ok)
	require.False(t, s.Has("k"))

	// Lazy eviction removed the entry without an explicit delete.
	require.Zero(t, s.Len())
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(0)

	s.Set("k", 1, 0)
	require.True(t, s.Delete("k"))
	require.False(t, s.Delete("k"))
	require.False(t, s.Has("k"))
}

func TestStore_OverwriteResetsTTL(t *testing.T) {
	s := newTestStore(0)

	s.Set("k", "old", 30*time.Millisecond)
	s.Set("k", "new", 0)

	time.Sleep(40 * time.Millisecond)

	v, ok := s.Get("k")
	require.True(t, ok)
	require.Equal(t, "new", v)
}

func TestStore_SweepEvictsUnreadEntries(t *testing.T) {
	s := newTestStore(0)

	s.Set("a", 1, 20*time.Millisecond)
	s.Set("b", 2, 20*time.Millisecond)
	s.Set("c", 3, 0)

	time.Sleep(30 * time.Millisecond)

	// Nothing read the expired entries; the sweep alone reclaims them.
	require.Equal(t, 2, s.Sweep())
	require.Equal(t, 1, s.Len())
	require.True(t, s.Has("c"))
}

func TestStore_BackgroundSweep(t *testing.T) {
	s := newTestStore(20 * time.Millisecond)
	s.Start(context.Background())
	defer s.Stop()

	s.Set("a", 1, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return s.Len() == 0
	}, time.Second, 10*time.Millisecond)
}
