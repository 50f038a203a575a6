package guard

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LucasCzechia/discord-cluster/internal/logging"
)

func TestProcessGuard_CleanupOrderAndTimeout(t *testing.T) {
	g := NewProcessGuard(nil, time.Minute, logging.NewNop())

	var code int
	g.SetExitFunc(func(c int) { code = c })

	var order []string
	g.OnCleanup("slow", 30*time.Millisecond, func(ctx context.Context) error {
		order = append(order, "slow")
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	g.OnCleanup("fast", time.Second, func(context.Context) error {
		order = append(order, "fast")

		return nil
	})

	g.Shutdown("test trigger")

	// The hung first task burned its own budget only; the second still ran.
	require.Equal(t, []string{"slow", "fast"}, order)
	require.Equal(t, 1, code)
}

func TestProcessGuard_CleanSequenceExitsZero(t *testing.T) {
	dir := t.TempDir()
	marker := NewMarker(filepath.Join(dir, "cluster.alive"), time.Minute, func() []int { return nil }, logging.NewNop())
	marker.Rewrite()
	require.FileExists(t, filepath.Join(dir, "cluster.alive"))

	g := NewProcessGuard(marker, time.Minute, logging.NewNop())

	exits := 0
	code := -1
	g.SetExitFunc(func(c int) { exits++; code = c })

	ran := 0
	g.OnCleanup("noop", time.Second, func(context.Context) error {
		ran++

		return nil
	})

	g.Shutdown("first")
	g.Shutdown("second")

	require.Equal(t, 1, ran)
	require.Equal(t, 1, exits)
	require.Equal(t, 0, code)
	require.NoFileExists(t, filepath.Join(dir, "cluster.alive"))
}

func TestMarker_WriteAndSweep(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.alive")

	marker := NewMarker(path, time.Minute, func() []int { return []int{os.Getpid()} }, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	marker.Start(ctx)

	require.FileExists(t, path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var record markerFile
	require.NoError(t, json.Unmarshal(raw, &record))
	require.Equal(t, os.Getpid(), record.ControllerPID)
	require.Equal(t, []int{os.Getpid()}, record.ChildPIDs)
	require.False(t, record.WrittenAt.IsZero())

	cancel()
	marker.Stop()
	require.NoError(t, marker.Remove())
	require.NoFileExists(t, path)
}

func TestMarker_StopRightAfterStart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.alive")

	marker := NewMarker(path, time.Minute, func() []int { return nil }, logging.NewNop())

	// Stop before the rewrite goroutine gets scheduled must not panic,
	// and the marker must remain reusable afterwards.
	for i := 0; i < 50; i++ {
		marker.Start(context.Background())
		marker.Stop()
	}

	marker.Start(context.Background())
	require.FileExists(t, path)
	marker.Stop()
}

func TestSweepOrphans_MissingMarker(t *testing.T) {
	swept, err := SweepOrphans(filepath.Join(t.TempDir(), "nope.alive"), logging.NewNop())
	require.NoError(t, err)
	require.Zero(t, swept)
}

func TestSweepOrphans_StaleMarkerRemoved(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.alive")

	// A record from a long-dead controller with long-dead children.
	record := markerFile{
		ControllerPID: 1 << 30,
		ChildPIDs:     []int{1<<30 + 1, 1<<30 + 2},
		WrittenAt:     time.Now().Add(-time.Hour),
	}
	raw, err := json.Marshal(record)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	swept, err := SweepOrphans(path, logging.NewNop())
	require.NoError(t, err)
	require.Zero(t, swept)
	require.NoFileExists(t, path)
}

func TestSweepOrphans_LiveControllerSkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.alive")

	// PID 1 is always alive; the marker belongs to a running controller.
	record := markerFile{
		ControllerPID: 1,
		ChildPIDs:     []int{1 << 30},
		WrittenAt:     time.Now(),
	}
	raw, err := json.Marshal(record)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	swept, err := SweepOrphans(path, logging.NewNop())
	require.NoError(t, err)
	require.Zero(t, swept)
	require.FileExists(t, path)
}

func TestPeerGuard_ExitsWhenParentGone(t *testing.T) {
	g := NewPeerGuard(10*time.Millisecond, 2, logging.NewNop())
	g.SetParentPID(1 << 30)

	exited := make(chan int, 1)
	g.SetExitFunc(func(code int) { exited <- code })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g.Start(ctx)

	select {
	case code := <-exited:
		require.Equal(t, 1, code)
	case <-time.After(2 * time.Second):
		t.Fatal("guard never exited")
	}
}
