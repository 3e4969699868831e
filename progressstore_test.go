package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestProgressStore(t *testing.T) *ProgressStore {
	t.Helper()
	store, err := OpenProgressStore(filepath.Join(t.TempDir(), "progress.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestProgressStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestProgressStore(t)
	now := time.UnixMilli(1_700_000_000_000)

	view := UnitKey{TileIndex: 1200, SubIndex: 7, Simulation: SimulationView, Floor: 0}
	sun := UnitKey{TileIndex: 1200, SubIndex: 7, Simulation: SimulationSun, Floor: 0}

	inserted, err := store.CreatePending(ctx, []UnitKey{view, sun}, now)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// existing records are left alone
	inserted, err = store.CreatePending(ctx, []UnitKey{view}, now)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	progress, err := store.Get(ctx, view)
	require.NoError(t, err)
	assert.Equal(t, UnitPending, progress.State)
	assert.Equal(t, now, progress.UpdatedAt)

	claimed, err := store.Claim(ctx, view, "run-1", now.Add(time.Second), time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)
	progress, err = store.Get(ctx, view)
	require.NoError(t, err)
	assert.Equal(t, UnitProcessing, progress.State)
	assert.Equal(t, "run-1", progress.RunID)

	// a redelivered or superseded job does not take over a unit in progress
	claimed, err = store.Claim(ctx, view, "run-1b", now.Add(2*time.Second), time.Hour)
	require.NoError(t, err)
	assert.False(t, claimed)
	progress, err = store.Get(ctx, view)
	require.NoError(t, err)
	assert.Equal(t, "run-1", progress.RunID)

	require.NoError(t, store.SetState(ctx, view, UnitSuccess, "", now.Add(2*time.Second)))
	claimed, err = store.Claim(ctx, view, "run-2", now.Add(3*time.Second), time.Hour)
	require.NoError(t, err)
	assert.False(t, claimed, "successful units are not processed again")

	require.NoError(t, store.SetState(ctx, sun, UnitFailure, `{"error":"boom"}`, now))
	progress, err = store.Get(ctx, sun)
	require.NoError(t, err)
	assert.Equal(t, UnitFailure, progress.State)
	assert.Equal(t, `{"error":"boom"}`, progress.Errors)

	// a failed unit may be claimed again
	claimed, err = store.Claim(ctx, sun, "run-3", now, time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)
	progress, err = store.Get(ctx, sun)
	require.NoError(t, err)
	assert.Empty(t, progress.Errors)

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[UnitState]int{UnitSuccess: 1, UnitProcessing: 1}, counts)
}

func TestProgressStoreRerunnable(t *testing.T) {
	ctx := context.Background()
	store := openTestProgressStore(t)
	now := time.UnixMilli(1_700_000_000_000)

	failed := UnitKey{TileIndex: 1, SubIndex: 0, Simulation: SimulationView}
	stale := UnitKey{TileIndex: 2, SubIndex: 0, Simulation: SimulationView}
	busy := UnitKey{TileIndex: 3, SubIndex: 0, Simulation: SimulationView}
	done := UnitKey{TileIndex: 4, SubIndex: 0, Simulation: SimulationView}

	require.NoError(t, store.SetState(ctx, failed, UnitFailure, "error", now))
	require.NoError(t, store.SetState(ctx, stale, UnitProcessing, "", now.Add(-2*time.Hour)))
	require.NoError(t, store.SetState(ctx, busy, UnitProcessing, "", now.Add(-time.Minute)))
	require.NoError(t, store.SetState(ctx, done, UnitSuccess, "", now.Add(-2*time.Hour)))

	keys, err := store.Rerunnable(ctx, time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, []UnitKey{failed, stale}, keys)
}

func TestProgressStoreClaimStaleUnit(t *testing.T) {
	ctx := context.Background()
	store := openTestProgressStore(t)
	now := time.UnixMilli(1_700_000_000_000)
	key := UnitKey{TileIndex: 77, SubIndex: 3, Simulation: SimulationSun, Floor: 1}

	claimed, err := store.Claim(ctx, key, "run-A", now, time.Hour)
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = store.Claim(ctx, key, "run-B", now.Add(time.Second), time.Hour)
	require.NoError(t, err)
	assert.False(t, claimed, "unit is still processed by run-A")

	// run-A died, the unit may be taken over after the timeout
	claimed, err = store.Claim(ctx, key, "run-B", now.Add(time.Hour+time.Second), time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)
	progress, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "run-B", progress.RunID)
}

func TestProgressStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "progress.sqlite")
	key := UnitKey{TileIndex: 9, SubIndex: 9, Simulation: SimulationSun, Floor: 2}

	store, err := OpenProgressStore(path)
	require.NoError(t, err)
	_, err = store.CreatePending(ctx, []UnitKey{key}, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// migrations are applied once, records survive
	store, err = OpenProgressStore(path)
	require.NoError(t, err)
	defer store.Close()
	progress, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, UnitPending, progress.State)

	_, err = store.Get(ctx, UnitKey{TileIndex: 10})
	assert.ErrorIs(t, err, ErrUnitNotFound)
}
