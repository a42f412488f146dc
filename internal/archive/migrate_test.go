package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldfront/coldfront/internal/record"
	"github.com/coldfront/coldfront/internal/store"
)

func TestMigrateHappyPath(t *testing.T) {
	ctx := context.Background()
	live, cold, index, _ := testStores()
	rec := agedRecord("r1", 100*24*time.Hour)
	require.NoError(t, live.Put(ctx, rec))
	sum := checksumOf(t, rec)

	m := NewMigrator(live, cold, index, 3, nop)
	require.NoError(t, m.Migrate(ctx, "r1", "run-1"))

	// Live copy gone, cold copy matches, entry fully reconciled.
	_, err := live.Get(ctx, "r1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	payload, err := cold.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, sum, record.Checksum(payload))

	entry, err := index.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusReconciled, entry.Status)
	assert.Equal(t, sum, entry.Checksum)
	assert.Equal(t, "run-1", entry.RunID)
	assert.Equal(t, "r1", entry.Location)
}

func TestMigrateAbsentRecordIsNoop(t *testing.T) {
	ctx := context.Background()
	live, cold, index, _ := testStores()

	m := NewMigrator(live, cold, index, 3, nop)
	require.NoError(t, m.Migrate(ctx, "ghost", "run-1"))

	assert.Equal(t, 0, cold.PutCalls)
	_, err := index.Get(ctx, "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMigrateIdempotent(t *testing.T) {
	ctx := context.Background()
	live, cold, index, _ := testStores()
	require.NoError(t, live.Put(ctx, agedRecord("r1", 100*24*time.Hour)))

	m := NewMigrator(live, cold, index, 3, nop)
	require.NoError(t, m.Migrate(ctx, "r1", "run-1"))

	first, err := index.Get(ctx, "r1")
	require.NoError(t, err)

	// Second run with no intervening state change: same entry, no
	// duplicate cold writes.
	require.NoError(t, m.Migrate(ctx, "r1", "run-2"))

	second, err := index.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, cold.PutCalls)
}

func TestMigrateColdWriteFailureLeavesLiveIntact(t *testing.T) {
	ctx := context.Background()
	live, cold, index, _ := testStores()
	rec := agedRecord("r1", 100*24*time.Hour)
	require.NoError(t, live.Put(ctx, rec))
	cold.PutErr = store.ErrColdWrite

	m := NewMigrator(live, cold, index, 1, nop)
	err := m.Migrate(ctx, "r1", "run-1")
	assert.ErrorIs(t, err, store.ErrColdWrite)

	// Record untouched and still resolvable from live.
	got, err := live.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Equal(t, 0, live.DeleteCalls)

	// The pending entry recorded intent but never confirms anything.
	entry, err := index.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, entry.Status)
}

func TestMigrateCrashAfterUploadResumesWithoutReupload(t *testing.T) {
	ctx := context.Background()
	live, cold, index, _ := testStores()
	rec := agedRecord("r2", 100*24*time.Hour)
	require.NoError(t, live.Put(ctx, rec))

	// Crash after the cold put but before the index commit.
	index.PutHook = func(entry *store.IndexEntry) error {
		if entry.Status == store.StatusCommitted {
			return store.ErrIndexWrite
		}
		return nil
	}

	m := NewMigrator(live, cold, index, 1, nop)
	err := m.Migrate(ctx, "r2", "run-1")
	assert.ErrorIs(t, err, store.ErrIndexWrite)
	assert.Equal(t, 1, cold.PutCalls)

	// Retry detects matching cold content, skips the upload and
	// completes the protocol: exactly one cold object ever written.
	index.PutHook = nil
	require.NoError(t, m.Migrate(ctx, "r2", "run-1"))

	entry, err := index.Get(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, store.StatusReconciled, entry.Status)
	assert.Equal(t, 1, cold.PutCalls)

	n, err := cold.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMigrateCrashBeforeDeleteLeavesOverlapWindow(t *testing.T) {
	ctx := context.Background()
	live, cold, index, _ := testStores()
	rec := agedRecord("r1", 100*24*time.Hour)
	require.NoError(t, live.Put(ctx, rec))
	live.DeleteErr = store.ErrLiveDelete

	m := NewMigrator(live, cold, index, 1, nop)
	err := m.Migrate(ctx, "r1", "run-1")
	assert.ErrorIs(t, err, store.ErrLiveDelete)

	// Overlap window: committed entry and live copy coexist. Not lossy.
	entry, err := index.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusCommitted, entry.Status)
	_, err = live.Get(ctx, "r1")
	require.NoError(t, err)

	// Retry finishes the delete and reconciles.
	live.DeleteErr = nil
	require.NoError(t, m.Migrate(ctx, "r1", "run-1"))

	entry, err = index.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusReconciled, entry.Status)
	_, err = live.Get(ctx, "r1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMigrateCrashBeforeReconcileStatusIsResolvable(t *testing.T) {
	ctx := context.Background()
	live, cold, index, _ := testStores()
	rec := agedRecord("r1", 100*24*time.Hour)
	require.NoError(t, live.Put(ctx, rec))
	sum := checksumOf(t, rec)
	index.SetStatusErr = store.ErrIndexWrite

	m := NewMigrator(live, cold, index, 1, nop)
	err := m.Migrate(ctx, "r1", "run-1")
	assert.ErrorIs(t, err, store.ErrIndexWrite)

	// Live copy deleted, entry stuck at committed: still fully
	// resolvable from the cold tier, reads treat committed and
	// reconciled identically.
	entry, err := index.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusCommitted, entry.Status)

	index.SetStatusErr = nil
	resolver := NewResolver(live, cold, index, nop)
	got, source, err := resolver.Resolve(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, SourceCold, source)
	assert.Equal(t, sum, checksumOf(t, got))
}

func TestMigrateRetryBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	live, cold, index, _ := testStores()
	require.NoError(t, live.Put(ctx, agedRecord("r1", 100*24*time.Hour)))
	cold.PutErr = store.ErrColdWrite

	m := NewMigrator(live, cold, index, 3, nop)
	err := m.Migrate(ctx, "r1", "run-1")
	assert.ErrorIs(t, err, store.ErrColdWrite)
	assert.Equal(t, 3, cold.PutCalls)
	assert.Equal(t, 0, live.DeleteCalls)

	// The record is left for the next run, which succeeds.
	cold.PutErr = nil
	require.NoError(t, m.Migrate(ctx, "r1", "run-2"))
	entry, err := index.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusReconciled, entry.Status)
}

// TestNoLossAtEveryCrashPoint simulates a crash at each fallible step of
// the protocol and checks the record resolves to its original checksum
// both right after the crash and after the recovery rerun.
func TestNoLossAtEveryCrashPoint(t *testing.T) {
	crashes := []struct {
		name   string
		inject func(live *store.MemLive, cold *store.MemCold, index *store.MemIndex)
		clear  func(live *store.MemLive, cold *store.MemCold, index *store.MemIndex)
	}{
		{
			name: "before intent write",
			inject: func(_ *store.MemLive, _ *store.MemCold, index *store.MemIndex) {
				index.PutErr = store.ErrIndexWrite
			},
			clear: func(_ *store.MemLive, _ *store.MemCold, index *store.MemIndex) {
				index.PutErr = nil
			},
		},
		{
			name: "before cold upload",
			inject: func(_ *store.MemLive, cold *store.MemCold, _ *store.MemIndex) {
				cold.PutErr = store.ErrColdWrite
			},
			clear: func(_ *store.MemLive, cold *store.MemCold, _ *store.MemIndex) {
				cold.PutErr = nil
			},
		},
		{
			name: "before index commit",
			inject: func(_ *store.MemLive, _ *store.MemCold, index *store.MemIndex) {
				index.PutHook = func(entry *store.IndexEntry) error {
					if entry.Status == store.StatusCommitted {
						return store.ErrIndexWrite
					}
					return nil
				}
			},
			clear: func(_ *store.MemLive, _ *store.MemCold, index *store.MemIndex) {
				index.PutHook = nil
			},
		},
		{
			name: "before live delete",
			inject: func(live *store.MemLive, _ *store.MemCold, _ *store.MemIndex) {
				live.DeleteErr = store.ErrLiveDelete
			},
			clear: func(live *store.MemLive, _ *store.MemCold, _ *store.MemIndex) {
				live.DeleteErr = nil
			},
		},
		{
			name: "before reconcile advance",
			inject: func(_ *store.MemLive, _ *store.MemCold, index *store.MemIndex) {
				index.SetStatusErr = store.ErrIndexWrite
			},
			clear: func(_ *store.MemLive, _ *store.MemCold, index *store.MemIndex) {
				index.SetStatusErr = nil
			},
		},
	}

	for _, crash := range crashes {
		t.Run(crash.name, func(t *testing.T) {
			ctx := context.Background()
			live, cold, index, _ := testStores()
			rec := agedRecord("r1", 100*24*time.Hour)
			require.NoError(t, live.Put(ctx, rec))
			sum := checksumOf(t, rec)

			m := NewMigrator(live, cold, index, 1, nop)
			resolver := NewResolver(live, cold, index, nop)

			crash.inject(live, cold, index)
			err := m.Migrate(ctx, "r1", "run-1")
			require.Error(t, err)
			require.True(t, errors.Is(err, store.ErrColdWrite) ||
				errors.Is(err, store.ErrIndexWrite) ||
				errors.Is(err, store.ErrLiveDelete))

			// Resolvable with the original content despite the crash.
			got, _, err := resolver.Resolve(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, sum, checksumOf(t, got))

			// Recovery: rerun the unit, then the record must resolve
			// with the original checksum and exactly one cold object.
			crash.clear(live, cold, index)
			require.NoError(t, m.Migrate(ctx, "r1", "run-1"))

			got, _, err = resolver.Resolve(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, sum, checksumOf(t, got))

			n, err := cold.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}
