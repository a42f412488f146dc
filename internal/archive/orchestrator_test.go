package archive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldfront/coldfront/internal/record"
	"github.com/coldfront/coldfront/internal/store"
)

func newTestOrchestrator(live *store.MemLive, cold *store.MemCold, index *store.MemIndex, runs *store.MemRuns, retries int) *Orchestrator {
	migrator := NewMigrator(live, cold, index, retries, nop)
	return NewOrchestrator(live, runs, migrator, record.AgeCreated, time.Minute, nop)
}

func TestRunOnceMigratesAgedRecords(t *testing.T) {
	ctx := context.Background()
	live, cold, index, runs := testStores()

	// R1 created 100 days ago, threshold 90 days.
	r1 := agedRecord("R1", 100*24*time.Hour)
	require.NoError(t, live.Put(ctx, r1))
	require.NoError(t, live.Put(ctx, agedRecord("young", 10*24*time.Hour)))
	sum := checksumOf(t, r1)

	o := newTestOrchestrator(live, cold, index, runs, 3)
	summary, err := o.RunOnce(ctx, 90*24*time.Hour, 10)
	require.NoError(t, err)

	assert.Equal(t, store.RunSucceeded, summary.State)
	assert.Equal(t, 1, summary.Examined)
	assert.Equal(t, 1, summary.Migrated)
	assert.Equal(t, 0, summary.Failed)
	assert.False(t, summary.FinishedAt.IsZero())

	// Live no longer holds R1; the index entry is reconciled; the
	// original payload resolves from cold.
	_, err = live.Get(ctx, "R1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	entry, err := index.Get(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusReconciled, entry.Status)
	assert.Equal(t, summary.RunID, entry.RunID)

	resolver := NewResolver(live, cold, index, nop)
	got, source, err := resolver.Resolve(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, SourceCold, source)
	assert.Equal(t, sum, checksumOf(t, got))

	// The young record was never a candidate.
	_, err = live.Get(ctx, "young")
	require.NoError(t, err)
}

func TestRunOnceNothingToDo(t *testing.T) {
	ctx := context.Background()
	live, cold, index, runs := testStores()

	o := newTestOrchestrator(live, cold, index, runs, 3)
	summary, err := o.RunOnce(ctx, 90*24*time.Hour, 10)
	require.NoError(t, err)

	assert.Equal(t, store.RunSucceeded, summary.State)
	assert.Equal(t, 0, summary.Examined)
	assert.Equal(t, 0, summary.Migrated)
}

func TestRunOnceSingleFlight(t *testing.T) {
	ctx := context.Background()
	live, cold, index, runs := testStores()

	// Another run holds the lock.
	require.NoError(t, runs.AcquireRunLock(ctx, "other-run", time.Minute))

	o := newTestOrchestrator(live, cold, index, runs, 3)
	_, err := o.RunOnce(ctx, 90*24*time.Hour, 10)
	assert.ErrorIs(t, err, store.ErrRunInProgress)

	// Once released, the run proceeds.
	require.NoError(t, runs.ReleaseRunLock(ctx, "other-run"))
	summary, err := o.RunOnce(ctx, 90*24*time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, store.RunSucceeded, summary.State)
}

// slowLive delays candidate selection so two runs can overlap in time.
type slowLive struct {
	*store.MemLive
	delay time.Duration
}

func (s *slowLive) ListOlderThan(ctx context.Context, field record.AgeField, cutoff time.Time, limit int) ([]*record.Billing, error) {
	time.Sleep(s.delay)
	return s.MemLive.ListOlderThan(ctx, field, cutoff, limit)
}

func TestRunOnceConcurrentCallersSingleFlight(t *testing.T) {
	ctx := context.Background()
	live, cold, index, runs := testStores()
	require.NoError(t, live.Put(ctx, agedRecord("r1", 100*24*time.Hour)))

	slow := &slowLive{MemLive: live, delay: 300 * time.Millisecond}
	migrator := NewMigrator(slow, cold, index, 3, nop)
	o := NewOrchestrator(slow, runs, migrator, record.AgeCreated, time.Minute, nop)

	// Two concurrent calls on the same orchestrator: exactly one may
	// execute, the other must be rejected while the first holds the lock.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = o.RunOnce(ctx, 90*24*time.Hour, 10)
		}(i)
	}
	wg.Wait()

	rejected := 0
	for _, err := range errs {
		if errors.Is(err, store.ErrRunInProgress) {
			rejected++
		} else {
			require.NoError(t, err)
		}
	}
	assert.Equal(t, 1, rejected)

	// The winning run migrated the record; the index saw one writer.
	entry, err := index.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusReconciled, entry.Status)
	assert.Equal(t, 1, cold.PutCalls)
}

// takeoverRuns grants the initial lock acquisition and fails every
// lease extension, as if another process took over an expired lease.
type takeoverRuns struct {
	*store.MemRuns
	mu       sync.Mutex
	acquires int
}

func (r *takeoverRuns) AcquireRunLock(ctx context.Context, owner string, ttl time.Duration) error {
	r.mu.Lock()
	r.acquires++
	n := r.acquires
	r.mu.Unlock()
	if n > 1 {
		return store.ErrRunInProgress
	}
	return r.MemRuns.AcquireRunLock(ctx, owner, ttl)
}

func TestRunOnceAbortsWhenLeaseLost(t *testing.T) {
	ctx := context.Background()
	live, cold, index, runs := testStores()
	require.NoError(t, live.Put(ctx, agedRecord("a", 200*24*time.Hour)))
	require.NoError(t, live.Put(ctx, agedRecord("b", 100*24*time.Hour)))

	migrator := NewMigrator(live, cold, index, 3, nop)
	o := NewOrchestrator(live, &takeoverRuns{MemRuns: runs}, migrator, record.AgeCreated, time.Minute, nop)

	// Batch size 1: the first batch completes, then the lease extension
	// before the second batch fails and the run stops.
	summary, err := o.RunOnce(ctx, 90*24*time.Hour, 1)
	require.NoError(t, err)

	assert.Equal(t, store.RunAborted, summary.State)
	assert.Equal(t, 1, summary.Migrated)

	// The second record was never touched.
	_, err = live.Get(ctx, "b")
	require.NoError(t, err)
}

func TestRunOnceReleasesLock(t *testing.T) {
	ctx := context.Background()
	live, cold, index, runs := testStores()

	o := newTestOrchestrator(live, cold, index, runs, 3)
	_, err := o.RunOnce(ctx, 90*24*time.Hour, 10)
	require.NoError(t, err)

	// A subsequent run can acquire the lock immediately.
	_, err = o.RunOnce(ctx, 90*24*time.Hour, 10)
	require.NoError(t, err)
}

func TestRunOncePartialFailure(t *testing.T) {
	ctx := context.Background()
	live, cold, index, runs := testStores()

	bad := agedRecord("bad", 120*24*time.Hour)
	good := agedRecord("good", 100*24*time.Hour)
	require.NoError(t, live.Put(ctx, bad))
	require.NoError(t, live.Put(ctx, good))

	// Only the bad record's index writes fail.
	index.PutHook = func(entry *store.IndexEntry) error {
		if entry.RecordID == "bad" {
			return store.ErrIndexWrite
		}
		return nil
	}

	o := newTestOrchestrator(live, cold, index, runs, 2)
	summary, err := o.RunOnce(ctx, 90*24*time.Hour, 10)
	require.NoError(t, err)

	// Partial success is the designed outcome, not a run failure.
	assert.Equal(t, store.RunWithErrors, summary.State)
	assert.Equal(t, 2, summary.Examined)
	assert.Equal(t, 1, summary.Migrated)
	assert.Equal(t, 1, summary.Failed)

	// The failed record is untouched, ready for the next run.
	_, err = live.Get(ctx, "bad")
	require.NoError(t, err)
	_, err = live.Get(ctx, "good")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunOnceCancelledBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	live, cold, index, runs := testStores()
	require.NoError(t, live.Put(context.Background(), agedRecord("r1", 100*24*time.Hour)))

	o := newTestOrchestrator(live, cold, index, runs, 3)
	summary, err := o.RunOnce(ctx, 90*24*time.Hour, 1)
	require.NoError(t, err)

	assert.Equal(t, store.RunAborted, summary.State)
	assert.Equal(t, 0, summary.Migrated)

	// Nothing was migrated after the cancellation signal.
	_, err = live.Get(context.Background(), "r1")
	require.NoError(t, err)
}

func TestRunOnceProcessesMultipleBatches(t *testing.T) {
	ctx := context.Background()
	live, cold, index, runs := testStores()

	ids := []string{"a", "b", "c", "d", "e"}
	for i, id := range ids {
		require.NoError(t, live.Put(ctx, agedRecord(id, time.Duration(100+i)*24*time.Hour)))
	}

	o := newTestOrchestrator(live, cold, index, runs, 3)
	summary, err := o.RunOnce(ctx, 90*24*time.Hour, 2)
	require.NoError(t, err)

	assert.Equal(t, store.RunSucceeded, summary.State)
	assert.Equal(t, 5, summary.Examined)
	assert.Equal(t, 5, summary.Migrated)

	for _, id := range ids {
		entry, err := index.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, store.StatusReconciled, entry.Status)
	}
	n, err := live.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunSummaryPersisted(t *testing.T) {
	ctx := context.Background()
	live, cold, index, runs := testStores()
	require.NoError(t, live.Put(ctx, agedRecord("r1", 100*24*time.Hour)))

	o := newTestOrchestrator(live, cold, index, runs, 3)
	summary, err := o.RunOnce(ctx, 90*24*time.Hour, 10)
	require.NoError(t, err)

	stored, err := runs.GetRun(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, summary, stored)
}

func TestRunOnceRejectsBadBatchSize(t *testing.T) {
	live, cold, index, runs := testStores()
	o := newTestOrchestrator(live, cold, index, runs, 3)

	_, err := o.RunOnce(context.Background(), time.Hour, 0)
	assert.Error(t, err)
}
