package archive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coldfront/coldfront/internal/record"
	"github.com/coldfront/coldfront/internal/store"
)

// Orchestrator drives archival runs: it selects aged records oldest
// first, batches them, and executes migration units with bounded
// concurrency. Exactly one run may execute system-wide; exclusivity is
// a durable lock record with owner and expiry, so it holds across
// process restarts.
type Orchestrator struct {
	live     store.LiveStore
	runs     store.RunStore
	migrator *Migrator
	field    record.AgeField
	lockTTL  time.Duration
	logger   zerolog.Logger
}

// NewOrchestrator creates an orchestrator. field selects the record
// timestamp compared against the age threshold.
func NewOrchestrator(live store.LiveStore, runs store.RunStore, migrator *Migrator, field record.AgeField, lockTTL time.Duration, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		live:     live,
		runs:     runs,
		migrator: migrator,
		field:    field,
		lockTTL:  lockTTL,
		logger:   logger,
	}
}

// RunOnce executes one archival run. Records whose age exceeds
// ageThreshold are migrated in batches of batchSize; within a batch,
// units run concurrently. Returns store.ErrRunInProgress without doing
// any work while another run holds the lock.
//
// Per-record failures never abort the run; they are counted in the
// summary and the records stay live for the next run. Cancellation is
// honored between batches and leaves completed migrations in place.
//
// The run ID doubles as the lock owner, so every invocation competes
// for the lock in its own right and the lease can be extended between
// batches without blocking a takeover of a genuinely dead run.
func (o *Orchestrator) RunOnce(ctx context.Context, ageThreshold time.Duration, batchSize int) (*store.RunSummary, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", batchSize)
	}

	runID := uuid.NewString()
	if err := o.runs.AcquireRunLock(ctx, runID, o.lockTTL); err != nil {
		return nil, err
	}
	defer func() {
		if err := o.runs.ReleaseRunLock(context.WithoutCancel(ctx), runID); err != nil {
			o.logger.Error().Err(err).Msg("Failed to release run lock")
		}
	}()

	run := &store.RunSummary{
		RunID:     runID,
		StartedAt: time.Now().UTC(),
		State:     store.RunRunning,
	}
	if err := o.runs.PutRun(ctx, run); err != nil {
		return nil, fmt.Errorf("persist run summary: %w", err)
	}

	cutoff := time.Now().Add(-ageThreshold)
	candidates, err := o.live.ListOlderThan(ctx, o.field, cutoff, 0)
	if err != nil {
		run.State = store.RunAborted
		o.finalize(ctx, run)
		return run, fmt.Errorf("select candidates: %w", err)
	}
	run.Examined = len(candidates)

	o.logger.Info().
		Str("run", run.RunID).
		Int("candidates", len(candidates)).
		Time("cutoff", cutoff).
		Msg("Starting archival run")

	aborted := false
	for start := 0; start < len(candidates); start += batchSize {
		// Cancellation is checked between batches only, so at most one
		// batch of in-flight migrations completes after the signal.
		if ctx.Err() != nil {
			aborted = true
			break
		}
		// Extend the lock lease so a run outliving its TTL is not taken
		// over mid-flight. Losing the lease means another run may
		// already be mutating the index: stop immediately.
		if start > 0 {
			if err := o.runs.AcquireRunLock(ctx, runID, o.lockTTL); err != nil {
				o.logger.Error().Str("run", runID).Err(err).Msg("Run lock lost mid-run")
				aborted = true
				break
			}
		}
		end := min(start+batchSize, len(candidates))
		migrated, failed := o.runBatch(ctx, candidates[start:end], run.RunID, batchSize)
		run.Migrated += migrated
		run.Failed += failed
	}

	switch {
	case aborted:
		run.State = store.RunAborted
	case run.Failed > 0:
		run.State = store.RunWithErrors
	default:
		run.State = store.RunSucceeded
	}
	o.finalize(ctx, run)

	o.logger.Info().
		Str("run", run.RunID).
		Str("state", string(run.State)).
		Int("examined", run.Examined).
		Int("migrated", run.Migrated).
		Int("failed", run.Failed).
		Msg("Archival run finished")
	return run, nil
}

// runBatch migrates one batch with bounded concurrency. Distinct
// identifiers have no ordering dependency.
func (o *Orchestrator) runBatch(ctx context.Context, batch []*record.Billing, runID string, width int) (migrated, failed int) {
	sem := make(chan struct{}, width)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, rec := range batch {
		wg.Add(1)
		go func(rec *record.Billing) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			err := o.migrator.Migrate(ctx, rec.ID, runID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				o.logger.Error().Str("record", rec.ID).Str("run", runID).Err(err).Msg("Record migration failed")
				return
			}
			migrated++
		}(rec)
	}

	wg.Wait()
	return migrated, failed
}

// finalize stamps the end time and persists the summary. Uses a
// detached context so an aborted run is still recorded.
func (o *Orchestrator) finalize(ctx context.Context, run *store.RunSummary) {
	run.FinishedAt = time.Now().UTC()
	if err := o.runs.PutRun(context.WithoutCancel(ctx), run); err != nil {
		o.logger.Error().Str("run", run.RunID).Err(err).Msg("Failed to persist run summary")
	}
}
