package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coldfront/coldfront/internal/record"
	"github.com/coldfront/coldfront/internal/store"
)

// Reconciler sweeps index entries stuck in a non-terminal status beyond
// the staleness window, left behind by a crash or partial failure, and
// drives each to a consistent state: either the migration is completed
// or the entry is discarded so the live copy stays authoritative.
type Reconciler struct {
	live       store.LiveStore
	cold       store.ColdStore
	index      store.IndexStore
	staleAfter time.Duration
	logger     zerolog.Logger
}

// ReconcileSummary reports one reconciliation sweep.
type ReconcileSummary struct {
	Examined  int `json:"examined"`
	Completed int `json:"completed"`
	Discarded int `json:"discarded"`
	Errors    int `json:"errors"`
}

// NewReconciler creates a reconciler with the given staleness window.
func NewReconciler(live store.LiveStore, cold store.ColdStore, index store.IndexStore, staleAfter time.Duration, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		live:       live,
		cold:       cold,
		index:      index,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// RunOnce sweeps stale pending and committed entries. Pending entries
// are promoted and completed when the cold content verifies, discarded
// when the cold write never finished. Committed entries get their live
// delete finished. When triggered is up to the caller; the window only
// bounds how long a stale entry can linger once the sweep runs.
func (r *Reconciler) RunOnce(ctx context.Context) (*ReconcileSummary, error) {
	cutoff := time.Now().Add(-r.staleAfter)
	summary := &ReconcileSummary{}

	pending, err := r.index.ListStale(ctx, store.StatusPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale pending entries: %w", err)
	}
	committed, err := r.index.ListStale(ctx, store.StatusCommitted, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale committed entries: %w", err)
	}

	entries := append(pending, committed...)
	summary.Examined = len(entries)
	if len(entries) == 0 {
		return summary, nil
	}

	r.logger.Info().
		Int("pending", len(pending)).
		Int("committed", len(committed)).
		Msg("Reconciling stale index entries")

	// Bounded concurrency; entries are independent per record ID.
	const maxConcurrent = 5
	sem := make(chan struct{}, maxConcurrent)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, entry := range entries {
		wg.Add(1)
		go func(entry *store.IndexEntry) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			outcome, err := r.reconcileEntry(ctx, entry)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				summary.Errors++
				r.logger.Error().Str("record", entry.RecordID).Err(err).Msg("Reconciliation failed")
			case outcome == outcomeCompleted:
				summary.Completed++
			case outcome == outcomeDiscarded:
				summary.Discarded++
			}
		}(entry)
	}

	wg.Wait()
	return summary, nil
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeDiscarded
)

// reconcileEntry drives one stale entry to a consistent state.
func (r *Reconciler) reconcileEntry(ctx context.Context, entry *store.IndexEntry) (outcome, error) {
	verified, err := r.verifyCold(ctx, entry)
	if err != nil {
		return 0, err
	}

	if !verified {
		// The cold write never completed (or the content was damaged).
		// With the live copy intact the entry is just noise: drop it and
		// let the next run re-migrate. Without a live copy the record is
		// unrecoverable and must be surfaced, never silently dropped.
		if _, err := r.live.Get(ctx, entry.RecordID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return 0, fmt.Errorf("%w: no live copy and unverifiable cold content for %s", store.ErrCorrupt, entry.RecordID)
			}
			return 0, fmt.Errorf("read live record %s: %w", entry.RecordID, err)
		}
		if err := r.index.Delete(ctx, entry.RecordID); err != nil {
			return 0, fmt.Errorf("discard index entry %s: %w", entry.RecordID, err)
		}
		r.logger.Warn().Str("record", entry.RecordID).Str("status", string(entry.Status)).Msg("Discarded stale index entry with incomplete cold write")
		return outcomeDiscarded, nil
	}

	// Cold content verified durable: finish the migration.
	if entry.Status == store.StatusPending {
		if err := r.index.SetStatus(ctx, entry.RecordID, store.StatusCommitted); err != nil {
			return 0, fmt.Errorf("promote entry %s: %w", entry.RecordID, err)
		}
	}
	if err := r.live.Delete(ctx, entry.RecordID); err != nil {
		return 0, fmt.Errorf("complete live delete for %s: %w", entry.RecordID, err)
	}
	if err := r.index.SetStatus(ctx, entry.RecordID, store.StatusReconciled); err != nil && !errors.Is(err, store.ErrInvalidTransition) {
		return 0, fmt.Errorf("advance entry %s: %w", entry.RecordID, err)
	}
	r.logger.Info().Str("record", entry.RecordID).Str("status", string(entry.Status)).Msg("Completed stale migration")
	return outcomeCompleted, nil
}

// verifyCold reports whether the cold tier holds content matching the
// entry's checksum.
func (r *Reconciler) verifyCold(ctx context.Context, entry *store.IndexEntry) (bool, error) {
	payload, err := r.cold.Get(ctx, entry.Location)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrCorrupt) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read cold object %s: %w", entry.Location, err)
	}
	return record.Checksum(payload) == entry.Checksum, nil
}
