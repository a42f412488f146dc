// Package archive implements the tiered-storage consistency engine:
// migration of aged records from the live tier to the cold tier, the
// read router that presents one view over both tiers, restore, and
// reconciliation of entries left behind by partial failures.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/coldfront/coldfront/internal/record"
	"github.com/coldfront/coldfront/internal/store"
)

// Migrator moves single records from the live tier to the cold tier.
//
// The commit protocol is forward-only and every step is idempotent, so
// a crash at any point is recovered by rerunning from the top: upload
// before index-commit before delete means no ordering of failures can
// lose a record.
type Migrator struct {
	live    store.LiveStore
	cold    store.ColdStore
	index   store.IndexStore
	retries int
	logger  zerolog.Logger
}

// NewMigrator creates a migrator with the given per-record retry budget.
func NewMigrator(live store.LiveStore, cold store.ColdStore, index store.IndexStore, retries int, logger zerolog.Logger) *Migrator {
	if retries < 1 {
		retries = 1
	}
	return &Migrator{
		live:    live,
		cold:    cold,
		index:   index,
		retries: retries,
		logger:  logger,
	}
}

// Migrate moves one record, rerunning the protocol from the top on
// transient store failures until the retry budget is spent.
func (m *Migrator) Migrate(ctx context.Context, id, runID string) error {
	var lastErr error
	for attempt := 1; attempt <= m.retries; attempt++ {
		err := m.migrateOnce(ctx, id, runID)
		if err == nil {
			return nil
		}
		if !transient(err) {
			return err
		}
		lastErr = err
		m.logger.Warn().
			Str("record", id).
			Int("attempt", attempt).
			Err(err).
			Msg("Migration attempt failed")
	}
	return fmt.Errorf("retry budget exhausted for %s: %w", id, lastErr)
}

// transient reports whether err is a store failure the protocol may
// safely retry. Invalid transitions indicate a bug and are never retried.
func transient(err error) bool {
	return errors.Is(err, store.ErrColdWrite) ||
		errors.Is(err, store.ErrIndexWrite) ||
		errors.Is(err, store.ErrLiveDelete)
}

// migrateOnce executes the commit protocol once, in order:
//
//  1. read the live copy; absent means already migrated or deleted
//  2. checksum the canonical payload
//  3. record migration intent (pending index entry)
//  4. upload to the cold tier, skipped when matching content exists
//  5. overwrite the index entry as committed
//  6. delete the live copy
//  7. advance the entry to reconciled
func (m *Migrator) migrateOnce(ctx context.Context, id, runID string) error {
	rec, err := m.live.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read live record %s: %w", id, err)
	}

	payload, err := rec.Encode()
	if err != nil {
		return err
	}
	sum := record.Checksum(payload)

	entry := &store.IndexEntry{
		RecordID:   id,
		Location:   id,
		Checksum:   sum,
		ArchivedAt: time.Now().UTC(),
		RunID:      runID,
		Status:     store.StatusPending,
	}

	// Record intent before touching the cold tier, unless the index
	// already holds a confirmed entry for this exact content — then the
	// cold copy is known durable and overwriting back to pending would
	// lie about it.
	existing, err := m.index.Get(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("read index entry %s: %w", id, err)
	}
	resumed := existing != nil && existing.Resolvable() && existing.Checksum == sum
	if !resumed {
		if err := m.index.Put(ctx, entry); err != nil {
			return wrapTransient(store.ErrIndexWrite, err)
		}
	}

	uploaded, err := m.coldHasMatch(ctx, id, sum)
	if err != nil {
		return err
	}
	if !uploaded {
		if err := m.cold.Put(ctx, id, payload); err != nil {
			return wrapTransient(store.ErrColdWrite, err)
		}
	}

	// Cold write confirmed durable: commit.
	entry.Status = store.StatusCommitted
	if err := m.index.Put(ctx, entry); err != nil {
		return wrapTransient(store.ErrIndexWrite, err)
	}

	if err := m.live.Delete(ctx, id); err != nil {
		return wrapTransient(store.ErrLiveDelete, err)
	}

	if err := m.index.SetStatus(ctx, id, store.StatusReconciled); err != nil {
		// A concurrent reconciliation sweep may already have advanced
		// the entry; that is the outcome this step wanted.
		if errors.Is(err, store.ErrInvalidTransition) {
			if cur, gerr := m.index.Get(ctx, id); gerr == nil && cur.Status == store.StatusReconciled {
				return nil
			}
		}
		return wrapTransient(store.ErrIndexWrite, err)
	}

	m.logger.Debug().Str("record", id).Str("run", runID).Msg("Record migrated")
	return nil
}

// coldHasMatch reports whether the cold tier already holds content for
// id with the expected checksum, the idempotent-retry skip path.
func (m *Migrator) coldHasMatch(ctx context.Context, id, sum string) (bool, error) {
	exists, err := m.cold.Exists(ctx, id)
	if err != nil || !exists {
		return false, err
	}
	data, err := m.cold.Get(ctx, id)
	if err != nil {
		// Unreadable partial content is overwritten, not fatal.
		return false, nil
	}
	return record.Checksum(data) == sum, nil
}

// wrapTransient tags err with a retryable sentinel unless it already
// carries one.
func wrapTransient(sentinel, err error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}
