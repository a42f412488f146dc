// Package store defines the capability interfaces the archival engine
// consumes: the live tier, the cold tier and the archive index. Concrete
// backends (sqlite, blob) implement these so the engine stays
// backend-agnostic and testable against in-memory fakes.
package store

import (
	"context"
	"time"

	"github.com/coldfront/coldfront/internal/record"
)

// LiveStore is the fast tier holding recently active records. Reads and
// single-item writes are strongly consistent.
type LiveStore interface {
	// Get retrieves a record by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*record.Billing, error)

	// Put stores a record, overwriting any existing copy.
	Put(ctx context.Context, rec *record.Billing) error

	// Delete removes a record. Deleting an absent record is not an error.
	Delete(ctx context.Context, id string) error

	// ListOlderThan returns records whose selected age field is before
	// cutoff, oldest first. limit <= 0 means no limit.
	ListOlderThan(ctx context.Context, field record.AgeField, cutoff time.Time, limit int) ([]*record.Billing, error)

	// Count returns the number of live records.
	Count(ctx context.Context) (int, error)
}

// ColdStore is the cheap, high-latency tier holding archived payloads.
// Content is durable once Put returns success.
type ColdStore interface {
	// Put stores a payload under key, overwriting any existing object.
	Put(ctx context.Context, key string, payload []byte) error

	// Get retrieves a payload by key. Returns ErrNotFound if absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes an object. Deleting an absent object is not an error.
	Delete(ctx context.Context, key string) error

	// Count returns the number of stored objects.
	Count(ctx context.Context) (int, error)
}

// IndexStore is the durable archive index. It is the single source of
// truth for where a migrated record lives; per-key operations are atomic.
type IndexStore interface {
	// Put creates or overwrites the entry for entry.RecordID.
	Put(ctx context.Context, entry *IndexEntry) error

	// Get retrieves the entry for id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*IndexEntry, error)

	// SetStatus advances the entry to a new status. Returns
	// ErrInvalidTransition unless the move is a legal forward
	// transition from the entry's current status.
	SetStatus(ctx context.Context, id string, to EntryStatus) error

	// Delete removes the entry for id. Deleting an absent entry is not
	// an error.
	Delete(ctx context.Context, id string) error

	// ListStale returns entries in the given status whose ArchivedAt is
	// before olderThan, candidates for reconciliation.
	ListStale(ctx context.Context, status EntryStatus, olderThan time.Time) ([]*IndexEntry, error)

	// Count returns the number of index entries.
	Count(ctx context.Context) (int, error)
}

// RunStore persists run summaries and the single-flight run lock so both
// survive process restarts mid-run.
type RunStore interface {
	// PutRun creates or updates a run summary.
	PutRun(ctx context.Context, run *RunSummary) error

	// GetRun retrieves a run summary by ID. Returns ErrNotFound if absent.
	GetRun(ctx context.Context, runID string) (*RunSummary, error)

	// LatestRun returns the most recently started run, or ErrNotFound
	// when no run has ever executed.
	LatestRun(ctx context.Context) (*RunSummary, error)

	// AcquireRunLock takes the exclusive run lock for owner, valid for
	// ttl. Returns ErrRunInProgress while another live owner holds it.
	// An expired lock may be taken over; re-acquiring by the same owner
	// extends the lease.
	AcquireRunLock(ctx context.Context, owner string, ttl time.Duration) error

	// ReleaseRunLock releases the lock if owner still holds it.
	ReleaseRunLock(ctx context.Context, owner string) error
}
