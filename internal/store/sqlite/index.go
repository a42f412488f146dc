package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coldfront/coldfront/internal/store"
)

// Archive index operations. Each write is a single statement or a short
// transaction keyed by record ID, matching the per-key atomicity the
// engine assumes.

// The Store also implements LiveStore, whose Put/Get/Delete signatures
// collide with IndexStore's, so index methods are unexported and the
// interface is satisfied through the Index() view below.

func (s *Store) putEntry(ctx context.Context, entry *store.IndexEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO archive_index (record_id, location, checksum, archived_at, run_id, status)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(record_id) DO UPDATE SET location = excluded.location,
		     checksum = excluded.checksum, archived_at = excluded.archived_at,
		     run_id = excluded.run_id, status = excluded.status`,
		entry.RecordID, entry.Location, entry.Checksum,
		entry.ArchivedAt.UnixNano(), entry.RunID, string(entry.Status))
	if err != nil {
		return fmt.Errorf("put index entry %s: %w", entry.RecordID, err)
	}
	return nil
}

func (s *Store) getEntry(ctx context.Context, id string) (*store.IndexEntry, error) {
	var (
		entry      store.IndexEntry
		archivedAt int64
		status     string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT record_id, location, checksum, archived_at, run_id, status FROM archive_index WHERE record_id = ?",
		id).Scan(&entry.RecordID, &entry.Location, &entry.Checksum, &archivedAt, &entry.RunID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get index entry %s: %w", id, err)
	}
	entry.ArchivedAt = time.Unix(0, archivedAt).UTC()
	entry.Status = store.EntryStatus(status)
	return &entry, nil
}

// setStatus advances an entry inside one transaction: read the current
// status, validate the transition, then update guarded by the status
// just read so a concurrent writer cannot slip in between.
func (s *Store) setStatus(ctx context.Context, id string, to store.EntryStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM archive_index WHERE record_id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read index status %s: %w", id, err)
	}

	if !store.CanTransition(store.EntryStatus(current), to) {
		return fmt.Errorf("%w: %s -> %s for %s", store.ErrInvalidTransition, current, to, id)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE archive_index SET status = ? WHERE record_id = ? AND status = ?",
		string(to), id, current)
	if err != nil {
		return fmt.Errorf("update index status %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: entry %s changed concurrently", store.ErrInvalidTransition, id)
	}
	return tx.Commit()
}

func (s *Store) deleteEntry(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM archive_index WHERE record_id = ?", id); err != nil {
		return fmt.Errorf("delete index entry %s: %w", id, err)
	}
	return nil
}

func (s *Store) listStale(ctx context.Context, status store.EntryStatus, olderThan time.Time) ([]*store.IndexEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id, location, checksum, archived_at, run_id, status FROM archive_index
		 WHERE status = ? AND archived_at < ? ORDER BY archived_at ASC`,
		string(status), olderThan.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("list stale entries: %w", err)
	}
	defer rows.Close()

	var out []*store.IndexEntry
	for rows.Next() {
		var (
			entry      store.IndexEntry
			archivedAt int64
			st         string
		)
		if err := rows.Scan(&entry.RecordID, &entry.Location, &entry.Checksum, &archivedAt, &entry.RunID, &st); err != nil {
			return nil, fmt.Errorf("scan index entry: %w", err)
		}
		entry.ArchivedAt = time.Unix(0, archivedAt).UTC()
		entry.Status = store.EntryStatus(st)
		out = append(out, &entry)
	}
	return out, rows.Err()
}

func (s *Store) countEntries(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM archive_index").Scan(&n); err != nil {
		return 0, fmt.Errorf("count index entries: %w", err)
	}
	return n, nil
}

// Index returns the store's IndexStore view.
func (s *Store) Index() store.IndexStore {
	return indexView{s}
}

type indexView struct{ s *Store }

func (v indexView) Put(ctx context.Context, entry *store.IndexEntry) error {
	return v.s.putEntry(ctx, entry)
}

func (v indexView) Get(ctx context.Context, id string) (*store.IndexEntry, error) {
	return v.s.getEntry(ctx, id)
}

func (v indexView) SetStatus(ctx context.Context, id string, to store.EntryStatus) error {
	return v.s.setStatus(ctx, id, to)
}

func (v indexView) Delete(ctx context.Context, id string) error {
	return v.s.deleteEntry(ctx, id)
}

func (v indexView) ListStale(ctx context.Context, status store.EntryStatus, olderThan time.Time) ([]*store.IndexEntry, error) {
	return v.s.listStale(ctx, status, olderThan)
}

func (v indexView) Count(ctx context.Context) (int, error) {
	return v.s.countEntries(ctx)
}
