package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coldfront/coldfront/internal/store"
)

// Run summary persistence and the durable single-flight run lock.

// PutRun creates or updates a run summary.
func (s *Store) PutRun(ctx context.Context, run *store.RunSummary) error {
	var finished int64
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.UnixNano()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, finished_at, examined, migrated, failed, state)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET finished_at = excluded.finished_at,
		     examined = excluded.examined, migrated = excluded.migrated,
		     failed = excluded.failed, state = excluded.state`,
		run.RunID, run.StartedAt.UnixNano(), finished,
		run.Examined, run.Migrated, run.Failed, string(run.State))
	if err != nil {
		return fmt.Errorf("put run %s: %w", run.RunID, err)
	}
	return nil
}

// GetRun retrieves a run summary by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (*store.RunSummary, error) {
	return s.scanRun(s.db.QueryRowContext(ctx,
		"SELECT run_id, started_at, finished_at, examined, migrated, failed, state FROM runs WHERE run_id = ?",
		runID))
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (*store.RunSummary, error) {
	return s.scanRun(s.db.QueryRowContext(ctx,
		"SELECT run_id, started_at, finished_at, examined, migrated, failed, state FROM runs ORDER BY started_at DESC LIMIT 1"))
}

func (s *Store) scanRun(row *sql.Row) (*store.RunSummary, error) {
	var (
		run               store.RunSummary
		started, finished int64
		state             string
	)
	err := row.Scan(&run.RunID, &started, &finished, &run.Examined, &run.Migrated, &run.Failed, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.StartedAt = time.Unix(0, started).UTC()
	if finished != 0 {
		run.FinishedAt = time.Unix(0, finished).UTC()
	}
	run.State = store.RunState(state)
	return &run, nil
}

// AcquireRunLock takes the exclusive run lock for owner. A held,
// unexpired lock belonging to a different owner rejects the attempt;
// expired locks are taken over so a crashed run cannot wedge the system.
func (s *Store) AcquireRunLock(ctx context.Context, owner string, ttl time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin lock acquire: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	var (
		current string
		expires int64
	)
	err = tx.QueryRowContext(ctx, "SELECT owner, expires_at FROM run_lock WHERE id = 1").Scan(&current, &expires)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read run lock: %w", err)
	}
	if err == nil && current != owner && time.Unix(0, expires).After(now) {
		return store.ErrRunInProgress
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO run_lock (id, owner, expires_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at`,
		owner, now.Add(ttl).UnixNano())
	if err != nil {
		return fmt.Errorf("write run lock: %w", err)
	}
	return tx.Commit()
}

// ReleaseRunLock releases the lock if owner still holds it.
func (s *Store) ReleaseRunLock(ctx context.Context, owner string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM run_lock WHERE id = 1 AND owner = ?", owner); err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}
