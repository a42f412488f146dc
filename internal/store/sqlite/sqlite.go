// Package sqlite provides the durable backend for the live store, the
// archive index, run summaries and the run lock, all in one SQLite
// database so the engine survives process restarts mid-run.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/coldfront/coldfront/internal/record"
	"github.com/coldfront/coldfront/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Store is a SQLite-backed implementation of store.LiveStore,
// store.IndexStore and store.RunStore. Uses WAL mode for concurrent
// reads and a single-writer connection pool.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at path and applies pragmas
// and the schema. Idempotent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent migration units.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ageColumn maps an age field to its indexed column. The field is
// validated rather than interpolated from caller input.
func ageColumn(field record.AgeField) (string, error) {
	switch field {
	case record.AgeCreated:
		return "created_at", nil
	case record.AgeUpdated:
		return "updated_at", nil
	default:
		return "", fmt.Errorf("unknown age field %q", field)
	}
}

// Get retrieves a live record by ID.
func (s *Store) Get(ctx context.Context, id string) (*record.Billing, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM records WHERE id = ?", id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	return record.Decode([]byte(payload))
}

// Put stores a live record, overwriting any existing copy.
func (s *Store) Put(ctx context.Context, rec *record.Billing) error {
	payload, err := rec.Encode()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, payload, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload,
		     created_at = excluded.created_at, updated_at = excluded.updated_at`,
		rec.ID, string(payload), rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("put record %s: %w", rec.ID, err)
	}
	return nil
}

// Delete removes a live record. Absent records are not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

// ListOlderThan returns live records whose age field is before cutoff,
// oldest first.
func (s *Store) ListOlderThan(ctx context.Context, field record.AgeField, cutoff time.Time, limit int) ([]*record.Billing, error) {
	col, err := ageColumn(field)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT payload FROM records WHERE %s < ? ORDER BY %s ASC", col, col)
	args := []any{cutoff.UnixNano()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list aged records: %w", err)
	}
	defer rows.Close()

	var out []*record.Billing
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec, err := record.Decode([]byte(payload))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of live records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}
