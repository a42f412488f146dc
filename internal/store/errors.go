package store

import "errors"

// Storage error types.
var (
	// ErrNotFound means the identifier is unknown to the store queried.
	ErrNotFound = errors.New("record not found")

	// ErrColdWrite is a transient failure uploading a payload to the
	// cold tier. Safe to retry from the top of the migration protocol.
	ErrColdWrite = errors.New("cold store write failed")

	// ErrIndexWrite is a transient failure writing an archive index
	// entry. The cold copy is already durable, so retry is free of risk.
	ErrIndexWrite = errors.New("archive index write failed")

	// ErrLiveDelete is a transient failure deleting the live copy after
	// the index commit. Non-fatal; reconciliation finishes the delete.
	ErrLiveDelete = errors.New("live store delete failed")

	// ErrCorrupt means cold-tier content no longer matches the checksum
	// recorded at migration time. Never masked.
	ErrCorrupt = errors.New("archived content corrupt")

	// ErrRunInProgress rejects a second archival run while one holds the
	// run lock. Try later; do not retry immediately.
	ErrRunInProgress = errors.New("archival run already in progress")

	// ErrInvalidTransition marks an illegal index status transition.
	// Indicates a bug in the caller, not a retryable condition.
	ErrInvalidTransition = errors.New("invalid index status transition")
)
