package store

import "time"

// EntryStatus tracks how far a record's migration has progressed.
// The status field fully encodes recovery position after a crash.
type EntryStatus string

// Index entry statuses.
const (
	// StatusPending: migration intent recorded, cold write not yet
	// confirmed durable.
	StatusPending EntryStatus = "pending"

	// StatusCommitted: cold write confirmed durable, live copy may or
	// may not still exist (the overlap window).
	StatusCommitted EntryStatus = "committed"

	// StatusReconciled: live copy confirmed deleted; the cold tier is
	// the sole authoritative home.
	StatusReconciled EntryStatus = "reconciled"

	// StatusRestored: record copied back to the live tier with the
	// index entry retained for provenance.
	StatusRestored EntryStatus = "restored"
)

// CanTransition reports whether from -> to is a legal forward transition.
// committed -> restored covers restoring inside the overlap window.
func CanTransition(from, to EntryStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusCommitted
	case StatusCommitted:
		return to == StatusReconciled || to == StatusRestored
	case StatusReconciled:
		return to == StatusRestored
	default:
		return false
	}
}

// IndexEntry maps a record identifier to its cold-tier location and
// migration metadata. Keyed by record ID; all writes are atomic per key.
type IndexEntry struct {
	RecordID   string      `json:"record_id"`
	Location   string      `json:"location"`
	Checksum   string      `json:"checksum"`
	ArchivedAt time.Time   `json:"archived_at"`
	RunID      string      `json:"run_id"`
	Status     EntryStatus `json:"status"`
}

// Resolvable reports whether the entry points at authoritative cold
// content. Pending entries do not: their cold write was never confirmed
// and the live copy is still authoritative.
func (e *IndexEntry) Resolvable() bool {
	switch e.Status {
	case StatusCommitted, StatusReconciled, StatusRestored:
		return true
	}
	return false
}

// RunState is the completion state of an archival run.
type RunState string

// Archival run states.
const (
	RunRunning    RunState = "running"
	RunSucceeded  RunState = "succeeded"
	RunWithErrors RunState = "succeeded-with-errors"
	RunAborted    RunState = "aborted"
)

// RunSummary records one execution of the archival orchestrator.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Examined   int       `json:"examined"`
	Migrated   int       `json:"migrated"`
	Failed     int       `json:"failed"`
	State      RunState  `json:"state"`
}
