package archive

import "github.com/coldfront/coldfront/internal/store"

// Stats is a read-only snapshot of the tiered system: how many records
// each tier holds and how the last archival run went.
type Stats struct {
	LiveRecords      int               `json:"live_records"`
	ArchivedRecords  int               `json:"archived_records"`
	ColdObjects      int               `json:"cold_objects"`
	AgeThresholdDays int               `json:"age_threshold_days"`
	LastRun          *store.RunSummary `json:"last_run,omitempty"`
}
