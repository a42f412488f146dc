package archive

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/coldfront/coldfront/internal/record"
	"github.com/coldfront/coldfront/internal/store"
)

var nop = zerolog.Nop()

func testStores() (*store.MemLive, *store.MemCold, *store.MemIndex, *store.MemRuns) {
	return store.NewMemLive(), store.NewMemCold(), store.NewMemIndex(), store.NewMemRuns()
}

// agedRecord builds a record whose created_at lies age in the past.
func agedRecord(id string, age time.Duration) *record.Billing {
	created := time.Now().UTC().Add(-age).Truncate(time.Second)
	return &record.Billing{
		ID:         id,
		CustomerID: "cust-1",
		Amount:     99.95,
		Currency:   "USD",
		Status:     record.StatusPaid,
		CreatedAt:  created,
		UpdatedAt:  created,
		DueDate:    created.Add(30 * 24 * time.Hour),
		Metadata:   map[string]string{"region": "emea"},
	}
}

// checksumOf returns the canonical checksum of a record.
func checksumOf(t *testing.T, rec *record.Billing) string {
	t.Helper()
	payload, err := rec.Encode()
	require.NoError(t, err)
	return record.Checksum(payload)
}
