// Package record defines the billing record domain model shared by the
// live store, the cold store and the archival engine.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Status is the business status of a billing record.
type Status string

// Billing record statuses.
const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

// AgeField selects which timestamp archival candidate selection compares
// against the age threshold.
type AgeField string

// Selectable age fields.
const (
	AgeCreated AgeField = "created_at"
	AgeUpdated AgeField = "updated_at"
)

// Valid reports whether f names a known age field.
func (f AgeField) Valid() bool {
	return f == AgeCreated || f == AgeUpdated
}

// Billing is an immutable-once-written billing record. Whichever store
// currently holds it is authoritative for its content.
type Billing struct {
	ID          string            `json:"id"`
	CustomerID  string            `json:"customer_id"`
	Amount      float64           `json:"amount"`
	Currency    string            `json:"currency"`
	Status      Status            `json:"status"`
	Description string            `json:"description,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	DueDate     time.Time         `json:"due_date"`
	PaidAt      *time.Time        `json:"paid_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// AgeTimestamp returns the timestamp selected by field.
func (b *Billing) AgeTimestamp(field AgeField) time.Time {
	if field == AgeUpdated {
		return b.UpdatedAt
	}
	return b.CreatedAt
}

// Encode serializes the record to its canonical JSON payload, the form
// stored in the cold tier and hashed for integrity checks. encoding/json
// emits struct fields in declaration order and map keys sorted, so the
// same record always produces the same bytes.
func (b *Billing) Encode() ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", b.ID, err)
	}
	return data, nil
}

// Decode parses a canonical JSON payload back into a record.
func Decode(data []byte) (*Billing, error) {
	var b Billing
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &b, nil
}

// Checksum computes the SHA-256 hex digest of a payload. Computed on the
// canonical encoding at migration time and verified on every cold read.
func Checksum(payload []byte) string {
	h := sha256.Sum256(payload)
	return hex.EncodeToString(h[:])
}
