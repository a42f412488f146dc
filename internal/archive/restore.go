package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/coldfront/coldfront/internal/record"
	"github.com/coldfront/coldfront/internal/store"
)

// Restorer reverses a migration, copying a record from the cold tier
// back to the live tier.
type Restorer struct {
	live   store.LiveStore
	cold   store.ColdStore
	index  store.IndexStore
	retain bool
	logger zerolog.Logger
}

// NewRestorer creates a restorer. When retain is true the index entry
// is kept (status restored) together with the cold copy; otherwise both
// are removed once the record is live again, as originally created.
func NewRestorer(live store.LiveStore, cold store.ColdStore, index store.IndexStore, retain bool, logger zerolog.Logger) *Restorer {
	return &Restorer{live: live, cold: cold, index: index, retain: retain, logger: logger}
}

// Restore brings a record back to the live tier. Restoring a record
// that is already live is a no-op returning the live copy. The index is
// only mutated after the live write succeeds, so a failed restore is
// retried with no state to undo.
func (r *Restorer) Restore(ctx context.Context, id string) (*record.Billing, error) {
	if rec, err := r.live.Get(ctx, id); err == nil {
		r.logger.Debug().Str("record", id).Msg("Record already live, restore is a no-op")
		return rec, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("read live record %s: %w", id, err)
	}

	entry, err := r.index.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("record %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read index entry %s: %w", id, err)
	}
	if !entry.Resolvable() {
		return nil, fmt.Errorf("record %s: %w", id, store.ErrNotFound)
	}

	payload, err := r.cold.Get(ctx, entry.Location)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: cold object missing for %s", store.ErrCorrupt, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read cold object %s: %w", entry.Location, err)
	}
	if sum := record.Checksum(payload); sum != entry.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch for %s", store.ErrCorrupt, id)
	}

	rec, err := record.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrCorrupt, err)
	}

	if err := r.live.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("write live record %s: %w", id, err)
	}

	if r.retain {
		if err := r.index.SetStatus(ctx, id, store.StatusRestored); err != nil && !errors.Is(err, store.ErrInvalidTransition) {
			return nil, fmt.Errorf("mark entry restored for %s: %w", id, err)
		}
	} else {
		if err := r.cold.Delete(ctx, entry.Location); err != nil {
			return nil, fmt.Errorf("delete cold object %s: %w", entry.Location, err)
		}
		if err := r.index.Delete(ctx, id); err != nil {
			return nil, fmt.Errorf("delete index entry %s: %w", id, err)
		}
	}

	r.logger.Info().Str("record", id).Bool("retained_index", r.retain).Msg("Record restored")
	return rec, nil
}
