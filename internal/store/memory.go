package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/coldfront/coldfront/internal/record"
)

// In-memory store implementations. Used by tests to exercise the engine
// without real backends, with injectable errors to simulate transient
// infrastructure failures and crash points.

// MemLive is an in-memory LiveStore.
type MemLive struct {
	mu      sync.RWMutex
	records map[string]*record.Billing

	// Injectable failures. A non-nil error is returned by the matching
	// operation instead of performing it.
	GetErr    error
	PutErr    error
	DeleteErr error
	ListErr   error

	DeleteCalls int
}

// NewMemLive returns an empty in-memory live store.
func NewMemLive() *MemLive {
	return &MemLive{records: make(map[string]*record.Billing)}
}

func (m *MemLive) Get(_ context.Context, id string) (*record.Billing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemLive) Put(_ context.Context, rec *record.Billing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return m.PutErr
	}
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *MemLive) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.records, id)
	return nil
}

func (m *MemLive) ListOlderThan(_ context.Context, field record.AgeField, cutoff time.Time, limit int) ([]*record.Billing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	var out []*record.Billing
	for _, rec := range m.records {
		if rec.AgeTimestamp(field).Before(cutoff) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AgeTimestamp(field).Before(out[j].AgeTimestamp(field))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemLive) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

// MemCold is an in-memory ColdStore.
type MemCold struct {
	mu      sync.RWMutex
	objects map[string][]byte

	GetErr    error
	PutErr    error
	DeleteErr error

	PutCalls int
}

// NewMemCold returns an empty in-memory cold store.
func NewMemCold() *MemCold {
	return &MemCold{objects: make(map[string][]byte)}
}

func (m *MemCold) Put(_ context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PutCalls++
	if m.PutErr != nil {
		return m.PutErr
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	m.objects[key] = cp
	return nil
}

func (m *MemCold) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *MemCold) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *MemCold) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.objects, key)
	return nil
}

func (m *MemCold) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects), nil
}

// Corrupt overwrites the stored object for key, simulating out-of-band
// damage to cold-tier content.
func (m *MemCold) Corrupt(key string, garbage []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = garbage
}

// MemIndex is an in-memory IndexStore.
type MemIndex struct {
	mu      sync.RWMutex
	entries map[string]*IndexEntry

	PutErr       error
	SetStatusErr error

	// PutHook, when set, runs before a Put is applied and can reject it.
	// Lets tests fail a specific write, e.g. only the committed one.
	PutHook func(entry *IndexEntry) error
}

// NewMemIndex returns an empty in-memory archive index.
func NewMemIndex() *MemIndex {
	return &MemIndex{entries: make(map[string]*IndexEntry)}
}

func (m *MemIndex) Put(_ context.Context, entry *IndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return m.PutErr
	}
	if m.PutHook != nil {
		if err := m.PutHook(entry); err != nil {
			return err
		}
	}
	cp := *entry
	m.entries[entry.RecordID] = &cp
	return nil
}

func (m *MemIndex) Get(_ context.Context, id string) (*IndexEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

func (m *MemIndex) SetStatus(_ context.Context, id string, to EntryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetStatusErr != nil {
		return m.SetStatusErr
	}
	entry, ok := m.entries[id]
	if !ok {
		return ErrNotFound
	}
	if !CanTransition(entry.Status, to) {
		return ErrInvalidTransition
	}
	entry.Status = to
	return nil
}

func (m *MemIndex) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *MemIndex) ListStale(_ context.Context, status EntryStatus, olderThan time.Time) ([]*IndexEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*IndexEntry
	for _, entry := range m.entries {
		if entry.Status == status && entry.ArchivedAt.Before(olderThan) {
			cp := *entry
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ArchivedAt.Before(out[j].ArchivedAt)
	})
	return out, nil
}

func (m *MemIndex) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

// MemRuns is an in-memory RunStore.
type MemRuns struct {
	mu   sync.Mutex
	runs map[string]*RunSummary

	lockOwner   string
	lockExpires time.Time
}

// NewMemRuns returns an empty in-memory run store.
func NewMemRuns() *MemRuns {
	return &MemRuns{runs: make(map[string]*RunSummary)}
}

func (m *MemRuns) PutRun(_ context.Context, run *RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.RunID] = &cp
	return nil
}

func (m *MemRuns) GetRun(_ context.Context, runID string) (*RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (m *MemRuns) LatestRun(_ context.Context) (*RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *RunSummary
	for _, run := range m.runs {
		if latest == nil || run.StartedAt.After(latest.StartedAt) {
			latest = run
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *MemRuns) AcquireRunLock(_ context.Context, owner string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if m.lockOwner != "" && m.lockOwner != owner && m.lockExpires.After(now) {
		return ErrRunInProgress
	}
	m.lockOwner = owner
	m.lockExpires = now.Add(ttl)
	return nil
}

func (m *MemRuns) ReleaseRunLock(_ context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lockOwner == owner {
		m.lockOwner = ""
		m.lockExpires = time.Time{}
	}
	return nil
}
