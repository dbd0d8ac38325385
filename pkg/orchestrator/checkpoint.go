package orchestrator

import (
	"context"
	"sync"
	"time"
)

// CheckpointStore persists IncidentState, one record per incident_id,
// and grants the per-incident lease that serializes concurrent attempts
// to mutate the same incident.
type CheckpointStore interface {
	Save(ctx context.Context, state *IncidentState) error
	Load(ctx context.Context, incidentID string) (*IncidentState, bool, error)
	// AcquireLease blocks no longer than it takes to attempt the lease
	// once; ok is false if another holder currently has it. release must
	// be called to give the lease back early; it is always safe to call
	// release even after the lease's TTL already elapsed.
	AcquireLease(ctx context.Context, incidentID string, ttl time.Duration) (release func(), ok bool, err error)
}

// MemoryCheckpointStore is an in-process CheckpointStore backing tests and
// offline operation, the same "interface + pluggable backend" shape used
// throughout this module (vectorstore, embedding, policy).
type MemoryCheckpointStore struct {
	mu    sync.Mutex
	saved map[string]*IncidentState
	lease map[string]time.Time
}

// NewMemoryCheckpointStore constructs an empty in-memory store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		saved: make(map[string]*IncidentState),
		lease: make(map[string]time.Time),
	}
}

// Save implements CheckpointStore. It stores a copy of the state struct
// with its own Decisions slice, so decisions the caller appends later do
// not alter an already-saved checkpoint; the other slices and pointer
// fields are shared with the caller's state, not copied.
func (m *MemoryCheckpointStore) Save(ctx context.Context, state *IncidentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	cp.Decisions = append([]Decision(nil), state.Decisions...)
	m.saved[state.IncidentID] = &cp
	return nil
}

// Load implements CheckpointStore.
func (m *MemoryCheckpointStore) Load(ctx context.Context, incidentID string) (*IncidentState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.saved[incidentID]
	if !ok {
		return nil, false, nil
	}
	cp := *state
	cp.Decisions = append([]Decision(nil), state.Decisions...)
	return &cp, true, nil
}

// AcquireLease implements CheckpointStore with a simple mutex-guarded
// expiry map: a lease is free if none is held or the prior holder's TTL
// has elapsed.
func (m *MemoryCheckpointStore) AcquireLease(ctx context.Context, incidentID string, ttl time.Duration) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if expiry, held := m.lease[incidentID]; held && now.Before(expiry) {
		return nil, false, nil
	}
	m.lease[incidentID] = now.Add(ttl)

	release := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.lease, incidentID)
	}
	return release, true, nil
}
