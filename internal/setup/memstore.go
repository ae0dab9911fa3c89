package setup

import (
	"context"
	"sync"
)

// MemMetadata is an in-memory Metadata, used by Engine's unit tests and
// anywhere setup needs to run without a Postgres installation-metadata
// table wired up, mirroring internal/tracking/memstore's role for
// tracking.Store.
type MemMetadata struct {
	mu       sync.Mutex
	versions map[string]int64
	states   map[ResourceKey]ResourceState
}

// NewMemMetadata returns an empty MemMetadata.
func NewMemMetadata() *MemMetadata {
	return &MemMetadata{
		versions: make(map[string]int64),
		states:   make(map[ResourceKey]ResourceState),
	}
}

func (m *MemMetadata) GetVersion(_ context.Context, flow string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.versions[flow], nil
}

func (m *MemMetadata) CompareAndSetVersion(_ context.Context, flow string, seenVersion, newVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.versions[flow] != seenVersion {
		return ErrConflict
	}
	m.versions[flow] = newVersion
	return nil
}

func (m *MemMetadata) GetResourceState(_ context.Context, key ResourceKey) (ResourceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[key], nil
}

func (m *MemMetadata) PutResourceState(_ context.Context, key ResourceKey, state ResourceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[key] = state
	return nil
}

var _ Metadata = (*MemMetadata)(nil)
