package persistence

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/BaSui01/taskflow/workflow"
)

// MemoryStore keeps the latest snapshot in memory. For development and
// tests; contents are lost when the process exits.
//
// The snapshot is stored as serialized JSON so Save/Load round-trips behave
// exactly like the durable backends.
type MemoryStore struct {
	mu     sync.RWMutex
	data   []byte
	closed bool
}

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SaveSnapshot stores the snapshot, replacing any previous one.
func (s *MemoryStore) SaveSnapshot(ctx context.Context, snap *workflow.Snapshot) error {
	if snap == nil {
		return ErrInvalidInput
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.data = data
	return nil
}

// LoadSnapshot returns the stored snapshot, or nil when none was saved.
func (s *MemoryStore) LoadSnapshot(ctx context.Context) (*workflow.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if s.data == nil {
		return nil, nil
	}

	var snap workflow.Snapshot
	if err := json.Unmarshal(s.data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Ping reports whether the store is usable.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
