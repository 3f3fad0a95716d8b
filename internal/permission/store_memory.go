package permission

import (
	"context"
	"sync"

	id "gridgrant/pkg/domain"
	dErrors "gridgrant/pkg/domain-errors"
)

// MemoryStore is the in-memory Store used by tests and the simulation
// profile.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[id.PermissionID]Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[id.PermissionID]Snapshot)}
}

func (s *MemoryStore) Create(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[snap.PermissionID]; exists {
		return dErrors.New(dErrors.CodeConflict, "permission already exists")
	}
	s.rows[snap.PermissionID] = snap
	return nil
}

func (s *MemoryStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.rows[snap.PermissionID]
	if !exists {
		return dErrors.New(dErrors.CodeNotFound, "permission not found")
	}
	if current.Version != snap.Version-1 {
		return dErrors.New(dErrors.CodeConflict, "permission was modified concurrently")
	}
	s.rows[snap.PermissionID] = snap
	return nil
}

func (s *MemoryStore) Find(_ context.Context, pid id.PermissionID) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, exists := s.rows[pid]
	if !exists {
		return Snapshot{}, dErrors.New(dErrors.CodeNotFound, "permission not found")
	}
	return snap, nil
}

func (s *MemoryStore) FindByStatus(_ context.Context, status ProcessStatus) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Snapshot
	for _, snap := range s.rows {
		if snap.Status == status {
			out = append(out, snap)
		}
	}
	return out, nil
}
