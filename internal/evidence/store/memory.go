package store

import (
	"context"
	"sync"

	"veritas/internal/evidence"
	id "veritas/pkg/domain"
	"veritas/pkg/platform/sentinel"
)

// InMemoryStore keeps evidence metadata in memory with the same uniqueness
// semantics as the Postgres schema: one row per content hash.
type InMemoryStore struct {
	mu     sync.RWMutex
	byID   map[id.EvidenceID]*evidence.Evidence
	byHash map[string]id.EvidenceID
}

// NewInMemoryStore builds an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:   make(map[id.EvidenceID]*evidence.Evidence),
		byHash: make(map[string]id.EvidenceID),
	}
}

// Insert adds a record; a duplicate hash returns sentinel.ErrConflict like
// the database unique constraint would.
func (s *InMemoryStore) Insert(_ context.Context, e *evidence.Evidence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byHash[e.SHA256Hash]; ok {
		return sentinel.ErrConflict
	}
	cp := *e
	s.byID[e.ID] = &cp
	s.byHash[e.SHA256Hash] = e.ID
	return nil
}

// Get returns a copy of the record or sentinel.ErrNotFound.
func (s *InMemoryStore) Get(_ context.Context, evidenceID id.EvidenceID) (*evidence.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[evidenceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *e
	return &out, nil
}

// FindByHash resolves a content hash to its record.
func (s *InMemoryStore) FindByHash(_ context.Context, hash string) (*evidence.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evidenceID, ok := s.byHash[hash]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *s.byID[evidenceID]
	return &out, nil
}

// SetSupersededBy links an old version to its replacement.
func (s *InMemoryStore) SetSupersededBy(_ context.Context, oldID, newID id.EvidenceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.byID[oldID]
	if !ok {
		return sentinel.ErrNotFound
	}
	old.SupersededBy = &newID
	return nil
}
