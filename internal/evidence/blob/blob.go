// Package blob provides the content-addressed byte store behind the evidence
// ledger. Real deployments point this at object storage; the engine only
// needs Put/Get keyed by content hash.
package blob

import (
	"context"
	"sync"

	"veritas/pkg/platform/sentinel"
)

// Store is a content-addressed blob store keyed by hex SHA-256.
type Store interface {
	Put(ctx context.Context, hash string, contents []byte) error
	Get(ctx context.Context, hash string) ([]byte, error)
}

// InMemoryStore keeps blobs in memory.
type InMemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewInMemoryStore builds an empty blob store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{blobs: make(map[string][]byte)}
}

// Put stores contents under hash. Re-putting the same hash is a no-op:
// content addressing makes it the same blob.
func (s *InMemoryStore) Put(_ context.Context, hash string, contents []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[hash]; ok {
		return nil
	}
	cp := make([]byte, len(contents))
	copy(cp, contents)
	s.blobs[hash] = cp
	return nil
}

// Get returns the blob for hash or sentinel.ErrNotFound.
func (s *InMemoryStore) Get(_ context.Context, hash string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	contents, ok := s.blobs[hash]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := make([]byte, len(contents))
	copy(out, contents)
	return out, nil
}

// Corrupt overwrites a stored blob in place. Only tests use this to simulate
// storage-layer tampering for integrity verification.
func (s *InMemoryStore) Corrupt(hash string, contents []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[hash] = contents
}
