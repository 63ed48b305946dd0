package store

import (
	"context"
	"sync"

	"veritas/internal/audittrail"
	id "veritas/pkg/domain"
)

// InMemoryStore keeps chains in memory. Appends serialize on a single mutex,
// which trivially satisfies the per-engagement critical-section requirement.
// Entries are returned by value so callers cannot reach retained state.
type InMemoryStore struct {
	mu      sync.Mutex
	chains  map[id.EngagementID][]audittrail.Entry
	pending []id.EntryID
	index   map[id.EntryID]*audittrail.Entry
}

// NewInMemoryStore builds an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		chains: make(map[id.EngagementID][]audittrail.Entry),
		index:  make(map[id.EntryID]*audittrail.Entry),
	}
}

// Append extends the engagement's chain inside the store lock.
func (s *InMemoryStore) Append(_ context.Context, engagementID id.EngagementID, build func(seq int64, prevHash string) (*audittrail.Entry, error)) (*audittrail.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[engagementID]
	prevHash := audittrail.GenesisHash
	if len(chain) > 0 {
		prevHash = chain[len(chain)-1].EventHash
	}

	entry, err := build(int64(len(chain))+1, prevHash)
	if err != nil {
		return nil, err
	}

	s.chains[engagementID] = append(chain, *entry)
	stored := &s.chains[engagementID][len(s.chains[engagementID])-1]
	s.index[entry.ID] = stored
	s.pending = append(s.pending, entry.ID)

	out := *entry
	return &out, nil
}

// ListByEngagement returns the chain in sequence order.
func (s *InMemoryStore) ListByEngagement(_ context.Context, engagementID id.EngagementID) ([]audittrail.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.chains[engagementID]
	out := make([]audittrail.Entry, len(chain))
	copy(out, chain)
	return out, nil
}

// PendingOutbox returns up to limit entries not yet published to the export
// stream, oldest first.
func (s *InMemoryStore) PendingOutbox(_ context.Context, limit int) ([]audittrail.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.pending)
	if n > limit {
		n = limit
	}
	out := make([]audittrail.Entry, 0, n)
	for _, entryID := range s.pending[:n] {
		out = append(out, *s.index[entryID])
	}
	return out, nil
}

// MarkPublished removes entries from the pending set.
func (s *InMemoryStore) MarkPublished(_ context.Context, ids []id.EntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	published := make(map[id.EntryID]bool, len(ids))
	for _, entryID := range ids {
		published[entryID] = true
	}
	remaining := s.pending[:0]
	for _, entryID := range s.pending {
		if !published[entryID] {
			remaining = append(remaining, entryID)
		}
	}
	s.pending = remaining
	return nil
}
