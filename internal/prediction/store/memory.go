// Package store provides the feature sources the prediction service reads
// control observations from.
package store

import (
	"context"
	"sync"

	"veritas/internal/prediction"
	id "veritas/pkg/domain"
	"veritas/pkg/platform/sentinel"
)

// InMemoryFeatureStore holds control feature vectors in memory.
type InMemoryFeatureStore struct {
	mu           sync.RWMutex
	byControl    map[id.ControlID]prediction.ControlFeatures
	byEngagement map[id.EngagementID][]id.ControlID
}

// NewInMemoryFeatureStore builds an empty feature store.
func NewInMemoryFeatureStore() *InMemoryFeatureStore {
	return &InMemoryFeatureStore{
		byControl:    make(map[id.ControlID]prediction.ControlFeatures),
		byEngagement: make(map[id.EngagementID][]id.ControlID),
	}
}

// Put registers or replaces a control's feature vector.
func (s *InMemoryFeatureStore) Put(features prediction.ControlFeatures) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byControl[features.ControlID]; !ok {
		s.byEngagement[features.EngagementID] = append(s.byEngagement[features.EngagementID], features.ControlID)
	}
	s.byControl[features.ControlID] = features
}

// ControlFeatures returns one control's vector.
func (s *InMemoryFeatureStore) ControlFeatures(_ context.Context, controlID id.ControlID) (*prediction.ControlFeatures, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	features, ok := s.byControl[controlID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := features
	cp.Values = append([]float64(nil), features.Values...)
	return &cp, nil
}

// EngagementControls returns the vectors for every control in the
// engagement, in insertion order.
func (s *InMemoryFeatureStore) EngagementControls(_ context.Context, engagementID id.EngagementID) ([]prediction.ControlFeatures, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byEngagement[engagementID]
	out := make([]prediction.ControlFeatures, 0, len(ids))
	for _, controlID := range ids {
		features := s.byControl[controlID]
		features.Values = append([]float64(nil), features.Values...)
		out = append(out, features)
	}
	return out, nil
}
