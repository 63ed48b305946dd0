package access

import (
	"context"
	"sync"

	id "veritas/pkg/domain"
	"veritas/pkg/platform/sentinel"
)

type membershipKey struct {
	user       id.UserID
	engagement id.EngagementID
}

type membership struct {
	role    id.Role
	removed bool
}

// InMemoryMembershipStore keeps engagement team memberships in memory.
type InMemoryMembershipStore struct {
	mu      sync.RWMutex
	members map[membershipKey]membership
}

// NewInMemoryMembershipStore builds an empty membership store.
func NewInMemoryMembershipStore() *InMemoryMembershipStore {
	return &InMemoryMembershipStore{members: make(map[membershipKey]membership)}
}

// AddMember records an active membership with the given role.
func (s *InMemoryMembershipStore) AddMember(userID id.UserID, engagementID id.EngagementID, role id.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[membershipKey{userID, engagementID}] = membership{role: role}
}

// RemoveMember soft-removes a membership. The row is kept so team history
// survives, but the role no longer resolves.
func (s *InMemoryMembershipStore) RemoveMember(userID id.UserID, engagementID id.EngagementID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.members[membershipKey{userID, engagementID}]; ok {
		m.removed = true
		s.members[membershipKey{userID, engagementID}] = m
	}
}

// ActiveRole resolves the user's role; removed or missing memberships return
// sentinel.ErrNotFound.
func (s *InMemoryMembershipStore) ActiveRole(_ context.Context, userID id.UserID, engagementID id.EngagementID) (id.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[membershipKey{userID, engagementID}]
	if !ok || m.removed {
		return "", sentinel.ErrNotFound
	}
	return m.role, nil
}
