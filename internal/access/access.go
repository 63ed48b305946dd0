// Package access implements the authorization check every other component
// consults. Authorization is a pure check: callers audit the action they
// perform, not the check itself.
package access

import (
	"context"
	"errors"

	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/sentinel"
)

// capabilities is the closed role-to-capability table. Adding a capability is
// a single row edit here, not a scatter of role conditionals.
var capabilities = map[id.Role]map[id.Capability]bool{
	id.RolePartner: {
		id.CapabilityRead:            true,
		id.CapabilityWriteTestResult: true,
		id.CapabilityUploadEvidence:  true,
		id.CapabilityManageTasks:     true,
		id.CapabilityApproveLevel1:   true,
		id.CapabilityApproveLevel2:   true,
		id.CapabilitySignReport:      true,
	},
	id.RoleManager: {
		id.CapabilityRead:            true,
		id.CapabilityWriteTestResult: true,
		id.CapabilityUploadEvidence:  true,
		id.CapabilityManageTasks:     true,
		id.CapabilityApproveLevel1:   true,
	},
	id.RoleAuditor: {
		id.CapabilityRead:            true,
		id.CapabilityWriteTestResult: true,
		id.CapabilityUploadEvidence:  true,
		id.CapabilityManageTasks:     true,
	},
	id.RoleClientManagement: {
		id.CapabilityRead:           true,
		id.CapabilityUploadEvidence: true,
	},
	id.RoleReadOnly: {
		id.CapabilityRead: true,
	},
}

// RoleAllows reports whether a role carries a capability. Exposed so the
// workflow machine can express gate requirements in terms of the same table.
func RoleAllows(role id.Role, capability id.Capability) bool {
	return capabilities[role][capability]
}

// MembershipStore resolves a user's active role on an engagement. Removed
// memberships resolve to sentinel.ErrNotFound: no engagement data is visible
// without an active membership row.
type MembershipStore interface {
	ActiveRole(ctx context.Context, userID id.UserID, engagementID id.EngagementID) (id.Role, error)
}

// Authorizer answers allow/deny for a user, engagement, and capability. The
// role is always re-derived from the membership row, never taken from token
// claims.
type Authorizer struct {
	memberships MembershipStore
}

// NewAuthorizer builds an Authorizer over a membership store.
func NewAuthorizer(memberships MembershipStore) *Authorizer {
	return &Authorizer{memberships: memberships}
}

// Authorize returns nil when the user's active membership role carries the
// capability, and a CodeForbidden error naming the denial reason otherwise.
func (a *Authorizer) Authorize(ctx context.Context, userID id.UserID, engagementID id.EngagementID, capability id.Capability) error {
	if !capability.IsValid() {
		return dErrors.Newf(dErrors.CodeInvalidInput, "unknown capability %q", capability)
	}

	role, err := a.memberships.ActiveRole(ctx, userID, engagementID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeForbidden, "no active engagement membership")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve membership")
	}

	if !RoleAllows(role, capability) {
		return dErrors.Newf(dErrors.CodeForbidden, "role %s lacks capability %s", role, capability)
	}
	return nil
}
