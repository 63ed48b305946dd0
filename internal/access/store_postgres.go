package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	id "veritas/pkg/domain"
	"veritas/pkg/platform/sentinel"
)

// PostgresMembershipStore resolves memberships from the engagement_team table.
type PostgresMembershipStore struct {
	db *sql.DB
}

// NewPostgresMembershipStore builds a membership store over db.
func NewPostgresMembershipStore(db *sql.DB) *PostgresMembershipStore {
	return &PostgresMembershipStore{db: db}
}

// Schema for the membership join table. removed_at marks soft removal;
// visibility requires an active (non-removed) row.
const MembershipSchema = `
CREATE TABLE IF NOT EXISTS engagement_team (
	user_id       UUID NOT NULL,
	engagement_id UUID NOT NULL,
	role          TEXT NOT NULL,
	added_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	removed_at    TIMESTAMPTZ,
	PRIMARY KEY (user_id, engagement_id)
);
`

// ActiveRole returns the role from the active membership row, or
// sentinel.ErrNotFound when no active row exists.
func (s *PostgresMembershipStore) ActiveRole(ctx context.Context, userID id.UserID, engagementID id.EngagementID) (id.Role, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM engagement_team
		WHERE user_id = $1 AND engagement_id = $2 AND removed_at IS NULL
	`, uuid.UUID(userID), uuid.UUID(engagementID)).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", sentinel.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query engagement membership: %w", err)
	}
	return id.Role(role), nil
}
