package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"veritas/internal/prediction"
	id "veritas/pkg/domain"
	"veritas/pkg/platform/sentinel"
)

// PostgresFeatureStore derives control feature vectors from the engagement
// tables: test history, deviation counts, and control attributes. It owns
// no tables of its own.
type PostgresFeatureStore struct {
	db *sql.DB
}

// NewPostgresFeatureStore builds a feature store over db.
func NewPostgresFeatureStore(db *sql.DB) *PostgresFeatureStore {
	return &PostgresFeatureStore{db: db}
}

// featureQuery computes the FeatureNames columns per control. Untested
// controls get a zero failure rate and a capped days-since-last-test.
const featureQuery = `
SELECT
	c.id,
	c.engagement_id,
	c.code,
	COALESCE(
		SUM(CASE WHEN tr.outcome IN ('failed', 'deviation') THEN 1.0 ELSE 0.0 END)
			/ NULLIF(COUNT(tr.id), 0),
		0
	) AS past_failure_rate,
	c.complexity,
	COALESCE(EXTRACT(EPOCH FROM (NOW() - MAX(tr.executed_at))) / 86400, 365) AS days_since_last_test,
	c.change_count,
	CASE WHEN c.is_automated THEN 0 ELSE 1 END AS manual_intervention,
	(SELECT COUNT(*) FROM deviations d WHERE d.control_id = c.id) AS prior_deviations
FROM controls c
LEFT JOIN test_results tr ON tr.control_id = c.id
`

// ControlFeatures returns one control's vector.
func (s *PostgresFeatureStore) ControlFeatures(ctx context.Context, controlID id.ControlID) (*prediction.ControlFeatures, error) {
	row := s.db.QueryRowContext(ctx, featureQuery+`
		WHERE c.id = $1
		GROUP BY c.id
	`, uuid.UUID(controlID))

	features, err := scanFeatures(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load control features: %w", err)
	}
	return features, nil
}

// EngagementControls returns the vectors for every control in the
// engagement.
func (s *PostgresFeatureStore) EngagementControls(ctx context.Context, engagementID id.EngagementID) ([]prediction.ControlFeatures, error) {
	rows, err := s.db.QueryContext(ctx, featureQuery+`
		WHERE c.engagement_id = $1
		GROUP BY c.id
		ORDER BY c.code
	`, uuid.UUID(engagementID))
	if err != nil {
		return nil, fmt.Errorf("load engagement control features: %w", err)
	}
	defer rows.Close()

	var out []prediction.ControlFeatures
	for rows.Next() {
		features, err := scanFeatures(rows)
		if err != nil {
			return nil, fmt.Errorf("scan control features: %w", err)
		}
		out = append(out, *features)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeatures(row rowScanner) (*prediction.ControlFeatures, error) {
	var (
		controlID, engagementID                                        uuid.UUID
		code                                                           string
		failureRate, complexity, daysSince, changes, manual, deviation float64
	)
	if err := row.Scan(&controlID, &engagementID, &code,
		&failureRate, &complexity, &daysSince, &changes, &manual, &deviation); err != nil {
		return nil, err
	}
	return &prediction.ControlFeatures{
		ControlID:    id.ControlID(controlID),
		EngagementID: id.EngagementID(engagementID),
		ControlCode:  code,
		Values:       []float64{failureRate, complexity, daysSince, changes, manual, deviation},
	}, nil
}
