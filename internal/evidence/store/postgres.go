package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"veritas/internal/evidence"
	id "veritas/pkg/domain"
	"veritas/pkg/platform/sentinel"
	txcontext "veritas/pkg/platform/tx"
)

// PostgresStore persists evidence metadata. Concurrent ingestion needs no
// external locking: the unique index on sha256_hash is the arbiter.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore builds a store over db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Schema for the evidence ledger.
const Schema = `
CREATE TABLE IF NOT EXISTS evidence (
	id            UUID PRIMARY KEY,
	engagement_id UUID NOT NULL,
	control_id    UUID,
	sha256_hash   TEXT NOT NULL UNIQUE,
	file_name     TEXT NOT NULL,
	content_type  TEXT NOT NULL,
	source        TEXT NOT NULL,
	size_bytes    BIGINT NOT NULL,
	completeness  DOUBLE PRECISION,
	relevance     DOUBLE PRECISION,
	quality       DOUBLE PRECISION,
	version       INT NOT NULL,
	superseded_by UUID REFERENCES evidence (id),
	uploaded_by   UUID NOT NULL,
	uploaded_at   TIMESTAMPTZ NOT NULL
);
`

// Migrate installs the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate evidence schema: %w", err)
	}
	return nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if sqlTx, ok := txcontext.From(ctx); ok {
		return sqlTx
	}
	return s.db
}

// Insert adds a record; a duplicate content hash maps the unique-violation
// error to sentinel.ErrConflict.
func (s *PostgresStore) Insert(ctx context.Context, e *evidence.Evidence) error {
	var completeness, relevance, quality *float64
	if e.Scores != nil {
		completeness = &e.Scores.Completeness
		relevance = &e.Scores.Relevance
		quality = &e.Scores.Quality
	}
	var controlID *uuid.UUID
	if !e.ControlID.IsNil() {
		c := uuid.UUID(e.ControlID)
		controlID = &c
	}

	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO evidence (
			id, engagement_id, control_id, sha256_hash, file_name, content_type,
			source, size_bytes, completeness, relevance, quality, version,
			uploaded_by, uploaded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		uuid.UUID(e.ID), uuid.UUID(e.EngagementID), controlID, e.SHA256Hash,
		e.FileName, e.ContentType, e.Source, e.SizeBytes,
		completeness, relevance, quality, e.Version,
		uuid.UUID(e.UploadedBy), e.UploadedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert evidence: %w", err)
	}
	return nil
}

// Get loads one record by id.
func (s *PostgresStore) Get(ctx context.Context, evidenceID id.EvidenceID) (*evidence.Evidence, error) {
	return s.scanOne(s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, engagement_id, control_id, sha256_hash, file_name, content_type,
		       source, size_bytes, completeness, relevance, quality, version,
		       superseded_by, uploaded_by, uploaded_at
		FROM evidence WHERE id = $1
	`, uuid.UUID(evidenceID)))
}

// FindByHash resolves a content hash to its record.
func (s *PostgresStore) FindByHash(ctx context.Context, hash string) (*evidence.Evidence, error) {
	return s.scanOne(s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, engagement_id, control_id, sha256_hash, file_name, content_type,
		       source, size_bytes, completeness, relevance, quality, version,
		       superseded_by, uploaded_by, uploaded_at
		FROM evidence WHERE sha256_hash = $1
	`, hash))
}

// SetSupersededBy links an old version to its replacement.
func (s *PostgresStore) SetSupersededBy(ctx context.Context, oldID, newID id.EvidenceID) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE evidence SET superseded_by = $2 WHERE id = $1
	`, uuid.UUID(oldID), uuid.UUID(newID))
	if err != nil {
		return fmt.Errorf("set superseded_by: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) scanOne(row *sql.Row) (*evidence.Evidence, error) {
	var (
		e                              evidence.Evidence
		evidenceID, engID, uploadedBy  uuid.UUID
		controlID, supersededBy        *uuid.UUID
		completeness, relevance, quality *float64
	)
	err := row.Scan(
		&evidenceID, &engID, &controlID, &e.SHA256Hash, &e.FileName,
		&e.ContentType, &e.Source, &e.SizeBytes,
		&completeness, &relevance, &quality, &e.Version,
		&supersededBy, &uploadedBy, &e.UploadedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan evidence: %w", err)
	}
	e.ID = id.EvidenceID(evidenceID)
	e.EngagementID = id.EngagementID(engID)
	e.UploadedBy = id.UserID(uploadedBy)
	if controlID != nil {
		e.ControlID = id.ControlID(*controlID)
	}
	if supersededBy != nil {
		sb := id.EvidenceID(*supersededBy)
		e.SupersededBy = &sb
	}
	if completeness != nil && relevance != nil && quality != nil {
		e.Scores = &evidence.Scores{
			Completeness: *completeness,
			Relevance:    *relevance,
			Quality:      *quality,
		}
	}
	return &e, nil
}
