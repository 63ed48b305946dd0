package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"veritas/internal/audittrail"
	id "veritas/pkg/domain"
	txcontext "veritas/pkg/platform/tx"
)

// PostgresStore persists chains in the audit_trail table. The head row in
// audit_trail_heads is locked FOR UPDATE for the duration of an append, so
// concurrent appends against one engagement serialize at the database and a
// forked chain is impossible. The table itself is protected by a trigger
// that raises on any UPDATE or DELETE.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore builds a store over db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Schema installs the chain tables and the immutability trigger. There is no
// legitimate code path that modifies a written entry; the trigger enforces
// that below the application layer.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_trail (
	id            UUID PRIMARY KEY,
	engagement_id UUID NOT NULL,
	seq           BIGINT NOT NULL,
	entity_type   TEXT NOT NULL,
	entity_id     TEXT NOT NULL,
	actor         UUID NOT NULL,
	action        TEXT NOT NULL,
	before_state  JSONB,
	after_state   JSONB,
	ts            TIMESTAMPTZ NOT NULL,
	prev_hash     TEXT NOT NULL,
	event_hash    TEXT NOT NULL,
	UNIQUE (engagement_id, seq)
);

CREATE TABLE IF NOT EXISTS audit_trail_heads (
	engagement_id UUID PRIMARY KEY,
	seq           BIGINT NOT NULL,
	event_hash    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_trail_outbox (
	entry_id   UUID PRIMARY KEY REFERENCES audit_trail (id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE OR REPLACE FUNCTION audit_trail_immutable() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'immutability violation: audit_trail rows cannot be % ', TG_OP;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS audit_trail_no_mutation ON audit_trail;
CREATE TRIGGER audit_trail_no_mutation
	BEFORE UPDATE OR DELETE ON audit_trail
	FOR EACH ROW EXECUTE FUNCTION audit_trail_immutable();
`

// Migrate installs the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate audit_trail schema: %w", err)
	}
	return nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Append extends the engagement's chain. It joins the caller's transaction
// when one is in context (the same-transaction invariant with the domain
// write); otherwise it opens its own.
func (s *PostgresStore) Append(ctx context.Context, engagementID id.EngagementID, build func(seq int64, prevHash string) (*audittrail.Entry, error)) (*audittrail.Entry, error) {
	if sqlTx, ok := txcontext.From(ctx); ok {
		return s.appendIn(ctx, sqlTx, engagementID, build)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append tx: %w", err)
	}
	entry, err := s.appendIn(ctx, sqlTx, engagementID, build)
	if err != nil {
		_ = sqlTx.Rollback()
		return nil, err
	}
	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append tx: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) appendIn(ctx context.Context, ex dbExecutor, engagementID id.EngagementID, build func(seq int64, prevHash string) (*audittrail.Entry, error)) (*audittrail.Entry, error) {
	// Seed the head row on first append, then lock it. The lock is the
	// serialization point for this engagement's chain.
	_, err := ex.ExecContext(ctx, `
		INSERT INTO audit_trail_heads (engagement_id, seq, event_hash)
		VALUES ($1, 0, $2)
		ON CONFLICT (engagement_id) DO NOTHING
	`, uuid.UUID(engagementID), audittrail.GenesisHash)
	if err != nil {
		return nil, fmt.Errorf("seed chain head: %w", err)
	}

	var headSeq int64
	var headHash string
	err = ex.QueryRowContext(ctx, `
		SELECT seq, event_hash FROM audit_trail_heads
		WHERE engagement_id = $1
		FOR UPDATE
	`, uuid.UUID(engagementID)).Scan(&headSeq, &headHash)
	if err != nil {
		return nil, fmt.Errorf("lock chain head: %w", err)
	}

	entry, err := build(headSeq+1, headHash)
	if err != nil {
		return nil, err
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO audit_trail (
			id, engagement_id, seq, entity_type, entity_id, actor, action,
			before_state, after_state, ts, prev_hash, event_hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		uuid.UUID(entry.ID),
		uuid.UUID(entry.EngagementID),
		entry.Seq,
		string(entry.EntityType),
		entry.EntityID,
		uuid.UUID(entry.Actor),
		entry.Action,
		nullableJSON(entry.Before),
		nullableJSON(entry.After),
		entry.Timestamp,
		entry.PrevHash,
		entry.EventHash,
	)
	if err != nil {
		return nil, fmt.Errorf("insert audit trail entry: %w", err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO audit_trail_outbox (entry_id) VALUES ($1)
	`, uuid.UUID(entry.ID))
	if err != nil {
		return nil, fmt.Errorf("insert outbox entry: %w", err)
	}

	_, err = ex.ExecContext(ctx, `
		UPDATE audit_trail_heads SET seq = $2, event_hash = $3
		WHERE engagement_id = $1
	`, uuid.UUID(engagementID), entry.Seq, entry.EventHash)
	if err != nil {
		return nil, fmt.Errorf("advance chain head: %w", err)
	}

	return entry, nil
}

// ListByEngagement returns the chain in sequence order.
func (s *PostgresStore) ListByEngagement(ctx context.Context, engagementID id.EngagementID) ([]audittrail.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, engagement_id, seq, entity_type, entity_id, actor, action,
		       before_state, after_state, ts, prev_hash, event_hash
		FROM audit_trail
		WHERE engagement_id = $1
		ORDER BY seq ASC
	`, uuid.UUID(engagementID))
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// PendingOutbox returns up to limit unpublished entries, oldest first.
func (s *PostgresStore) PendingOutbox(ctx context.Context, limit int) ([]audittrail.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.engagement_id, e.seq, e.entity_type, e.entity_id, e.actor, e.action,
		       e.before_state, e.after_state, e.ts, e.prev_hash, e.event_hash
		FROM audit_trail_outbox o
		JOIN audit_trail e ON e.id = o.entry_id
		ORDER BY o.created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// MarkPublished clears published entries from the outbox. The outbox is a
// delivery queue, not part of the chain; deleting from it is legitimate.
func (s *PostgresStore) MarkPublished(ctx context.Context, ids []id.EntryID) error {
	raw := make([]uuid.UUID, len(ids))
	for i, entryID := range ids {
		raw[i] = uuid.UUID(entryID)
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM audit_trail_outbox WHERE entry_id = ANY($1)
	`, pq.Array(raw))
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

func scanEntries(rows *sql.Rows) ([]audittrail.Entry, error) {
	var entries []audittrail.Entry
	for rows.Next() {
		var (
			e             audittrail.Entry
			entryID       uuid.UUID
			engID         uuid.UUID
			actor         uuid.UUID
			before, after []byte
		)
		err := rows.Scan(
			&entryID, &engID, &e.Seq, &e.EntityType, &e.EntityID, &actor,
			&e.Action, &before, &after, &e.Timestamp, &e.PrevHash, &e.EventHash,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit trail entry: %w", err)
		}
		e.ID = id.EntryID(entryID)
		e.EngagementID = id.EngagementID(engID)
		e.Actor = id.UserID(actor)
		e.Before = before
		e.After = after
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit trail entries: %w", err)
	}
	return entries, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
