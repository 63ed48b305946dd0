package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"veritas/internal/audittrail"
	"veritas/internal/evidence/blob"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/sentinel"
	txcontext "veritas/pkg/platform/tx"
)

// Store persists evidence metadata. The sha256_hash column carries a unique
// constraint: concurrent ingests of identical bytes race safely because the
// second insert fails with sentinel.ErrConflict and resolves to the winner.
type Store interface {
	Insert(ctx context.Context, e *Evidence) error
	Get(ctx context.Context, evidenceID id.EvidenceID) (*Evidence, error)
	FindByHash(ctx context.Context, hash string) (*Evidence, error)
	SetSupersededBy(ctx context.Context, oldID, newID id.EvidenceID) error
}

// Trail is the audit trail dependency.
type Trail interface {
	Append(ctx context.Context, rec audittrail.Record) (*audittrail.Entry, error)
}

// Service is the evidence ledger.
type Service struct {
	store  Store
	blobs  blob.Store
	scorer Scorer
	trail  Trail
	runner txcontext.Runner
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithScorer replaces the default heuristic scorer.
func WithScorer(scorer Scorer) Option {
	return func(s *Service) { s.scorer = scorer }
}

// WithClock overrides the timestamp source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds the evidence ledger service.
func NewService(store Store, blobs blob.Store, trail Trail, runner txcontext.Runner, opts ...Option) *Service {
	s := &Service{
		store:  store,
		blobs:  blobs,
		scorer: HeuristicScorer{},
		trail:  trail,
		runner: runner,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HashBytes computes the hex SHA-256 content address of an artifact.
func HashBytes(contents []byte) string {
	sum := sha256.Sum256(contents)
	return hex.EncodeToString(sum[:])
}

// Ingest registers an artifact. Identical bytes resolve to the existing
// record (content-addressed dedupe) rather than a duplicate row or an error.
// Scoring failures degrade to an unscored record; they never block ingestion.
func (s *Service) Ingest(ctx context.Context, contents []byte, meta Metadata) (*Evidence, error) {
	if len(contents) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "artifact contents cannot be empty")
	}
	if meta.EngagementID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "engagement_id is required")
	}

	hash := HashBytes(contents)

	if existing, err := s.store.FindByHash(ctx, hash); err == nil {
		return existing, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check for existing evidence")
	}

	e := &Evidence{
		ID:           id.NewEvidenceID(),
		EngagementID: meta.EngagementID,
		ControlID:    meta.ControlID,
		SHA256Hash:   hash,
		FileName:     meta.FileName,
		ContentType:  meta.ContentType,
		Source:       meta.Source,
		SizeBytes:    int64(len(contents)),
		Version:      1,
		UploadedBy:   meta.UploadedBy,
		UploadedAt:   s.now().UTC(),
	}

	if scores, err := s.scorer.Score(ctx, contents, meta); err != nil {
		s.logger.WarnContext(ctx, "evidence scoring failed, storing unscored",
			"evidence_id", e.ID,
			"error", err.Error(),
		)
	} else {
		e.Scores = &scores
	}

	if err := s.blobs.Put(ctx, hash, contents); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store artifact bytes")
	}

	err := s.runner.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.Insert(ctx, e); err != nil {
			return err
		}
		after, _ := json.Marshal(e)
		_, err := s.trail.Append(ctx, audittrail.Record{
			EngagementID: e.EngagementID,
			EntityType:   audittrail.EntityEvidence,
			EntityID:     e.ID.String(),
			Actor:        meta.UploadedBy,
			Action:       "evidence.ingested",
			After:        after,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Lost a concurrent race on the hash constraint; the winner's
			// record is the canonical one.
			if existing, findErr := s.store.FindByHash(ctx, hash); findErr == nil {
				return existing, nil
			}
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to register evidence")
	}

	return e, nil
}

// VerifyIntegrity recomputes the hash of the stored bytes and compares it to
// the content address. A pure read: callable any number of times with the
// same result absent external tampering.
func (s *Service) VerifyIntegrity(ctx context.Context, evidenceID id.EvidenceID) (*IntegrityResult, error) {
	e, err := s.store.Get(ctx, evidenceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "evidence %s not found", evidenceID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load evidence")
	}

	contents, err := s.blobs.Get(ctx, e.SHA256Hash)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// Missing bytes are an integrity failure, not a lookup error.
			return &IntegrityResult{EvidenceID: evidenceID, Match: false, StoredHash: e.SHA256Hash}, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load artifact bytes")
	}

	computed := HashBytes(contents)
	result := &IntegrityResult{
		EvidenceID:   evidenceID,
		Match:        computed == e.SHA256Hash,
		StoredHash:   e.SHA256Hash,
		ComputedHash: computed,
	}
	if !result.Match {
		s.logger.ErrorContext(ctx, "evidence integrity mismatch",
			"evidence_id", evidenceID,
			"stored_hash", e.SHA256Hash,
			"computed_hash", computed,
		)
	}
	return result, nil
}

// Supersede registers a replacement version for an artifact. The old record
// is never touched beyond its superseded_by pointer; both versions stay in
// the ledger.
func (s *Service) Supersede(ctx context.Context, oldID id.EvidenceID, contents []byte, meta Metadata) (*Evidence, error) {
	old, err := s.store.Get(ctx, oldID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "evidence %s not found", oldID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load evidence")
	}
	if old.SupersededBy != nil {
		return nil, dErrors.Newf(dErrors.CodeConflict, "evidence %s is already superseded by %s", oldID, *old.SupersededBy)
	}
	if len(contents) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "artifact contents cannot be empty")
	}

	hash := HashBytes(contents)
	if hash == old.SHA256Hash {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "replacement artifact is identical to the superseded version")
	}

	if meta.EngagementID.IsNil() {
		meta.EngagementID = old.EngagementID
	}
	if meta.ControlID.IsNil() {
		meta.ControlID = old.ControlID
	}

	replacement := &Evidence{
		ID:           id.NewEvidenceID(),
		EngagementID: meta.EngagementID,
		ControlID:    meta.ControlID,
		SHA256Hash:   hash,
		FileName:     meta.FileName,
		ContentType:  meta.ContentType,
		Source:       meta.Source,
		SizeBytes:    int64(len(contents)),
		Version:      old.Version + 1,
		UploadedBy:   meta.UploadedBy,
		UploadedAt:   s.now().UTC(),
	}

	if scores, scoreErr := s.scorer.Score(ctx, contents, meta); scoreErr == nil {
		replacement.Scores = &scores
	}

	if err := s.blobs.Put(ctx, hash, contents); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store artifact bytes")
	}

	err = s.runner.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.Insert(ctx, replacement); err != nil {
			return err
		}
		if err := s.store.SetSupersededBy(ctx, oldID, replacement.ID); err != nil {
			return err
		}
		before, _ := json.Marshal(old)
		after, _ := json.Marshal(replacement)
		_, err := s.trail.Append(ctx, audittrail.Record{
			EngagementID: replacement.EngagementID,
			EntityType:   audittrail.EntityEvidence,
			EntityID:     replacement.ID.String(),
			Actor:        meta.UploadedBy,
			Action:       "evidence.superseded",
			Before:       before,
			After:        after,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "replacement artifact already registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to supersede evidence")
	}

	return replacement, nil
}

// Get loads one evidence record.
func (s *Service) Get(ctx context.Context, evidenceID id.EvidenceID) (*Evidence, error) {
	e, err := s.store.Get(ctx, evidenceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "evidence %s not found", evidenceID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load evidence")
	}
	return e, nil
}
