package audittrail

import (
	"context"
	"log/slog"
	"time"

	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"

	"veritas/internal/audittrail/metrics"
)

// Store persists chain entries. Implementations must serialize appends per
// engagement: the head read and the entry write form one critical section so
// two concurrent appends can never both extend the same predecessor.
type Store interface {
	// Append runs build inside the per-engagement critical section, passing
	// the next sequence number and the current head hash, and persists the
	// entry build returns. There is deliberately no update or delete.
	Append(ctx context.Context, engagementID id.EngagementID, build func(seq int64, prevHash string) (*Entry, error)) (*Entry, error)
	// ListByEngagement returns entries in creation (sequence) order.
	ListByEngagement(ctx context.Context, engagementID id.EngagementID) ([]Entry, error)
}

// Service appends to and verifies engagement hash chains.
type Service struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets a logger for append and verification reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the timestamp source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds the audit trail service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append writes one entry to the engagement's chain. Failures must abort the
// enclosing transaction: an audited mutation that cannot be logged must not
// be persisted.
func (s *Service) Append(ctx context.Context, rec Record) (*Entry, error) {
	if rec.EngagementID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "engagement_id is required")
	}
	if rec.EntityType == "" || rec.EntityID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "entity_type and entity_id are required")
	}
	if rec.Action == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "action is required")
	}

	entry, err := s.store.Append(ctx, rec.EngagementID, func(seq int64, prevHash string) (*Entry, error) {
		e := &Entry{
			ID:           id.NewEntryID(),
			EngagementID: rec.EngagementID,
			Seq:          seq,
			EntityType:   rec.EntityType,
			EntityID:     rec.EntityID,
			Actor:        rec.Actor,
			Action:       rec.Action,
			Before:       rec.Before,
			After:        rec.After,
			Timestamp:    s.now().UTC(),
			PrevHash:     prevHash,
		}
		e.EventHash = ComputeHash(e)
		return e, nil
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "audit trail append failed")
	}

	if s.metrics != nil {
		s.metrics.AppendsTotal.Inc()
	}
	s.logger.InfoContext(ctx, "audit trail entry appended",
		"engagement_id", rec.EngagementID,
		"entity_type", rec.EntityType,
		"entity_id", rec.EntityID,
		"action", rec.Action,
		"seq", entry.Seq,
	)
	return entry, nil
}

// VerifyChain walks the engagement's entries in creation order, recomputing
// each hash from stored fields. The first mismatch identifies the earliest
// tampering point; everything after it is considered compromised. Read-only.
func (s *Service) VerifyChain(ctx context.Context, engagementID id.EngagementID) (*ChainReport, error) {
	if engagementID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "engagement_id is required")
	}

	entries, err := s.store.ListByEngagement(ctx, engagementID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load chain entries")
	}

	report := &ChainReport{EngagementID: engagementID, Valid: true, Entries: len(entries)}
	prevHash := GenesisHash
	for i := range entries {
		e := &entries[i]
		recomputed := ComputeHash(e)
		if e.PrevHash != prevHash || e.EventHash != recomputed {
			report.Valid = false
			tamperedID := e.ID
			tamperedSeq := e.Seq
			report.TamperedID = &tamperedID
			report.TamperedSeq = &tamperedSeq
			break
		}
		prevHash = e.EventHash
	}

	if !report.Valid {
		if s.metrics != nil {
			s.metrics.VerifyFailuresTotal.Inc()
		}
		s.logger.ErrorContext(ctx, "audit trail chain verification failed",
			"engagement_id", engagementID,
			"tampered_seq", *report.TamperedSeq,
		)
	}
	return report, nil
}

// List returns the engagement's entries in sequence order.
func (s *Service) List(ctx context.Context, engagementID id.EngagementID) ([]Entry, error) {
	if engagementID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "engagement_id is required")
	}
	entries, err := s.store.ListByEngagement(ctx, engagementID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load chain entries")
	}
	return entries, nil
}
