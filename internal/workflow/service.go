package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"veritas/internal/audittrail"
	"veritas/internal/workflow/metrics"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/sentinel"
	txcontext "veritas/pkg/platform/tx"
)

// Store persists the workflow aggregates. UpdateEngagement must fail with
// sentinel.ErrConflict when expectedVersion no longer matches the stored
// row.
type Store interface {
	InsertEngagement(ctx context.Context, e *Engagement) error
	GetEngagement(ctx context.Context, engagementID id.EngagementID) (*Engagement, error)
	UpdateEngagement(ctx context.Context, e *Engagement, expectedVersion int) error

	InsertControl(ctx context.Context, c *Control) error
	GetControl(ctx context.Context, controlID id.ControlID) (*Control, error)

	InsertTestPlan(ctx context.Context, p *TestPlan) error
	GetTestPlan(ctx context.Context, planID id.TestPlanID) (*TestPlan, error)
	MarkTestPlanApproved(ctx context.Context, planID id.TestPlanID, approver id.UserID, at time.Time) error

	InsertTestResult(ctx context.Context, r *TestResult) error
	GetTestResult(ctx context.Context, resultID id.TestResultID) (*TestResult, error)

	InsertDeviation(ctx context.Context, d *Deviation) error

	InsertApproval(ctx context.Context, a *Approval) error
	GetApproval(ctx context.Context, approvalID id.ApprovalID) (*Approval, error)
	UpdateApproval(ctx context.Context, a *Approval) error
	ListApprovals(ctx context.Context, engagementID id.EngagementID) ([]Approval, error)

	InsertTask(ctx context.Context, t *WorkflowTask) error
	GetTask(ctx context.Context, taskID id.TaskID) (*WorkflowTask, error)
	UpdateTask(ctx context.Context, t *WorkflowTask) error
	ListTasks(ctx context.Context, engagementID id.EngagementID) ([]WorkflowTask, error)
}

// Trail is the audit trail dependency.
type Trail interface {
	Append(ctx context.Context, rec audittrail.Record) (*audittrail.Entry, error)
}

// Authorizer gates workflow mutations on engagement membership.
type Authorizer interface {
	Authorize(ctx context.Context, userID id.UserID, engagementID id.EngagementID, capability id.Capability) error
}

// Service is the workflow state machine.
type Service struct {
	store   Store
	trail   Trail
	authz   Authorizer
	runner  txcontext.Runner
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the service logger.
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

// NewService builds the workflow service.
func NewService(store Store, trail Trail, authz Authorizer, runner txcontext.Runner, opts ...Option) *Service {
	s := &Service{
		store:  store,
		trail:  trail,
		authz:  authz,
		runner: runner,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateEngagementRequest carries the fields for a new engagement.
type CreateEngagementRequest struct {
	ClientName  string            `json:"client_name"`
	Type        id.EngagementType `json:"type"`
	ReportType  id.ReportType     `json:"report_type"`
	PeriodStart time.Time         `json:"period_start"`
	PeriodEnd   time.Time         `json:"period_end"`
	Actor       id.UserID         `json:"-"`
}

// CreateEngagement registers a new engagement in Draft.
func (s *Service) CreateEngagement(ctx context.Context, req CreateEngagementRequest) (*Engagement, error) {
	if req.ClientName == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "client_name is required")
	}
	if !req.Type.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid engagement type %q", req.Type)
	}
	if !req.ReportType.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid report type %q", req.ReportType)
	}
	if !req.PeriodEnd.After(req.PeriodStart) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "period_end must be after period_start")
	}

	now := s.now().UTC()
	e := &Engagement{
		ID:          id.NewEngagementID(),
		ClientName:  req.ClientName,
		Type:        req.Type,
		ReportType:  req.ReportType,
		Status:      id.StatusDraft,
		PeriodStart: req.PeriodStart,
		PeriodEnd:   req.PeriodEnd,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.runner.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.InsertEngagement(ctx, e); err != nil {
			return err
		}
		return s.audit(ctx, e.ID, audittrail.EntityEngagement, e.ID.String(), req.Actor, "engagement.created", nil, e)
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create engagement")
	}
	return e, nil
}

// GetEngagement loads an engagement for a member.
func (s *Service) GetEngagement(ctx context.Context, engagementID id.EngagementID, actor id.UserID) (*Engagement, error) {
	if err := s.authz.Authorize(ctx, actor, engagementID, id.CapabilityRead); err != nil {
		return nil, err
	}
	return s.loadEngagement(ctx, engagementID)
}

// TransitionRequest asks to advance an engagement one step.
type TransitionRequest struct {
	EngagementID    id.EngagementID
	Target          id.EngagementStatus
	ExpectedVersion int
	Actor           id.UserID
}

// Transition advances the engagement to the single legal successor state.
// The gate for the current state must be satisfied: all tasks of the phase
// completed and the required approvals granted. Nothing is mutated on a
// rejected transition.
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (*Engagement, error) {
	if err := s.authz.Authorize(ctx, req.Actor, req.EngagementID, id.CapabilityRead); err != nil {
		return nil, err
	}

	e, err := s.loadEngagement(ctx, req.EngagementID)
	if err != nil {
		return nil, err
	}
	before := *e

	if err := nextStatus(e.Status, req.Target); err != nil {
		return nil, err
	}
	if err := s.checkGate(ctx, e, req.Actor); err != nil {
		if s.metrics != nil {
			s.metrics.GateRejectionsTotal.Inc()
		}
		return nil, err
	}

	expected := req.ExpectedVersion
	if expected == 0 {
		expected = e.Version
	}

	now := s.now().UTC()
	e.Status = req.Target
	e.UpdatedAt = now
	if req.Target == id.StatusArchived {
		e.ArchivedAt = &now
	}

	err = s.runner.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.UpdateEngagement(ctx, e, expected); err != nil {
			return err
		}
		return s.audit(ctx, e.ID, audittrail.EntityEngagement, e.ID.String(), req.Actor, "engagement.transitioned", &before, e)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "engagement was modified concurrently; reload and retry")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to transition engagement")
	}

	if s.metrics != nil {
		s.metrics.TransitionsTotal.WithLabelValues(string(e.Status)).Inc()
	}
	s.logger.InfoContext(ctx, "engagement transitioned",
		"engagement_id", e.ID,
		"from", before.Status,
		"to", e.Status,
		"version", e.Version,
	)
	return e, nil
}

// checkGate verifies the requirements for leaving the engagement's current
// status.
func (s *Service) checkGate(ctx context.Context, e *Engagement, actor id.UserID) error {
	tasks, err := s.store.ListTasks(ctx, e.ID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load tasks")
	}
	for i := range tasks {
		t := &tasks[i]
		if t.Phase == e.Status && t.Status != id.TaskCompleted && t.Status != id.TaskCancelled {
			return dErrors.Newf(dErrors.CodeConflict,
				"task %q for phase %s is not completed", t.Title, e.Status)
		}
	}

	g := gateFor(e.Status)
	if len(g.approvalLevels) > 0 {
		approvals, err := s.store.ListApprovals(ctx, e.ID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load approvals")
		}
		for _, level := range g.approvalLevels {
			if !hasApproved(approvals, e.Status, level) {
				return dErrors.Newf(dErrors.CodeConflict,
					"leaving %s requires an approved level-%d approval", e.Status, level)
			}
		}
	}

	if g.signoff {
		if err := s.authz.Authorize(ctx, actor, e.ID, id.CapabilitySignReport); err != nil {
			return err
		}
	}
	return nil
}

func hasApproved(approvals []Approval, gateStatus id.EngagementStatus, level int) bool {
	for _, a := range approvals {
		if a.GateStatus == gateStatus && a.Level == level && a.Status == id.ApprovalApproved {
			return true
		}
	}
	return false
}

// RequestApprovalRequest opens an approval gate record.
type RequestApprovalRequest struct {
	EngagementID id.EngagementID
	ApprovalType string
	Level        int
	Actor        id.UserID
}

// RequestApproval records a pending approval for the engagement's current
// gate.
func (s *Service) RequestApproval(ctx context.Context, req RequestApprovalRequest) (*Approval, error) {
	if _, ok := approverRoleForLevel(req.Level); !ok {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "approval level must be 1 or 2, got %d", req.Level)
	}
	if req.ApprovalType == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "approval_type is required")
	}
	if err := s.authz.Authorize(ctx, req.Actor, req.EngagementID, id.CapabilityRead); err != nil {
		return nil, err
	}

	e, err := s.loadEngagement(ctx, req.EngagementID)
	if err != nil {
		return nil, err
	}

	a := &Approval{
		ID:           id.NewApprovalID(),
		EngagementID: req.EngagementID,
		ApprovalType: req.ApprovalType,
		Level:        req.Level,
		GateStatus:   e.Status,
		Status:       id.ApprovalPending,
		RequestedBy:  req.Actor,
		RequestedAt:  s.now().UTC(),
	}

	err = s.runner.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.InsertApproval(ctx, a); err != nil {
			return err
		}
		return s.audit(ctx, e.ID, audittrail.EntityApproval, a.ID.String(), req.Actor, "approval.requested", nil, a)
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to request approval")
	}
	return a, nil
}

// DecideApprovalRequest records an approve or reject decision.
type DecideApprovalRequest struct {
	ApprovalID id.ApprovalID
	Approve    bool
	Reason     string
	Actor      id.UserID
}

// DecideApproval settles a pending approval. Approval requires the
// level's capability. A rejection must carry a reason and reverts the
// engagement to the state preceding the gate; the approval row itself is
// kept for the record.
func (s *Service) DecideApproval(ctx context.Context, req DecideApprovalRequest) (*Approval, error) {
	a, err := s.store.GetApproval(ctx, req.ApprovalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "approval %s not found", req.ApprovalID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load approval")
	}
	if a.Status != id.ApprovalPending {
		return nil, dErrors.Newf(dErrors.CodeConflict, "approval %s is already %s", a.ID, a.Status)
	}

	capability, _ := approverRoleForLevel(a.Level)
	if err := s.authz.Authorize(ctx, req.Actor, a.EngagementID, capability); err != nil {
		return nil, err
	}

	if !req.Approve && req.Reason == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "rejection requires a non-empty reason")
	}

	before := *a
	now := s.now().UTC()
	a.DecidedBy = &req.Actor
	a.DecidedAt = &now
	if req.Approve {
		a.Status = id.ApprovalApproved
	} else {
		a.Status = id.ApprovalRejected
		a.RejectionReason = req.Reason
	}

	err = s.runner.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.UpdateApproval(ctx, a); err != nil {
			return err
		}
		if err := s.audit(ctx, a.EngagementID, audittrail.EntityApproval, a.ID.String(), req.Actor, "approval.decided", &before, a); err != nil {
			return err
		}
		if req.Approve {
			return nil
		}
		return s.revertEngagement(ctx, a, req.Actor)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "engagement was modified concurrently; reload and retry")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decide approval")
	}

	if s.metrics != nil {
		s.metrics.ApprovalsTotal.WithLabelValues(string(a.Status)).Inc()
	}
	return a, nil
}

// revertEngagement moves the engagement back one state after a rejection.
// An engagement already reverted (or not yet at the gate) is left alone:
// the rejection blocks progression either way.
func (s *Service) revertEngagement(ctx context.Context, a *Approval, actor id.UserID) error {
	e, err := s.loadEngagement(ctx, a.EngagementID)
	if err != nil {
		return err
	}
	if e.Status != a.GateStatus {
		return nil
	}
	prev, ok := previousStatus(e.Status)
	if !ok {
		return nil
	}

	before := *e
	e.Status = prev
	e.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateEngagement(ctx, e, e.Version); err != nil {
		return err
	}
	return s.audit(ctx, e.ID, audittrail.EntityEngagement, e.ID.String(), actor, "engagement.reverted", &before, e)
}

func (s *Service) loadEngagement(ctx context.Context, engagementID id.EngagementID) (*Engagement, error) {
	e, err := s.store.GetEngagement(ctx, engagementID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "engagement %s not found", engagementID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load engagement")
	}
	return e, nil
}

// audit appends one trail entry for a mutation, serializing the before and
// after snapshots.
func (s *Service) audit(ctx context.Context, engagementID id.EngagementID, entityType audittrail.EntityType, entityID string, actor id.UserID, action string, before, after any) error {
	rec := audittrail.Record{
		EngagementID: engagementID,
		EntityType:   entityType,
		EntityID:     entityID,
		Actor:        actor,
		Action:       action,
	}
	if before != nil {
		rec.Before, _ = json.Marshal(before)
	}
	if after != nil {
		rec.After, _ = json.Marshal(after)
	}
	_, err := s.trail.Append(ctx, rec)
	return err
}
