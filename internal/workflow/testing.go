package workflow

import (
	"context"
	"errors"
	"time"

	"veritas/internal/audittrail"
	"veritas/internal/sampling"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/sentinel"
)

// CreateControlRequest registers a control under an engagement.
type CreateControlRequest struct {
	EngagementID id.EngagementID
	Code         string
	Name         string
	ControlType  string
	Owner        string
	Frequency    string
	IsAutomated  bool
	IsKeyControl bool
	Complexity   int
	ChangeCount  int
	Actor        id.UserID
}

// CreateControl adds a control to the engagement.
func (s *Service) CreateControl(ctx context.Context, req CreateControlRequest) (*Control, error) {
	if req.Code == "" || req.Name == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "control code and name are required")
	}
	if req.Complexity < 0 || req.ChangeCount < 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "complexity and change_count cannot be negative")
	}
	if err := s.authz.Authorize(ctx, req.Actor, req.EngagementID, id.CapabilityManageTasks); err != nil {
		return nil, err
	}
	if _, err := s.loadEngagement(ctx, req.EngagementID); err != nil {
		return nil, err
	}

	c := &Control{
		ID:           id.NewControlID(),
		EngagementID: req.EngagementID,
		Code:         req.Code,
		Name:         req.Name,
		ControlType:  req.ControlType,
		Owner:        req.Owner,
		Frequency:    req.Frequency,
		IsAutomated:  req.IsAutomated,
		IsKeyControl: req.IsKeyControl,
		Complexity:   req.Complexity,
		ChangeCount:  req.ChangeCount,
		CreatedAt:    s.now().UTC(),
	}

	err := s.runner.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.InsertControl(ctx, c); err != nil {
			return err
		}
		return s.audit(ctx, req.EngagementID, audittrail.EntityControl, c.ID.String(), req.Actor, "control.created", nil, c)
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create control")
	}
	return c, nil
}

// CreateTestPlanRequest carries the sampling parameters for a new plan.
type CreateTestPlanRequest struct {
	ControlID          id.ControlID
	PopulationSize     int
	Method             sampling.Method
	ConfidenceLevel    float64
	TolerableErrorRate float64
	ExpectedErrorRate  float64
	Actor              id.UserID
}

// CreateTestPlan derives the sample size from the sampling engine and
// stores the plan alongside its parameters.
func (s *Service) CreateTestPlan(ctx context.Context, req CreateTestPlanRequest) (*TestPlan, error) {
	control, err := s.loadControl(ctx, req.ControlID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, req.Actor, control.EngagementID, id.CapabilityManageTasks); err != nil {
		return nil, err
	}

	plan, err := sampling.CalculateSampleSize(sampling.SampleSizeParams{
		PopulationSize:     req.PopulationSize,
		ConfidenceLevel:    req.ConfidenceLevel,
		TolerableErrorRate: req.TolerableErrorRate,
		ExpectedErrorRate:  req.ExpectedErrorRate,
		Method:             req.Method,
	})
	if err != nil {
		return nil, err
	}

	p := &TestPlan{
		ID:                 id.NewTestPlanID(),
		ControlID:          control.ID,
		EngagementID:       control.EngagementID,
		PopulationSize:     req.PopulationSize,
		Method:             string(plan.Method),
		ConfidenceLevel:    req.ConfidenceLevel,
		TolerableErrorRate: req.TolerableErrorRate,
		ExpectedErrorRate:  req.ExpectedErrorRate,
		SampleSize:         plan.AdjustedSize,
		CreatedAt:          s.now().UTC(),
	}

	err = s.runner.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.InsertTestPlan(ctx, p); err != nil {
			return err
		}
		return s.audit(ctx, p.EngagementID, audittrail.EntityTestPlan, p.ID.String(), req.Actor, "test_plan.created", nil, p)
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create test plan")
	}
	return p, nil
}

// ApproveTestPlan locks a plan. An approved plan is immutable and cannot
// be approved twice.
func (s *Service) ApproveTestPlan(ctx context.Context, planID id.TestPlanID, actor id.UserID) (*TestPlan, error) {
	p, err := s.loadTestPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, actor, p.EngagementID, id.CapabilityApproveLevel1); err != nil {
		return nil, err
	}
	if p.Approved() {
		return nil, dErrors.Newf(dErrors.CodeImmutabilityViolation, "test plan %s is approved and cannot change", p.ID)
	}

	before := *p
	now := s.now().UTC()
	p.ApprovedAt = &now
	p.ApprovedBy = &actor

	err = s.runner.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.MarkTestPlanApproved(ctx, p.ID, actor, now); err != nil {
			return err
		}
		return s.audit(ctx, p.EngagementID, audittrail.EntityTestPlan, p.ID.String(), actor, "test_plan.approved", &before, p)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Newf(dErrors.CodeImmutabilityViolation, "test plan %s is approved and cannot change", p.ID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to approve test plan")
	}
	return p, nil
}

// RecordTestResultRequest carries one test execution.
type RecordTestResultRequest struct {
	TestPlanID   id.TestPlanID
	Outcome      id.TestOutcome
	SampleTested int
	ErrorsFound  int
	EvidenceIDs  []id.EvidenceID
	Notes        string
	Actor        id.UserID
}

// RecordTestResult stores an execution against an approved plan.
func (s *Service) RecordTestResult(ctx context.Context, req RecordTestResultRequest) (*TestResult, error) {
	if !req.Outcome.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid test outcome %q", req.Outcome)
	}
	if req.SampleTested < 1 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "sample_tested must be at least 1")
	}
	if req.ErrorsFound < 0 || req.ErrorsFound > req.SampleTested {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "errors_found must be between 0 and sample_tested")
	}

	p, err := s.loadTestPlan(ctx, req.TestPlanID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, req.Actor, p.EngagementID, id.CapabilityWriteTestResult); err != nil {
		return nil, err
	}
	if !p.Approved() {
		return nil, dErrors.Newf(dErrors.CodeConflict, "test plan %s is not approved; results cannot be recorded", p.ID)
	}

	r := &TestResult{
		ID:           id.NewTestResultID(),
		TestPlanID:   p.ID,
		ControlID:    p.ControlID,
		EngagementID: p.EngagementID,
		Outcome:      req.Outcome,
		SampleTested: req.SampleTested,
		ErrorsFound:  req.ErrorsFound,
		EvidenceIDs:  req.EvidenceIDs,
		Notes:        req.Notes,
		ExecutedBy:   req.Actor,
		ExecutedAt:   s.now().UTC(),
	}

	err = s.runner.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.InsertTestResult(ctx, r); err != nil {
			return err
		}
		return s.audit(ctx, p.EngagementID, audittrail.EntityTestResult, r.ID.String(), req.Actor, "test_result.recorded", nil, r)
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record test result")
	}
	return r, nil
}

// RecordDeviationRequest documents a control deviation.
type RecordDeviationRequest struct {
	TestResultID        id.TestResultID
	Severity            id.Severity
	RootCause           string
	RemediationPlan     string
	RemediationOwner    string
	RemediationDeadline *time.Time
	Actor               id.UserID
}

// RecordDeviation attaches a deviation to a failed or deviating test
// result. Passed results cannot carry deviations.
func (s *Service) RecordDeviation(ctx context.Context, req RecordDeviationRequest) (*Deviation, error) {
	if !req.Severity.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid severity %q", req.Severity)
	}
	if req.RootCause == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "root_cause is required")
	}

	r, err := s.store.GetTestResult(ctx, req.TestResultID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "test result %s not found", req.TestResultID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load test result")
	}
	if err := s.authz.Authorize(ctx, req.Actor, r.EngagementID, id.CapabilityWriteTestResult); err != nil {
		return nil, err
	}
	if r.Outcome == id.TestPassed {
		return nil, dErrors.Newf(dErrors.CodeConflict, "test result %s passed; deviations attach to failed results", r.ID)
	}

	d := &Deviation{
		ID:                  id.NewDeviationID(),
		TestResultID:        r.ID,
		ControlID:           r.ControlID,
		EngagementID:        r.EngagementID,
		Severity:            req.Severity,
		RootCause:           req.RootCause,
		RemediationPlan:     req.RemediationPlan,
		RemediationOwner:    req.RemediationOwner,
		RemediationDeadline: req.RemediationDeadline,
		CreatedAt:           s.now().UTC(),
	}

	err = s.runner.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.InsertDeviation(ctx, d); err != nil {
			return err
		}
		return s.audit(ctx, r.EngagementID, audittrail.EntityDeviation, d.ID.String(), req.Actor, "deviation.recorded", nil, d)
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record deviation")
	}
	return d, nil
}

func (s *Service) loadControl(ctx context.Context, controlID id.ControlID) (*Control, error) {
	c, err := s.store.GetControl(ctx, controlID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "control %s not found", controlID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load control")
	}
	return c, nil
}

func (s *Service) loadTestPlan(ctx context.Context, planID id.TestPlanID) (*TestPlan, error) {
	p, err := s.store.GetTestPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "test plan %s not found", planID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load test plan")
	}
	return p, nil
}
