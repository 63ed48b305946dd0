package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veritas/internal/access"
	"veritas/internal/audittrail"
	auditstore "veritas/internal/audittrail/store"
	"veritas/internal/sampling"
	"veritas/internal/workflow"
	"veritas/internal/workflow/store"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	txcontext "veritas/pkg/platform/tx"
)

type fixture struct {
	svc     *workflow.Service
	store   *store.InMemoryStore
	audit   *auditstore.InMemoryStore
	members *access.InMemoryMembershipStore

	partner id.UserID
	manager id.UserID
	auditor id.UserID
	viewer  id.UserID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	members := access.NewInMemoryMembershipStore()
	audit := auditstore.NewInMemoryStore()
	memory := store.NewInMemoryStore()
	svc := workflow.NewService(
		memory,
		audittrail.NewService(audit),
		access.NewAuthorizer(members),
		txcontext.NopRunner{},
		workflow.WithClock(func() time.Time {
			return time.Date(2026, time.April, 20, 9, 0, 0, 0, time.UTC)
		}),
	)
	return &fixture{
		svc:     svc,
		store:   memory,
		audit:   audit,
		members: members,
		partner: id.NewUserID(),
		manager: id.NewUserID(),
		auditor: id.NewUserID(),
		viewer:  id.NewUserID(),
	}
}

// engagement creates an engagement and enrolls the fixture's team.
func (f *fixture) engagement(t *testing.T) *workflow.Engagement {
	t.Helper()
	e, err := f.svc.CreateEngagement(context.Background(), workflow.CreateEngagementRequest{
		ClientName:  "Meridian Payroll Services",
		Type:        id.EngagementSOC1,
		ReportType:  id.ReportType2,
		PeriodStart: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, time.December, 31, 0, 0, 0, 0, time.UTC),
		Actor:       f.partner,
	})
	require.NoError(t, err)

	f.members.AddMember(f.partner, e.ID, id.RolePartner)
	f.members.AddMember(f.manager, e.ID, id.RoleManager)
	f.members.AddMember(f.auditor, e.ID, id.RoleAuditor)
	f.members.AddMember(f.viewer, e.ID, id.RoleReadOnly)
	return e
}

// advance walks the engagement through the early phases, satisfying gates
// as it goes.
func (f *fixture) advance(t *testing.T, e *workflow.Engagement, to id.EngagementStatus) *workflow.Engagement {
	t.Helper()
	ctx := context.Background()
	order := []id.EngagementStatus{
		id.StatusPlanning, id.StatusFieldwork, id.StatusReview,
		id.StatusPartnerReview, id.StatusSigned, id.StatusReleased, id.StatusArchived,
	}
	for _, next := range order {
		if e.Status == to {
			return e
		}
		switch e.Status {
		case id.StatusReview:
			f.approveGate(t, e.ID, 1, f.manager)
		case id.StatusPartnerReview:
			f.approveGate(t, e.ID, 2, f.partner)
		}
		actor := f.manager
		if e.Status == id.StatusPartnerReview {
			actor = f.partner
		}
		var err error
		e, err = f.svc.Transition(ctx, workflow.TransitionRequest{
			EngagementID: e.ID,
			Target:       next,
			Actor:        actor,
		})
		require.NoError(t, err)
	}
	require.Equal(t, to, e.Status)
	return e
}

func (f *fixture) approveGate(t *testing.T, engagementID id.EngagementID, level int, approver id.UserID) {
	t.Helper()
	ctx := context.Background()
	a, err := f.svc.RequestApproval(ctx, workflow.RequestApprovalRequest{
		EngagementID: engagementID,
		ApprovalType: "phase-signoff",
		Level:        level,
		Actor:        f.auditor,
	})
	require.NoError(t, err)
	_, err = f.svc.DecideApproval(ctx, workflow.DecideApprovalRequest{
		ApprovalID: a.ID,
		Approve:    true,
		Actor:      approver,
	})
	require.NoError(t, err)
}

func assertCode(t *testing.T, err error, code dErrors.Code) {
	t.Helper()
	require.Error(t, err)
	var dErr *dErrors.Error
	require.ErrorAs(t, err, &dErr)
	assert.Equal(t, code, dErr.Code)
}

func TestCreateEngagement(t *testing.T) {
	ctx := context.Background()

	t.Run("starts in draft at version 1 with an audit entry", func(t *testing.T) {
		f := newFixture(t)
		e := f.engagement(t)

		assert.Equal(t, id.StatusDraft, e.Status)
		assert.Equal(t, 1, e.Version)

		entries, err := f.audit.ListByEngagement(ctx, e.ID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "engagement.created", entries[0].Action)
	})

	t.Run("rejects an inverted period", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateEngagement(ctx, workflow.CreateEngagementRequest{
			ClientName:  "Meridian",
			Type:        id.EngagementSOC2,
			ReportType:  id.ReportType1,
			PeriodStart: time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC),
			PeriodEnd:   time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
			Actor:       id.NewUserID(),
		})
		assertCode(t, err, dErrors.CodeInvalidInput)
	})
}

func TestTransition(t *testing.T) {
	ctx := context.Background()

	t.Run("moves one step forward and bumps the version", func(t *testing.T) {
		f := newFixture(t)
		e := f.engagement(t)

		e2, err := f.svc.Transition(ctx, workflow.TransitionRequest{
			EngagementID: e.ID,
			Target:       id.StatusPlanning,
			Actor:        f.manager,
		})
		require.NoError(t, err)
		assert.Equal(t, id.StatusPlanning, e2.Status)
		assert.Equal(t, 2, e2.Version)
	})

	t.Run("skipping a state is rejected and nothing is mutated", func(t *testing.T) {
		f := newFixture(t)
		e := f.engagement(t)
		e = f.advance(t, e, id.StatusFieldwork)

		_, err := f.svc.Transition(ctx, workflow.TransitionRequest{
			EngagementID: e.ID,
			Target:       id.StatusPartnerReview,
			Actor:        f.manager,
		})
		assertCode(t, err, dErrors.CodeConflict)
		assert.Contains(t, err.Error(), "fieldwork")
		assert.Contains(t, err.Error(), "partner_review")

		stored, getErr := f.store.GetEngagement(ctx, e.ID)
		require.NoError(t, getErr)
		assert.Equal(t, id.StatusFieldwork, stored.Status)
		assert.Equal(t, e.Version, stored.Version)
	})

	t.Run("moving backwards is rejected", func(t *testing.T) {
		f := newFixture(t)
		e := f.engagement(t)
		f.advance(t, e, id.StatusFieldwork)

		_, err := f.svc.Transition(ctx, workflow.TransitionRequest{
			EngagementID: e.ID,
			Target:       id.StatusPlanning,
			Actor:        f.manager,
		})
		assertCode(t, err, dErrors.CodeConflict)
	})

	t.Run("leaving review requires a level-1 approval", func(t *testing.T) {
		f := newFixture(t)
		e := f.engagement(t)
		f.advance(t, e, id.StatusReview)

		_, err := f.svc.Transition(ctx, workflow.TransitionRequest{
			EngagementID: e.ID,
			Target:       id.StatusPartnerReview,
			Actor:        f.manager,
		})
		assertCode(t, err, dErrors.CodeConflict)
		assert.Contains(t, err.Error(), "level-1")
	})

	t.Run("only a partner signs the report", func(t *testing.T) {
		f := newFixture(t)
		e := f.engagement(t)
		f.advance(t, e, id.StatusPartnerReview)
		f.approveGate(t, e.ID, 2, f.partner)

		_, err := f.svc.Transition(ctx, workflow.TransitionRequest{
			EngagementID: e.ID,
			Target:       id.StatusSigned,
			Actor:        f.manager,
		})
		assertCode(t, err, dErrors.CodeForbidden)

		signed, err := f.svc.Transition(ctx, workflow.TransitionRequest{
			EngagementID: e.ID,
			Target:       id.StatusSigned,
			Actor:        f.partner,
		})
		require.NoError(t, err)
		assert.Equal(t, id.StatusSigned, signed.Status)
	})

	t.Run("incomplete phase task blocks the gate", func(t *testing.T) {
		f := newFixture(t)
		e := f.engagement(t)
		e = f.advance(t, e, id.StatusFieldwork)

		_, err := f.svc.CreateTask(ctx, workflow.CreateTaskRequest{
			EngagementID: e.ID,
			Phase:        id.StatusFieldwork,
			Title:        "Test change management population",
			Assignee:     f.auditor,
			Actor:        f.manager,
		})
		require.NoError(t, err)

		_, err = f.svc.Transition(ctx, workflow.TransitionRequest{
			EngagementID: e.ID,
			Target:       id.StatusReview,
			Actor:        f.manager,
		})
		assertCode(t, err, dErrors.CodeConflict)
		assert.Contains(t, err.Error(), "Test change management population")
	})

	t.Run("stale version loses with a conflict", func(t *testing.T) {
		f := newFixture(t)
		e := f.engagement(t)

		_, err := f.svc.Transition(ctx, workflow.TransitionRequest{
			EngagementID: e.ID,
			Target:       id.StatusPlanning,
			Actor:        f.manager,
		})
		require.NoError(t, err)

		_, err = f.svc.Transition(ctx, workflow.TransitionRequest{
			EngagementID:    e.ID,
			Target:          id.StatusFieldwork,
			ExpectedVersion: e.Version, // stale: the first transition bumped it
			Actor:           f.manager,
		})
		assertCode(t, err, dErrors.CodeConflict)
		assert.Contains(t, err.Error(), "concurrently")
	})

	t.Run("archiving is soft and stamps archived_at", func(t *testing.T) {
		f := newFixture(t)
		e := f.engagement(t)
		e = f.advance(t, e, id.StatusArchived)

		assert.NotNil(t, e.ArchivedAt)
		stored, err := f.store.GetEngagement(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, id.StatusArchived, stored.Status)
	})

	t.Run("appends exactly one trail entry per transition", func(t *testing.T) {
		f := newFixture(t)
		e := f.engagement(t)

		_, err := f.svc.Transition(ctx, workflow.TransitionRequest{
			EngagementID: e.ID,
			Target:       id.StatusPlanning,
			Actor:        f.manager,
		})
		require.NoError(t, err)

		entries, err := f.audit.ListByEngagement(ctx, e.ID)
		require.NoError(t, err)
		var transitions int
		for _, entry := range entries {
			if entry.Action == "engagement.transitioned" {
				transitions++
			}
		}
		assert.Equal(t, 1, transitions)
	})
}

func TestApprovals(t *testing.T) {
	ctx := context.Background()

	t.Run("auditor cannot decide a level-1 approval", func(t *testing.T) {
		f := newFixture(t)
		e := f.engagement(t)
		f.advance(t, e, id.StatusReview)

		a, err := f.svc.RequestApproval(ctx, workflow.RequestApprovalRequest{
			EngagementID: e.ID,
			ApprovalType: "phase-signoff",
			Level:        1,
			Actor:        f.auditor,
		})
		require.NoError(t, err)

		_, err = f.svc.DecideApproval(ctx, workflow.DecideApprovalRequest{
			ApprovalID: a.ID,
			Approve:    true,
			Actor:      f.auditor,
		})
		assertCode(t, err, dErrors.CodeForbidden)
	})

	t.Run("manager cannot decide a level-2 approval", func(t *testing.T) {
		f := newFixture(t)
		e := f.engagement(t)
		f.advance(t, e, id.StatusPartnerReview)

		a, err := f.svc.RequestApproval(ctx, workflow.RequestApprovalRequest{
			EngagementID: e.ID,
			ApprovalType: "phase-signoff",
			Level:        2,
			Actor:        f.auditor,
		})
		require.NoError(t, err)

		_, err = f.svc.DecideApproval(ctx, workflow.DecideApprovalRequest{
			ApprovalID: a.ID,
			Approve:    true,
			Actor:      f.manager,
		})
		assertCode(t, err, dErrors.CodeForbidden)
	})

	t.Run("rejection requires a reason", func(t *testing.T) {
		f := newFixture(t)
		e := f.engagement(t)
		f.advance(t, e, id.StatusReview)

		a, err := f.svc.RequestApproval(ctx, workflow.RequestApprovalRequest{
			EngagementID: e.ID,
			ApprovalType: "phase-signoff",
			Level:        1,
			Actor:        f.auditor,
		})
		require.NoError(t, err)

		_, err = f.svc.DecideApproval(ctx, workflow.DecideApprovalRequest{
			ApprovalID: a.ID,
			Approve:    false,
			Actor:      f.manager,
		})
		assertCode(t, err, dErrors.CodeInvalidInput)
		assert.Contains(t, err.Error(), "reason")
	})

	t.Run("rejection reverts the engagement and keeps the row", func(t *testing.T) {
		f := newFixture(t)
		e := f.engagement(t)
		f.advance(t, e, id.StatusReview)

		a, err := f.svc.RequestApproval(ctx, workflow.RequestApprovalRequest{
			EngagementID: e.ID,
			ApprovalType: "phase-signoff",
			Level:        1,
			Actor:        f.auditor,
		})
		require.NoError(t, err)

		decided, err := f.svc.DecideApproval(ctx, workflow.DecideApprovalRequest{
			ApprovalID: a.ID,
			Approve:    false,
			Reason:     "open exceptions in the access review workpaper",
			Actor:      f.manager,
		})
		require.NoError(t, err)
		assert.Equal(t, id.ApprovalRejected, decided.Status)
		assert.Equal(t, "open exceptions in the access review workpaper", decided.RejectionReason)

		stored, err := f.store.GetEngagement(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, id.StatusFieldwork, stored.Status)

		kept, err := f.store.GetApproval(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, id.ApprovalRejected, kept.Status)
	})

	t.Run("a settled approval cannot be decided again", func(t *testing.T) {
		f := newFixture(t)
		e := f.engagement(t)
		f.advance(t, e, id.StatusReview)

		a, err := f.svc.RequestApproval(ctx, workflow.RequestApprovalRequest{
			EngagementID: e.ID,
			ApprovalType: "phase-signoff",
			Level:        1,
			Actor:        f.auditor,
		})
		require.NoError(t, err)

		_, err = f.svc.DecideApproval(ctx, workflow.DecideApprovalRequest{
			ApprovalID: a.ID, Approve: true, Actor: f.manager,
		})
		require.NoError(t, err)

		_, err = f.svc.DecideApproval(ctx, workflow.DecideApprovalRequest{
			ApprovalID: a.ID, Approve: true, Actor: f.manager,
		})
		assertCode(t, err, dErrors.CodeConflict)
	})

	t.Run("level outside 1..2 is rejected", func(t *testing.T) {
		f := newFixture(t)
		e := f.engagement(t)

		_, err := f.svc.RequestApproval(ctx, workflow.RequestApprovalRequest{
			EngagementID: e.ID,
			ApprovalType: "phase-signoff",
			Level:        3,
			Actor:        f.auditor,
		})
		assertCode(t, err, dErrors.CodeInvalidInput)
	})
}

func TestTasks(t *testing.T) {
	ctx := context.Background()

	t.Run("diamond-shaped dependencies are accepted", func(t *testing.T) {
		f := newFixture(t)
		e := f.engagement(t)

		a, err := f.svc.CreateTask(ctx, workflow.CreateTaskRequest{
			EngagementID: e.ID,
			Phase:        id.StatusFieldwork,
			Title:        "Pull user listing",
			Assignee:     f.auditor,
			Actor:        f.manager,
		})
		require.NoError(t, err)

		b, err := f.svc.CreateTask(ctx, workflow.CreateTaskRequest{
			EngagementID: e.ID,
			Phase:        id.StatusFieldwork,
			Title:        "Select sample",
			Assignee:     f.auditor,
			DependsOn:    []id.TaskID{a.ID},
			Actor:        f.manager,
		})
		require.NoError(t, err)

		// b already depends on a; depending on both keeps the graph acyclic.
		_, err = f.svc.CreateTask(ctx, workflow.CreateTaskRequest{
			EngagementID: e.ID,
			Phase:        id.StatusFieldwork,
			Title:        "Trace exceptions",
			Assignee:     f.auditor,
			DependsOn:    []id.TaskID{b.ID, a.ID},
			Actor:        f.manager,
		})
		require.NoError(t, err)
	})

	t.Run("dependency on an unknown task is rejected", func(t *testing.T) {
		f := newFixture(t)
		e := f.engagement(t)

		_, err := f.svc.CreateTask(ctx, workflow.CreateTaskRequest{
			EngagementID: e.ID,
			Phase:        id.StatusFieldwork,
			Title:        "Select sample",
			Assignee:     f.auditor,
			DependsOn:    []id.TaskID{id.NewTaskID()},
			Actor:        f.manager,
		})
		assertCode(t, err, dErrors.CodeInvalidInput)
	})

	t.Run("completion is blocked by an incomplete predecessor", func(t *testing.T) {
		f := newFixture(t)
		e := f.engagement(t)

		pull, err := f.svc.CreateTask(ctx, workflow.CreateTaskRequest{
			EngagementID: e.ID,
			Phase:        id.StatusFieldwork,
			Title:        "Pull user listing",
			Assignee:     f.auditor,
			Actor:        f.manager,
		})
		require.NoError(t, err)

		sel, err := f.svc.CreateTask(ctx, workflow.CreateTaskRequest{
			EngagementID: e.ID,
			Phase:        id.StatusFieldwork,
			Title:        "Select sample",
			Assignee:     f.auditor,
			DependsOn:    []id.TaskID{pull.ID},
			Actor:        f.manager,
		})
		require.NoError(t, err)

		_, err = f.svc.CompleteTask(ctx, sel.ID, f.auditor)
		assertCode(t, err, dErrors.CodeInvalidInput)
		assert.Contains(t, err.Error(), "Pull user listing")

		_, err = f.svc.CompleteTask(ctx, pull.ID, f.auditor)
		require.NoError(t, err)

		done, err := f.svc.CompleteTask(ctx, sel.ID, f.auditor)
		require.NoError(t, err)
		assert.Equal(t, id.TaskCompleted, done.Status)
		assert.NotNil(t, done.CompletedAt)
	})

	t.Run("read-only member cannot create tasks", func(t *testing.T) {
		f := newFixture(t)
		e := f.engagement(t)

		_, err := f.svc.CreateTask(ctx, workflow.CreateTaskRequest{
			EngagementID: e.ID,
			Phase:        id.StatusFieldwork,
			Title:        "Pull user listing",
			Assignee:     f.viewer,
			Actor:        f.viewer,
		})
		assertCode(t, err, dErrors.CodeForbidden)
	})

	t.Run("completing twice is a conflict", func(t *testing.T) {
		f := newFixture(t)
		e := f.engagement(t)

		task, err := f.svc.CreateTask(ctx, workflow.CreateTaskRequest{
			EngagementID: e.ID,
			Phase:        id.StatusPlanning,
			Title:        "Draft risk assessment",
			Assignee:     f.auditor,
			Actor:        f.manager,
		})
		require.NoError(t, err)

		_, err = f.svc.CompleteTask(ctx, task.ID, f.auditor)
		require.NoError(t, err)
		_, err = f.svc.CompleteTask(ctx, task.ID, f.auditor)
		assertCode(t, err, dErrors.CodeConflict)
	})
}

func TestTestPlans(t *testing.T) {
	ctx := context.Background()

	control := func(t *testing.T, f *fixture, e *workflow.Engagement) *workflow.Control {
		t.Helper()
		c, err := f.svc.CreateControl(ctx, workflow.CreateControlRequest{
			EngagementID: e.ID,
			Code:         "AC-01",
			Name:         "Quarterly access review",
			ControlType:  "detective",
			Owner:        "IT Security",
			Frequency:    "quarterly",
			Complexity:   3,
			Actor:        f.manager,
		})
		require.NoError(t, err)
		return c
	}

	plan := func(t *testing.T, f *fixture, c *workflow.Control) *workflow.TestPlan {
		t.Helper()
		p, err := f.svc.CreateTestPlan(ctx, workflow.CreateTestPlanRequest{
			ControlID:          c.ID,
			PopulationSize:     1000,
			Method:             sampling.MethodAttribute,
			ConfidenceLevel:    95,
			TolerableErrorRate: 5,
			ExpectedErrorRate:  2,
			Actor:              f.manager,
		})
		require.NoError(t, err)
		return p
	}

	t.Run("sample size comes from the sampling engine", func(t *testing.T) {
		f := newFixture(t)
		e := f.engagement(t)
		c := control(t, f, e)
		p := plan(t, f, c)

		assert.Equal(t, 68, p.SampleSize)
		assert.False(t, p.Approved())
	})

	t.Run("approved plan locks and cannot be approved again", func(t *testing.T) {
		f := newFixture(t)
		e := f.engagement(t)
		c := control(t, f, e)
		p := plan(t, f, c)

		approved, err := f.svc.ApproveTestPlan(ctx, p.ID, f.manager)
		require.NoError(t, err)
		assert.True(t, approved.Approved())
		require.NotNil(t, approved.ApprovedBy)
		assert.Equal(t, f.manager, *approved.ApprovedBy)

		_, err = f.svc.ApproveTestPlan(ctx, p.ID, f.manager)
		assertCode(t, err, dErrors.CodeImmutabilityViolation)
	})

	t.Run("auditor cannot approve a plan", func(t *testing.T) {
		f := newFixture(t)
		e := f.engagement(t)
		c := control(t, f, e)
		p := plan(t, f, c)

		_, err := f.svc.ApproveTestPlan(ctx, p.ID, f.auditor)
		assertCode(t, err, dErrors.CodeForbidden)
	})

	t.Run("results require an approved plan", func(t *testing.T) {
		f := newFixture(t)
		e := f.engagement(t)
		c := control(t, f, e)
		p := plan(t, f, c)

		_, err := f.svc.RecordTestResult(ctx, workflow.RecordTestResultRequest{
			TestPlanID:   p.ID,
			Outcome:      id.TestPassed,
			SampleTested: 68,
			Actor:        f.auditor,
		})
		assertCode(t, err, dErrors.CodeConflict)

		_, err = f.svc.ApproveTestPlan(ctx, p.ID, f.manager)
		require.NoError(t, err)

		r, err := f.svc.RecordTestResult(ctx, workflow.RecordTestResultRequest{
			TestPlanID:   p.ID,
			Outcome:      id.TestFailed,
			SampleTested: 68,
			ErrorsFound:  5,
			Actor:        f.auditor,
		})
		require.NoError(t, err)
		assert.Equal(t, c.ID, r.ControlID)
	})

	t.Run("deviations attach only to failed results", func(t *testing.T) {
		f := newFixture(t)
		e := f.engagement(t)
		c := control(t, f, e)
		p := plan(t, f, c)
		_, err := f.svc.ApproveTestPlan(ctx, p.ID, f.manager)
		require.NoError(t, err)

		passed, err := f.svc.RecordTestResult(ctx, workflow.RecordTestResultRequest{
			TestPlanID:   p.ID,
			Outcome:      id.TestPassed,
			SampleTested: 68,
			Actor:        f.auditor,
		})
		require.NoError(t, err)

		_, err = f.svc.RecordDeviation(ctx, workflow.RecordDeviationRequest{
			TestResultID: passed.ID,
			Severity:     id.SeverityHigh,
			RootCause:    "terminated user retained access",
			Actor:        f.auditor,
		})
		assertCode(t, err, dErrors.CodeConflict)

		failed, err := f.svc.RecordTestResult(ctx, workflow.RecordTestResultRequest{
			TestPlanID:   p.ID,
			Outcome:      id.TestFailed,
			SampleTested: 68,
			ErrorsFound:  3,
			Actor:        f.auditor,
		})
		require.NoError(t, err)

		d, err := f.svc.RecordDeviation(ctx, workflow.RecordDeviationRequest{
			TestResultID: failed.ID,
			Severity:     id.SeverityHigh,
			RootCause:    "terminated user retained access",
			Actor:        f.auditor,
		})
		require.NoError(t, err)
		assert.Equal(t, failed.ID, d.TestResultID)
		assert.Equal(t, c.ID, d.ControlID)
	})
}
