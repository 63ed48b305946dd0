package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"veritas/internal/workflow"
	id "veritas/pkg/domain"
	"veritas/pkg/platform/sentinel"
	txcontext "veritas/pkg/platform/tx"
)

// PostgresStore persists the workflow aggregates. Engagement updates use a
// version-guarded UPDATE so a stale writer observes zero rows affected and
// gets sentinel.ErrConflict.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore builds a store over db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Schema for the workflow tables. The controls and test_results columns
// also feed the predictive-analytics feature query.
const Schema = `
CREATE TABLE IF NOT EXISTS engagements (
	id           UUID PRIMARY KEY,
	client_name  TEXT NOT NULL,
	type         TEXT NOT NULL,
	report_type  TEXT NOT NULL,
	status       TEXT NOT NULL,
	period_start TIMESTAMPTZ NOT NULL,
	period_end   TIMESTAMPTZ NOT NULL,
	version      INT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	archived_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS controls (
	id             UUID PRIMARY KEY,
	engagement_id  UUID NOT NULL REFERENCES engagements (id),
	code           TEXT NOT NULL,
	name           TEXT NOT NULL,
	control_type   TEXT NOT NULL,
	owner          TEXT NOT NULL,
	frequency      TEXT NOT NULL,
	is_automated   BOOLEAN NOT NULL,
	is_key_control BOOLEAN NOT NULL,
	complexity     INT NOT NULL,
	change_count   INT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (engagement_id, code)
);

CREATE TABLE IF NOT EXISTS test_plans (
	id                   UUID PRIMARY KEY,
	control_id           UUID NOT NULL REFERENCES controls (id),
	engagement_id        UUID NOT NULL REFERENCES engagements (id),
	population_size      INT NOT NULL,
	method               TEXT NOT NULL,
	confidence_level     DOUBLE PRECISION NOT NULL,
	tolerable_error_rate DOUBLE PRECISION NOT NULL,
	expected_error_rate  DOUBLE PRECISION NOT NULL,
	sample_size          INT NOT NULL,
	approved_at          TIMESTAMPTZ,
	approved_by          UUID,
	created_at           TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS test_results (
	id            UUID PRIMARY KEY,
	test_plan_id  UUID NOT NULL REFERENCES test_plans (id),
	control_id    UUID NOT NULL REFERENCES controls (id),
	engagement_id UUID NOT NULL REFERENCES engagements (id),
	outcome       TEXT NOT NULL,
	sample_tested INT NOT NULL,
	errors_found  INT NOT NULL,
	evidence_ids  UUID[] NOT NULL DEFAULT '{}',
	notes         TEXT NOT NULL DEFAULT '',
	executed_by   UUID NOT NULL,
	executed_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS deviations (
	id                   UUID PRIMARY KEY,
	test_result_id       UUID NOT NULL REFERENCES test_results (id),
	control_id           UUID NOT NULL REFERENCES controls (id),
	engagement_id        UUID NOT NULL REFERENCES engagements (id),
	severity             TEXT NOT NULL,
	root_cause           TEXT NOT NULL,
	remediation_plan     TEXT NOT NULL DEFAULT '',
	remediation_owner    TEXT NOT NULL DEFAULT '',
	remediation_deadline TIMESTAMPTZ,
	retest_result_id     UUID REFERENCES test_results (id),
	created_at           TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS approvals (
	id               UUID PRIMARY KEY,
	engagement_id    UUID NOT NULL REFERENCES engagements (id),
	approval_type    TEXT NOT NULL,
	level            INT NOT NULL,
	gate_status      TEXT NOT NULL,
	status           TEXT NOT NULL,
	requested_by     UUID NOT NULL,
	decided_by       UUID,
	rejection_reason TEXT NOT NULL DEFAULT '',
	requested_at     TIMESTAMPTZ NOT NULL,
	decided_at       TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS workflow_tasks (
	id            UUID PRIMARY KEY,
	engagement_id UUID NOT NULL REFERENCES engagements (id),
	phase         TEXT NOT NULL,
	title         TEXT NOT NULL,
	assignee      UUID NOT NULL,
	due_date      TIMESTAMPTZ,
	status        TEXT NOT NULL,
	depends_on    UUID[] NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ
);
`

// Migrate installs the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate workflow schema: %w", err)
	}
	return nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if sqlTx, ok := txcontext.From(ctx); ok {
		return sqlTx
	}
	return s.db
}

// InsertEngagement stores a new engagement.
func (s *PostgresStore) InsertEngagement(ctx context.Context, e *workflow.Engagement) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO engagements (
			id, client_name, type, report_type, status,
			period_start, period_end, version, created_at, updated_at, archived_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		uuid.UUID(e.ID), e.ClientName, string(e.Type), string(e.ReportType), string(e.Status),
		e.PeriodStart, e.PeriodEnd, e.Version, e.CreatedAt, e.UpdatedAt, e.ArchivedAt,
	)
	if err != nil {
		return mapPQ(err, "insert engagement")
	}
	return nil
}

// GetEngagement loads one engagement by id.
func (s *PostgresStore) GetEngagement(ctx context.Context, engagementID id.EngagementID) (*workflow.Engagement, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, client_name, type, report_type, status,
		       period_start, period_end, version, created_at, updated_at, archived_at
		FROM engagements WHERE id = $1
	`, uuid.UUID(engagementID))

	var (
		e     workflow.Engagement
		engID uuid.UUID
	)
	err := row.Scan(
		&engID, &e.ClientName, &e.Type, &e.ReportType, &e.Status,
		&e.PeriodStart, &e.PeriodEnd, &e.Version, &e.CreatedAt, &e.UpdatedAt, &e.ArchivedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan engagement: %w", err)
	}
	e.ID = id.EngagementID(engID)
	return &e, nil
}

// UpdateEngagement applies a version-guarded write. Zero rows affected
// means the expected version is stale; the caller sees
// sentinel.ErrConflict. The bumped version is reflected back onto e.
func (s *PostgresStore) UpdateEngagement(ctx context.Context, e *workflow.Engagement, expectedVersion int) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE engagements
		SET status = $2, updated_at = $3, archived_at = $4, version = version + 1
		WHERE id = $1 AND version = $5
	`, uuid.UUID(e.ID), string(e.Status), e.UpdatedAt, e.ArchivedAt, expectedVersion)
	if err != nil {
		return fmt.Errorf("update engagement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update engagement: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := s.execer(ctx).QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM engagements WHERE id = $1)`, uuid.UUID(e.ID),
		).Scan(&exists); err != nil {
			return fmt.Errorf("update engagement: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	e.Version = expectedVersion + 1
	return nil
}

// InsertControl stores a new control.
func (s *PostgresStore) InsertControl(ctx context.Context, c *workflow.Control) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO controls (
			id, engagement_id, code, name, control_type, owner, frequency,
			is_automated, is_key_control, complexity, change_count, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		uuid.UUID(c.ID), uuid.UUID(c.EngagementID), c.Code, c.Name, c.ControlType,
		c.Owner, c.Frequency, c.IsAutomated, c.IsKeyControl, c.Complexity,
		c.ChangeCount, c.CreatedAt,
	)
	if err != nil {
		return mapPQ(err, "insert control")
	}
	return nil
}

// GetControl loads one control by id.
func (s *PostgresStore) GetControl(ctx context.Context, controlID id.ControlID) (*workflow.Control, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, engagement_id, code, name, control_type, owner, frequency,
		       is_automated, is_key_control, complexity, change_count, created_at
		FROM controls WHERE id = $1
	`, uuid.UUID(controlID))

	var (
		c        workflow.Control
		cID, eID uuid.UUID
	)
	err := row.Scan(
		&cID, &eID, &c.Code, &c.Name, &c.ControlType, &c.Owner, &c.Frequency,
		&c.IsAutomated, &c.IsKeyControl, &c.Complexity, &c.ChangeCount, &c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan control: %w", err)
	}
	c.ID = id.ControlID(cID)
	c.EngagementID = id.EngagementID(eID)
	return &c, nil
}

// InsertTestPlan stores a new plan.
func (s *PostgresStore) InsertTestPlan(ctx context.Context, p *workflow.TestPlan) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO test_plans (
			id, control_id, engagement_id, population_size, method,
			confidence_level, tolerable_error_rate, expected_error_rate,
			sample_size, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		uuid.UUID(p.ID), uuid.UUID(p.ControlID), uuid.UUID(p.EngagementID),
		p.PopulationSize, p.Method, p.ConfidenceLevel, p.TolerableErrorRate,
		p.ExpectedErrorRate, p.SampleSize, p.CreatedAt,
	)
	if err != nil {
		return mapPQ(err, "insert test plan")
	}
	return nil
}

// GetTestPlan loads one plan by id.
func (s *PostgresStore) GetTestPlan(ctx context.Context, planID id.TestPlanID) (*workflow.TestPlan, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, control_id, engagement_id, population_size, method,
		       confidence_level, tolerable_error_rate, expected_error_rate,
		       sample_size, approved_at, approved_by, created_at
		FROM test_plans WHERE id = $1
	`, uuid.UUID(planID))

	var (
		p             workflow.TestPlan
		pID, cID, eID uuid.UUID
		approvedBy    *uuid.UUID
	)
	err := row.Scan(
		&pID, &cID, &eID, &p.PopulationSize, &p.Method,
		&p.ConfidenceLevel, &p.TolerableErrorRate, &p.ExpectedErrorRate,
		&p.SampleSize, &p.ApprovedAt, &approvedBy, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan test plan: %w", err)
	}
	p.ID = id.TestPlanID(pID)
	p.ControlID = id.ControlID(cID)
	p.EngagementID = id.EngagementID(eID)
	if approvedBy != nil {
		u := id.UserID(*approvedBy)
		p.ApprovedBy = &u
	}
	return &p, nil
}

// MarkTestPlanApproved locks a plan with a conditional UPDATE. A plan that
// is already approved matches zero rows and returns sentinel.ErrConflict.
func (s *PostgresStore) MarkTestPlanApproved(ctx context.Context, planID id.TestPlanID, approver id.UserID, at time.Time) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE test_plans SET approved_at = $2, approved_by = $3
		WHERE id = $1 AND approved_at IS NULL
	`, uuid.UUID(planID), at, uuid.UUID(approver))
	if err != nil {
		return fmt.Errorf("approve test plan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("approve test plan: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := s.execer(ctx).QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM test_plans WHERE id = $1)`, uuid.UUID(planID),
		).Scan(&exists); err != nil {
			return fmt.Errorf("approve test plan: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	return nil
}

// InsertTestResult stores a new execution record.
func (s *PostgresStore) InsertTestResult(ctx context.Context, r *workflow.TestResult) error {
	evidenceIDs := make([]string, len(r.EvidenceIDs))
	for i, eid := range r.EvidenceIDs {
		evidenceIDs[i] = eid.String()
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO test_results (
			id, test_plan_id, control_id, engagement_id, outcome,
			sample_tested, errors_found, evidence_ids, notes, executed_by, executed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		uuid.UUID(r.ID), uuid.UUID(r.TestPlanID), uuid.UUID(r.ControlID),
		uuid.UUID(r.EngagementID), string(r.Outcome), r.SampleTested,
		r.ErrorsFound, pq.Array(evidenceIDs), r.Notes, uuid.UUID(r.ExecutedBy), r.ExecutedAt,
	)
	if err != nil {
		return mapPQ(err, "insert test result")
	}
	return nil
}

// GetTestResult loads one result by id.
func (s *PostgresStore) GetTestResult(ctx context.Context, resultID id.TestResultID) (*workflow.TestResult, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, test_plan_id, control_id, engagement_id, outcome,
		       sample_tested, errors_found, evidence_ids, notes, executed_by, executed_at
		FROM test_results WHERE id = $1
	`, uuid.UUID(resultID))

	var (
		r                       workflow.TestResult
		rID, pID, cID, eID, uID uuid.UUID
		evidenceIDs             []string
	)
	err := row.Scan(
		&rID, &pID, &cID, &eID, &r.Outcome,
		&r.SampleTested, &r.ErrorsFound, pq.Array(&evidenceIDs), &r.Notes, &uID, &r.ExecutedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan test result: %w", err)
	}
	r.ID = id.TestResultID(rID)
	r.TestPlanID = id.TestPlanID(pID)
	r.ControlID = id.ControlID(cID)
	r.EngagementID = id.EngagementID(eID)
	r.ExecutedBy = id.UserID(uID)
	for _, raw := range evidenceIDs {
		eid, err := id.ParseEvidenceID(raw)
		if err != nil {
			return nil, fmt.Errorf("scan test result evidence ids: %w", err)
		}
		r.EvidenceIDs = append(r.EvidenceIDs, eid)
	}
	return &r, nil
}

// InsertDeviation stores a new deviation.
func (s *PostgresStore) InsertDeviation(ctx context.Context, d *workflow.Deviation) error {
	var retest *uuid.UUID
	if d.RetestResultID != nil {
		u := uuid.UUID(*d.RetestResultID)
		retest = &u
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO deviations (
			id, test_result_id, control_id, engagement_id, severity, root_cause,
			remediation_plan, remediation_owner, remediation_deadline,
			retest_result_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		uuid.UUID(d.ID), uuid.UUID(d.TestResultID), uuid.UUID(d.ControlID),
		uuid.UUID(d.EngagementID), string(d.Severity), d.RootCause,
		d.RemediationPlan, d.RemediationOwner, d.RemediationDeadline,
		retest, d.CreatedAt,
	)
	if err != nil {
		return mapPQ(err, "insert deviation")
	}
	return nil
}

// InsertApproval stores a new approval.
func (s *PostgresStore) InsertApproval(ctx context.Context, a *workflow.Approval) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO approvals (
			id, engagement_id, approval_type, level, gate_status, status,
			requested_by, rejection_reason, requested_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		uuid.UUID(a.ID), uuid.UUID(a.EngagementID), a.ApprovalType, a.Level,
		string(a.GateStatus), string(a.Status), uuid.UUID(a.RequestedBy),
		a.RejectionReason, a.RequestedAt,
	)
	if err != nil {
		return mapPQ(err, "insert approval")
	}
	return nil
}

// GetApproval loads one approval by id.
func (s *PostgresStore) GetApproval(ctx context.Context, approvalID id.ApprovalID) (*workflow.Approval, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, engagement_id, approval_type, level, gate_status, status,
		       requested_by, decided_by, rejection_reason, requested_at, decided_at
		FROM approvals WHERE id = $1
	`, uuid.UUID(approvalID))
	a, err := scanApproval(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan approval: %w", err)
	}
	return a, nil
}

// UpdateApproval writes the decision fields.
func (s *PostgresStore) UpdateApproval(ctx context.Context, a *workflow.Approval) error {
	var decidedBy *uuid.UUID
	if a.DecidedBy != nil {
		u := uuid.UUID(*a.DecidedBy)
		decidedBy = &u
	}
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE approvals
		SET status = $2, decided_by = $3, rejection_reason = $4, decided_at = $5
		WHERE id = $1
	`, uuid.UUID(a.ID), string(a.Status), decidedBy, a.RejectionReason, a.DecidedAt)
	if err != nil {
		return fmt.Errorf("update approval: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// ListApprovals returns the engagement's approvals ordered by request time.
func (s *PostgresStore) ListApprovals(ctx context.Context, engagementID id.EngagementID) ([]workflow.Approval, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, engagement_id, approval_type, level, gate_status, status,
		       requested_by, decided_by, rejection_reason, requested_at, decided_at
		FROM approvals WHERE engagement_id = $1
		ORDER BY requested_at
	`, uuid.UUID(engagementID))
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var out []workflow.Approval
	for rows.Next() {
		a, err := scanApproval(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanApproval(scan func(dest ...any) error) (*workflow.Approval, error) {
	var (
		a         workflow.Approval
		aID, eID  uuid.UUID
		reqBy     uuid.UUID
		decidedBy *uuid.UUID
	)
	err := scan(
		&aID, &eID, &a.ApprovalType, &a.Level, &a.GateStatus, &a.Status,
		&reqBy, &decidedBy, &a.RejectionReason, &a.RequestedAt, &a.DecidedAt,
	)
	if err != nil {
		return nil, err
	}
	a.ID = id.ApprovalID(aID)
	a.EngagementID = id.EngagementID(eID)
	a.RequestedBy = id.UserID(reqBy)
	if decidedBy != nil {
		u := id.UserID(*decidedBy)
		a.DecidedBy = &u
	}
	return &a, nil
}

// InsertTask stores a new task.
func (s *PostgresStore) InsertTask(ctx context.Context, t *workflow.WorkflowTask) error {
	deps := make([]string, len(t.DependsOn))
	for i, d := range t.DependsOn {
		deps[i] = d.String()
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO workflow_tasks (
			id, engagement_id, phase, title, assignee, due_date, status,
			depends_on, created_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		uuid.UUID(t.ID), uuid.UUID(t.EngagementID), string(t.Phase), t.Title,
		uuid.UUID(t.Assignee), t.DueDate, string(t.Status),
		pq.Array(deps), t.CreatedAt, t.CompletedAt,
	)
	if err != nil {
		return mapPQ(err, "insert task")
	}
	return nil
}

// GetTask loads one task by id.
func (s *PostgresStore) GetTask(ctx context.Context, taskID id.TaskID) (*workflow.WorkflowTask, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, engagement_id, phase, title, assignee, due_date, status,
		       depends_on, created_at, completed_at
		FROM workflow_tasks WHERE id = $1
	`, uuid.UUID(taskID))
	t, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return t, nil
}

// UpdateTask writes the mutable task fields.
func (s *PostgresStore) UpdateTask(ctx context.Context, t *workflow.WorkflowTask) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE workflow_tasks SET status = $2, completed_at = $3 WHERE id = $1
	`, uuid.UUID(t.ID), string(t.Status), t.CompletedAt)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// ListTasks returns the engagement's tasks ordered by creation time.
func (s *PostgresStore) ListTasks(ctx context.Context, engagementID id.EngagementID) ([]workflow.WorkflowTask, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, engagement_id, phase, title, assignee, due_date, status,
		       depends_on, created_at, completed_at
		FROM workflow_tasks WHERE engagement_id = $1
		ORDER BY created_at
	`, uuid.UUID(engagementID))
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []workflow.WorkflowTask
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTask(scan func(dest ...any) error) (*workflow.WorkflowTask, error) {
	var (
		t              workflow.WorkflowTask
		tID, eID, aID  uuid.UUID
		deps           []string
	)
	err := scan(
		&tID, &eID, &t.Phase, &t.Title, &aID, &t.DueDate, &t.Status,
		pq.Array(&deps), &t.CreatedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	t.ID = id.TaskID(tID)
	t.EngagementID = id.EngagementID(eID)
	t.Assignee = id.UserID(aID)
	for _, raw := range deps {
		dep, err := id.ParseTaskID(raw)
		if err != nil {
			return nil, fmt.Errorf("parse depends_on: %w", err)
		}
		t.DependsOn = append(t.DependsOn, dep)
	}
	return &t, nil
}

// mapPQ converts Postgres constraint violations to sentinel errors.
func mapPQ(err error, op string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation":
			return sentinel.ErrConflict
		case "foreign_key_violation":
			return sentinel.ErrNotFound
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
