// Package workflow orchestrates the engagement lifecycle: the linear state
// machine with approval gates, the task dependency DAG, and the test
// execution records that feed it. Every mutation here is audited in the
// same transaction that persists it.
package workflow

import (
	"time"

	id "veritas/pkg/domain"
)

// Engagement is the root aggregate. Version is bumped on every mutation and
// checked optimistically: a stale writer loses with a conflict instead of
// clobbering a concurrent transition. Engagements are soft-archived, never
// deleted.
type Engagement struct {
	ID          id.EngagementID     `json:"id"`
	ClientName  string              `json:"client_name"`
	Type        id.EngagementType   `json:"type"`
	ReportType  id.ReportType       `json:"report_type"`
	Status      id.EngagementStatus `json:"status"`
	PeriodStart time.Time           `json:"period_start"`
	PeriodEnd   time.Time           `json:"period_end"`
	Version     int                 `json:"version"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	ArchivedAt  *time.Time          `json:"archived_at,omitempty"`
}

// Control is one control under test within an engagement.
type Control struct {
	ID           id.ControlID    `json:"id"`
	EngagementID id.EngagementID `json:"engagement_id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	ControlType  string          `json:"control_type"`
	Owner        string          `json:"owner"`
	Frequency    string          `json:"frequency"`
	IsAutomated  bool            `json:"is_automated"`
	IsKeyControl bool            `json:"is_key_control"`
	Complexity   int             `json:"complexity"`
	ChangeCount  int             `json:"change_count"`
	CreatedAt    time.Time       `json:"created_at"`
}

// TestPlan carries the sampling parameters for one control. Once approved
// it is immutable; changed parameters require a new plan.
type TestPlan struct {
	ID                 id.TestPlanID   `json:"id"`
	ControlID          id.ControlID    `json:"control_id"`
	EngagementID       id.EngagementID `json:"engagement_id"`
	PopulationSize     int             `json:"population_size"`
	Method             string          `json:"method"`
	ConfidenceLevel    float64         `json:"confidence_level"`
	TolerableErrorRate float64         `json:"tolerable_error_rate"`
	ExpectedErrorRate  float64         `json:"expected_error_rate"`
	SampleSize         int             `json:"sample_size"`
	ApprovedAt         *time.Time      `json:"approved_at,omitempty"`
	ApprovedBy         *id.UserID      `json:"approved_by,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Approved reports whether the plan has been locked.
func (p *TestPlan) Approved() bool { return p.ApprovedAt != nil }

// TestResult is one execution of a test plan.
type TestResult struct {
	ID           id.TestResultID `json:"id"`
	TestPlanID   id.TestPlanID   `json:"test_plan_id"`
	ControlID    id.ControlID    `json:"control_id"`
	EngagementID id.EngagementID `json:"engagement_id"`
	Outcome      id.TestOutcome  `json:"outcome"`
	SampleTested int             `json:"sample_tested"`
	ErrorsFound  int             `json:"errors_found"`
	EvidenceIDs  []id.EvidenceID `json:"evidence_ids,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	ExecutedBy   id.UserID       `json:"executed_by"`
	ExecutedAt   time.Time       `json:"executed_at"`
}

// Deviation captures a failed test result's root cause and remediation
// plan, with an optional link to the retest that closes it.
type Deviation struct {
	ID                  id.DeviationID   `json:"id"`
	TestResultID        id.TestResultID  `json:"test_result_id"`
	ControlID           id.ControlID     `json:"control_id"`
	EngagementID        id.EngagementID  `json:"engagement_id"`
	Severity            id.Severity      `json:"severity"`
	RootCause           string           `json:"root_cause"`
	RemediationPlan     string           `json:"remediation_plan"`
	RemediationOwner    string           `json:"remediation_owner"`
	RemediationDeadline *time.Time       `json:"remediation_deadline,omitempty"`
	RetestResultID      *id.TestResultID `json:"retest_result_id,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
}

// Approval is a gate record for an engagement transition. Level 1 is the
// Manager gate, level 2 the Partner gate.
type Approval struct {
	ID              id.ApprovalID       `json:"id"`
	EngagementID    id.EngagementID     `json:"engagement_id"`
	ApprovalType    string              `json:"approval_type"`
	Level           int                 `json:"level"`
	GateStatus      id.EngagementStatus `json:"gate_status"`
	Status          id.ApprovalStatus   `json:"status"`
	RequestedBy     id.UserID           `json:"requested_by"`
	DecidedBy       *id.UserID          `json:"decided_by,omitempty"`
	RejectionReason string              `json:"rejection_reason,omitempty"`
	RequestedAt     time.Time           `json:"requested_at"`
	DecidedAt       *time.Time          `json:"decided_at,omitempty"`
}

// WorkflowTask is one unit of engagement work. DependsOn forms a DAG;
// cycles are rejected when the task is created.
type WorkflowTask struct {
	ID           id.TaskID           `json:"id"`
	EngagementID id.EngagementID     `json:"engagement_id"`
	Phase        id.EngagementStatus `json:"phase"`
	Title        string              `json:"title"`
	Assignee     id.UserID           `json:"assignee"`
	DueDate      *time.Time          `json:"due_date,omitempty"`
	Status       id.TaskStatus       `json:"status"`
	DependsOn    []id.TaskID         `json:"depends_on,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
}
