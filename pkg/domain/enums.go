package domain

import dErrors "veritas/pkg/domain-errors"

// Role is the closed set of engagement team roles.
type Role string

const (
	RolePartner          Role = "partner"
	RoleManager          Role = "manager"
	RoleAuditor          Role = "auditor"
	RoleClientManagement Role = "client_management"
	RoleReadOnly         Role = "read_only"
)

// IsValid checks the role is one of the supported enum values.
func (r Role) IsValid() bool {
	switch r {
	case RolePartner, RoleManager, RoleAuditor, RoleClientManagement, RoleReadOnly:
		return true
	}
	return false
}

// ParseRole creates a Role from a string, validating it.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid role: "+s)
	}
	return r, nil
}

func (r Role) String() string { return string(r) }

// Capability names an action a role may perform on an engagement.
type Capability string

const (
	CapabilityRead            Capability = "read"
	CapabilityWriteTestResult Capability = "write-test-result"
	CapabilityUploadEvidence  Capability = "upload-evidence"
	CapabilityManageTasks     Capability = "manage-tasks"
	CapabilityApproveLevel1   Capability = "approve-level-1"
	CapabilityApproveLevel2   Capability = "approve-level-2"
	CapabilitySignReport      Capability = "sign-report"
)

// IsValid checks the capability is part of the closed set.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityRead, CapabilityWriteTestResult, CapabilityUploadEvidence,
		CapabilityManageTasks, CapabilityApproveLevel1, CapabilityApproveLevel2,
		CapabilitySignReport:
		return true
	}
	return false
}

func (c Capability) String() string { return string(c) }

// EngagementStatus is the linear engagement lifecycle. Transitions are
// validated by the workflow state machine; the enum itself is just the
// closed set of states.
type EngagementStatus string

const (
	StatusDraft         EngagementStatus = "draft"
	StatusPlanning      EngagementStatus = "planning"
	StatusFieldwork     EngagementStatus = "fieldwork"
	StatusReview        EngagementStatus = "review"
	StatusPartnerReview EngagementStatus = "partner_review"
	StatusSigned        EngagementStatus = "signed"
	StatusReleased      EngagementStatus = "released"
	StatusArchived      EngagementStatus = "archived"
)

// IsValid checks the status is one of the lifecycle states.
func (s EngagementStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusPlanning, StatusFieldwork, StatusReview,
		StatusPartnerReview, StatusSigned, StatusReleased, StatusArchived:
		return true
	}
	return false
}

// ParseEngagementStatus creates an EngagementStatus from a string, validating it.
func ParseEngagementStatus(s string) (EngagementStatus, error) {
	st := EngagementStatus(s)
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid engagement status: "+s)
	}
	return st, nil
}

func (s EngagementStatus) String() string { return string(s) }

// EngagementType distinguishes SOC 1 (financial-reporting controls) from
// SOC 2 (trust-services controls) engagements.
type EngagementType string

const (
	EngagementSOC1 EngagementType = "soc1"
	EngagementSOC2 EngagementType = "soc2"
)

func (t EngagementType) IsValid() bool {
	return t == EngagementSOC1 || t == EngagementSOC2
}

// ReportType distinguishes a point-in-time design opinion (Type 1) from an
// operating-effectiveness opinion over a period (Type 2).
type ReportType string

const (
	ReportType1 ReportType = "type1"
	ReportType2 ReportType = "type2"
)

func (t ReportType) IsValid() bool {
	return t == ReportType1 || t == ReportType2
}

// ApprovalStatus is the lifecycle of an approval record.
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "pending"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalRejected  ApprovalStatus = "rejected"
	ApprovalWithdrawn ApprovalStatus = "withdrawn"
)

func (s ApprovalStatus) IsValid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected, ApprovalWithdrawn:
		return true
	}
	return false
}

// TaskStatus is the lifecycle of a workflow task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskCancelled:
		return true
	}
	return false
}

// TestOutcome is the result of executing a test plan instance.
type TestOutcome string

const (
	TestPassed    TestOutcome = "passed"
	TestFailed    TestOutcome = "failed"
	TestDeviation TestOutcome = "deviation"
)

func (o TestOutcome) IsValid() bool {
	switch o {
	case TestPassed, TestFailed, TestDeviation:
		return true
	}
	return false
}

// ParseTestOutcome creates a TestOutcome from a string, validating it.
func ParseTestOutcome(s string) (TestOutcome, error) {
	o := TestOutcome(s)
	if !o.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid test outcome: "+s)
	}
	return o, nil
}

// Severity classifies a deviation's impact.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}
