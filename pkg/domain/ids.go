// Package domain holds the typed identifiers and closed enums shared across
// the engine. IDs are distinct UUID-backed types so an EngagementID can never
// be passed where a ControlID is expected.
package domain

import (
	"fmt"

	"github.com/google/uuid"

	dErrors "veritas/pkg/domain-errors"
)

type (
	// EngagementID identifies an audit engagement.
	EngagementID uuid.UUID
	// ControlID identifies a control under test.
	ControlID uuid.UUID
	// UserID identifies a platform user.
	UserID uuid.UUID
	// EvidenceID identifies an evidence artifact version.
	EvidenceID uuid.UUID
	// TaskID identifies a workflow task.
	TaskID uuid.UUID
	// ApprovalID identifies an approval record.
	ApprovalID uuid.UUID
	// TestPlanID identifies a sampling test plan.
	TestPlanID uuid.UUID
	// TestResultID identifies an executed test result.
	TestResultID uuid.UUID
	// DeviationID identifies a recorded deviation.
	DeviationID uuid.UUID
	// EntryID identifies an audit trail entry.
	EntryID uuid.UUID
)

func parseUUID(kind, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid %s id %q", kind, s))
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id cannot be the nil uuid")
	}
	return u, nil
}

// ParseEngagementID validates and converts a string to an EngagementID.
func ParseEngagementID(s string) (EngagementID, error) {
	u, err := parseUUID("engagement", s)
	return EngagementID(u), err
}

// ParseControlID validates and converts a string to a ControlID.
func ParseControlID(s string) (ControlID, error) {
	u, err := parseUUID("control", s)
	return ControlID(u), err
}

// ParseUserID validates and converts a string to a UserID.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID("user", s)
	return UserID(u), err
}

// ParseEvidenceID validates and converts a string to an EvidenceID.
func ParseEvidenceID(s string) (EvidenceID, error) {
	u, err := parseUUID("evidence", s)
	return EvidenceID(u), err
}

// ParseTaskID validates and converts a string to a TaskID.
func ParseTaskID(s string) (TaskID, error) {
	u, err := parseUUID("task", s)
	return TaskID(u), err
}

// ParseApprovalID validates and converts a string to an ApprovalID.
func ParseApprovalID(s string) (ApprovalID, error) {
	u, err := parseUUID("approval", s)
	return ApprovalID(u), err
}

// ParseTestPlanID validates and converts a string to a TestPlanID.
func ParseTestPlanID(s string) (TestPlanID, error) {
	u, err := parseUUID("test plan", s)
	return TestPlanID(u), err
}

// ParseTestResultID validates and converts a string to a TestResultID.
func ParseTestResultID(s string) (TestResultID, error) {
	u, err := parseUUID("test result", s)
	return TestResultID(u), err
}

// ParseDeviationID validates and converts a string to a DeviationID.
func ParseDeviationID(s string) (DeviationID, error) {
	u, err := parseUUID("deviation", s)
	return DeviationID(u), err
}

func (id EngagementID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ControlID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id EvidenceID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id TaskID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id ApprovalID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id TestPlanID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id TestResultID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id DeviationID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id EntryID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }

func (id EngagementID) String() string { return uuid.UUID(id).String() }
func (id ControlID) String() string    { return uuid.UUID(id).String() }
func (id UserID) String() string       { return uuid.UUID(id).String() }
func (id EvidenceID) String() string   { return uuid.UUID(id).String() }
func (id TaskID) String() string       { return uuid.UUID(id).String() }
func (id ApprovalID) String() string   { return uuid.UUID(id).String() }
func (id TestPlanID) String() string   { return uuid.UUID(id).String() }
func (id TestResultID) String() string { return uuid.UUID(id).String() }
func (id DeviationID) String() string  { return uuid.UUID(id).String() }
func (id EntryID) String() string      { return uuid.UUID(id).String() }

// NewEngagementID generates a fresh EngagementID.
func NewEngagementID() EngagementID { return EngagementID(uuid.New()) }

// NewControlID generates a fresh ControlID.
func NewControlID() ControlID { return ControlID(uuid.New()) }

// NewUserID generates a fresh UserID.
func NewUserID() UserID { return UserID(uuid.New()) }

// NewEvidenceID generates a fresh EvidenceID.
func NewEvidenceID() EvidenceID { return EvidenceID(uuid.New()) }

// NewTaskID generates a fresh TaskID.
func NewTaskID() TaskID { return TaskID(uuid.New()) }

// NewApprovalID generates a fresh ApprovalID.
func NewApprovalID() ApprovalID { return ApprovalID(uuid.New()) }

// NewTestPlanID generates a fresh TestPlanID.
func NewTestPlanID() TestPlanID { return TestPlanID(uuid.New()) }

// NewTestResultID generates a fresh TestResultID.
func NewTestResultID() TestResultID { return TestResultID(uuid.New()) }

// NewDeviationID generates a fresh DeviationID.
func NewDeviationID() DeviationID { return DeviationID(uuid.New()) }

// NewEntryID generates a fresh EntryID.
func NewEntryID() EntryID { return EntryID(uuid.New()) }
