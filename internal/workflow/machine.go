package workflow

import (
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
)

// statusOrder fixes the linear lifecycle. Transitions move exactly one step
// forward; skips are illegal in both directions.
var statusOrder = []id.EngagementStatus{
	id.StatusDraft,
	id.StatusPlanning,
	id.StatusFieldwork,
	id.StatusReview,
	id.StatusPartnerReview,
	id.StatusSigned,
	id.StatusReleased,
	id.StatusArchived,
}

var statusIndex = func() map[id.EngagementStatus]int {
	m := make(map[id.EngagementStatus]int, len(statusOrder))
	for i, s := range statusOrder {
		m[s] = i
	}
	return m
}()

// gate describes what must hold before an engagement may leave a status.
type gate struct {
	// approvalLevels that must each have an Approved record for this gate.
	approvalLevels []int
	// signoff marks the transition that additionally requires the
	// sign-report capability.
	signoff bool
}

// gates keys requirements by the status being left. Early phases need no
// approvals; the review ladder needs the manager gate, then the partner
// gate with sign-off.
var gates = map[id.EngagementStatus]gate{
	id.StatusReview:        {approvalLevels: []int{1}},
	id.StatusPartnerReview: {approvalLevels: []int{2}, signoff: true},
}

// illegalTransition builds the conflict error naming both states.
func illegalTransition(current, requested id.EngagementStatus) error {
	return dErrors.Newf(dErrors.CodeConflict,
		"illegal transition: engagement is %s, cannot move to %s", current, requested)
}

// nextStatus validates that requested is the single legal successor of
// current.
func nextStatus(current, requested id.EngagementStatus) error {
	ci, ok := statusIndex[current]
	if !ok {
		return dErrors.Newf(dErrors.CodeInvalidInput, "unknown engagement status %q", current)
	}
	ri, ok := statusIndex[requested]
	if !ok {
		return dErrors.Newf(dErrors.CodeInvalidInput, "unknown engagement status %q", requested)
	}
	if ri != ci+1 {
		return illegalTransition(current, requested)
	}
	return nil
}

// previousStatus returns the state preceding s, used when a rejected
// approval reverts the engagement.
func previousStatus(s id.EngagementStatus) (id.EngagementStatus, bool) {
	i, ok := statusIndex[s]
	if !ok || i == 0 {
		return "", false
	}
	return statusOrder[i-1], true
}

// gateFor returns the requirements for leaving status.
func gateFor(status id.EngagementStatus) gate {
	return gates[status]
}

// approverRoleForLevel maps an approval level to the capability that
// decides it.
func approverRoleForLevel(level int) (id.Capability, bool) {
	switch level {
	case 1:
		return id.CapabilityApproveLevel1, true
	case 2:
		return id.CapabilityApproveLevel2, true
	}
	return "", false
}
