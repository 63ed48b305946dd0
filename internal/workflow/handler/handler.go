// Package handler exposes the engagement workflow over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"veritas/internal/audittrail"
	"veritas/internal/sampling"
	"veritas/internal/workflow"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/httputil"
	"veritas/pkg/requestcontext"
)

// Trail serves the engagement's audit-trail reads.
type Trail interface {
	List(ctx context.Context, engagementID id.EngagementID) ([]audittrail.Entry, error)
	VerifyChain(ctx context.Context, engagementID id.EngagementID) (*audittrail.ChainReport, error)
}

// Handler serves the workflow endpoints.
type Handler struct {
	svc    *workflow.Service
	trail  Trail
	logger *slog.Logger
}

// New creates a workflow Handler.
func New(svc *workflow.Service, trail Trail, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, trail: trail, logger: logger}
}

// Register mounts the workflow routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/engagements", h.handleCreateEngagement)
	r.Get("/engagements/{engagementID}", h.handleGetEngagement)
	r.Post("/engagements/{engagementID}/transition", h.handleTransition)
	r.Post("/engagements/{engagementID}/approvals", h.handleRequestApproval)
	r.Post("/engagements/{engagementID}/approvals/{approvalID}/decision", h.handleDecideApproval)
	r.Post("/engagements/{engagementID}/tasks", h.handleCreateTask)
	r.Get("/engagements/{engagementID}/tasks", h.handleListTasks)
	r.Post("/engagements/{engagementID}/tasks/{taskID}/complete", h.handleCompleteTask)
	r.Post("/engagements/{engagementID}/controls", h.handleCreateControl)
	r.Post("/engagements/{engagementID}/test-plans", h.handleCreateTestPlan)
	r.Post("/engagements/{engagementID}/test-plans/{planID}/approve", h.handleApproveTestPlan)
	r.Post("/engagements/{engagementID}/test-results", h.handleRecordTestResult)
	r.Post("/engagements/{engagementID}/deviations", h.handleRecordDeviation)
	r.Get("/engagements/{engagementID}/audit-trail", h.handleAuditTrail)
	r.Get("/engagements/{engagementID}/audit-trail/verify", h.handleVerifyTrail)
}

func engagementIDParam(r *http.Request) (id.EngagementID, error) {
	return id.ParseEngagementID(chi.URLParam(r, "engagementID"))
}

type createEngagementBody struct {
	ClientName  string    `json:"client_name"`
	Type        string    `json:"type"`
	ReportType  string    `json:"report_type"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

func (h *Handler) handleCreateEngagement(w http.ResponseWriter, r *http.Request) {
	body, ok := httputil.Decode[createEngagementBody](w, r, h.logger)
	if !ok {
		return
	}
	e, err := h.svc.CreateEngagement(r.Context(), workflow.CreateEngagementRequest{
		ClientName:  body.ClientName,
		Type:        id.EngagementType(body.Type),
		ReportType:  id.ReportType(body.ReportType),
		PeriodStart: body.PeriodStart,
		PeriodEnd:   body.PeriodEnd,
		Actor:       requestcontext.UserID(r.Context()),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, e)
}

func (h *Handler) handleGetEngagement(w http.ResponseWriter, r *http.Request) {
	engagementID, err := engagementIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	e, err := h.svc.GetEngagement(r.Context(), engagementID, requestcontext.UserID(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, e)
}

type transitionBody struct {
	Target          string `json:"target"`
	ExpectedVersion int    `json:"expected_version"`
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	engagementID, err := engagementIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	body, ok := httputil.Decode[transitionBody](w, r, h.logger)
	if !ok {
		return
	}
	target, err := id.ParseEngagementStatus(body.Target)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	e, err := h.svc.Transition(r.Context(), workflow.TransitionRequest{
		EngagementID:    engagementID,
		Target:          target,
		ExpectedVersion: body.ExpectedVersion,
		Actor:           requestcontext.UserID(r.Context()),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, e)
}

type requestApprovalBody struct {
	ApprovalType string `json:"approval_type"`
	Level        int    `json:"level"`
}

func (h *Handler) handleRequestApproval(w http.ResponseWriter, r *http.Request) {
	engagementID, err := engagementIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	body, ok := httputil.Decode[requestApprovalBody](w, r, h.logger)
	if !ok {
		return
	}
	a, err := h.svc.RequestApproval(r.Context(), workflow.RequestApprovalRequest{
		EngagementID: engagementID,
		ApprovalType: body.ApprovalType,
		Level:        body.Level,
		Actor:        requestcontext.UserID(r.Context()),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, a)
}

type decideApprovalBody struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

func (h *Handler) handleDecideApproval(w http.ResponseWriter, r *http.Request) {
	approvalID, err := id.ParseApprovalID(chi.URLParam(r, "approvalID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	body, ok := httputil.Decode[decideApprovalBody](w, r, h.logger)
	if !ok {
		return
	}
	var approve bool
	switch body.Decision {
	case "approve":
		approve = true
	case "reject":
	default:
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeInvalidInput,
			"decision must be %q or %q, got %q", "approve", "reject", body.Decision))
		return
	}
	a, err := h.svc.DecideApproval(r.Context(), workflow.DecideApprovalRequest{
		ApprovalID: approvalID,
		Approve:    approve,
		Reason:     body.Reason,
		Actor:      requestcontext.UserID(r.Context()),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

type createTaskBody struct {
	Phase     string     `json:"phase"`
	Title     string     `json:"title"`
	Assignee  string     `json:"assignee"`
	DueDate   *time.Time `json:"due_date"`
	DependsOn []string   `json:"depends_on"`
}

func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	engagementID, err := engagementIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	body, ok := httputil.Decode[createTaskBody](w, r, h.logger)
	if !ok {
		return
	}
	assignee, err := id.ParseUserID(body.Assignee)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	dependsOn := make([]id.TaskID, 0, len(body.DependsOn))
	for _, raw := range body.DependsOn {
		dep, err := id.ParseTaskID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		dependsOn = append(dependsOn, dep)
	}
	t, err := h.svc.CreateTask(r.Context(), workflow.CreateTaskRequest{
		EngagementID: engagementID,
		Phase:        id.EngagementStatus(body.Phase),
		Title:        body.Title,
		Assignee:     assignee,
		DueDate:      body.DueDate,
		DependsOn:    dependsOn,
		Actor:        requestcontext.UserID(r.Context()),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, t)
}

func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	engagementID, err := engagementIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	tasks, err := h.svc.ListTasks(r.Context(), engagementID, requestcontext.UserID(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (h *Handler) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := id.ParseTaskID(chi.URLParam(r, "taskID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	t, err := h.svc.CompleteTask(r.Context(), taskID, requestcontext.UserID(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

type createControlBody struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	ControlType  string `json:"control_type"`
	Owner        string `json:"owner"`
	Frequency    string `json:"frequency"`
	IsAutomated  bool   `json:"is_automated"`
	IsKeyControl bool   `json:"is_key_control"`
	Complexity   int    `json:"complexity"`
	ChangeCount  int    `json:"change_count"`
}

func (h *Handler) handleCreateControl(w http.ResponseWriter, r *http.Request) {
	engagementID, err := engagementIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	body, ok := httputil.Decode[createControlBody](w, r, h.logger)
	if !ok {
		return
	}
	c, err := h.svc.CreateControl(r.Context(), workflow.CreateControlRequest{
		EngagementID: engagementID,
		Code:         body.Code,
		Name:         body.Name,
		ControlType:  body.ControlType,
		Owner:        body.Owner,
		Frequency:    body.Frequency,
		IsAutomated:  body.IsAutomated,
		IsKeyControl: body.IsKeyControl,
		Complexity:   body.Complexity,
		ChangeCount:  body.ChangeCount,
		Actor:        requestcontext.UserID(r.Context()),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, c)
}

type createTestPlanBody struct {
	ControlID          string  `json:"control_id"`
	PopulationSize     int     `json:"population_size"`
	Method             string  `json:"method"`
	ConfidenceLevel    float64 `json:"confidence_level"`
	TolerableErrorRate float64 `json:"tolerable_error_rate"`
	ExpectedErrorRate  float64 `json:"expected_error_rate"`
}

func (h *Handler) handleCreateTestPlan(w http.ResponseWriter, r *http.Request) {
	body, ok := httputil.Decode[createTestPlanBody](w, r, h.logger)
	if !ok {
		return
	}
	controlID, err := id.ParseControlID(body.ControlID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	p, err := h.svc.CreateTestPlan(r.Context(), workflow.CreateTestPlanRequest{
		ControlID:          controlID,
		PopulationSize:     body.PopulationSize,
		Method:             sampling.Method(body.Method),
		ConfidenceLevel:    body.ConfidenceLevel,
		TolerableErrorRate: body.TolerableErrorRate,
		ExpectedErrorRate:  body.ExpectedErrorRate,
		Actor:              requestcontext.UserID(r.Context()),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) handleApproveTestPlan(w http.ResponseWriter, r *http.Request) {
	planID, err := id.ParseTestPlanID(chi.URLParam(r, "planID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	p, err := h.svc.ApproveTestPlan(r.Context(), planID, requestcontext.UserID(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

type recordTestResultBody struct {
	TestPlanID   string   `json:"test_plan_id"`
	Outcome      string   `json:"outcome"`
	SampleTested int      `json:"sample_tested"`
	ErrorsFound  int      `json:"errors_found"`
	EvidenceIDs  []string `json:"evidence_ids"`
	Notes        string   `json:"notes"`
}

func (h *Handler) handleRecordTestResult(w http.ResponseWriter, r *http.Request) {
	body, ok := httputil.Decode[recordTestResultBody](w, r, h.logger)
	if !ok {
		return
	}
	planID, err := id.ParseTestPlanID(body.TestPlanID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	outcome, err := id.ParseTestOutcome(body.Outcome)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	evidenceIDs := make([]id.EvidenceID, 0, len(body.EvidenceIDs))
	for _, raw := range body.EvidenceIDs {
		eid, err := id.ParseEvidenceID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		evidenceIDs = append(evidenceIDs, eid)
	}
	res, err := h.svc.RecordTestResult(r.Context(), workflow.RecordTestResultRequest{
		TestPlanID:   planID,
		Outcome:      outcome,
		SampleTested: body.SampleTested,
		ErrorsFound:  body.ErrorsFound,
		EvidenceIDs:  evidenceIDs,
		Notes:        body.Notes,
		Actor:        requestcontext.UserID(r.Context()),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, res)
}

type recordDeviationBody struct {
	TestResultID        string     `json:"test_result_id"`
	Severity            string     `json:"severity"`
	RootCause           string     `json:"root_cause"`
	RemediationPlan     string     `json:"remediation_plan"`
	RemediationOwner    string     `json:"remediation_owner"`
	RemediationDeadline *time.Time `json:"remediation_deadline"`
}

func (h *Handler) handleRecordDeviation(w http.ResponseWriter, r *http.Request) {
	body, ok := httputil.Decode[recordDeviationBody](w, r, h.logger)
	if !ok {
		return
	}
	resultID, err := id.ParseTestResultID(body.TestResultID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	d, err := h.svc.RecordDeviation(r.Context(), workflow.RecordDeviationRequest{
		TestResultID:        resultID,
		Severity:            id.Severity(body.Severity),
		RootCause:           body.RootCause,
		RemediationPlan:     body.RemediationPlan,
		RemediationOwner:    body.RemediationOwner,
		RemediationDeadline: body.RemediationDeadline,
		Actor:               requestcontext.UserID(r.Context()),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, d)
}

func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	engagementID, err := engagementIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if _, err := h.svc.GetEngagement(r.Context(), engagementID, requestcontext.UserID(r.Context())); err != nil {
		httputil.WriteError(w, err)
		return
	}
	entries, err := h.trail.List(r.Context(), engagementID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) handleVerifyTrail(w http.ResponseWriter, r *http.Request) {
	engagementID, err := engagementIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if _, err := h.svc.GetEngagement(r.Context(), engagementID, requestcontext.UserID(r.Context())); err != nil {
		httputil.WriteError(w, err)
		return
	}
	report, err := h.trail.VerifyChain(r.Context(), engagementID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}
