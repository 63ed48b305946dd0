package workflow

import (
	"context"
	"errors"
	"time"

	"veritas/internal/audittrail"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/sentinel"
)

// CreateTaskRequest describes a new workflow task.
type CreateTaskRequest struct {
	EngagementID id.EngagementID
	Phase        id.EngagementStatus
	Title        string
	Assignee     id.UserID
	DueDate      *time.Time
	DependsOn    []id.TaskID
	Actor        id.UserID
}

// CreateTask adds a task to the engagement's DAG. Every predecessor must
// exist in the same engagement and the resulting graph must stay acyclic.
func (s *Service) CreateTask(ctx context.Context, req CreateTaskRequest) (*WorkflowTask, error) {
	if req.Title == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "title is required")
	}
	if !req.Phase.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid phase %q", req.Phase)
	}
	if err := s.authz.Authorize(ctx, req.Actor, req.EngagementID, id.CapabilityManageTasks); err != nil {
		return nil, err
	}
	if _, err := s.loadEngagement(ctx, req.EngagementID); err != nil {
		return nil, err
	}

	tasks, err := s.store.ListTasks(ctx, req.EngagementID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load tasks")
	}
	known := make(map[id.TaskID][]id.TaskID, len(tasks))
	for _, t := range tasks {
		known[t.ID] = t.DependsOn
	}
	for _, dep := range req.DependsOn {
		if _, ok := known[dep]; !ok {
			return nil, dErrors.Newf(dErrors.CodeInvalidInput, "dependency %s is not a task of this engagement", dep)
		}
	}

	taskID := id.NewTaskID()
	if err := checkAcyclic(known, taskID, req.DependsOn); err != nil {
		return nil, err
	}

	t := &WorkflowTask{
		ID:           taskID,
		EngagementID: req.EngagementID,
		Phase:        req.Phase,
		Title:        req.Title,
		Assignee:     req.Assignee,
		DueDate:      req.DueDate,
		Status:       id.TaskPending,
		DependsOn:    req.DependsOn,
		CreatedAt:    s.now().UTC(),
	}

	err = s.runner.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.InsertTask(ctx, t); err != nil {
			return err
		}
		return s.audit(ctx, req.EngagementID, audittrail.EntityTask, t.ID.String(), req.Actor, "task.created", nil, t)
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create task")
	}
	return t, nil
}

// CompleteTask marks a task done. A task with an incomplete predecessor
// cannot complete; the error names the blocking task.
func (s *Service) CompleteTask(ctx context.Context, taskID id.TaskID, actor id.UserID) (*WorkflowTask, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "task %s not found", taskID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load task")
	}
	if err := s.authz.Authorize(ctx, actor, t.EngagementID, id.CapabilityManageTasks); err != nil {
		return nil, err
	}
	if t.Status == id.TaskCompleted {
		return nil, dErrors.Newf(dErrors.CodeConflict, "task %s is already completed", t.ID)
	}
	if t.Status == id.TaskCancelled {
		return nil, dErrors.Newf(dErrors.CodeConflict, "task %s is cancelled", t.ID)
	}

	siblings, err := s.store.ListTasks(ctx, t.EngagementID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load tasks")
	}
	byID := make(map[id.TaskID]*WorkflowTask, len(siblings))
	for i := range siblings {
		byID[siblings[i].ID] = &siblings[i]
	}
	if blocker, blocked := incompletePredecessor(t, func(dep id.TaskID) (*WorkflowTask, bool) {
		p, ok := byID[dep]
		return p, ok
	}); blocked {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput,
			"task %q is blocked by incomplete predecessor %q", t.Title, blocker.Title)
	}

	before := *t
	now := s.now().UTC()
	t.Status = id.TaskCompleted
	t.CompletedAt = &now

	err = s.runner.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.UpdateTask(ctx, t); err != nil {
			return err
		}
		return s.audit(ctx, t.EngagementID, audittrail.EntityTask, t.ID.String(), actor, "task.completed", &before, t)
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to complete task")
	}
	return t, nil
}

// ListTasks returns the engagement's tasks for a member.
func (s *Service) ListTasks(ctx context.Context, engagementID id.EngagementID, actor id.UserID) ([]WorkflowTask, error) {
	if err := s.authz.Authorize(ctx, actor, engagementID, id.CapabilityRead); err != nil {
		return nil, err
	}
	tasks, err := s.store.ListTasks(ctx, engagementID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load tasks")
	}
	return tasks, nil
}
