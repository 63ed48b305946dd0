package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"veritas/internal/workflow"
	id "veritas/pkg/domain"
	"veritas/pkg/platform/sentinel"
)

// InMemoryStore backs the workflow service without a database. It applies
// the same optimistic-versioning semantics as the Postgres store: an
// engagement update with a stale expected version fails with
// sentinel.ErrConflict.
type InMemoryStore struct {
	mu          sync.RWMutex
	engagements map[id.EngagementID]*workflow.Engagement
	controls    map[id.ControlID]*workflow.Control
	plans       map[id.TestPlanID]*workflow.TestPlan
	results     map[id.TestResultID]*workflow.TestResult
	deviations  map[id.DeviationID]*workflow.Deviation
	approvals   map[id.ApprovalID]*workflow.Approval
	tasks       map[id.TaskID]*workflow.WorkflowTask
}

// NewInMemoryStore builds an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		engagements: make(map[id.EngagementID]*workflow.Engagement),
		controls:    make(map[id.ControlID]*workflow.Control),
		plans:       make(map[id.TestPlanID]*workflow.TestPlan),
		results:     make(map[id.TestResultID]*workflow.TestResult),
		deviations:  make(map[id.DeviationID]*workflow.Deviation),
		approvals:   make(map[id.ApprovalID]*workflow.Approval),
		tasks:       make(map[id.TaskID]*workflow.WorkflowTask),
	}
}

// InsertEngagement stores a new engagement.
func (s *InMemoryStore) InsertEngagement(_ context.Context, e *workflow.Engagement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.engagements[e.ID]; ok {
		return sentinel.ErrConflict
	}
	cp := *e
	s.engagements[e.ID] = &cp
	return nil
}

// GetEngagement returns a copy of the engagement or sentinel.ErrNotFound.
func (s *InMemoryStore) GetEngagement(_ context.Context, engagementID id.EngagementID) (*workflow.Engagement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.engagements[engagementID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *e
	return &out, nil
}

// UpdateEngagement applies an optimistic write: the stored version must
// equal expectedVersion or the update fails with sentinel.ErrConflict. On
// success the stored version is bumped and reflected back onto e.
func (s *InMemoryStore) UpdateEngagement(_ context.Context, e *workflow.Engagement, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.engagements[e.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}
	cp := *e
	cp.Version = expectedVersion + 1
	s.engagements[e.ID] = &cp
	e.Version = cp.Version
	return nil
}

// InsertControl stores a new control.
func (s *InMemoryStore) InsertControl(_ context.Context, c *workflow.Control) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.controls[c.ID]; ok {
		return sentinel.ErrConflict
	}
	cp := *c
	s.controls[c.ID] = &cp
	return nil
}

// GetControl returns a copy of the control or sentinel.ErrNotFound.
func (s *InMemoryStore) GetControl(_ context.Context, controlID id.ControlID) (*workflow.Control, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.controls[controlID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *c
	return &out, nil
}

// InsertTestPlan stores a new plan.
func (s *InMemoryStore) InsertTestPlan(_ context.Context, p *workflow.TestPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[p.ID]; ok {
		return sentinel.ErrConflict
	}
	cp := *p
	s.plans[p.ID] = &cp
	return nil
}

// GetTestPlan returns a copy of the plan or sentinel.ErrNotFound.
func (s *InMemoryStore) GetTestPlan(_ context.Context, planID id.TestPlanID) (*workflow.TestPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[planID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *p
	return &out, nil
}

// MarkTestPlanApproved locks a plan. An already-approved plan fails with
// sentinel.ErrConflict, matching the conditional UPDATE in Postgres.
func (s *InMemoryStore) MarkTestPlanApproved(_ context.Context, planID id.TestPlanID, approver id.UserID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[planID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if p.ApprovedAt != nil {
		return sentinel.ErrConflict
	}
	p.ApprovedAt = &at
	p.ApprovedBy = &approver
	return nil
}

// InsertTestResult stores a new execution record.
func (s *InMemoryStore) InsertTestResult(_ context.Context, r *workflow.TestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[r.ID]; ok {
		return sentinel.ErrConflict
	}
	cp := *r
	cp.EvidenceIDs = append([]id.EvidenceID(nil), r.EvidenceIDs...)
	s.results[r.ID] = &cp
	return nil
}

// GetTestResult returns a copy of the result or sentinel.ErrNotFound.
func (s *InMemoryStore) GetTestResult(_ context.Context, resultID id.TestResultID) (*workflow.TestResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[resultID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *r
	out.EvidenceIDs = append([]id.EvidenceID(nil), r.EvidenceIDs...)
	return &out, nil
}

// InsertDeviation stores a new deviation.
func (s *InMemoryStore) InsertDeviation(_ context.Context, d *workflow.Deviation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deviations[d.ID]; ok {
		return sentinel.ErrConflict
	}
	cp := *d
	s.deviations[d.ID] = &cp
	return nil
}

// InsertApproval stores a new approval.
func (s *InMemoryStore) InsertApproval(_ context.Context, a *workflow.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.approvals[a.ID]; ok {
		return sentinel.ErrConflict
	}
	cp := *a
	s.approvals[a.ID] = &cp
	return nil
}

// GetApproval returns a copy of the approval or sentinel.ErrNotFound.
func (s *InMemoryStore) GetApproval(_ context.Context, approvalID id.ApprovalID) (*workflow.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.approvals[approvalID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *a
	return &out, nil
}

// UpdateApproval replaces a stored approval.
func (s *InMemoryStore) UpdateApproval(_ context.Context, a *workflow.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.approvals[a.ID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *a
	s.approvals[a.ID] = &cp
	return nil
}

// ListApprovals returns the engagement's approvals ordered by request time.
func (s *InMemoryStore) ListApprovals(_ context.Context, engagementID id.EngagementID) ([]workflow.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []workflow.Approval
	for _, a := range s.approvals {
		if a.EngagementID == engagementID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

// InsertTask stores a new task.
func (s *InMemoryStore) InsertTask(_ context.Context, t *workflow.WorkflowTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return sentinel.ErrConflict
	}
	cp := *t
	cp.DependsOn = append([]id.TaskID(nil), t.DependsOn...)
	s.tasks[t.ID] = &cp
	return nil
}

// GetTask returns a copy of the task or sentinel.ErrNotFound.
func (s *InMemoryStore) GetTask(_ context.Context, taskID id.TaskID) (*workflow.WorkflowTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *t
	out.DependsOn = append([]id.TaskID(nil), t.DependsOn...)
	return &out, nil
}

// UpdateTask replaces a stored task.
func (s *InMemoryStore) UpdateTask(_ context.Context, t *workflow.WorkflowTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *t
	cp.DependsOn = append([]id.TaskID(nil), t.DependsOn...)
	s.tasks[t.ID] = &cp
	return nil
}

// ListTasks returns the engagement's tasks ordered by creation time.
func (s *InMemoryStore) ListTasks(_ context.Context, engagementID id.EngagementID) ([]workflow.WorkflowTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []workflow.WorkflowTask
	for _, t := range s.tasks {
		if t.EngagementID == engagementID {
			cp := *t
			cp.DependsOn = append([]id.TaskID(nil), t.DependsOn...)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
