//go:build integration

package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"veritas/internal/workflow"
	"veritas/internal/workflow/store"
	id "veritas/pkg/domain"
	"veritas/pkg/platform/sentinel"
	"veritas/pkg/testutil/containers"
)

type PostgresWorkflowSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresWorkflowSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresWorkflowSuite))
}

func (s *PostgresWorkflowSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgresStore(s.postgres.DB)
	s.Require().NoError(s.store.Migrate(context.Background()))
}

func (s *PostgresWorkflowSuite) newEngagement() *workflow.Engagement {
	now := time.Now().UTC().Truncate(time.Microsecond)
	e := &workflow.Engagement{
		ID:          id.NewEngagementID(),
		ClientName:  "Hollis & Boone LLP",
		Type:        id.EngagementSOC2,
		ReportType:  id.ReportType2,
		Status:      id.StatusDraft,
		PeriodStart: now.AddDate(0, -12, 0),
		PeriodEnd:   now,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.Require().NoError(s.store.InsertEngagement(context.Background(), e))
	return e
}

// TestTaskRoundTrip verifies tasks survive a store round trip with their
// dependency list intact, through both GetTask and ListTasks.
func (s *PostgresWorkflowSuite) TestTaskRoundTrip() {
	ctx := context.Background()
	e := s.newEngagement()
	now := time.Now().UTC().Truncate(time.Microsecond)

	first := &workflow.WorkflowTask{
		ID:           id.NewTaskID(),
		EngagementID: e.ID,
		Phase:        id.StatusFieldwork,
		Title:        "Pull user listing",
		Assignee:     id.NewUserID(),
		Status:       id.TaskPending,
		CreatedAt:    now,
	}
	second := &workflow.WorkflowTask{
		ID:           id.NewTaskID(),
		EngagementID: e.ID,
		Phase:        id.StatusFieldwork,
		Title:        "Test access recertification",
		Assignee:     id.NewUserID(),
		Status:       id.TaskPending,
		DependsOn:    []id.TaskID{first.ID},
		CreatedAt:    now.Add(time.Second),
	}
	s.Require().NoError(s.store.InsertTask(ctx, first))
	s.Require().NoError(s.store.InsertTask(ctx, second))

	got, err := s.store.GetTask(ctx, second.ID)
	s.Require().NoError(err)
	s.Equal(second.Title, got.Title)
	s.Equal(id.StatusFieldwork, got.Phase)
	s.Equal([]id.TaskID{first.ID}, got.DependsOn)

	tasks, err := s.store.ListTasks(ctx, e.ID)
	s.Require().NoError(err)
	s.Require().Len(tasks, 2)
	s.Equal(first.ID, tasks[0].ID)
	s.Empty(tasks[0].DependsOn)
	s.Equal([]id.TaskID{first.ID}, tasks[1].DependsOn)

	completedAt := now.Add(time.Minute)
	second.Status = id.TaskCompleted
	second.CompletedAt = &completedAt
	s.Require().NoError(s.store.UpdateTask(ctx, second))

	got, err = s.store.GetTask(ctx, second.ID)
	s.Require().NoError(err)
	s.Equal(id.TaskCompleted, got.Status)
	s.Require().NotNil(got.CompletedAt)
	s.Equal(completedAt, got.CompletedAt.UTC())

	_, err = s.store.GetTask(ctx, id.NewTaskID())
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

// TestEngagementVersionGuard verifies the version-guarded UPDATE: a stale
// writer loses with ErrConflict and the row keeps the winner's state.
func (s *PostgresWorkflowSuite) TestEngagementVersionGuard() {
	ctx := context.Background()
	e := s.newEngagement()

	winner := *e
	winner.Status = id.StatusPlanning
	winner.UpdatedAt = time.Now().UTC()
	s.Require().NoError(s.store.UpdateEngagement(ctx, &winner, 1))
	s.Equal(2, winner.Version)

	stale := *e
	stale.Status = id.StatusPlanning
	err := s.store.UpdateEngagement(ctx, &stale, 1)
	s.True(errors.Is(err, sentinel.ErrConflict))

	current, err := s.store.GetEngagement(ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(id.StatusPlanning, current.Status)
	s.Equal(2, current.Version)
}
