package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
)

func TestCheckAcyclic(t *testing.T) {
	a, b, c, fresh := id.NewTaskID(), id.NewTaskID(), id.NewTaskID(), id.NewTaskID()

	t.Run("chain and diamond stay acyclic", func(t *testing.T) {
		existing := map[id.TaskID][]id.TaskID{
			a: nil,
			b: {a},
			c: {a},
		}
		assert.NoError(t, checkAcyclic(existing, fresh, []id.TaskID{b, c}))
	})

	t.Run("self-dependency is a cycle", func(t *testing.T) {
		err := checkAcyclic(map[id.TaskID][]id.TaskID{}, fresh, []id.TaskID{fresh})
		require.Error(t, err)
		var dErr *dErrors.Error
		require.ErrorAs(t, err, &dErr)
		assert.Equal(t, dErrors.CodeInvalidInput, dErr.Code)
		assert.Contains(t, err.Error(), "cycle")
	})

	t.Run("cycle through existing edges is detected", func(t *testing.T) {
		// A corrupted store can hold forward references; the check must
		// still reject a graph where the new task closes the loop.
		existing := map[id.TaskID][]id.TaskID{
			a: {fresh},
			b: {a},
		}
		err := checkAcyclic(existing, fresh, []id.TaskID{b})
		require.Error(t, err)
	})

	t.Run("no dependencies is trivially fine", func(t *testing.T) {
		assert.NoError(t, checkAcyclic(nil, fresh, nil))
	})
}

func TestIncompletePredecessor(t *testing.T) {
	done := &WorkflowTask{ID: id.NewTaskID(), Title: "done", Status: id.TaskCompleted}
	open := &WorkflowTask{ID: id.NewTaskID(), Title: "open", Status: id.TaskInProgress}
	task := &WorkflowTask{
		ID:        id.NewTaskID(),
		DependsOn: []id.TaskID{done.ID, open.ID},
	}
	lookup := func(dep id.TaskID) (*WorkflowTask, bool) {
		switch dep {
		case done.ID:
			return done, true
		case open.ID:
			return open, true
		}
		return nil, false
	}

	blocker, blocked := incompletePredecessor(task, lookup)
	require.True(t, blocked)
	assert.Equal(t, "open", blocker.Title)

	open.Status = id.TaskCompleted
	_, blocked = incompletePredecessor(task, lookup)
	assert.False(t, blocked)
}
