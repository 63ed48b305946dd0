package workflow

import (
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
)

// checkAcyclic verifies that adding a task with the given predecessors
// keeps the engagement's task graph a DAG. existing maps every current task
// to its predecessors; newID may appear in a predecessor list only through
// a cycle, since the task does not exist yet.
func checkAcyclic(existing map[id.TaskID][]id.TaskID, newID id.TaskID, dependsOn []id.TaskID) error {
	graph := make(map[id.TaskID][]id.TaskID, len(existing)+1)
	for task, deps := range existing {
		graph[task] = deps
	}
	graph[newID] = dependsOn

	const (
		visiting = 1
		done     = 2
	)
	state := make(map[id.TaskID]int, len(graph))

	var visit func(task id.TaskID) bool
	visit = func(task id.TaskID) bool {
		switch state[task] {
		case visiting:
			return false
		case done:
			return true
		}
		state[task] = visiting
		for _, dep := range graph[task] {
			if !visit(dep) {
				return false
			}
		}
		state[task] = done
		return true
	}

	if !visit(newID) {
		return dErrors.New(dErrors.CodeInvalidInput, "task dependencies would form a cycle")
	}
	return nil
}

// incompletePredecessor returns the first dependency of task that is not
// completed, if any.
func incompletePredecessor(task *WorkflowTask, lookup func(id.TaskID) (*WorkflowTask, bool)) (*WorkflowTask, bool) {
	for _, dep := range task.DependsOn {
		predecessor, ok := lookup(dep)
		if !ok {
			continue
		}
		if predecessor.Status != id.TaskCompleted {
			return predecessor, true
		}
	}
	return nil, false
}
