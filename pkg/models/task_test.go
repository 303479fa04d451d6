package models

import "testing"

func TestTaskStatusValid(t *testing.T) {
	valid := []TaskStatus{
		TaskStatusPending, TaskStatusQueued, TaskStatusBlocked,
		TaskStatusInProgress, TaskStatusVerifying, TaskStatusCompleted,
		TaskStatusRework, TaskStatusFailed, TaskStatusCancelled,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}

	if TaskStatus("bogus").Valid() {
		t.Error("expected bogus status to be invalid")
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	terminal := []TaskStatus{TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %q to be terminal", s)
		}
	}

	nonTerminal := []TaskStatus{
		TaskStatusPending, TaskStatusQueued, TaskStatusBlocked,
		TaskStatusInProgress, TaskStatusVerifying, TaskStatusRework,
	}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("expected %q to be non-terminal", s)
		}
	}
}

func TestPriorityRank(t *testing.T) {
	if PriorityCritical.Rank() >= PriorityHigh.Rank() {
		t.Error("critical must rank before high")
	}
	if PriorityHigh.Rank() >= PriorityMedium.Rank() {
		t.Error("high must rank before medium")
	}
	if PriorityMedium.Rank() >= PriorityLow.Rank() {
		t.Error("medium must rank before low")
	}
	if TaskPriority("bogus").Valid() {
		t.Error("expected bogus priority to be invalid")
	}
}

func TestDependsOnSatisfied(t *testing.T) {
	task := &HierarchicalTask{
		ID:           "t3",
		Dependencies: []string{"t1", "t2"},
	}

	if task.DependsOnSatisfied(map[string]bool{"t1": true}) {
		t.Error("expected unsatisfied with only t1 completed")
	}
	if !task.DependsOnSatisfied(map[string]bool{"t1": true, "t2": true}) {
		t.Error("expected satisfied with both deps completed")
	}

	noDeps := &HierarchicalTask{ID: "t0"}
	if !noDeps.DependsOnSatisfied(nil) {
		t.Error("task without dependencies should always be satisfied")
	}
}
