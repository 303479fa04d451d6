package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusQueued indicates the task is ready and waiting for a worker slot.
	TaskStatusQueued TaskStatus = "queued"
	// TaskStatusBlocked indicates the task is waiting on unmet dependencies.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusInProgress indicates the task is being executed by a worker.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusVerifying indicates the task result is under judge review.
	TaskStatusVerifying TaskStatus = "verifying"
	// TaskStatusCompleted indicates the task completed and passed verification.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusRework indicates the judge sent the task back for another attempt.
	TaskStatusRework TaskStatus = "rework"
	// TaskStatusFailed indicates the task failed permanently.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled before finishing.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusQueued, TaskStatusBlocked,
		TaskStatusInProgress, TaskStatusVerifying, TaskStatusCompleted,
		TaskStatusRework, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are allowed from this status.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// TaskPriority orders tasks within the ready set.
type TaskPriority string

const (
	// PriorityCritical is scheduled before all other priorities.
	PriorityCritical TaskPriority = "critical"
	// PriorityHigh is scheduled after critical tasks.
	PriorityHigh TaskPriority = "high"
	// PriorityMedium is the default priority.
	PriorityMedium TaskPriority = "medium"
	// PriorityLow is scheduled last.
	PriorityLow TaskPriority = "low"
)

// Rank returns the numeric scheduling rank for a priority. Lower runs first.
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Valid returns true if the priority is a known value.
func (p TaskPriority) Valid() bool {
	return p.Rank() < 4
}

// AgentRole is a worker specialization. A task may only be assigned to a
// worker registered for its role, except RoleGeneric which accepts any task.
type AgentRole string

const (
	// RoleGeneric accepts tasks of any role.
	RoleGeneric AgentRole = "generic"
	// RoleResearcher gathers information and analyzes requirements.
	RoleResearcher AgentRole = "researcher"
	// RoleCoder implements functionality.
	RoleCoder AgentRole = "coder"
	// RoleTester writes and runs tests.
	RoleTester AgentRole = "tester"
	// RoleReviewer reviews completed work.
	RoleReviewer AgentRole = "reviewer"
	// RoleAnalyst evaluates architecture and data.
	RoleAnalyst AgentRole = "analyst"
	// RoleDocumenter produces documentation.
	RoleDocumenter AgentRole = "documenter"
)

// Valid returns true if the role is a known value.
func (r AgentRole) Valid() bool {
	switch r {
	case RoleGeneric, RoleResearcher, RoleCoder, RoleTester,
		RoleReviewer, RoleAnalyst, RoleDocumenter:
		return true
	default:
		return false
	}
}

// ExecutionResult is the opaque outcome of one executor attempt at a task.
type ExecutionResult struct {
	// Success indicates whether the executor considers the attempt successful.
	Success bool `json:"success"`
	// Output is the executor's output payload.
	Output string `json:"output,omitempty"`
	// Error contains the failure reason when Success is false.
	Error string `json:"error,omitempty"`
	// AgentID is the worker slot that produced this result.
	AgentID string `json:"agent_id,omitempty"`
	// Duration is how long the attempt took.
	Duration time.Duration `json:"duration,omitempty"`
}

// HierarchicalTask is a unit of work in a session's task tree.
type HierarchicalTask struct {
	// ID is the unique identifier for this task within its session.
	ID string `json:"id"`
	// ParentID is the ID of the parent task; empty only for roots.
	ParentID string `json:"parent_id,omitempty"`
	// Depth is the distance from the root (root = 0).
	Depth int `json:"depth"`
	// Children lists child task IDs in creation order.
	Children []string `json:"children,omitempty"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Prompt is the work specification handed to the executor.
	Prompt string `json:"prompt"`
	// Role is the worker specialization required for this task.
	Role AgentRole `json:"role"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Priority orders the task within the ready set.
	Priority TaskPriority `json:"priority"`
	// Dependencies lists task IDs that must complete before this task.
	Dependencies []string `json:"dependencies,omitempty"`
	// RetryCount is the number of failed executor attempts so far.
	RetryCount int `json:"retry_count,omitempty"`
	// MaxRetries caps executor retries for this task.
	MaxRetries int `json:"max_retries"`
	// JudgeAttempts is the number of judge verdicts rendered for this task.
	JudgeAttempts int `json:"judge_attempts,omitempty"`
	// ReworkInstructions carries the latest judge feedback for a rework cycle.
	ReworkInstructions string `json:"rework_instructions,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when execution first began, if it has.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal status, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Result is the last executor result, if any.
	Result *ExecutionResult `json:"result,omitempty"`
	// CheckpointID is the last checkpoint taken after this task completed.
	CheckpointID string `json:"checkpoint_id,omitempty"`
	// Tags are free-form labels.
	Tags []string `json:"tags,omitempty"`
}

// DependsOnSatisfied reports whether every dependency appears in the
// completed set.
func (t *HierarchicalTask) DependsOnSatisfied(completed map[string]bool) bool {
	for _, dep := range t.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}
