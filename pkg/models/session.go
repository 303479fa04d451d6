package models

import (
	"fmt"
	"time"
)

// SessionStatus represents the lifecycle state of a swarm session.
type SessionStatus string

const (
	// SessionInitializing indicates the session is being set up.
	SessionInitializing SessionStatus = "initializing"
	// SessionActive indicates the session's control loop is running.
	SessionActive SessionStatus = "active"
	// SessionPaused indicates dispatch is suspended.
	SessionPaused SessionStatus = "paused"
	// SessionResuming indicates the session is restoring state before going active.
	SessionResuming SessionStatus = "resuming"
	// SessionCompleting indicates the final checkpoint is being taken.
	SessionCompleting SessionStatus = "completing"
	// SessionCompleted indicates all work finished.
	SessionCompleted SessionStatus = "completed"
	// SessionFailed indicates the session ended with an error.
	SessionFailed SessionStatus = "failed"
	// SessionArchived indicates a finished session was archived.
	SessionArchived SessionStatus = "archived"
)

// Valid returns true if the status is a known value.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionInitializing, SessionActive, SessionPaused, SessionResuming,
		SessionCompleting, SessionCompleted, SessionFailed, SessionArchived:
		return true
	default:
		return false
	}
}

// MaxSessionTimeout is the upper bound on a session's lifetime.
const MaxSessionTimeout = 7 * 24 * time.Hour

// SessionConfig holds the tunable parameters of a session.
type SessionConfig struct {
	// MaxConcurrentAgents caps tasks dispatched at once.
	MaxConcurrentAgents int `json:"max_concurrent_agents"`
	// MinAgents is the lower bound for pool scaling.
	MinAgents int `json:"min_agents"`
	// MaxAgents is the upper bound for pool scaling (at most 500).
	MaxAgents int `json:"max_agents"`
	// MaxTaskDepth bounds hierarchical decomposition (1-5).
	MaxTaskDepth int `json:"max_task_depth"`
	// MaxTasksPerLevel caps children produced by one decomposition.
	MaxTasksPerLevel int `json:"max_tasks_per_level"`
	// MaxTotalTasks caps the session's task tree size.
	MaxTotalTasks int `json:"max_total_tasks"`
	// MaxRetries is the per-task executor retry budget.
	MaxRetries int `json:"max_retries"`
	// MaxJudgeRetries bounds the rework loop per task.
	MaxJudgeRetries int `json:"max_judge_retries"`
	// JudgePassThreshold is the minimum overall score to pass verification.
	JudgePassThreshold float64 `json:"judge_pass_threshold"`
	// RequireHumanApprovalThreshold surfaces low-confidence verdicts for review.
	RequireHumanApprovalThreshold float64 `json:"require_human_approval_threshold"`
	// AutoReworkOnFailure sends failing verdicts back for rework.
	AutoReworkOnFailure bool `json:"auto_rework_on_failure"`
	// AgentTimeout bounds a single executor attempt.
	AgentTimeout time.Duration `json:"agent_timeout"`
	// SessionTimeout bounds the session's lifetime (at most 7 days).
	SessionTimeout time.Duration `json:"session_timeout"`
	// CheckpointInterval is the auto-checkpoint period; zero disables it.
	CheckpointInterval time.Duration `json:"checkpoint_interval"`
	// MaxCheckpointsPerSession is the retention cap before eviction.
	MaxCheckpointsPerSession int `json:"max_checkpoints_per_session"`
	// FailureThresholdPercent auto-fails the session when exceeded.
	FailureThresholdPercent float64 `json:"failure_threshold_percent"`
	// ScaleUpThreshold is the ready-queue depth that triggers scale-up.
	ScaleUpThreshold int `json:"scale_up_threshold"`
	// ScaleDownThreshold is the worker idle time that triggers scale-down.
	ScaleDownThreshold time.Duration `json:"scale_down_threshold"`
	// MaxConsecutiveFailures marks the pool critical when exceeded.
	MaxConsecutiveFailures int `json:"max_consecutive_failures"`
}

// DefaultSessionConfig returns a SessionConfig with production defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxConcurrentAgents:           4,
		MinAgents:                     1,
		MaxAgents:                     16,
		MaxTaskDepth:                  3,
		MaxTasksPerLevel:              100,
		MaxTotalTasks:                 1000,
		MaxRetries:                    2,
		MaxJudgeRetries:               3,
		JudgePassThreshold:            0.8,
		RequireHumanApprovalThreshold: 0.5,
		AutoReworkOnFailure:           true,
		AgentTimeout:                  10 * time.Minute,
		SessionTimeout:                24 * time.Hour,
		CheckpointInterval:            5 * time.Minute,
		MaxCheckpointsPerSession:      20,
		FailureThresholdPercent:       50,
		ScaleUpThreshold:              8,
		ScaleDownThreshold:            2 * time.Minute,
		MaxConsecutiveFailures:        5,
	}
}

// Validate checks the config bounds.
func (c SessionConfig) Validate() error {
	if c.MaxAgents < 1 || c.MaxAgents > 500 {
		return fmt.Errorf("max_agents must be between 1 and 500, got %d", c.MaxAgents)
	}
	if c.MinAgents < 1 || c.MinAgents > c.MaxAgents {
		return fmt.Errorf("min_agents must be between 1 and max_agents, got %d", c.MinAgents)
	}
	if c.MaxConcurrentAgents < 1 || c.MaxConcurrentAgents > c.MaxAgents {
		return fmt.Errorf("max_concurrent_agents must be between 1 and max_agents, got %d", c.MaxConcurrentAgents)
	}
	if c.MaxTaskDepth < 1 || c.MaxTaskDepth > 5 {
		return fmt.Errorf("max_task_depth must be between 1 and 5, got %d", c.MaxTaskDepth)
	}
	if c.MaxTasksPerLevel < 1 {
		return fmt.Errorf("max_tasks_per_level must be positive, got %d", c.MaxTasksPerLevel)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	if c.JudgePassThreshold < 0 || c.JudgePassThreshold > 1 {
		return fmt.Errorf("judge_pass_threshold must be in [0,1], got %g", c.JudgePassThreshold)
	}
	if c.SessionTimeout <= 0 || c.SessionTimeout > MaxSessionTimeout {
		return fmt.Errorf("session_timeout must be positive and at most %s, got %s", MaxSessionTimeout, c.SessionTimeout)
	}
	if c.FailureThresholdPercent < 0 || c.FailureThresholdPercent > 100 {
		return fmt.Errorf("failure_threshold_percent must be in [0,100], got %g", c.FailureThresholdPercent)
	}
	return nil
}

// SessionMetrics tracks task counts for a session. The bucket identity
// Pending+InProgress+Completed+Failed == Total holds at every transition.
type SessionMetrics struct {
	// TotalTasks is the number of tasks ever inserted into the tree.
	TotalTasks int `json:"total_tasks"`
	// PendingTasks counts tasks not yet dispatched (pending, queued, blocked, rework).
	PendingTasks int `json:"pending_tasks"`
	// InProgressTasks counts dispatched tasks (in_progress, verifying).
	InProgressTasks int `json:"in_progress_tasks"`
	// CompletedTasks counts tasks that finished successfully.
	CompletedTasks int `json:"completed_tasks"`
	// FailedTasks counts tasks that failed permanently or were cancelled.
	FailedTasks int `json:"failed_tasks"`
	// TasksByStatus is the fine-grained status breakdown.
	TasksByStatus map[TaskStatus]int `json:"tasks_by_status"`
	// TotalExecutionTime accumulates executor attempt durations.
	TotalExecutionTime time.Duration `json:"total_execution_time"`
	// TotalRetries counts executor retries across all tasks.
	TotalRetries int `json:"total_retries"`
	// TotalReworks counts judge-initiated rework cycles.
	TotalReworks int `json:"total_reworks"`
}

// NewSessionMetrics returns zeroed metrics with an initialized breakdown map.
func NewSessionMetrics() SessionMetrics {
	return SessionMetrics{TasksByStatus: make(map[TaskStatus]int)}
}

// Add records a newly inserted task with the given status.
func (m *SessionMetrics) Add(s TaskStatus) {
	m.TotalTasks++
	if m.TasksByStatus == nil {
		m.TasksByStatus = make(map[TaskStatus]int)
	}
	m.TasksByStatus[s]++
	m.bumpBucket(s, 1)
}

// Move records a status transition: the old bucket is decremented and the
// new bucket incremented in the same call.
func (m *SessionMetrics) Move(from, to TaskStatus) {
	if m.TasksByStatus == nil {
		m.TasksByStatus = make(map[TaskStatus]int)
	}
	if m.TasksByStatus[from] > 0 {
		m.TasksByStatus[from]--
	}
	m.TasksByStatus[to]++
	m.bumpBucket(from, -1)
	m.bumpBucket(to, 1)
}

func (m *SessionMetrics) bumpBucket(s TaskStatus, delta int) {
	switch s {
	case TaskStatusPending, TaskStatusQueued, TaskStatusBlocked, TaskStatusRework:
		m.PendingTasks += delta
	case TaskStatusInProgress, TaskStatusVerifying:
		m.InProgressTasks += delta
	case TaskStatusCompleted:
		m.CompletedTasks += delta
	case TaskStatusFailed, TaskStatusCancelled:
		m.FailedTasks += delta
	}
}

// Consistent reports whether the bucket identity holds.
func (m *SessionMetrics) Consistent() bool {
	return m.PendingTasks+m.InProgressTasks+m.CompletedTasks+m.FailedTasks == m.TotalTasks
}

// FailureRate returns the percentage of tasks that ended failed.
func (m *SessionMetrics) FailureRate() float64 {
	if m.TotalTasks == 0 {
		return 0
	}
	return float64(m.FailedTasks) / float64(m.TotalTasks) * 100
}

// ErrorSeverity classifies entries in a session's error log.
type ErrorSeverity string

const (
	// SeverityWarning marks recoverable problems.
	SeverityWarning ErrorSeverity = "warning"
	// SeverityError marks task or component failures.
	SeverityError ErrorSeverity = "error"
	// SeverityCritical marks failures that end the session.
	SeverityCritical ErrorSeverity = "critical"
)

// SessionError is one entry in a session's append-only error log.
type SessionError struct {
	// Timestamp is when the error was recorded.
	Timestamp time.Time `json:"timestamp"`
	// Severity classifies the error.
	Severity ErrorSeverity `json:"severity"`
	// Message is the human-readable description.
	Message string `json:"message"`
	// TaskID links the error to a task, if applicable.
	TaskID string `json:"task_id,omitempty"`
}

// SwarmSession is the authoritative record of one orchestration session.
// The task tree is mutated only by the session's control loop.
type SwarmSession struct {
	// ID is the unique session identifier.
	ID string `json:"id"`
	// Name is the human-chosen session name.
	Name string `json:"name"`
	// Status is the lifecycle state.
	Status SessionStatus `json:"status"`
	// RootTaskID is the root of the task tree.
	RootTaskID string `json:"root_task_id"`
	// WorkFolder is the directory the executor operates in.
	WorkFolder string `json:"work_folder,omitempty"`
	// Config holds the session's tunable parameters.
	Config SessionConfig `json:"config"`
	// Metrics tracks task counts and durations.
	Metrics SessionMetrics `json:"metrics"`
	// LastCheckpointID is the most recent durable checkpoint.
	LastCheckpointID string `json:"last_checkpoint_id,omitempty"`
	// CheckpointIDs is the append-only checkpoint history.
	CheckpointIDs []string `json:"checkpoint_ids,omitempty"`
	// Errors is the append-only error log.
	Errors []SessionError `json:"errors,omitempty"`
	// Context is the shared key-value store agents read and write.
	Context map[string]string `json:"context,omitempty"`
	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when the session first went active.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the session reached completed or failed.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// ExpiresAt is when the session auto-fails if still active.
	ExpiresAt time.Time `json:"expires_at"`
}

// RecordError appends a timestamped entry to the session error log.
func (s *SwarmSession) RecordError(severity ErrorSeverity, message, taskID string) {
	s.Errors = append(s.Errors, SessionError{
		Timestamp: time.Now(),
		Severity:  severity,
		Message:   message,
		TaskID:    taskID,
	})
}

// Progress returns the percentage of tasks in a terminal bucket.
func (s *SwarmSession) Progress() float64 {
	if s.Metrics.TotalTasks == 0 {
		return 0
	}
	done := s.Metrics.CompletedTasks + s.Metrics.FailedTasks
	return float64(done) / float64(s.Metrics.TotalTasks) * 100
}
