package models

import "time"

// AgentState represents the lifecycle state of a worker slot.
type AgentState string

const (
	// AgentIdle indicates the worker is waiting for an assignment.
	AgentIdle AgentState = "idle"
	// AgentStarting indicates the worker is being provisioned.
	AgentStarting AgentState = "starting"
	// AgentRunning indicates the worker is executing a task.
	AgentRunning AgentState = "running"
	// AgentWaiting indicates the worker is blocked on an external dependency.
	AgentWaiting AgentState = "waiting"
	// AgentStopping indicates the worker is shutting down.
	AgentStopping AgentState = "stopping"
	// AgentStopped indicates the worker slot was removed from the pool.
	AgentStopped AgentState = "stopped"
	// AgentFailed indicates the worker's last task threw or timed out.
	AgentFailed AgentState = "failed"
	// AgentRecovering indicates a failed worker is being reset.
	AgentRecovering AgentState = "recovering"
)

// Valid returns true if the state is a known value.
func (s AgentState) Valid() bool {
	switch s {
	case AgentIdle, AgentStarting, AgentRunning, AgentWaiting,
		AgentStopping, AgentStopped, AgentFailed, AgentRecovering:
		return true
	default:
		return false
	}
}

// SwarmAgentConfig describes one worker slot in the pool. The pool is the
// sole writer; sessions hold read-only copies for metrics.
type SwarmAgentConfig struct {
	// ID is the unique worker identifier.
	ID string `json:"id"`
	// Role is the worker's specialization.
	Role AgentRole `json:"role"`
	// State is the worker's lifecycle state.
	State AgentState `json:"state"`
	// Priority biases assignment order among idle workers.
	Priority TaskPriority `json:"priority"`
	// TaskID is the task currently assigned, if any.
	TaskID string `json:"task_id,omitempty"`
	// TimeoutMs bounds a single task execution on this worker.
	TimeoutMs int64 `json:"timeout_ms"`
	// CompletedTasks counts successful executions.
	CompletedTasks int `json:"completed_tasks"`
	// FailedTasks counts failed executions.
	FailedTasks int `json:"failed_tasks"`
	// TotalExecutionTime accumulates execution durations.
	TotalExecutionTime time.Duration `json:"total_execution_time"`
	// LastActivityAt is when the worker last changed state.
	LastActivityAt time.Time `json:"last_activity_at"`
}

// PoolHealth summarizes the pool's condition.
type PoolHealth string

const (
	// PoolHealthy indicates normal operation.
	PoolHealthy PoolHealth = "healthy"
	// PoolDegraded indicates more than half the workers are busy with backlog.
	PoolDegraded PoolHealth = "degraded"
	// PoolUnhealthy indicates full saturation with a growing backlog.
	PoolUnhealthy PoolHealth = "unhealthy"
	// PoolCritical indicates the consecutive-failure limit was exceeded.
	PoolCritical PoolHealth = "critical"
)

// ScalingRecommendation suggests a pool size change.
type ScalingRecommendation string

const (
	// ScaleHold indicates the pool size is appropriate.
	ScaleHold ScalingRecommendation = "hold"
	// ScaleUp indicates more workers would reduce backlog.
	ScaleUp ScalingRecommendation = "up"
	// ScaleDown indicates workers have been idle long enough to retire.
	ScaleDown ScalingRecommendation = "down"
)

// PoolStats is a point-in-time report of the worker pool.
type PoolStats struct {
	// TotalAgents is the current pool capacity.
	TotalAgents int `json:"total_agents"`
	// IdleAgents counts workers awaiting assignment.
	IdleAgents int `json:"idle_agents"`
	// BusyAgents counts workers executing tasks.
	BusyAgents int `json:"busy_agents"`
	// FailedAgents counts workers in the failed state.
	FailedAgents int `json:"failed_agents"`
	// QueueDepth is the number of ready tasks awaiting a slot.
	QueueDepth int `json:"queue_depth"`
	// ConsecutiveFailures counts failures since the last success.
	ConsecutiveFailures int `json:"consecutive_failures"`
	// Health summarizes the pool condition.
	Health PoolHealth `json:"health"`
	// Recommendation suggests a scaling action.
	Recommendation ScalingRecommendation `json:"recommendation"`
}
