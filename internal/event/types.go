package event

import (
	"time"

	"github.com/seanmoran/hivemind/pkg/models"
)

// Event is implemented by every event published on the bus.
// Type names follow the "category.action" convention.
type Event interface {
	// EventType returns the event's type identifier.
	EventType() string
	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides the common fields. Embed it in concrete events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

// Event type identifiers.
const (
	TypeSessionStatusChanged = "session.status_changed"
	TypeTaskDispatched       = "task.dispatched"
	TypeTaskCompleted        = "task.completed"
	TypeTaskFailed           = "task.failed"
	TypeTaskRework           = "task.rework"
	TypeVerdictRendered      = "judge.verdict"
	TypeCheckpointCreated    = "checkpoint.created"
	TypePoolScaled           = "pool.scaled"
)

// SessionStatusChanged is emitted after a session lifecycle transition.
type SessionStatusChanged struct {
	baseEvent
	SessionID string
	From      models.SessionStatus
	To        models.SessionStatus
	Reason    string
}

// NewSessionStatusChanged creates a session.status_changed event.
func NewSessionStatusChanged(sessionID string, from, to models.SessionStatus, reason string) SessionStatusChanged {
	return SessionStatusChanged{
		baseEvent: newBaseEvent(TypeSessionStatusChanged),
		SessionID: sessionID,
		From:      from,
		To:        to,
		Reason:    reason,
	}
}

// TaskDispatched is emitted after a task is assigned to a worker.
type TaskDispatched struct {
	baseEvent
	SessionID string
	TaskID    string
	AgentID   string
	Attempt   int
}

// NewTaskDispatched creates a task.dispatched event.
func NewTaskDispatched(sessionID, taskID, agentID string, attempt int) TaskDispatched {
	return TaskDispatched{
		baseEvent: newBaseEvent(TypeTaskDispatched),
		SessionID: sessionID,
		TaskID:    taskID,
		AgentID:   agentID,
		Attempt:   attempt,
	}
}

// TaskCompleted is emitted after a task passes verification.
type TaskCompleted struct {
	baseEvent
	SessionID string
	TaskID    string
	Duration  time.Duration
}

// NewTaskCompleted creates a task.completed event.
func NewTaskCompleted(sessionID, taskID string, duration time.Duration) TaskCompleted {
	return TaskCompleted{
		baseEvent: newBaseEvent(TypeTaskCompleted),
		SessionID: sessionID,
		TaskID:    taskID,
		Duration:  duration,
	}
}

// TaskFailed is emitted after a task fails permanently.
type TaskFailed struct {
	baseEvent
	SessionID string
	TaskID    string
	Reason    string
}

// NewTaskFailed creates a task.failed event.
func NewTaskFailed(sessionID, taskID, reason string) TaskFailed {
	return TaskFailed{
		baseEvent: newBaseEvent(TypeTaskFailed),
		SessionID: sessionID,
		TaskID:    taskID,
		Reason:    reason,
	}
}

// TaskRework is emitted when a judge verdict sends a task back.
type TaskRework struct {
	baseEvent
	SessionID    string
	TaskID       string
	JudgeAttempt int
	Instructions string
}

// NewTaskRework creates a task.rework event.
func NewTaskRework(sessionID, taskID string, judgeAttempt int, instructions string) TaskRework {
	return TaskRework{
		baseEvent:    newBaseEvent(TypeTaskRework),
		SessionID:    sessionID,
		TaskID:       taskID,
		JudgeAttempt: judgeAttempt,
		Instructions: instructions,
	}
}

// VerdictRendered is emitted after every judge evaluation.
type VerdictRendered struct {
	baseEvent
	SessionID string
	Verdict   models.JudgeVerdict
}

// NewVerdictRendered creates a judge.verdict event.
func NewVerdictRendered(sessionID string, verdict models.JudgeVerdict) VerdictRendered {
	return VerdictRendered{
		baseEvent: newBaseEvent(TypeVerdictRendered),
		SessionID: sessionID,
		Verdict:   verdict,
	}
}

// CheckpointCreated is emitted after a checkpoint is durably written.
type CheckpointCreated struct {
	baseEvent
	SessionID    string
	CheckpointID string
	Trigger      models.CheckpointTrigger
	SizeBytes    int64
}

// NewCheckpointCreated creates a checkpoint.created event.
func NewCheckpointCreated(sessionID, checkpointID string, trigger models.CheckpointTrigger, sizeBytes int64) CheckpointCreated {
	return CheckpointCreated{
		baseEvent:    newBaseEvent(TypeCheckpointCreated),
		SessionID:    sessionID,
		CheckpointID: checkpointID,
		Trigger:      trigger,
		SizeBytes:    sizeBytes,
	}
}

// PoolScaled is emitted after the worker pool changes capacity.
type PoolScaled struct {
	baseEvent
	SessionID string
	From      int
	To        int
	Reason    string
}

// NewPoolScaled creates a pool.scaled event.
func NewPoolScaled(sessionID string, from, to int, reason string) PoolScaled {
	return PoolScaled{
		baseEvent: newBaseEvent(TypePoolScaled),
		SessionID: sessionID,
		From:      from,
		To:        to,
		Reason:    reason,
	}
}
