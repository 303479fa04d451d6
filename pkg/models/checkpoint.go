package models

import "time"

// CheckpointTrigger records why a checkpoint was taken.
type CheckpointTrigger string

const (
	// TriggerAuto marks timer-driven checkpoints.
	TriggerAuto CheckpointTrigger = "auto"
	// TriggerManual marks caller-requested checkpoints.
	TriggerManual CheckpointTrigger = "manual"
	// TriggerError marks best-effort checkpoints taken on failure paths.
	TriggerError CheckpointTrigger = "error"
	// TriggerMilestone marks checkpoints taken at lifecycle boundaries.
	TriggerMilestone CheckpointTrigger = "milestone"
)

// Checkpoint is an immutable, checksummed snapshot of a session's state.
// The session record is serialized without its task tree; the tree,
// agent states, and shared context are captured alongside it.
type Checkpoint struct {
	// ID is the unique checkpoint identifier.
	ID string `json:"id"`
	// SessionID is the owning session.
	SessionID string `json:"session_id"`
	// Timestamp is when the snapshot was taken.
	Timestamp time.Time `json:"timestamp"`
	// Trigger records why the checkpoint was taken.
	Trigger CheckpointTrigger `json:"trigger"`
	// Description is optional caller-provided context.
	Description string `json:"description,omitempty"`
	// Session is the session record at snapshot time.
	Session *SwarmSession `json:"session"`
	// Tasks is the task tree at snapshot time, keyed by task ID.
	Tasks map[string]*HierarchicalTask `json:"tasks"`
	// AgentStates is the worker registry at snapshot time, keyed by agent ID.
	AgentStates map[string]*SwarmAgentConfig `json:"agent_states,omitempty"`
	// Context is the session's shared context store at snapshot time.
	Context map[string]string `json:"context,omitempty"`
	// Checksum is the SHA-256 hex digest of the serialized snapshot.
	Checksum string `json:"checksum,omitempty"`
	// SizeBytes is the size of the snapshot before compression.
	SizeBytes int64 `json:"size_bytes,omitempty"`
}

// CheckpointInfo is the listing view of a stored checkpoint.
type CheckpointInfo struct {
	// ID is the checkpoint identifier.
	ID string `json:"id"`
	// SessionID is the owning session.
	SessionID string `json:"session_id"`
	// Timestamp is when the snapshot was taken.
	Timestamp time.Time `json:"timestamp"`
	// Trigger records why the checkpoint was taken.
	Trigger CheckpointTrigger `json:"trigger"`
	// Description is optional caller-provided context.
	Description string `json:"description,omitempty"`
	// SizeBytes is the stored snapshot size before compression.
	SizeBytes int64 `json:"size_bytes"`
}
