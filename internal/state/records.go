package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/seanmoran/hivemind/pkg/models"
)

// SessionRecord is the queryable index row for one session.
type SessionRecord struct {
	ID               string               `json:"id"`
	Name             string               `json:"name"`
	Status           models.SessionStatus `json:"status"`
	RootTaskID       string               `json:"root_task_id"`
	WorkFolder       string               `json:"work_folder"`
	TotalTasks       int                  `json:"total_tasks"`
	CompletedTasks   int                  `json:"completed_tasks"`
	FailedTasks      int                  `json:"failed_tasks"`
	LastCheckpointID string               `json:"last_checkpoint_id"`
	CreatedAt        time.Time            `json:"created_at"`
	ExpiresAt        time.Time            `json:"expires_at"`
	CompletedAt      *time.Time           `json:"completed_at"`
}

// TaskRecord is the queryable index row for one task.
type TaskRecord struct {
	ID          string              `json:"id"`
	SessionID   string              `json:"session_id"`
	ParentID    string              `json:"parent_id"`
	Depth       int                 `json:"depth"`
	Title       string              `json:"title"`
	Role        models.AgentRole    `json:"role"`
	Status      models.TaskStatus   `json:"status"`
	Priority    models.TaskPriority `json:"priority"`
	DependsOn   []string            `json:"depends_on"`
	RetryCount  int                 `json:"retry_count"`
	CreatedAt   time.Time           `json:"created_at"`
	CompletedAt *time.Time          `json:"completed_at"`
}

// Session operations

// sessionRecord builds the index row from a session.
func sessionRecord(s *models.SwarmSession) *SessionRecord {
	return &SessionRecord{
		ID:               s.ID,
		Name:             s.Name,
		Status:           s.Status,
		RootTaskID:       s.RootTaskID,
		WorkFolder:       s.WorkFolder,
		TotalTasks:       s.Metrics.TotalTasks,
		CompletedTasks:   s.Metrics.CompletedTasks,
		FailedTasks:      s.Metrics.FailedTasks,
		LastCheckpointID: s.LastCheckpointID,
		CreatedAt:        s.CreatedAt,
		ExpiresAt:        s.ExpiresAt,
		CompletedAt:      s.CompletedAt,
	}
}

// SaveSession inserts or updates the index row for a session.
func (db *DB) SaveSession(s *models.SwarmSession) error {
	r := sessionRecord(s)
	var completedAt any
	if r.CompletedAt != nil {
		completedAt = formatTime(*r.CompletedAt)
	}
	_, err := db.Exec(`
		INSERT INTO sessions (id, name, status, root_task_id, work_folder,
			total_tasks, completed_tasks, failed_tasks, last_checkpoint_id,
			created_at, expires_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			root_task_id = excluded.root_task_id,
			work_folder = excluded.work_folder,
			total_tasks = excluded.total_tasks,
			completed_tasks = excluded.completed_tasks,
			failed_tasks = excluded.failed_tasks,
			last_checkpoint_id = excluded.last_checkpoint_id,
			expires_at = excluded.expires_at,
			completed_at = excluded.completed_at
	`, r.ID, r.Name, string(r.Status), r.RootTaskID, r.WorkFolder,
		r.TotalTasks, r.CompletedTasks, r.FailedTasks, r.LastCheckpointID,
		formatTime(r.CreatedAt), formatTime(r.ExpiresAt), completedAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSession retrieves a session record by ID. Returns nil when the
// session does not exist.
func (db *DB) GetSession(id string) (*SessionRecord, error) {
	row := db.QueryRow(`
		SELECT id, name, status, root_task_id, work_folder,
			total_tasks, completed_tasks, failed_tasks, last_checkpoint_id,
			created_at, expires_at, completed_at
		FROM sessions WHERE id = ?
	`, id)

	r, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return r, nil
}

// ListSessions lists session records, optionally filtered by status,
// newest first.
func (db *DB) ListSessions(status *models.SessionStatus) ([]SessionRecord, error) {
	var rows *sql.Rows
	var err error

	if status != nil {
		rows, err = db.Query(`
			SELECT id, name, status, root_task_id, work_folder,
				total_tasks, completed_tasks, failed_tasks, last_checkpoint_id,
				created_at, expires_at, completed_at
			FROM sessions WHERE status = ? ORDER BY created_at DESC
		`, string(*status))
	} else {
		rows, err = db.Query(`
			SELECT id, name, status, root_task_id, work_folder,
				total_tasks, completed_tasks, failed_tasks, last_checkpoint_id,
				created_at, expires_at, completed_at
			FROM sessions ORDER BY created_at DESC
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionRecord
	for rows.Next() {
		r, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *r)
	}
	return sessions, rows.Err()
}

// DeleteSession deletes a session record and its task and checkpoint rows.
func (db *DB) DeleteSession(id string) error {
	if _, err := db.Exec("DELETE FROM tasks WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("delete session tasks: %w", err)
	}
	if _, err := db.Exec("DELETE FROM checkpoints WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("delete session checkpoints: %w", err)
	}
	if _, err := db.Exec("DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// scanSession scans one session row via the given Scan function.
func scanSession(scan func(...any) error) (*SessionRecord, error) {
	var r SessionRecord
	var createdAt, expiresAt string
	var completedAt sql.NullString
	err := scan(&r.ID, &r.Name, &r.Status, &r.RootTaskID, &r.WorkFolder,
		&r.TotalTasks, &r.CompletedTasks, &r.FailedTasks, &r.LastCheckpointID,
		&createdAt, &expiresAt, &completedAt)
	if err != nil {
		return nil, err
	}
	r.CreatedAt, _ = parseTime(createdAt)
	r.ExpiresAt, _ = parseTime(expiresAt)
	r.CompletedAt = parseNullableTime(completedAt)
	return &r, nil
}

// Task operations

// SaveTask inserts or updates the index row for a task.
func (db *DB) SaveTask(sessionID string, t *models.HierarchicalTask) error {
	dependsOn, err := json.Marshal(t.Dependencies)
	if err != nil {
		return fmt.Errorf("marshal depends_on: %w", err)
	}
	var completedAt any
	if t.CompletedAt != nil {
		completedAt = formatTime(*t.CompletedAt)
	}
	_, err = db.Exec(`
		INSERT INTO tasks (id, session_id, parent_id, depth, title, role,
			status, priority, depends_on, retry_count, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			priority = excluded.priority,
			depends_on = excluded.depends_on,
			retry_count = excluded.retry_count,
			completed_at = excluded.completed_at
	`, t.ID, sessionID, t.ParentID, t.Depth, t.Title, string(t.Role),
		string(t.Status), string(t.Priority), string(dependsOn), t.RetryCount,
		formatTime(t.CreatedAt), completedAt)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

// ListTasks lists the task records for a session in creation order.
func (db *DB) ListTasks(sessionID string) ([]TaskRecord, error) {
	rows, err := db.Query(`
		SELECT id, session_id, parent_id, depth, title, role,
			status, priority, depends_on, retry_count, created_at, completed_at
		FROM tasks WHERE session_id = ? ORDER BY created_at
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []TaskRecord
	for rows.Next() {
		var r TaskRecord
		var dependsOn sql.NullString
		var createdAt string
		var completedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.SessionID, &r.ParentID, &r.Depth, &r.Title, &r.Role,
			&r.Status, &r.Priority, &dependsOn, &r.RetryCount, &createdAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if dependsOn.Valid && dependsOn.String != "" {
			if err := json.Unmarshal([]byte(dependsOn.String), &r.DependsOn); err != nil {
				return nil, fmt.Errorf("unmarshal depends_on: %w", err)
			}
		}
		r.CreatedAt, _ = parseTime(createdAt)
		r.CompletedAt = parseNullableTime(completedAt)
		tasks = append(tasks, r)
	}
	return tasks, rows.Err()
}

// CountTasksByStatus returns the per-status task counts for a session.
func (db *DB) CountTasksByStatus(sessionID string) (map[models.TaskStatus]int, error) {
	rows, err := db.Query(`
		SELECT status, COUNT(*) FROM tasks WHERE session_id = ? GROUP BY status
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[models.TaskStatus(status)] = n
	}
	return counts, rows.Err()
}

// Checkpoint operations

// RecordCheckpoint indexes a durable checkpoint.
func (db *DB) RecordCheckpoint(cp *models.Checkpoint) error {
	_, err := db.Exec(`
		INSERT INTO checkpoints (id, session_id, trigger_kind, description, checksum, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, cp.ID, cp.SessionID, string(cp.Trigger), cp.Description, cp.Checksum, cp.SizeBytes, formatTime(cp.Timestamp))
	if err != nil {
		return fmt.Errorf("record checkpoint: %w", err)
	}
	return nil
}

// ListCheckpoints lists the indexed checkpoints for a session, newest first.
func (db *DB) ListCheckpoints(sessionID string) ([]models.CheckpointInfo, error) {
	rows, err := db.Query(`
		SELECT id, session_id, trigger_kind, description, size_bytes, created_at
		FROM checkpoints WHERE session_id = ? ORDER BY created_at DESC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var infos []models.CheckpointInfo
	for rows.Next() {
		var info models.CheckpointInfo
		var trigger, createdAt string
		var description sql.NullString
		if err := rows.Scan(&info.ID, &info.SessionID, &trigger, &description, &info.SizeBytes, &createdAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		info.Trigger = models.CheckpointTrigger(trigger)
		info.Description = description.String
		info.Timestamp, _ = parseTime(createdAt)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// DeleteCheckpoint removes one checkpoint index row.
func (db *DB) DeleteCheckpoint(id string) error {
	if _, err := db.Exec("DELETE FROM checkpoints WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}
