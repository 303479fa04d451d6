package session

import (
	"context"
	"fmt"
	"sort"

	"github.com/seanmoran/hivemind/internal/orchestrator"
	"github.com/seanmoran/hivemind/pkg/models"
)

// StatusReport is the answer to a status query.
type StatusReport struct {
	// Session is a copy of the session record.
	Session models.SwarmSession `json:"session"`
	// Progress is the percentage of tasks in a terminal bucket.
	Progress float64 `json:"progress"`
	// Pool reports the agent pool's health and utilization.
	Pool models.PoolStats `json:"pool"`
	// Tasks is the per-task detail, present only when requested.
	Tasks []*models.HierarchicalTask `json:"tasks,omitempty"`
	// Agents is the per-worker detail, present only when requested.
	Agents []*models.SwarmAgentConfig `json:"agents,omitempty"`
}

// GetSessionStatus reports a session's lifecycle state, progress, and
// pool statistics, with optional task and agent breakdowns.
func (m *Manager) GetSessionStatus(id string, includeTasks, includeAgents bool) (*StatusReport, error) {
	rt, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	sess := rt.orch.Session()
	report := &StatusReport{
		Session:  sess,
		Progress: sess.Progress(),
		Pool:     rt.orch.PoolStats(),
	}
	if includeTasks {
		tasks := rt.orch.Tasks()
		report.Tasks = make([]*models.HierarchicalTask, 0, len(tasks))
		for _, t := range tasks {
			report.Tasks = append(report.Tasks, t)
		}
		sort.Slice(report.Tasks, func(i, j int) bool {
			ti, tj := report.Tasks[i], report.Tasks[j]
			if !ti.CreatedAt.Equal(tj.CreatedAt) {
				return ti.CreatedAt.Before(tj.CreatedAt)
			}
			return ti.ID < tj.ID
		})
	}
	if includeAgents {
		agents := rt.orch.Agents()
		report.Agents = make([]*models.SwarmAgentConfig, 0, len(agents))
		for _, a := range agents {
			report.Agents = append(report.Agents, a)
		}
		sort.Slice(report.Agents, func(i, j int) bool {
			return report.Agents[i].ID < report.Agents[j].ID
		})
	}
	return report, nil
}

// GetSession returns a copy of the session record.
func (m *Manager) GetSession(id string) (*models.SwarmSession, error) {
	rt, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	sess := rt.orch.Session()
	return &sess, nil
}

// ListSessions returns copies of every session this manager holds,
// newest first, optionally filtered by status.
func (m *Manager) ListSessions(status *models.SessionStatus) []models.SwarmSession {
	m.mu.Lock()
	rts := make([]*runtime, 0, len(m.sessions))
	for _, rt := range m.sessions {
		rts = append(rts, rt)
	}
	m.mu.Unlock()

	var out []models.SwarmSession
	for _, rt := range rts {
		sess := rt.orch.Session()
		if status != nil && sess.Status != *status {
			continue
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// PlanTask decomposes a task into children using the session's depth
// and fan-out bounds. It returns the number of children created and
// whether the depth limit stopped further decomposition.
func (m *Manager) PlanTask(ctx context.Context, sessionID, taskID string) (int, bool, error) {
	rt, err := m.lookup(sessionID)
	if err != nil {
		return 0, false, err
	}
	cfg := rt.orch.Session().Config
	return rt.orch.Plan(ctx, taskID, cfg.MaxTaskDepth, cfg.MaxTasksPerLevel)
}

// VerifyTask renders a fresh judge verdict for a task's current result.
func (m *Manager) VerifyTask(ctx context.Context, sessionID, taskID string) (*models.JudgeVerdict, error) {
	rt, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return rt.orch.Verify(ctx, taskID)
}

// ScaleAgents resizes a session's agent pool.
func (m *Manager) ScaleAgents(sessionID string, target int, reason string) (models.PoolStats, error) {
	rt, err := m.lookup(sessionID)
	if err != nil {
		return models.PoolStats{}, err
	}
	return rt.orch.Scale(target, reason)
}

// CreateCheckpoint takes a manual checkpoint of a session.
func (m *Manager) CreateCheckpoint(sessionID, description string) (*models.Checkpoint, error) {
	rt, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return rt.orch.CreateCheckpoint(models.TriggerManual, description)
}

// ListCheckpoints pages through a session's checkpoints, newest first.
// A limit of zero returns everything after the offset.
func (m *Manager) ListCheckpoints(sessionID string, limit, offset int) ([]models.CheckpointInfo, error) {
	if _, err := m.lookup(sessionID); err != nil {
		return nil, err
	}
	infos, err := m.deps.Checkpoints.List(sessionID)
	if err != nil {
		return nil, err
	}
	if offset >= len(infos) {
		return nil, nil
	}
	infos = infos[offset:]
	if limit > 0 && limit < len(infos) {
		infos = infos[:limit]
	}
	return infos, nil
}

// Orchestrator exposes a session's orchestrator for advanced callers.
func (m *Manager) Orchestrator(sessionID string) (*orchestrator.Orchestrator, error) {
	rt, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return rt.orch, nil
}

// InsertTask adds a task to a session's tree directly, bypassing the
// planner. The title is required; dependencies must already exist.
func (m *Manager) InsertTask(sessionID string, task *models.HierarchicalTask) error {
	rt, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	if err := rt.orch.InsertTask(task); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}
