// Package session manages swarm session lifecycles: creation, the
// pause/resume cycle, checkpoint scheduling, expiry, and archival. A
// Manager owns one orchestrator per live session and is the only
// component that moves sessions between lifecycle states.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seanmoran/hivemind/internal/checkpoint"
	"github.com/seanmoran/hivemind/internal/event"
	"github.com/seanmoran/hivemind/internal/executor"
	"github.com/seanmoran/hivemind/internal/judge"
	"github.com/seanmoran/hivemind/internal/orchestrator"
	"github.com/seanmoran/hivemind/internal/planner"
	"github.com/seanmoran/hivemind/internal/pool"
	"github.com/seanmoran/hivemind/internal/state"
	"github.com/seanmoran/hivemind/internal/tree"
	"github.com/seanmoran/hivemind/pkg/models"
)

// Common errors for session operations.
var (
	// ErrSessionNotFound indicates the session id is unknown to this manager.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidTransition indicates the session is not in a state that
	// allows the requested operation.
	ErrInvalidTransition = errors.New("invalid session transition")
)

// validTransitions is the session lifecycle state machine.
var validTransitions = map[models.SessionStatus][]models.SessionStatus{
	models.SessionInitializing: {models.SessionActive, models.SessionFailed},
	models.SessionActive:       {models.SessionPaused, models.SessionCompleting, models.SessionFailed},
	models.SessionPaused:       {models.SessionResuming, models.SessionFailed, models.SessionArchived},
	models.SessionResuming:     {models.SessionActive, models.SessionFailed},
	models.SessionCompleting:   {models.SessionCompleted, models.SessionFailed},
	models.SessionCompleted:    {models.SessionArchived},
	models.SessionFailed:       {models.SessionResuming, models.SessionArchived},
}

func transitionAllowed(from, to models.SessionStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Deps wires the manager's shared collaborators. Checkpoints and
// Executor are required; Evaluator and Consultant default to
// executor-backed implementations when nil.
type Deps struct {
	Checkpoints *checkpoint.Store
	Index       *state.DB
	Bus         *event.Bus
	Executor    executor.Executor
	Evaluator   judge.Evaluator
	Consultant  planner.Consultant
}

// Manager creates and supervises swarm sessions.
type Manager struct {
	mu       sync.Mutex
	deps     Deps
	sessions map[string]*runtime
}

// runtime is the in-memory state of one live session.
type runtime struct {
	mu     sync.Mutex
	orch   *orchestrator.Orchestrator
	cancel context.CancelFunc
	done   chan struct{}
	expiry *time.Timer
	// stopAuto ends the auto-checkpoint goroutine; nil when disabled.
	stopAuto chan struct{}
}

// NewManager creates a Manager.
func NewManager(deps Deps) (*Manager, error) {
	if deps.Checkpoints == nil || deps.Executor == nil {
		return nil, errors.New("checkpoint store and executor are required")
	}
	if deps.Evaluator == nil {
		deps.Evaluator = judge.NewExecutorEvaluator(deps.Executor)
	}
	if deps.Consultant == nil {
		deps.Consultant = planner.NewExecutorConsultant(deps.Executor)
	}
	return &Manager{deps: deps, sessions: make(map[string]*runtime)}, nil
}

// CreateRequest describes a new session.
type CreateRequest struct {
	// Name is the human-chosen session name.
	Name string
	// Task is the root task title.
	Task string
	// Prompt is the root task's work specification; defaults to Task.
	Prompt string
	// WorkFolder is the directory agents operate in.
	WorkFolder string
	// Role is the root task's specialization; defaults to generic.
	Role models.AgentRole
	// Priority orders the root task; defaults to high.
	Priority models.TaskPriority
	// Config overrides the session defaults when non-nil.
	Config *models.SessionConfig
	// Criteria overrides the default judge criteria when non-empty.
	Criteria []models.JudgeCriterion
	// AutoStart runs the control loop immediately.
	AutoStart bool
}

// CreateSession builds a session with its root task and orchestrator.
// With AutoStart the control loop begins immediately; otherwise the
// session stays in initializing until Start is called.
func (m *Manager) CreateSession(req CreateRequest) (*models.SwarmSession, error) {
	if req.Name == "" {
		return nil, errors.New("session name is required")
	}
	if req.Task == "" {
		return nil, errors.New("root task is required")
	}
	cfg := models.DefaultSessionConfig()
	if req.Config != nil {
		cfg = *req.Config
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}

	now := time.Now()
	sess := &models.SwarmSession{
		ID:         "session-" + uuid.New().String()[:8],
		Name:       req.Name,
		Status:     models.SessionInitializing,
		WorkFolder: req.WorkFolder,
		Config:     cfg,
		Metrics:    models.NewSessionMetrics(),
		Context:    make(map[string]string),
		CreatedAt:  now,
		ExpiresAt:  now.Add(cfg.SessionTimeout),
	}

	orch, err := m.buildOrchestrator(sess, req.Criteria)
	if err != nil {
		return nil, err
	}

	role := req.Role
	if role == "" {
		role = models.RoleGeneric
	}
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityHigh
	}
	prompt := req.Prompt
	if prompt == "" {
		prompt = req.Task
	}
	root := &models.HierarchicalTask{
		ID:         "task-" + uuid.New().String()[:8],
		Title:      req.Task,
		Prompt:     prompt,
		Role:       role,
		Priority:   priority,
		MaxRetries: cfg.MaxRetries,
	}
	if err := orch.InsertTask(root); err != nil {
		return nil, fmt.Errorf("insert root task: %w", err)
	}
	orch.UpdateSession(func(s *models.SwarmSession) {
		s.RootTaskID = root.ID
	})

	rt := &runtime{orch: orch}
	m.mu.Lock()
	m.sessions[sess.ID] = rt
	m.mu.Unlock()
	log.Printf("[session] created %s (%s)", sess.ID, sess.Name)

	if req.AutoStart {
		if err := m.Start(sess.ID); err != nil {
			return nil, err
		}
	}
	snap := orch.Session()
	return &snap, nil
}

// buildOrchestrator assembles the per-session component stack.
func (m *Manager) buildOrchestrator(sess *models.SwarmSession, criteria []models.JudgeCriterion) (*orchestrator.Orchestrator, error) {
	cfg := sess.Config
	tr := tree.New(cfg.MaxTaskDepth)
	pl, err := pool.New(pool.Config{
		InitialAgents:          cfg.MaxConcurrentAgents,
		MinAgents:              cfg.MinAgents,
		MaxAgents:              cfg.MaxAgents,
		MaxConcurrent:          cfg.MaxConcurrentAgents,
		AgentTimeout:           cfg.AgentTimeout,
		ScaleUpThreshold:       cfg.ScaleUpThreshold,
		ScaleDownThreshold:     cfg.ScaleDownThreshold,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
	})
	if err != nil {
		return nil, fmt.Errorf("build pool: %w", err)
	}
	jd := judge.New(judge.Config{
		Criteria:                      criteria,
		PassThreshold:                 cfg.JudgePassThreshold,
		RequireHumanApprovalThreshold: cfg.RequireHumanApprovalThreshold,
		AutoReworkOnFailure:           cfg.AutoReworkOnFailure,
	}, m.deps.Evaluator)
	pn := planner.New(m.deps.Consultant)

	return orchestrator.New(orchestrator.Deps{
		Session:     sess,
		Tree:        tr,
		Pool:        pl,
		Judge:       jd,
		Planner:     pn,
		Executor:    m.deps.Executor,
		Bus:         m.deps.Bus,
		Checkpoints: m.deps.Checkpoints,
		Index:       m.deps.Index,
	}, orchestrator.Config{
		AgentTimeout: cfg.AgentTimeout,
		AutoScale:    true,
	})
}

// lookup returns the runtime for a session id.
func (m *Manager) lookup(id string) (*runtime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return rt, nil
}

// setStatus applies a lifecycle transition and publishes the change.
func (m *Manager) setStatus(rt *runtime, to models.SessionStatus, reason string) error {
	var from models.SessionStatus
	var rejected bool
	snap := rt.orch.UpdateSession(func(s *models.SwarmSession) {
		from = s.Status
		if !transitionAllowed(from, to) {
			rejected = true
			return
		}
		s.Status = to
		now := time.Now()
		if to == models.SessionActive && s.StartedAt == nil {
			s.StartedAt = &now
		}
		if to == models.SessionCompleted || to == models.SessionFailed {
			s.CompletedAt = &now
		}
	})
	if rejected {
		return fmt.Errorf("session %s is %s, cannot move to %s: %w", snap.ID, from, to, ErrInvalidTransition)
	}
	if m.deps.Bus != nil {
		m.deps.Bus.Publish(event.NewSessionStatusChanged(snap.ID, from, to, reason))
	}
	log.Printf("[session] %s: %s -> %s (%s)", snap.ID, from, to, reason)
	return nil
}

// Start moves an initializing session to active and runs its loop.
func (m *Manager) Start(id string) error {
	rt, err := m.lookup(id)
	if err != nil {
		return err
	}
	if err := m.setStatus(rt, models.SessionActive, "start"); err != nil {
		return err
	}
	m.startLoop(rt)
	return nil
}

// startLoop launches the control loop plus its expiry and
// auto-checkpoint timers. The caller has already set the session active.
func (m *Manager) startLoop(rt *runtime) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	sess := rt.orch.Session()

	rt.mu.Lock()
	rt.cancel = cancel
	rt.done = done
	rt.expiry = time.AfterFunc(time.Until(sess.ExpiresAt), func() {
		m.expire(rt)
	})
	if sess.Config.CheckpointInterval > 0 {
		stop := make(chan struct{})
		rt.stopAuto = stop
		go m.autoCheckpoint(rt, sess.Config.CheckpointInterval, stop, done)
	}
	rt.mu.Unlock()

	go func() {
		err := rt.orch.Run(ctx)
		close(done)
		m.stopTimers(rt)
		switch {
		case err == nil:
			m.finish(rt)
		case errors.Is(err, context.Canceled):
			// Pause or expiry initiated the stop and owns the
			// status change.
		default:
			m.fail(rt, err.Error())
		}
	}()
}

// stopTimers cancels the expiry timer and auto-checkpoint goroutine.
func (m *Manager) stopTimers(rt *runtime) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.expiry != nil {
		rt.expiry.Stop()
		rt.expiry = nil
	}
	if rt.stopAuto != nil {
		close(rt.stopAuto)
		rt.stopAuto = nil
	}
}

// autoCheckpoint takes periodic checkpoints while the loop runs.
func (m *Manager) autoCheckpoint(rt *runtime, interval time.Duration, stop, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-done:
			return
		case <-ticker.C:
			if _, err := rt.orch.CreateCheckpoint(models.TriggerAuto, "interval checkpoint"); err != nil {
				sess := rt.orch.Session()
				log.Printf("[session] auto checkpoint %s: %v", sess.ID, err)
			}
		}
	}
}

// finish runs when the loop drains cleanly: cancel stranded work, take
// the milestone checkpoint, and mark the session completed.
func (m *Manager) finish(rt *runtime) {
	if n := rt.orch.CancelRemaining("dependencies failed"); n > 0 {
		log.Printf("[session] %s: cancelled %d unrunnable tasks", rt.orch.Session().ID, n)
	}
	if err := m.setStatus(rt, models.SessionCompleting, "all tasks settled"); err != nil {
		return
	}
	if _, err := rt.orch.CreateCheckpoint(models.TriggerMilestone, "session complete"); err != nil {
		log.Printf("[session] final checkpoint %s: %v", rt.orch.Session().ID, err)
	}
	if err := m.setStatus(rt, models.SessionCompleted, "final checkpoint taken"); err != nil {
		log.Printf("[session] complete %s: %v", rt.orch.Session().ID, err)
	}
}

// fail marks the session failed after a best-effort error checkpoint.
func (m *Manager) fail(rt *runtime, reason string) {
	if _, err := rt.orch.CreateCheckpoint(models.TriggerError, "failure: "+reason); err != nil {
		log.Printf("[session] error checkpoint %s: %v", rt.orch.Session().ID, err)
	}
	rt.orch.UpdateSession(func(s *models.SwarmSession) {
		s.RecordError(models.SeverityCritical, reason, "")
	})
	if err := m.setStatus(rt, models.SessionFailed, reason); err != nil {
		log.Printf("[session] fail %s: %v", rt.orch.Session().ID, err)
	}
}

// expire fires when the session outlives its timeout.
func (m *Manager) expire(rt *runtime) {
	sess := rt.orch.Session()
	if sess.Status != models.SessionActive {
		return
	}
	log.Printf("[session] %s expired after %s", sess.ID, sess.Config.SessionTimeout)

	rt.mu.Lock()
	cancel, done := rt.cancel, rt.done
	rt.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	m.fail(rt, "session expired")
}

// PauseSession stops dispatch and parks the session. A checkpoint is
// taken by default so the pause point is durable.
func (m *Manager) PauseSession(id string, takeCheckpoint bool, reason string) (*models.SwarmSession, error) {
	rt, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	sess := rt.orch.Session()
	if sess.Status != models.SessionActive {
		return nil, fmt.Errorf("session %s is %s, not active: %w", id, sess.Status, ErrInvalidTransition)
	}

	rt.mu.Lock()
	cancel, done := rt.cancel, rt.done
	rt.cancel = nil
	rt.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	m.stopTimers(rt)

	if err := m.setStatus(rt, models.SessionPaused, reason); err != nil {
		return nil, err
	}
	if takeCheckpoint {
		if _, err := rt.orch.CreateCheckpoint(models.TriggerMilestone, "pause: "+reason); err != nil {
			log.Printf("[session] pause checkpoint %s: %v", id, err)
		}
	}
	snap := rt.orch.Session()
	return &snap, nil
}

// ResumeSession restores a paused or failed session and restarts its
// loop. With an empty checkpointID the latest checkpoint is used; a
// session with no checkpoints resumes from its in-memory tree.
func (m *Manager) ResumeSession(id, checkpointID string, retryFailed bool) (*models.SwarmSession, error) {
	rt, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	sess := rt.orch.Session()
	if sess.Status != models.SessionPaused && sess.Status != models.SessionFailed {
		return nil, fmt.Errorf("session %s is %s, not paused or failed: %w", id, sess.Status, ErrInvalidTransition)
	}
	if err := m.setStatus(rt, models.SessionResuming, "resume"); err != nil {
		return nil, err
	}

	if err := m.restore(rt, checkpointID, retryFailed); err != nil {
		m.fail(rt, fmt.Sprintf("resume failed: %v", err))
		return nil, err
	}

	// Resuming opens a fresh timeout window; otherwise a session
	// revived after expiry would expire again immediately.
	rt.orch.UpdateSession(func(s *models.SwarmSession) {
		s.ExpiresAt = time.Now().Add(s.Config.SessionTimeout)
		s.CompletedAt = nil
	})

	if err := m.setStatus(rt, models.SessionActive, "resumed"); err != nil {
		return nil, err
	}
	m.startLoop(rt)
	snap := rt.orch.Session()
	return &snap, nil
}

// restore loads checkpoint state into the session while its loop is
// stopped. Without any checkpoint it normalizes the live tree instead.
func (m *Manager) restore(rt *runtime, checkpointID string, retryFailed bool) error {
	sess := rt.orch.Session()
	if checkpointID == "" {
		infos, err := m.deps.Checkpoints.List(sess.ID)
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			m.resetInflight(rt, retryFailed)
			return nil
		}
		checkpointID = infos[0].ID
	}
	cp, err := m.deps.Checkpoints.Restore(sess.ID, checkpointID, retryFailed)
	if err != nil {
		return err
	}
	rt.orch.Tree().Load(cp.Tasks)
	prev := sess.Metrics
	if cp.Session != nil {
		prev = cp.Session.Metrics
	}
	rt.orch.UpdateSession(func(s *models.SwarmSession) {
		s.Metrics = rebuildMetrics(cp.Tasks, prev)
		s.LastCheckpointID = cp.ID
		if cp.Context != nil {
			s.Context = cp.Context
		}
	})
	return nil
}

// resetInflight puts work that was in flight back to pending directly
// in the live tree. Used when no checkpoint exists to restore from.
func (m *Manager) resetInflight(rt *runtime, retryFailed bool) {
	tr := rt.orch.Tree()
	tasks := tr.Snapshot()
	for id, t := range tasks {
		switch t.Status {
		case models.TaskStatusInProgress, models.TaskStatusVerifying, models.TaskStatusQueued:
			tr.Update(id, func(task *models.HierarchicalTask) {
				task.Status = models.TaskStatusPending
				task.StartedAt = nil
			})
		case models.TaskStatusFailed:
			if retryFailed {
				tr.Update(id, func(task *models.HierarchicalTask) {
					task.Status = models.TaskStatusPending
					task.StartedAt = nil
					task.CompletedAt = nil
					task.RetryCount = 0
				})
			}
		}
	}
	rt.orch.UpdateSession(func(s *models.SwarmSession) {
		s.Metrics = rebuildMetrics(tr.Snapshot(), s.Metrics)
	})
}

// RestoreCheckpoint loads a checkpoint into a non-active session and
// leaves it paused for inspection or a later resume.
func (m *Manager) RestoreCheckpoint(id, checkpointID string, retryFailed bool) (*models.SwarmSession, error) {
	rt, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	sess := rt.orch.Session()
	switch sess.Status {
	case models.SessionActive, models.SessionResuming, models.SessionCompleting:
		return nil, fmt.Errorf("session %s is %s, pause it first: %w", id, sess.Status, ErrInvalidTransition)
	}
	if checkpointID == "" {
		return nil, errors.New("checkpoint id is required")
	}
	if err := m.restore(rt, checkpointID, retryFailed); err != nil {
		return nil, err
	}
	snap := rt.orch.UpdateSession(func(s *models.SwarmSession) {
		if s.Status != models.SessionPaused {
			s.Status = models.SessionPaused
			s.CompletedAt = nil
		}
	})
	return &snap, nil
}

// ImportCheckpoint rebuilds a session from a stored checkpoint, for
// example in a fresh process after the original run ended. The session
// is registered paused; ResumeSession starts it.
func (m *Manager) ImportCheckpoint(sessionID, checkpointID string, retryFailed bool) (*models.SwarmSession, error) {
	m.mu.Lock()
	_, exists := m.sessions[sessionID]
	m.mu.Unlock()
	if exists {
		return nil, fmt.Errorf("session %s already loaded: %w", sessionID, ErrInvalidTransition)
	}

	if checkpointID == "" {
		infos, err := m.deps.Checkpoints.List(sessionID)
		if err != nil {
			return nil, err
		}
		if len(infos) == 0 {
			return nil, fmt.Errorf("session %s: %w", sessionID, checkpoint.ErrCheckpointNotFound)
		}
		checkpointID = infos[0].ID
	}
	cp, err := m.deps.Checkpoints.Restore(sessionID, checkpointID, retryFailed)
	if err != nil {
		return nil, err
	}
	if cp.Session == nil {
		return nil, fmt.Errorf("checkpoint %s has no session record", checkpointID)
	}

	sess := *cp.Session
	sess.Status = models.SessionPaused
	sess.Metrics = rebuildMetrics(cp.Tasks, cp.Session.Metrics)
	sess.LastCheckpointID = cp.ID
	if cp.Context != nil {
		sess.Context = cp.Context
	}
	orch, err := m.buildOrchestrator(&sess, nil)
	if err != nil {
		return nil, err
	}
	orch.Tree().Load(cp.Tasks)

	rt := &runtime{orch: orch}
	m.mu.Lock()
	m.sessions[sess.ID] = rt
	m.mu.Unlock()
	if m.deps.Index != nil {
		if err := m.deps.Index.SaveSession(&sess); err != nil {
			log.Printf("[session] index %s: %v", sess.ID, err)
		}
	}
	log.Printf("[session] imported %s from checkpoint %s", sess.ID, cp.ID)
	snap := orch.Session()
	return &snap, nil
}

// ArchiveSession retires a completed or failed session.
func (m *Manager) ArchiveSession(id string) error {
	rt, err := m.lookup(id)
	if err != nil {
		return err
	}
	return m.setStatus(rt, models.SessionArchived, "archive")
}

// rebuildMetrics derives fresh status buckets from a restored task map.
// The cumulative counters (execution time, retries, reworks) carry over
// from prev; the bucket identity holds by construction.
func rebuildMetrics(tasks map[string]*models.HierarchicalTask, prev models.SessionMetrics) models.SessionMetrics {
	metrics := models.NewSessionMetrics()
	for _, t := range tasks {
		metrics.Add(t.Status)
	}
	metrics.TotalExecutionTime = prev.TotalExecutionTime
	metrics.TotalRetries = prev.TotalRetries
	metrics.TotalReworks = prev.TotalReworks
	return metrics
}

// Close stops every live session loop without changing statuses.
func (m *Manager) Close() {
	m.mu.Lock()
	rts := make([]*runtime, 0, len(m.sessions))
	for _, rt := range m.sessions {
		rts = append(rts, rt)
	}
	m.mu.Unlock()
	for _, rt := range rts {
		rt.mu.Lock()
		cancel, done := rt.cancel, rt.done
		rt.cancel = nil
		rt.mu.Unlock()
		if cancel != nil {
			cancel()
			<-done
		}
		m.stopTimers(rt)
	}
}
