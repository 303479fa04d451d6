// Package orchestrator runs the per-session control loop that owns the
// task tree, session metrics, and agent registry. All mutation of that
// state happens on the loop goroutine or under the orchestrator lock,
// so metric counts stay consistent with task transitions.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/seanmoran/hivemind/internal/checkpoint"
	"github.com/seanmoran/hivemind/internal/event"
	"github.com/seanmoran/hivemind/internal/executor"
	"github.com/seanmoran/hivemind/internal/judge"
	"github.com/seanmoran/hivemind/internal/planner"
	"github.com/seanmoran/hivemind/internal/pool"
	"github.com/seanmoran/hivemind/internal/state"
	"github.com/seanmoran/hivemind/internal/tree"
	"github.com/seanmoran/hivemind/pkg/models"
)

// Common errors for orchestrator operations.
var (
	// ErrResourceLimit indicates a planning call would exceed the
	// session's task limits.
	ErrResourceLimit = errors.New("resource limit exceeded")
	// ErrFailureThreshold indicates too many tasks failed and the
	// session must be failed.
	ErrFailureThreshold = errors.New("failure threshold exceeded")
	// ErrTaskNotFound indicates an operation referenced an unknown task.
	ErrTaskNotFound = errors.New("task not found")
)

// Config holds the loop's tunable parameters.
type Config struct {
	// AgentTimeout bounds one executor call; a timeout consumes a retry.
	AgentTimeout time.Duration
	// PollInterval is the idle wait between scheduling ticks.
	PollInterval time.Duration
	// AutoScale enables pool scaling from backlog recommendations.
	AutoScale bool
}

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Session     *models.SwarmSession
	Tree        *tree.Tree
	Pool        *pool.Pool
	Judge       *judge.Judge
	Planner     *planner.Planner
	Executor    executor.Executor
	Bus         *event.Bus
	Checkpoints *checkpoint.Store
	Index       *state.DB
}

// Orchestrator coordinates scheduling, execution, verification, and
// checkpointing for one session.
type Orchestrator struct {
	mu      sync.Mutex
	session *models.SwarmSession
	tree    *tree.Tree
	pool    *pool.Pool
	judge   *judge.Judge
	planner *planner.Planner
	exec    executor.Executor
	bus     *event.Bus
	store   *checkpoint.Store
	index   *state.DB
	cfg     Config
	wg      sync.WaitGroup
}

// New creates an Orchestrator. Session, Tree, Pool, and Executor are
// required; the rest degrade gracefully when absent.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Session == nil || deps.Tree == nil || deps.Pool == nil || deps.Executor == nil {
		return nil, errors.New("session, tree, pool, and executor are required")
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = deps.Session.Config.AgentTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	return &Orchestrator{
		session: deps.Session,
		tree:    deps.Tree,
		pool:    deps.Pool,
		judge:   deps.Judge,
		planner: deps.Planner,
		exec:    deps.Executor,
		bus:     deps.Bus,
		store:   deps.Checkpoints,
		index:   deps.Index,
		cfg:     cfg,
	}, nil
}

// Session returns a copy of the session record.
func (o *Orchestrator) Session() models.SwarmSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return *o.session
}

// UpdateSession applies fn to the session record under the
// orchestrator lock and persists the result to the index.
func (o *Orchestrator) UpdateSession(fn func(*models.SwarmSession)) models.SwarmSession {
	o.mu.Lock()
	fn(o.session)
	snap := *o.session
	o.mu.Unlock()
	if o.index != nil {
		if err := o.index.SaveSession(&snap); err != nil {
			log.Printf("[orchestrator] index session %s: %v", snap.ID, err)
		}
	}
	return snap
}

// Tree exposes the session's task tree for restore operations. Callers
// must only mutate it while the control loop is stopped.
func (o *Orchestrator) Tree() *tree.Tree {
	return o.tree
}

// Tasks returns a deep copy of the task tree.
func (o *Orchestrator) Tasks() map[string]*models.HierarchicalTask {
	return o.tree.Snapshot()
}

// PoolStats reports the pool's current statistics.
func (o *Orchestrator) PoolStats() models.PoolStats {
	return o.pool.Stats()
}

// Agents returns a copy of the pool's worker registry.
func (o *Orchestrator) Agents() map[string]*models.SwarmAgentConfig {
	return o.pool.Agents()
}

// InsertTask validates a task and adds it to the tree.
func (o *Orchestrator) InsertTask(task *models.HierarchicalTask) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.insertTaskLocked(task)
}

func (o *Orchestrator) insertTaskLocked(task *models.HierarchicalTask) error {
	if task == nil || task.Title == "" {
		return errors.New("task must have a title")
	}
	if o.tree.Len() >= o.session.Config.MaxTotalTasks {
		return fmt.Errorf("%w: session already holds %d tasks", ErrResourceLimit, o.tree.Len())
	}
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	if !task.Priority.Valid() {
		task.Priority = models.PriorityMedium
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = o.session.Config.MaxRetries
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	if err := o.tree.Insert(task); err != nil {
		return err
	}
	o.session.Metrics.Add(task.Status)
	o.saveTaskIndex(task)
	return nil
}

// Plan decomposes a task into children and inserts them into the tree.
// Returns the number of tasks created and whether the depth bound was
// hit. Zero-value bounds fall back to the session config.
func (o *Orchestrator) Plan(ctx context.Context, taskID string, maxDepth, maxTasksPerLevel int) (int, bool, error) {
	if o.planner == nil {
		return 0, false, errors.New("no planner configured")
	}
	if maxDepth <= 0 {
		maxDepth = o.session.Config.MaxTaskDepth
	}
	if maxTasksPerLevel <= 0 {
		maxTasksPerLevel = o.session.Config.MaxTasksPerLevel
	}

	parent := o.tree.GetCopy(taskID)
	if parent == nil {
		return 0, false, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	used := make(map[string]bool)
	for _, id := range o.tree.IDs() {
		used[id] = true
	}

	// The consultation is slow and must not hold the lock.
	res, err := o.planner.Decompose(ctx, parent, planner.Bounds{
		MaxDepth:         maxDepth,
		MaxTasksPerLevel: maxTasksPerLevel,
		UsedIDs:          used,
	})
	if err != nil {
		return 0, false, err
	}
	if res.MaxDepthReached || len(res.Tasks) == 0 {
		return 0, res.MaxDepthReached, nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.tree.Len()+len(res.Tasks) > o.session.Config.MaxTotalTasks {
		return 0, false, fmt.Errorf("%w: %d tasks would exceed max %d",
			ErrResourceLimit, o.tree.Len()+len(res.Tasks), o.session.Config.MaxTotalTasks)
	}
	level := parent.Depth + 1
	if o.tree.CountAtDepth(level)+len(res.Tasks) > maxTasksPerLevel {
		return 0, false, fmt.Errorf("%w: level %d would exceed max %d tasks",
			ErrResourceLimit, level, maxTasksPerLevel)
	}

	inserted := 0
	for _, child := range res.Tasks {
		// Insert links the child into the parent's Children list.
		if err := o.insertTaskLocked(child); err != nil {
			return inserted, false, fmt.Errorf("insert child %s: %w", child.ID, err)
		}
		inserted++
	}
	log.Printf("[orchestrator] planned %d children under %s (session %s)", inserted, taskID, o.session.ID)
	return inserted, false, nil
}

// Verify judges a task's stored result on demand.
func (o *Orchestrator) Verify(ctx context.Context, taskID string) (*models.JudgeVerdict, error) {
	if o.judge == nil {
		return nil, errors.New("no judge configured")
	}
	task := o.tree.GetCopy(taskID)
	if task == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Result == nil {
		return nil, fmt.Errorf("task %s has no result to verify", taskID)
	}

	verdict, err := o.judge.Verify(ctx, task, task.Result)
	if err != nil {
		return nil, err
	}
	o.publish(event.NewVerdictRendered(o.session.ID, *verdict))
	return verdict, nil
}

// Scale adjusts the pool to the target size.
func (o *Orchestrator) Scale(target int, reason string) (models.PoolStats, error) {
	before := o.pool.Size()
	stats, err := o.pool.Scale(target, reason)
	if err != nil {
		return stats, err
	}
	if stats.TotalAgents != before {
		o.publish(event.NewPoolScaled(o.session.ID, before, stats.TotalAgents, reason))
	}
	return stats, nil
}

// CancelRemaining cancels every non-terminal task. The loop exits when
// no ready work and no inflight work remain, which leaves tasks whose
// dependencies failed stuck in pending; this sweeps them up.
func (o *Orchestrator) CancelRemaining(reason string) int {
	n := 0
	for _, t := range o.tree.Snapshot() {
		if t.Status.Terminal() {
			continue
		}
		if err := o.transition(t.ID, models.TaskStatusCancelled); err != nil {
			log.Printf("[orchestrator] cancel %s: %v", t.ID, err)
			continue
		}
		o.recordError(models.SeverityWarning, "cancelled: "+reason, t.ID)
		n++
	}
	return n
}

// CreateCheckpoint snapshots the session and writes it durably.
func (o *Orchestrator) CreateCheckpoint(trigger models.CheckpointTrigger, description string) (*models.Checkpoint, error) {
	if o.store == nil {
		return nil, errors.New("no checkpoint store configured")
	}
	o.mu.Lock()
	snapshot := *o.session
	o.mu.Unlock()

	cp, err := o.store.Create(&snapshot, o.tree.Snapshot(), o.pool.Agents(), trigger, description)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.session.LastCheckpointID = cp.ID
	o.session.CheckpointIDs = append(o.session.CheckpointIDs, cp.ID)
	o.mu.Unlock()

	if o.index != nil {
		if err := o.index.RecordCheckpoint(cp); err != nil {
			log.Printf("[orchestrator] index checkpoint %s: %v", cp.ID, err)
		}
	}
	o.publish(event.NewCheckpointCreated(o.session.ID, cp.ID, trigger, cp.SizeBytes))
	return cp, nil
}

// transition moves a task between statuses and keeps session metrics in
// step with the move.
func (o *Orchestrator) transition(taskID string, to models.TaskStatus) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	from, err := o.tree.Transition(taskID, to)
	if err != nil {
		return err
	}
	o.session.Metrics.Move(from, to)
	o.saveTaskIndex(o.tree.Get(taskID))
	return nil
}

// saveTaskIndex mirrors a task into the SQLite index, best effort.
func (o *Orchestrator) saveTaskIndex(task *models.HierarchicalTask) {
	if o.index == nil || task == nil {
		return
	}
	if err := o.index.SaveTask(o.session.ID, task); err != nil {
		log.Printf("[orchestrator] index task %s: %v", task.ID, err)
	}
}

// publish emits an event if a bus is wired.
func (o *Orchestrator) publish(e event.Event) {
	if o.bus != nil {
		o.bus.Publish(e)
	}
}

// recordError appends to the session error log under the lock.
func (o *Orchestrator) recordError(severity models.ErrorSeverity, message, taskID string) {
	o.mu.Lock()
	o.session.RecordError(severity, message, taskID)
	o.mu.Unlock()
}
