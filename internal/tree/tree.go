// Package tree maintains the id-indexed task tree for a session and its
// dependency graph. Structural invariants (depth bounds, parent linkage,
// no dangling references, acyclicity) are enforced at insertion time, so
// scheduling never has to discover a bad graph lazily.
package tree

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/seanmoran/hivemind/pkg/models"
)

// ErrCycleDetected indicates a dependency edge would create a cycle.
var ErrCycleDetected = errors.New("circular dependency detected")

// ErrTaskNotFound indicates a referenced task is not in the tree.
var ErrTaskNotFound = errors.New("task not found")

// DependencyError describes a rejected dependency edge.
type DependencyError struct {
	// TaskID is the task whose insertion or edge was rejected.
	TaskID string
	// DependsOn is the offending dependency, if a single one applies.
	DependsOn string
	// Cycle names the cycle path when one was detected.
	Cycle []string
	// Err is the underlying sentinel error.
	Err error
}

// Error returns the human-readable description.
func (e *DependencyError) Error() string {
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("task %s: %v: %s", e.TaskID, e.Err, strings.Join(e.Cycle, " -> "))
	}
	if e.DependsOn != "" {
		return fmt.Sprintf("task %s depends on unknown task %s", e.TaskID, e.DependsOn)
	}
	return fmt.Sprintf("task %s: %v", e.TaskID, e.Err)
}

// Unwrap returns the sentinel error for errors.Is checks.
func (e *DependencyError) Unwrap() error { return e.Err }

// Tree is the authoritative, id-indexed set of tasks for one session.
// It is mutated only by the session's control loop; the RWMutex exists
// so status queries can read concurrently.
type Tree struct {
	mu sync.RWMutex
	// tasks maps task ID to the task itself.
	tasks map[string]*models.HierarchicalTask
	// order records insertion sequence for stable scheduling ties.
	order map[string]int
	// seq is the next insertion sequence number.
	seq int
	// maxDepth bounds task depth (root = 0).
	maxDepth int
}

// New creates an empty tree with the given depth bound.
func New(maxDepth int) *Tree {
	return &Tree{
		tasks:    make(map[string]*models.HierarchicalTask),
		order:    make(map[string]int),
		maxDepth: maxDepth,
	}
}

// Insert adds a task to the tree after validating every structural
// invariant. On success the parent's children list is updated.
func (t *Tree) Insert(task *models.HierarchicalTask) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if task.ID == "" {
		return fmt.Errorf("task id must not be empty")
	}
	if _, exists := t.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	if !task.Status.Valid() {
		return fmt.Errorf("task %s has invalid status %q", task.ID, task.Status)
	}
	if task.Priority == "" {
		task.Priority = models.PriorityMedium
	}

	if task.ParentID == "" {
		if task.Depth != 0 {
			return fmt.Errorf("root task %s must have depth 0, got %d", task.ID, task.Depth)
		}
	} else {
		parent, ok := t.tasks[task.ParentID]
		if !ok {
			return fmt.Errorf("task %s references unknown parent %s: %w", task.ID, task.ParentID, ErrTaskNotFound)
		}
		if task.Depth != parent.Depth+1 {
			return fmt.Errorf("task %s depth %d does not extend parent depth %d", task.ID, task.Depth, parent.Depth)
		}
	}
	if task.Depth > t.maxDepth {
		return fmt.Errorf("task %s depth %d exceeds maximum %d", task.ID, task.Depth, t.maxDepth)
	}

	// Dependencies must reference tasks already in the tree.
	for _, dep := range task.Dependencies {
		if _, ok := t.tasks[dep]; !ok {
			return &DependencyError{TaskID: task.ID, DependsOn: dep, Err: ErrTaskNotFound}
		}
	}

	// Check acyclicity with the new node's edges included. Since all of
	// the new task's dependencies already exist and nothing depends on
	// the new task yet, an existing acyclic graph stays acyclic; the
	// walk guards against corrupted dependency slices all the same.
	t.tasks[task.ID] = task
	if cycle := t.findCycleLocked(task.ID); cycle != nil {
		delete(t.tasks, task.ID)
		return &DependencyError{TaskID: task.ID, Cycle: cycle, Err: ErrCycleDetected}
	}

	t.order[task.ID] = t.seq
	t.seq++
	if task.ParentID != "" {
		parent := t.tasks[task.ParentID]
		parent.Children = append(parent.Children, task.ID)
	}
	return nil
}

// AddDependency adds a dependency edge from taskID to depID, rejecting
// the edge if either task is unknown or the edge would create a cycle.
func (t *Tree) AddDependency(taskID, depID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrTaskNotFound)
	}
	if _, ok := t.tasks[depID]; !ok {
		return &DependencyError{TaskID: taskID, DependsOn: depID, Err: ErrTaskNotFound}
	}
	for _, dep := range task.Dependencies {
		if dep == depID {
			return nil
		}
	}

	task.Dependencies = append(task.Dependencies, depID)
	if cycle := t.findCycleLocked(taskID); cycle != nil {
		task.Dependencies = task.Dependencies[:len(task.Dependencies)-1]
		return &DependencyError{TaskID: taskID, Cycle: cycle, Err: ErrCycleDetected}
	}
	return nil
}

// findCycleLocked runs a depth-first walk from start and returns the
// cycle path if one is reachable, or nil. Caller must hold t.mu.
func (t *Tree) findCycleLocked(start string) []string {
	// Color states: 0 = unvisited, 1 = on stack, 2 = done.
	colors := make(map[string]int)
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		stack = append(stack, id)

		task := t.tasks[id]
		if task != nil {
			for _, dep := range task.Dependencies {
				switch colors[dep] {
				case 1:
					// Back edge: slice the cycle out of the stack.
					for i, s := range stack {
						if s == dep {
							cycle = append(append([]string{}, stack[i:]...), dep)
							return true
						}
					}
					cycle = []string{id, dep, id}
					return true
				case 0:
					if visit(dep) {
						return true
					}
				}
			}
		}

		colors[id] = 2
		stack = stack[:len(stack)-1]
		return false
	}

	if visit(start) {
		return cycle
	}
	return nil
}

// Get returns the task for an ID, or nil if absent.
func (t *Tree) Get(id string) *models.HierarchicalTask {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tasks[id]
}

// GetCopy returns a deep copy of the task for an ID, or nil if absent.
func (t *Tree) GetCopy(id string) *models.HierarchicalTask {
	t.mu.RLock()
	defer t.mu.RUnlock()
	task, ok := t.tasks[id]
	if !ok {
		return nil
	}
	return cloneTask(task)
}

// Update applies fn to a task under the tree lock, so field edits never
// race with Snapshot. Returns false if the task is absent.
func (t *Tree) Update(id string, fn func(*models.HierarchicalTask)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[id]
	if !ok {
		return false
	}
	fn(task)
	return true
}

// Len returns the number of tasks in the tree.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tasks)
}

// CountAtDepth returns the number of tasks at the given depth.
func (t *Tree) CountAtDepth(depth int) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, task := range t.tasks {
		if task.Depth == depth {
			count++
		}
	}
	return count
}

// IDs returns all task IDs in insertion order.
func (t *Tree) IDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.tasks))
	for id := range t.tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return t.order[ids[i]] < t.order[ids[j]] })
	return ids
}

// Ready returns tasks whose status allows dispatch and whose dependencies
// are all completed, ordered by priority then insertion order.
func (t *Tree) Ready() []*models.HierarchicalTask {
	t.mu.RLock()
	defer t.mu.RUnlock()

	completed := make(map[string]bool)
	for id, task := range t.tasks {
		if task.Status == models.TaskStatusCompleted {
			completed[id] = true
		}
	}

	var ready []*models.HierarchicalTask
	for _, task := range t.tasks {
		switch task.Status {
		case models.TaskStatusPending, models.TaskStatusQueued:
		default:
			continue
		}
		if !task.DependsOnSatisfied(completed) {
			continue
		}
		ready = append(ready, task)
	}

	sort.SliceStable(ready, func(i, j int) bool {
		ri, rj := ready[i].Priority.Rank(), ready[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return t.order[ready[i].ID] < t.order[ready[j].ID]
	})
	return ready
}

// Transition moves a task to a new status and stamps start/completion
// times. It returns the prior status so the caller can update session
// metrics in the same step.
func (t *Tree) Transition(id string, to models.TaskStatus) (models.TaskStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[id]
	if !ok {
		return "", fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	from := task.Status
	if from.Terminal() {
		return from, fmt.Errorf("task %s is already %s", id, from)
	}
	if !to.Valid() {
		return from, fmt.Errorf("invalid status %q", to)
	}

	task.Status = to
	now := time.Now()
	if to == models.TaskStatusInProgress && task.StartedAt == nil {
		task.StartedAt = &now
	}
	if to.Terminal() {
		task.CompletedAt = &now
	}
	return from, nil
}

// Dependents returns IDs of tasks that list the given task as a dependency.
func (t *Tree) Dependents(id string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []string
	for tid, task := range t.tasks {
		for _, dep := range task.Dependencies {
			if dep == id {
				out = append(out, tid)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return t.order[out[i]] < t.order[out[j]] })
	return out
}

// Snapshot returns a deep copy of the task map for checkpointing.
func (t *Tree) Snapshot() map[string]*models.HierarchicalTask {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]*models.HierarchicalTask, len(t.tasks))
	for id, task := range t.tasks {
		out[id] = cloneTask(task)
	}
	return out
}

// Load replaces the tree contents with a restored task map. Insertion
// order is rebuilt from creation timestamps so scheduling ties stay
// stable across a restore.
func (t *Tree) Load(tasks map[string]*models.HierarchicalTask) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tasks = make(map[string]*models.HierarchicalTask, len(tasks))
	t.order = make(map[string]int, len(tasks))
	ids := make([]string, 0, len(tasks))
	for id, task := range tasks {
		t.tasks[id] = cloneTask(task)
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := tasks[ids[i]], tasks[ids[j]]
		if !ti.CreatedAt.Equal(tj.CreatedAt) {
			return ti.CreatedAt.Before(tj.CreatedAt)
		}
		return ids[i] < ids[j]
	})
	for i, id := range ids {
		t.order[id] = i
	}
	t.seq = len(ids)
}

// cloneTask deep-copies a task, including its slices and result.
func cloneTask(task *models.HierarchicalTask) *models.HierarchicalTask {
	c := *task
	c.Children = append([]string(nil), task.Children...)
	c.Dependencies = append([]string(nil), task.Dependencies...)
	c.Tags = append([]string(nil), task.Tags...)
	if task.StartedAt != nil {
		at := *task.StartedAt
		c.StartedAt = &at
	}
	if task.CompletedAt != nil {
		at := *task.CompletedAt
		c.CompletedAt = &at
	}
	if task.Result != nil {
		r := *task.Result
		c.Result = &r
	}
	return &c
}
