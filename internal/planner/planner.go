// Package planner decomposes tasks into bounded child task sets. The
// planner is pure with respect to session state: it proposes children
// and the caller decides whether to insert them into the tree.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/seanmoran/hivemind/pkg/models"
)

// Common errors for decomposition.
var (
	// ErrTooManyTasks indicates a proposal exceeded the per-level cap.
	ErrTooManyTasks = errors.New("decomposition exceeds max tasks per level")
	// ErrUnknownDependency indicates a proposed task depends on a title
	// not present in the proposal.
	ErrUnknownDependency = errors.New("unknown dependency")
)

// Consultant produces the raw decomposition proposal for a task. The
// default implementation reuses the executor path; tests supply canned
// proposals.
type Consultant interface {
	Propose(ctx context.Context, task *models.HierarchicalTask, bounds Bounds) (string, error)
}

// ConsultantFunc adapts a function to the Consultant interface.
type ConsultantFunc func(ctx context.Context, task *models.HierarchicalTask, bounds Bounds) (string, error)

// Propose calls f.
func (f ConsultantFunc) Propose(ctx context.Context, task *models.HierarchicalTask, bounds Bounds) (string, error) {
	return f(ctx, task, bounds)
}

// Bounds limits one decomposition call.
type Bounds struct {
	// MaxDepth is the deepest level children may occupy (1-5).
	MaxDepth int
	// MaxTasksPerLevel caps children produced by one call.
	MaxTasksPerLevel int
	// UsedIDs holds every task id already present in the session, so
	// generated ids never collide.
	UsedIDs map[string]bool
}

// Result is the outcome of one decomposition call.
type Result struct {
	// Tasks is the proposed child set, possibly empty.
	Tasks []*models.HierarchicalTask
	// MaxDepthReached reports that children would exceed MaxDepth, in
	// which case Tasks is empty and the input task stays a leaf.
	MaxDepthReached bool
}

// plannedTask is the JSON structure of one proposed child.
type plannedTask struct {
	Title     string   `json:"title"`
	Prompt    string   `json:"prompt"`
	Role      string   `json:"role"`
	Priority  string   `json:"priority"`
	DependsOn []string `json:"depends_on"`
}

// Planner breaks tasks into parallelizable children.
type Planner struct {
	consultant Consultant
}

// New creates a Planner with the given consultant.
func New(consultant Consultant) *Planner {
	return &Planner{consultant: consultant}
}

// Decompose proposes children for a task. It refuses to recurse past
// MaxDepth by returning MaxDepthReached with an empty task list, and
// never mutates the input task.
func (p *Planner) Decompose(ctx context.Context, task *models.HierarchicalTask, bounds Bounds) (*Result, error) {
	if bounds.MaxTasksPerLevel < 1 {
		bounds.MaxTasksPerLevel = 100
	}
	if task.Depth+1 > bounds.MaxDepth {
		return &Result{MaxDepthReached: true}, nil
	}

	response, err := p.consultant.Propose(ctx, task, bounds)
	if err != nil {
		return nil, fmt.Errorf("consult for task %s: %w", task.ID, err)
	}

	children, err := ParseProposal(response, task, bounds.UsedIDs)
	if err != nil {
		return nil, fmt.Errorf("parse proposal for task %s: %w", task.ID, err)
	}
	if len(children) > bounds.MaxTasksPerLevel {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyTasks, len(children), bounds.MaxTasksPerLevel)
	}
	if err := validateNoCycles(children); err != nil {
		return nil, fmt.Errorf("validate proposal for task %s: %w", task.ID, err)
	}
	return &Result{Tasks: children}, nil
}

// ParseProposal parses a JSON task array out of a proposal response.
// Dependencies reference sibling titles and are resolved to generated
// ids; a dependency naming an unknown title is an error. An empty array
// is a valid proposal meaning the task is atomic.
func ParseProposal(response string, parent *models.HierarchicalTask, usedIDs map[string]bool) ([]*models.HierarchicalTask, error) {
	jsonStart := strings.Index(response, "[")
	jsonEnd := strings.LastIndex(response, "]")
	if jsonStart == -1 || jsonEnd == -1 || jsonEnd <= jsonStart {
		return nil, fmt.Errorf("no JSON array found in proposal (%d chars)", len(response))
	}

	var planned []plannedTask
	if err := json.Unmarshal([]byte(response[jsonStart:jsonEnd+1]), &planned); err != nil {
		return nil, fmt.Errorf("unmarshal proposal: %w", err)
	}
	if len(planned) == 0 {
		return nil, nil
	}

	titleToID := make(map[string]string, len(planned))
	tasks := make([]*models.HierarchicalTask, len(planned))
	now := time.Now()

	for i, pt := range planned {
		if strings.TrimSpace(pt.Title) == "" {
			return nil, fmt.Errorf("proposed task %d has no title", i)
		}
		id := newTaskID(usedIDs)
		titleToID[pt.Title] = id

		role := models.AgentRole(strings.ToLower(pt.Role))
		if !role.Valid() {
			role = models.RoleGeneric
		}
		priority := models.TaskPriority(strings.ToLower(pt.Priority))
		if !priority.Valid() {
			priority = parent.Priority
		}

		tasks[i] = &models.HierarchicalTask{
			ID:         id,
			ParentID:   parent.ID,
			Depth:      parent.Depth + 1,
			Title:      pt.Title,
			Prompt:     pt.Prompt,
			Role:       role,
			Priority:   priority,
			Status:     models.TaskStatusPending,
			MaxRetries: parent.MaxRetries,
			CreatedAt:  now,
		}
	}

	for i, pt := range planned {
		for _, depTitle := range pt.DependsOn {
			depID, ok := titleToID[depTitle]
			if !ok {
				return nil, fmt.Errorf("%w: %q for task %q", ErrUnknownDependency, depTitle, pt.Title)
			}
			tasks[i].Dependencies = append(tasks[i].Dependencies, depID)
		}
	}
	return tasks, nil
}

// newTaskID generates an id unused in the session and records it.
func newTaskID(used map[string]bool) string {
	for {
		id := "task-" + uuid.New().String()[:8]
		if used == nil {
			return id
		}
		if !used[id] {
			used[id] = true
			return id
		}
	}
}

// validateNoCycles checks the proposed sibling set for circular
// dependencies.
func validateNoCycles(tasks []*models.HierarchicalTask) error {
	byID := make(map[string]*models.HierarchicalTask, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	state := make(map[string]int) // 0=unvisited, 1=visiting, 2=visited
	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		if state[id] == 2 {
			return nil
		}
		if state[id] == 1 {
			cycleStart := 0
			for i, p := range path {
				if p == id {
					cycleStart = i
					break
				}
			}
			cycle := append(path[cycleStart:], id)
			return fmt.Errorf("circular dependency detected: %s", strings.Join(cycle, " -> "))
		}
		state[id] = 1
		if t := byID[id]; t != nil {
			for _, dep := range t.Dependencies {
				if err := visit(dep, append(path, id)); err != nil {
					return err
				}
			}
		}
		state[id] = 2
		return nil
	}

	for _, t := range tasks {
		if state[t.ID] == 0 {
			if err := visit(t.ID, nil); err != nil {
				return err
			}
		}
	}
	return nil
}
