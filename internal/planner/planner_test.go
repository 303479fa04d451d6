package planner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/seanmoran/hivemind/pkg/models"
)

func parentTask() *models.HierarchicalTask {
	return &models.HierarchicalTask{
		ID:         "root",
		Title:      "build the service",
		Prompt:     "build everything",
		Depth:      0,
		Priority:   models.PriorityHigh,
		MaxRetries: 3,
	}
}

func canned(response string) Consultant {
	return ConsultantFunc(func(_ context.Context, _ *models.HierarchicalTask, _ Bounds) (string, error) {
		return response, nil
	})
}

func TestDecomposeProposal(t *testing.T) {
	p := New(canned(`Here is the plan:
[
  {"title": "design schema", "prompt": "write the schema", "role": "analyst", "priority": "critical"},
  {"title": "implement api", "prompt": "write handlers", "role": "coder", "depends_on": ["design schema"]},
  {"title": "write tests", "prompt": "cover the api", "role": "tester", "depends_on": ["implement api"]}
]`))

	res, err := p.Decompose(context.Background(), parentTask(), Bounds{MaxDepth: 3, UsedIDs: map[string]bool{"root": true}})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if res.MaxDepthReached {
		t.Error("depth 1 should be within MaxDepth 3")
	}
	if len(res.Tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(res.Tasks))
	}

	for _, task := range res.Tasks {
		if task.ParentID != "root" || task.Depth != 1 {
			t.Errorf("task %s: parent=%s depth=%d", task.ID, task.ParentID, task.Depth)
		}
		if task.Status != models.TaskStatusPending {
			t.Errorf("task %s status = %s", task.ID, task.Status)
		}
		if task.MaxRetries != 3 {
			t.Errorf("task %s should inherit max retries, got %d", task.ID, task.MaxRetries)
		}
	}
	if res.Tasks[0].Role != models.RoleAnalyst || res.Tasks[0].Priority != models.PriorityCritical {
		t.Errorf("first task = %+v", res.Tasks[0])
	}
	// Missing priority inherits the parent's.
	if res.Tasks[1].Priority != models.PriorityHigh {
		t.Errorf("second task priority = %s, want inherited high", res.Tasks[1].Priority)
	}
	// Title dependencies resolve to generated ids.
	if len(res.Tasks[1].Dependencies) != 1 || res.Tasks[1].Dependencies[0] != res.Tasks[0].ID {
		t.Errorf("dependencies = %v", res.Tasks[1].Dependencies)
	}
}

func TestDecomposeMaxDepthReached(t *testing.T) {
	p := New(ConsultantFunc(func(_ context.Context, _ *models.HierarchicalTask, _ Bounds) (string, error) {
		t.Fatal("consultant should not be called at max depth")
		return "", nil
	}))
	deep := parentTask()
	deep.Depth = 3

	res, err := p.Decompose(context.Background(), deep, Bounds{MaxDepth: 3})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if !res.MaxDepthReached {
		t.Error("expected MaxDepthReached")
	}
	if len(res.Tasks) != 0 {
		t.Errorf("expected empty task list, got %d", len(res.Tasks))
	}
}

func TestDecomposeAtomicTask(t *testing.T) {
	p := New(canned("This task is atomic.\n[]"))
	res, err := p.Decompose(context.Background(), parentTask(), Bounds{MaxDepth: 3})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if res.MaxDepthReached || len(res.Tasks) != 0 {
		t.Errorf("atomic proposal: %+v", res)
	}
}

func TestDecomposeTooManyTasks(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("[")
	for i := 0; i < 4; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"title": "t` + string(rune('a'+i)) + `", "prompt": "x"}`)
	}
	sb.WriteString("]")

	p := New(canned(sb.String()))
	_, err := p.Decompose(context.Background(), parentTask(), Bounds{MaxDepth: 3, MaxTasksPerLevel: 3})
	if !errors.Is(err, ErrTooManyTasks) {
		t.Errorf("err = %v, want ErrTooManyTasks", err)
	}
}

func TestDecomposeUnknownDependency(t *testing.T) {
	p := New(canned(`[{"title": "a", "prompt": "x", "depends_on": ["nonexistent"]}]`))
	_, err := p.Decompose(context.Background(), parentTask(), Bounds{MaxDepth: 3})
	if !errors.Is(err, ErrUnknownDependency) {
		t.Errorf("err = %v, want ErrUnknownDependency", err)
	}
}

func TestDecomposeCycleRejected(t *testing.T) {
	p := New(canned(`[
		{"title": "a", "prompt": "x", "depends_on": ["b"]},
		{"title": "b", "prompt": "x", "depends_on": ["a"]}
	]`))
	_, err := p.Decompose(context.Background(), parentTask(), Bounds{MaxDepth: 3})
	if err == nil || !strings.Contains(err.Error(), "circular dependency") {
		t.Errorf("err = %v, want circular dependency", err)
	}
}

func TestDecomposeMalformedProposal(t *testing.T) {
	p := New(canned("I could not produce a plan."))
	if _, err := p.Decompose(context.Background(), parentTask(), Bounds{MaxDepth: 3}); err == nil {
		t.Error("expected error for proposal without JSON")
	}
}

func TestDecomposeInvalidRoleFallsBack(t *testing.T) {
	p := New(canned(`[{"title": "a", "prompt": "x", "role": "wizard"}]`))
	res, err := p.Decompose(context.Background(), parentTask(), Bounds{MaxDepth: 3})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if res.Tasks[0].Role != models.RoleGeneric {
		t.Errorf("role = %s, want generic fallback", res.Tasks[0].Role)
	}
}

func TestGeneratedIDsAvoidCollisions(t *testing.T) {
	used := map[string]bool{"root": true}
	p := New(canned(`[{"title": "a", "prompt": "x"}, {"title": "b", "prompt": "x"}]`))
	res, err := p.Decompose(context.Background(), parentTask(), Bounds{MaxDepth: 3, UsedIDs: used})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	seen := map[string]bool{}
	for _, task := range res.Tasks {
		if seen[task.ID] {
			t.Errorf("duplicate id %s", task.ID)
		}
		seen[task.ID] = true
		if !used[task.ID] {
			t.Errorf("id %s not recorded in used set", task.ID)
		}
	}
}
