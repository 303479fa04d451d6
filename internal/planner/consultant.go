package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/seanmoran/hivemind/internal/executor"
	"github.com/seanmoran/hivemind/pkg/models"
)

// ExecutorConsultant runs decomposition proposals through the same
// executor used for task work.
type ExecutorConsultant struct {
	exec executor.Executor
}

// NewExecutorConsultant wraps an executor as a Consultant.
func NewExecutorConsultant(exec executor.Executor) *ExecutorConsultant {
	return &ExecutorConsultant{exec: exec}
}

// Propose builds a decomposition prompt and runs it through the executor.
func (c *ExecutorConsultant) Propose(ctx context.Context, task *models.HierarchicalTask, bounds Bounds) (string, error) {
	planTask := &models.HierarchicalTask{
		ID:     task.ID + "-plan",
		Title:  "Plan: " + task.Title,
		Role:   models.RoleAnalyst,
		Prompt: buildPlanPrompt(task, bounds),
	}
	res, err := c.exec.Run(ctx, planTask)
	if err != nil {
		return "", err
	}
	if !res.Success {
		return "", fmt.Errorf("planning execution failed: %s", res.Error)
	}
	return res.Output, nil
}

// buildPlanPrompt renders the decomposition instructions for a task.
func buildPlanPrompt(task *models.HierarchicalTask, bounds Bounds) string {
	var b strings.Builder
	b.WriteString("Break the task below into independent subtasks that can run in parallel where possible.\n\n")
	b.WriteString("Task: " + task.Title + "\n")
	b.WriteString("Details:\n" + task.Prompt + "\n\n")
	fmt.Fprintf(&b, "Produce at most %d subtasks. If the task is atomic, return an empty array.\n", bounds.MaxTasksPerLevel)
	b.WriteString("Respond with a JSON array of objects with fields:\n")
	b.WriteString(`  title, prompt, role (researcher|coder|tester|reviewer|analyst|documenter|generic),`)
	b.WriteString("\n  priority (critical|high|medium|low), depends_on (array of sibling titles).\n")
	return b.String()
}
