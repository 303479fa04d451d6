package judge

import (
	"context"
	"fmt"
	"strings"

	"github.com/seanmoran/hivemind/internal/executor"
	"github.com/seanmoran/hivemind/pkg/models"
)

// ExecutorEvaluator runs judgments through the same executor used for
// task work, with a synthetic reviewer task carrying the judging prompt.
type ExecutorEvaluator struct {
	exec executor.Executor
}

// NewExecutorEvaluator wraps an executor as an Evaluator.
func NewExecutorEvaluator(exec executor.Executor) *ExecutorEvaluator {
	return &ExecutorEvaluator{exec: exec}
}

// Evaluate builds a judging prompt and runs it through the executor.
func (e *ExecutorEvaluator) Evaluate(ctx context.Context, task *models.HierarchicalTask, result *models.ExecutionResult, criteria []models.JudgeCriterion) (string, error) {
	judgeTask := &models.HierarchicalTask{
		ID:     task.ID + "-judge",
		Title:  "Verify: " + task.Title,
		Role:   models.RoleReviewer,
		Prompt: buildJudgePrompt(task, result, criteria),
	}
	res, err := e.exec.Run(ctx, judgeTask)
	if err != nil {
		return "", err
	}
	if !res.Success {
		return "", fmt.Errorf("judge execution failed: %s", res.Error)
	}
	return res.Output, nil
}

// buildJudgePrompt renders the judging instructions with the original
// task, its output, and the criteria to score.
func buildJudgePrompt(task *models.HierarchicalTask, result *models.ExecutionResult, criteria []models.JudgeCriterion) string {
	var b strings.Builder
	b.WriteString("You are a strict reviewer. Score the result of the task below.\n\n")
	b.WriteString("Task: " + task.Title + "\n")
	b.WriteString("Instructions:\n" + task.Prompt + "\n\n")
	b.WriteString("Result output:\n" + result.Output + "\n\n")
	b.WriteString("Score each criterion from 0.0 to 1.0, one per line,\n")
	b.WriteString("as `NAME: score - short feedback`. Also report `CONFIDENCE: score`.\n")
	b.WriteString("Criteria:\n")
	for _, c := range criteria {
		fmt.Fprintf(&b, "- %s (weight %.2f)\n", strings.ToUpper(string(c.Type)), c.Weight)
	}
	return b.String()
}
