// Package judge evaluates completed task results against a weighted set
// of quality criteria and renders pass/fail verdicts with optional
// rework instructions.
package judge

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/seanmoran/hivemind/pkg/models"
)

// Evaluator produces the raw judgment for one task result. The default
// implementation reuses the executor path; tests supply canned responses.
type Evaluator interface {
	Evaluate(ctx context.Context, task *models.HierarchicalTask, result *models.ExecutionResult, criteria []models.JudgeCriterion) (string, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, task *models.HierarchicalTask, result *models.ExecutionResult, criteria []models.JudgeCriterion) (string, error)

// Evaluate calls f.
func (f EvaluatorFunc) Evaluate(ctx context.Context, task *models.HierarchicalTask, result *models.ExecutionResult, criteria []models.JudgeCriterion) (string, error) {
	return f(ctx, task, result, criteria)
}

// Config holds the verification policy for a session.
type Config struct {
	// Criteria is the weighted criteria set; disabled entries are ignored.
	Criteria []models.JudgeCriterion
	// PassThreshold is the minimum overall score to pass.
	PassThreshold float64
	// RequireHumanApprovalThreshold surfaces low-confidence verdicts.
	RequireHumanApprovalThreshold float64
	// AutoReworkOnFailure sends failing verdicts back for rework.
	AutoReworkOnFailure bool
}

// Judge verifies task results.
type Judge struct {
	cfg       Config
	evaluator Evaluator
}

// New creates a Judge with the given policy and evaluator.
func New(cfg Config, evaluator Evaluator) *Judge {
	if len(cfg.Criteria) == 0 {
		cfg.Criteria = models.DefaultJudgeCriteria()
	}
	return &Judge{cfg: cfg, evaluator: evaluator}
}

// Verify evaluates a task result and renders a verdict.
func (j *Judge) Verify(ctx context.Context, task *models.HierarchicalTask, result *models.ExecutionResult) (*models.JudgeVerdict, error) {
	response, err := j.evaluator.Evaluate(ctx, task, result, j.enabledCriteria())
	if err != nil {
		return nil, fmt.Errorf("evaluate task %s: %w", task.ID, err)
	}

	scores, confidence, err := ParseResponse(response)
	if err != nil {
		return nil, fmt.Errorf("parse judgment for task %s: %w", task.ID, err)
	}

	return j.Score(task.ID, scores, confidence), nil
}

// enabledCriteria returns the criteria that participate in scoring.
func (j *Judge) enabledCriteria() []models.JudgeCriterion {
	var out []models.JudgeCriterion
	for _, c := range j.cfg.Criteria {
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out
}

// Score computes a verdict from per-criterion scores. The overall score
// is the weighted sum of enabled criterion scores normalized by the sum
// of enabled weights. Missing criteria score zero.
func (j *Judge) Score(taskID string, scores map[models.CriterionType]CriterionScore, confidence float64) *models.JudgeVerdict {
	verdict := &models.JudgeVerdict{
		TaskID:     taskID,
		Confidence: confidence,
	}

	var weightedSum, weightSum float64
	anyCriterionFailed := false

	for _, criterion := range j.enabledCriteria() {
		cs := scores[criterion.Type]
		passed := cs.Score >= criterion.PassThreshold
		if !passed {
			anyCriterionFailed = true
		}
		verdict.Criteria = append(verdict.Criteria, models.CriterionResult{
			Type:     criterion.Type,
			Weight:   criterion.Weight,
			Score:    cs.Score,
			Passed:   passed,
			Feedback: cs.Feedback,
		})
		weightedSum += criterion.Weight * cs.Score
		weightSum += criterion.Weight
	}

	if weightSum > 0 {
		verdict.OverallScore = weightedSum / weightSum
	}
	verdict.Passed = verdict.OverallScore >= j.cfg.PassThreshold
	verdict.RequiresHumanApproval = confidence < j.cfg.RequireHumanApprovalThreshold

	if j.cfg.AutoReworkOnFailure && (!verdict.Passed || anyCriterionFailed) {
		verdict.RequiresRework = true
		verdict.ReworkInstructions = buildReworkInstructions(verdict.Criteria)
	}
	return verdict
}

// buildReworkInstructions summarizes the lowest-scoring criteria so the
// next attempt knows what to fix.
func buildReworkInstructions(criteria []models.CriterionResult) string {
	sorted := append([]models.CriterionResult(nil), criteria...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score < sorted[j].Score })

	var parts []string
	for _, c := range sorted {
		if len(parts) >= 3 {
			break
		}
		if c.Passed && len(parts) > 0 {
			break
		}
		line := fmt.Sprintf("%s scored %.2f", c.Type, c.Score)
		if c.Feedback != "" {
			line += ": " + c.Feedback
		}
		parts = append(parts, line)
	}
	if len(parts) == 0 {
		return "improve the overall result quality"
	}
	return "Address the weakest areas: " + strings.Join(parts, "; ")
}
