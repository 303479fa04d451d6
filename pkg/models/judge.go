package models

// CriterionType identifies one axis of quality verification.
type CriterionType string

const (
	// CriterionCompleteness checks that all requested work was done.
	CriterionCompleteness CriterionType = "completeness"
	// CriterionCorrectness checks functional correctness.
	CriterionCorrectness CriterionType = "correctness"
	// CriterionQuality checks clarity and structure.
	CriterionQuality CriterionType = "quality"
	// CriterionTesting checks test coverage of the work.
	CriterionTesting CriterionType = "testing"
	// CriterionDocumentation checks documentation of the work.
	CriterionDocumentation CriterionType = "documentation"
	// CriterionSecurity checks for security problems.
	CriterionSecurity CriterionType = "security"
	// CriterionPerformance checks for performance problems.
	CriterionPerformance CriterionType = "performance"
	// CriterionCustom is a caller-defined check.
	CriterionCustom CriterionType = "custom"
)

// Valid returns true if the criterion type is a known value.
func (c CriterionType) Valid() bool {
	switch c {
	case CriterionCompleteness, CriterionCorrectness, CriterionQuality,
		CriterionTesting, CriterionDocumentation, CriterionSecurity,
		CriterionPerformance, CriterionCustom:
		return true
	default:
		return false
	}
}

// JudgeCriterion configures one verification axis.
type JudgeCriterion struct {
	// Type identifies the axis.
	Type CriterionType `json:"type"`
	// Weight is this criterion's share of the overall score.
	Weight float64 `json:"weight"`
	// Enabled excludes the criterion from scoring when false.
	Enabled bool `json:"enabled"`
	// PassThreshold is the minimum individual score to pass this axis.
	PassThreshold float64 `json:"pass_threshold"`
}

// CriterionResult is the judged outcome for a single criterion.
type CriterionResult struct {
	// Type identifies the axis.
	Type CriterionType `json:"type"`
	// Weight is the weight used in the overall score.
	Weight float64 `json:"weight"`
	// Score is the judged score in [0,1].
	Score float64 `json:"score"`
	// Passed reports whether Score met the criterion's threshold.
	Passed bool `json:"passed"`
	// Feedback is the judge's comment for this axis.
	Feedback string `json:"feedback,omitempty"`
}

// JudgeVerdict is the outcome of verifying one task result.
type JudgeVerdict struct {
	// TaskID is the judged task.
	TaskID string `json:"task_id"`
	// Passed reports whether the overall score met the session threshold.
	Passed bool `json:"passed"`
	// OverallScore is the weighted sum of enabled criterion scores,
	// normalized by the sum of enabled weights.
	OverallScore float64 `json:"overall_score"`
	// Confidence is the judge's self-reported certainty in [0,1].
	Confidence float64 `json:"confidence"`
	// Criteria lists per-axis results.
	Criteria []CriterionResult `json:"criteria"`
	// RequiresRework indicates the task should be re-executed.
	RequiresRework bool `json:"requires_rework"`
	// ReworkInstructions summarizes the lowest-scoring criteria for rework.
	ReworkInstructions string `json:"rework_instructions,omitempty"`
	// RequiresHumanApproval surfaces the verdict for manual review when
	// confidence is below the session's approval threshold.
	RequiresHumanApproval bool `json:"requires_human_approval,omitempty"`
}

// DefaultJudgeCriteria returns the standard enabled criteria set.
func DefaultJudgeCriteria() []JudgeCriterion {
	return []JudgeCriterion{
		{Type: CriterionCompleteness, Weight: 0.3, Enabled: true, PassThreshold: 0.6},
		{Type: CriterionCorrectness, Weight: 0.4, Enabled: true, PassThreshold: 0.6},
		{Type: CriterionQuality, Weight: 0.2, Enabled: true, PassThreshold: 0.5},
		{Type: CriterionTesting, Weight: 0.1, Enabled: true, PassThreshold: 0.5},
	}
}
