package judge

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/seanmoran/hivemind/pkg/models"
)

func threeCriteria() []models.JudgeCriterion {
	return []models.JudgeCriterion{
		{Type: models.CriterionCompleteness, Weight: 0.3, Enabled: true, PassThreshold: 0.6},
		{Type: models.CriterionCorrectness, Weight: 0.4, Enabled: true, PassThreshold: 0.6},
		{Type: models.CriterionQuality, Weight: 0.2, Enabled: true, PassThreshold: 0.5},
		{Type: models.CriterionTesting, Weight: 0.1, Enabled: false, PassThreshold: 0.5},
	}
}

func TestScoreWeightedAverage(t *testing.T) {
	j := New(Config{
		Criteria:            threeCriteria(),
		PassThreshold:       0.8,
		AutoReworkOnFailure: true,
	}, nil)

	verdict := j.Score("t1", map[models.CriterionType]CriterionScore{
		models.CriterionCompleteness: {Score: 1.0},
		models.CriterionCorrectness:  {Score: 0.5, Feedback: "two functions return wrong values"},
		models.CriterionQuality:      {Score: 1.0},
	}, 0.9)

	// (0.3*1.0 + 0.4*0.5 + 0.2*1.0) / 0.9 = 0.7/0.9
	want := 0.7 / 0.9
	if math.Abs(verdict.OverallScore-want) > 1e-9 {
		t.Errorf("OverallScore = %f, want %f", verdict.OverallScore, want)
	}
	if verdict.Passed {
		t.Error("verdict passed below threshold 0.8")
	}
	if !verdict.RequiresRework {
		t.Error("failed verdict should require rework")
	}
	if !strings.Contains(verdict.ReworkInstructions, "correctness") {
		t.Errorf("rework instructions should name the weakest criterion, got %q", verdict.ReworkInstructions)
	}
	if len(verdict.Criteria) != 3 {
		t.Errorf("expected 3 enabled criterion results, got %d", len(verdict.Criteria))
	}
}

func TestScoreDisabledCriterionExcluded(t *testing.T) {
	j := New(Config{Criteria: threeCriteria(), PassThreshold: 0.5}, nil)

	// Testing scores zero but is disabled, so a perfect run still passes.
	verdict := j.Score("t1", map[models.CriterionType]CriterionScore{
		models.CriterionCompleteness: {Score: 1.0},
		models.CriterionCorrectness:  {Score: 1.0},
		models.CriterionQuality:      {Score: 1.0},
	}, 1.0)
	if verdict.OverallScore != 1.0 {
		t.Errorf("OverallScore = %f, want 1.0", verdict.OverallScore)
	}
	if !verdict.Passed {
		t.Error("verdict should pass")
	}
	if verdict.RequiresRework {
		t.Error("passing verdict without auto-rework should not require rework")
	}
}

func TestScoreMissingCriterionScoresZero(t *testing.T) {
	j := New(Config{Criteria: threeCriteria(), PassThreshold: 0.8, AutoReworkOnFailure: true}, nil)

	verdict := j.Score("t1", map[models.CriterionType]CriterionScore{
		models.CriterionCompleteness: {Score: 1.0},
		models.CriterionCorrectness:  {Score: 1.0},
	}, 1.0)
	want := (0.3 + 0.4) / 0.9
	if math.Abs(verdict.OverallScore-want) > 1e-9 {
		t.Errorf("OverallScore = %f, want %f", verdict.OverallScore, want)
	}
}

func TestScoreCriterionFailureForcesRework(t *testing.T) {
	// Overall passes but one enabled criterion is below its own threshold.
	j := New(Config{
		Criteria: []models.JudgeCriterion{
			{Type: models.CriterionCompleteness, Weight: 0.9, Enabled: true, PassThreshold: 0.6},
			{Type: models.CriterionTesting, Weight: 0.1, Enabled: true, PassThreshold: 0.5},
		},
		PassThreshold:       0.8,
		AutoReworkOnFailure: true,
	}, nil)

	verdict := j.Score("t1", map[models.CriterionType]CriterionScore{
		models.CriterionCompleteness: {Score: 1.0},
		models.CriterionTesting:      {Score: 0.0, Feedback: "no tests written"},
	}, 1.0)
	if !verdict.Passed {
		t.Fatalf("overall should pass, got %f", verdict.OverallScore)
	}
	if !verdict.RequiresRework {
		t.Error("failed criterion should force rework even when overall passes")
	}
	if !strings.Contains(verdict.ReworkInstructions, "testing") {
		t.Errorf("rework instructions should name testing, got %q", verdict.ReworkInstructions)
	}
}

func TestScoreLowConfidenceRequiresHumanApproval(t *testing.T) {
	j := New(Config{
		Criteria:                      threeCriteria(),
		PassThreshold:                 0.5,
		RequireHumanApprovalThreshold: 0.7,
	}, nil)

	verdict := j.Score("t1", map[models.CriterionType]CriterionScore{
		models.CriterionCompleteness: {Score: 1.0},
		models.CriterionCorrectness:  {Score: 1.0},
		models.CriterionQuality:      {Score: 1.0},
	}, 0.5)
	if !verdict.RequiresHumanApproval {
		t.Error("confidence 0.5 below threshold 0.7 should require human approval")
	}
}

func TestVerifyEndToEnd(t *testing.T) {
	eval := EvaluatorFunc(func(_ context.Context, _ *models.HierarchicalTask, _ *models.ExecutionResult, _ []models.JudgeCriterion) (string, error) {
		return "COMPLETENESS: 1.0\nCORRECTNESS: 0.5 - edge cases unhandled\nQUALITY: 1.0\nCONFIDENCE: 0.9\n", nil
	})
	j := New(Config{Criteria: threeCriteria(), PassThreshold: 0.8, AutoReworkOnFailure: true}, eval)

	task := &models.HierarchicalTask{ID: "t1", Title: "build parser"}
	verdict, err := j.Verify(context.Background(), task, &models.ExecutionResult{Success: true, Output: "done"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verdict.TaskID != "t1" {
		t.Errorf("TaskID = %q, want t1", verdict.TaskID)
	}
	want := 0.7 / 0.9
	if math.Abs(verdict.OverallScore-want) > 1e-9 {
		t.Errorf("OverallScore = %f, want %f", verdict.OverallScore, want)
	}
	if verdict.Confidence != 0.9 {
		t.Errorf("Confidence = %f, want 0.9", verdict.Confidence)
	}
	if verdict.Passed || !verdict.RequiresRework {
		t.Error("expected failed verdict requiring rework")
	}
}

func TestVerifyEvaluatorError(t *testing.T) {
	eval := EvaluatorFunc(func(_ context.Context, _ *models.HierarchicalTask, _ *models.ExecutionResult, _ []models.JudgeCriterion) (string, error) {
		return "", errors.New("agent unavailable")
	})
	j := New(Config{Criteria: threeCriteria(), PassThreshold: 0.8}, eval)
	if _, err := j.Verify(context.Background(), &models.HierarchicalTask{ID: "t1"}, &models.ExecutionResult{}); err == nil {
		t.Error("expected error from evaluator")
	}
}

func TestParseResponse(t *testing.T) {
	scores, confidence, err := ParseResponse("Here is my review.\nCOMPLETENESS: 0.8 - missing one file\ncorrectness: 1.0\nQUALITY: 0.75\nCONFIDENCE: 0.85\n")
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if confidence != 0.85 {
		t.Errorf("confidence = %f, want 0.85", confidence)
	}
	if got := scores[models.CriterionCompleteness]; got.Score != 0.8 || got.Feedback != "missing one file" {
		t.Errorf("completeness = %+v", got)
	}
	if scores[models.CriterionCorrectness].Score != 1.0 {
		t.Errorf("correctness = %f, want 1.0", scores[models.CriterionCorrectness].Score)
	}
}

func TestParseResponseDefaultsConfidence(t *testing.T) {
	_, confidence, err := ParseResponse("CORRECTNESS: 0.9")
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if confidence != 1.0 {
		t.Errorf("confidence = %f, want default 1.0", confidence)
	}
}

func TestParseResponseErrors(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantErr  error
	}{
		{"empty", "   ", ErrMalformedResponse},
		{"no scores", "looks good to me", ErrMalformedResponse},
		{"score above one", "CORRECTNESS: 1.5", ErrScoreOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseResponse(tt.response); !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseResponse(%q) err = %v, want %v", tt.response, err, tt.wantErr)
			}
		})
	}
}
