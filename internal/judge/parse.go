package judge

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/seanmoran/hivemind/pkg/models"
)

// Common errors for judgment parsing.
var (
	// ErrMalformedResponse indicates the judgment response could not be parsed.
	ErrMalformedResponse = errors.New("malformed judgment response")
	// ErrScoreOutOfRange indicates a score was outside the valid 0-1 range.
	ErrScoreOutOfRange = errors.New("score out of range (must be 0-1)")
)

// CriterionScore is one parsed score line.
type CriterionScore struct {
	Score    float64
	Feedback string
}

// Regular expressions for parsing judgment responses.
var (
	// scoreLinePattern matches "COMPLETENESS: 0.8" or
	// "completeness: 0.8 - missing error handling".
	scoreLinePattern = regexp.MustCompile(`(?im)^\s*([A-Za-z][A-Za-z_ ]*?)\s*:\s*([0-9]*\.?[0-9]+)\s*(?:-\s*(.+?)\s*)?$`)
	// confidencePattern matches "CONFIDENCE: 0.9".
	confidencePattern = regexp.MustCompile(`(?i)CONFIDENCE\s*:\s*([0-9]*\.?[0-9]+)`)
)

// ParseResponse extracts per-criterion scores and the judge's confidence
// from a judgment response. Expected lines look like:
//
//	COMPLETENESS: 0.8 - missing the second output file
//	CORRECTNESS: 1.0
//	CONFIDENCE: 0.9
//
// Unknown criterion names are ignored. Confidence defaults to 1.0 when
// absent. Returns an error if no criterion score can be found or any
// score falls outside [0,1].
func ParseResponse(response string) (map[models.CriterionType]CriterionScore, float64, error) {
	if strings.TrimSpace(response) == "" {
		return nil, 0, ErrMalformedResponse
	}

	scores := make(map[models.CriterionType]CriterionScore)
	for _, match := range scoreLinePattern.FindAllStringSubmatch(response, -1) {
		name := models.CriterionType(normalizeCriterionName(match[1]))
		if !name.Valid() {
			continue
		}
		val, err := strconv.ParseFloat(match[2], 64)
		if err != nil {
			return nil, 0, ErrMalformedResponse
		}
		if val < 0 || val > 1 {
			return nil, 0, ErrScoreOutOfRange
		}
		scores[name] = CriterionScore{Score: val, Feedback: match[3]}
	}
	if len(scores) == 0 {
		return nil, 0, ErrMalformedResponse
	}

	confidence := 1.0
	if matches := confidencePattern.FindStringSubmatch(response); len(matches) >= 2 {
		val, err := strconv.ParseFloat(matches[1], 64)
		if err != nil {
			return nil, 0, ErrMalformedResponse
		}
		if val < 0 || val > 1 {
			return nil, 0, ErrScoreOutOfRange
		}
		confidence = val
	}
	return scores, confidence, nil
}

// normalizeCriterionName lowercases a criterion label and collapses
// spaces to underscores so "EDGE CASES" style labels match.
func normalizeCriterionName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.ReplaceAll(name, " ", "_")
}
