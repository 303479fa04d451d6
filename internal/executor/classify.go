package executor

import "strings"

// FailureClass distinguishes retryable executor failures from fatal ones.
type FailureClass int

const (
	// Retryable failures consume one retry and requeue the task.
	Retryable FailureClass = iota
	// Fatal failures fail the task immediately regardless of retry budget.
	Fatal
)

// String returns a human-readable representation of the failure class.
func (c FailureClass) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// fatalMarkers are substrings indicating auth or malformed-input failures
// that retrying can never fix.
var fatalMarkers = []string{
	"unauthorized",
	"forbidden",
	"invalid api key",
	"authentication",
	"permission denied",
	"malformed",
	"invalid argument",
	"executable file not found",
}

// retryableMarkers are substrings indicating transient conditions.
var retryableMarkers = []string{
	"timed out",
	"timeout",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"temporarily unavailable",
	"rate limit",
	"too many requests",
	"503",
	"502",
}

// Classify inspects an executor failure message and decides whether a
// retry could help. Unknown failures default to retryable; the retry
// budget bounds the damage of a wrong guess.
func Classify(errMsg string) FailureClass {
	msg := strings.ToLower(errMsg)
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return Fatal
		}
	}
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return Retryable
		}
	}
	return Retryable
}
