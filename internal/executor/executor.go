// Package executor defines the boundary to the external capability that
// performs the actual work for a task. The engine treats it as opaque,
// slow, and unreliable; everything behind the interface is out of the
// orchestration core's hands.
package executor

import (
	"context"

	"github.com/seanmoran/hivemind/pkg/models"
)

// Executor runs one task attempt. Implementations may shell out, call an
// API, or anything else; they must honor ctx cancellation and deadlines.
type Executor interface {
	Run(ctx context.Context, task *models.HierarchicalTask) (*models.ExecutionResult, error)
}

// Func adapts a function to the Executor interface.
type Func func(ctx context.Context, task *models.HierarchicalTask) (*models.ExecutionResult, error)

// Run calls f.
func (f Func) Run(ctx context.Context, task *models.HierarchicalTask) (*models.ExecutionResult, error) {
	return f(ctx, task)
}
