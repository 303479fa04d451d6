package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/seanmoran/hivemind/pkg/models"
)

// CommandRunner invokes an external command per task, feeding the task
// prompt on stdin and treating a zero exit status as success. This is
// the default production executor.
type CommandRunner struct {
	// Command is the executable to invoke.
	Command string
	// Args are passed before the task prompt.
	Args []string
	// WorkDir is the working directory for the command, if non-empty.
	WorkDir string
}

// NewCommandRunner creates a CommandRunner for the given command line.
func NewCommandRunner(command string, args ...string) *CommandRunner {
	return &CommandRunner{Command: command, Args: args}
}

// Run executes the command for one task attempt.
func (r *CommandRunner) Run(ctx context.Context, task *models.HierarchicalTask) (*models.ExecutionResult, error) {
	start := time.Now()

	prompt := task.Prompt
	if task.ReworkInstructions != "" {
		prompt = fmt.Sprintf("%s\n\nRework feedback from the previous attempt:\n%s", prompt, task.ReworkInstructions)
	}

	cmd := exec.CommandContext(ctx, r.Command, r.Args...)
	if r.WorkDir != "" {
		cmd.Dir = r.WorkDir
	}
	cmd.Stdin = bytes.NewReader([]byte(prompt))

	output, err := cmd.CombinedOutput()
	result := &models.ExecutionResult{
		Output:   string(output),
		Duration: time.Since(start),
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.Error = fmt.Sprintf("executor timed out after %s", result.Duration.Round(time.Millisecond))
		return result, nil
	}
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}

	result.Success = true
	return result, nil
}

// Verify CommandRunner implements Executor at compile time.
var _ Executor = (*CommandRunner)(nil)
