package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/seanmoran/hivemind/internal/config"
)

var planCmd = &cobra.Command{
	Use:   "plan <session-id> [task-id]",
	Short: "Decompose a task into subtasks",
	Long: `Decompose a task in a paused session into dependency-linked
subtasks.

The session is loaded from its most recent checkpoint, the task (the
session's root task when no task id is given) is handed to the planner,
and the expanded tree is written back as a new checkpoint. Resume the
session afterwards to execute the plan.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	mgr, cleanup, err := buildManager(cfg, 0)
	if err != nil {
		return err
	}
	defer cleanup()

	sess, err := mgr.ImportCheckpoint(sessionID, "", false)
	if err != nil {
		return err
	}
	taskID := sess.RootTaskID
	if len(args) == 2 {
		taskID = args[1]
	}

	ctx, cancel := context.WithTimeout(context.Background(), sess.Config.AgentTimeout)
	defer cancel()
	children, capped, err := mgr.PlanTask(ctx, sessionID, taskID)
	if err != nil {
		return fmt.Errorf("plan %s: %w", taskID, err)
	}
	if children == 0 {
		fmt.Println("Planner kept the task atomic")
		return nil
	}

	cp, err := mgr.CreateCheckpoint(sessionID, fmt.Sprintf("planned %s", taskID))
	if err != nil {
		return err
	}
	fmt.Printf("Planned %d subtasks under %s", children, color.CyanString(taskID))
	if capped {
		fmt.Print(" (depth limit reached)")
	}
	fmt.Println()
	fmt.Printf("Checkpoint: %s\n", cp.ID)
	return nil
}
