package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/seanmoran/hivemind/internal/config"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <session-id> <task-id>",
	Short: "Re-judge a task's result",
	Long: `Run the judge against a task's recorded result in a paused session.

The session is loaded from its most recent checkpoint and the verdict
is printed with its per-criterion scores. The verdict's status change
is written back as a new checkpoint.`,
	Args: cobra.ExactArgs(2),
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	sessionID, taskID := args[0], args[1]

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

	ctx, cancel := context.WithTimeout(context.Background(), sess.Config.AgentTimeout)
	defer cancel()
	verdict, err := mgr.VerifyTask(ctx, sessionID, taskID)
	if err != nil {
		return fmt.Errorf("verify %s: %w", taskID, err)
	}

	result := color.GreenString("PASS")
	if !verdict.Passed {
		result = color.RedString("FAIL")
	}
	fmt.Printf("Task %s: %s (score %.3f, confidence %.2f)\n",
		color.CyanString(taskID), result, verdict.OverallScore, verdict.Confidence)
	for _, c := range verdict.Criteria {
		fmt.Printf("  %-14s %.2f  %s\n", c.Type, c.Score, c.Feedback)
	}
	if verdict.RequiresHumanApproval {
		fmt.Println(color.YellowString("  Low confidence, verdict flagged for human review"))
	}
	if verdict.RequiresRework {
		fmt.Printf("  Rework: %s\n", verdict.ReworkInstructions)
	}

	if _, err := mgr.CreateCheckpoint(sessionID, "verified "+taskID); err != nil {
		return err
	}
	return nil
}
