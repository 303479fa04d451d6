package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/seanmoran/hivemind/internal/checkpoint"
	"github.com/seanmoran/hivemind/internal/config"
)

var (
	checkpointListLimit   int
	checkpointListVerify  bool
	checkpointDescription string
	checkpointRetryFailed bool
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Manage session checkpoints",
}

var checkpointListCmd = &cobra.Command{
	Use:   "list <session-id>",
	Short: "List a session's checkpoints",
	Long: `List the stored checkpoints for a session, newest first.

With --verify, each checkpoint is loaded and its checksum re-validated,
flagging any snapshot that was corrupted on disk.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckpointList,
}

var checkpointCreateCmd = &cobra.Command{
	Use:   "create <session-id>",
	Short: "Snapshot a session now",
	Long: `Take a manual checkpoint of a paused session.

The session is loaded from its most recent checkpoint and snapshotted
again with the given description, making the description the marker for
the session's current durable state.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckpointCreate,
}

var checkpointRestoreCmd = &cobra.Command{
	Use:   "restore <session-id> <checkpoint-id>",
	Short: "Roll a session back to a checkpoint",
	Long: `Restore a session's task tree from a specific checkpoint and write
the restored state as the newest checkpoint, so a plain 'hivemind
resume' continues from it.

With --retry-failed, tasks that had failed at snapshot time are reset
to pending with a fresh retry budget.`,
	Args: cobra.ExactArgs(2),
	RunE: runCheckpointRestore,
}

func init() {
	checkpointListCmd.Flags().IntVar(&checkpointListLimit, "limit", 0, "Show at most N checkpoints (0 = all)")
	checkpointListCmd.Flags().BoolVar(&checkpointListVerify, "verify", false, "Re-validate checksums")
	checkpointCreateCmd.Flags().StringVarP(&checkpointDescription, "message", "m", "manual checkpoint", "Checkpoint description")
	checkpointRestoreCmd.Flags().BoolVar(&checkpointRetryFailed, "retry-failed", false, "Reset failed tasks to pending")

	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointCreateCmd)
	checkpointCmd.AddCommand(checkpointRestoreCmd)
}

func runCheckpointList(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, err := checkpoint.NewStore(cfg.CheckpointDir(), 0)
	if err != nil {
		return err
	}
	infos, err := store.List(sessionID)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Printf("No checkpoints for session %s\n", sessionID)
		return nil
	}
	if checkpointListLimit > 0 && checkpointListLimit < len(infos) {
		infos = infos[:checkpointListLimit]
	}

	for _, info := range infos {
		line := fmt.Sprintf("  %s  %-9s  %8d bytes  %s ago",
			info.ID, info.Trigger, info.SizeBytes, formatDuration(time.Since(info.Timestamp)))
		if info.Description != "" {
			line += "  " + info.Description
		}
		if checkpointListVerify {
			if _, err := store.Load(sessionID, info.ID); err != nil {
				if errors.Is(err, checkpoint.ErrChecksumMismatch) {
					line += "  " + color.RedString("CORRUPT")
				} else {
					line += "  " + color.RedString("unreadable: %v", err)
				}
			} else {
				line += "  " + color.GreenString("ok")
			}
		}
		fmt.Println(line)
	}
	return nil
}

func runCheckpointCreate(cmd *cobra.Command, args []string) error {
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

	if _, err := mgr.ImportCheckpoint(sessionID, "", false); err != nil {
		return err
	}
	cp, err := mgr.CreateCheckpoint(sessionID, checkpointDescription)
	if err != nil {
		return err
	}
	fmt.Printf("Checkpoint %s created (%d tasks)\n", color.CyanString(cp.ID), len(cp.Tasks))
	return nil
}

func runCheckpointRestore(cmd *cobra.Command, args []string) error {
	sessionID, checkpointID := args[0], args[1]

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	mgr, cleanup, err := buildManager(cfg, 0)
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := mgr.ImportCheckpoint(sessionID, checkpointID, checkpointRetryFailed); err != nil {
		return err
	}
	sess, err := mgr.RestoreCheckpoint(sessionID, checkpointID, checkpointRetryFailed)
	if err != nil {
		return err
	}
	// Re-snapshot so the restored tree is the newest checkpoint on disk.
	cp, err := mgr.CreateCheckpoint(sessionID, "restored from "+checkpointID)
	if err != nil {
		return err
	}
	m := sess.Metrics
	fmt.Printf("Session %s restored from %s (%d pending, %d completed, %d failed)\n",
		color.CyanString(sessionID), checkpointID, m.PendingTasks, m.CompletedTasks, m.FailedTasks)
	fmt.Printf("New checkpoint: %s\n", cp.ID)
	return nil
}
