package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/seanmoran/hivemind/internal/config"
)

var (
	resumeCheckpoint  string
	resumeRetryFailed bool
)

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a paused or failed session from a checkpoint",
	Long: `Resume a session from its stored checkpoints.

By default the latest checkpoint is used; pass --checkpoint to pick an
older one. Work that was in flight when the checkpoint was taken goes
back to pending. With --retry-failed, permanently failed tasks are
reset and retried with a fresh retry budget.`,
	Args: cobra.ExactArgs(1),
	RunE: resumeSession,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeCheckpoint, "checkpoint", "", "Checkpoint ID to restore (defaults to latest)")
	resumeCmd.Flags().BoolVar(&resumeRetryFailed, "retry-failed", false, "Reset failed tasks and retry them")
}

func resumeSession(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	sessionCfg := cfg.SessionConfig()
	mgr, cleanup, err := buildManager(cfg, sessionCfg.MaxCheckpointsPerSession)
	if err != nil {
		return err
	}
	defer cleanup()

	imported, err := mgr.ImportCheckpoint(sessionID, resumeCheckpoint, resumeRetryFailed)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %s from checkpoint %s (%d tasks)\n",
		color.CyanString(imported.ID), imported.LastCheckpointID, imported.Metrics.TotalTasks)

	if _, err := mgr.ResumeSession(sessionID, resumeCheckpoint, resumeRetryFailed); err != nil {
		return err
	}
	return superviseSession(mgr, sessionID)
}
