package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hivemind",
	Short: "Swarm orchestration engine",
	Long: `Hivemind runs swarms of worker agents against a hierarchical task
tree. Work is decomposed into subtasks with explicit dependencies,
dispatched to a bounded agent pool, verified by a judge against weighted
quality criteria, and checkpointed so sessions survive interruption.

Core capabilities:
- Decomposes a goal into a dependency-aware task hierarchy
- Schedules ready tasks across a pool of 1-500 agent slots
- Verifies results with scored criteria and rework loops
- Checkpoints sessions durably and resumes them across processes`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(versionCmd)
}
