package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/seanmoran/hivemind/internal/config"
	"github.com/seanmoran/hivemind/internal/session"
	"github.com/seanmoran/hivemind/pkg/models"
)

var (
	runName       string
	runWorkFolder string
	runRole       string
	runAgents     int
	runMaxDepth   int
	runTimeout    time.Duration
	runNoPlan     bool
	runProfiles   string
)

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Run a task with a swarm of agents",
	Long: `Run a task by decomposing it into a hierarchy of subtasks and
dispatching them to a pool of worker agents.

The root task is handed to the planner first (unless --no-plan is set),
then the scheduler dispatches ready tasks respecting dependencies and
the concurrency cap. Every result is verified by the judge; failing
results loop through rework until they pass or the retry budget runs
out. Checkpoints are taken on an interval and at lifecycle boundaries.

Interrupting with Ctrl-C pauses the session behind a checkpoint; use
'hivemind resume <session-id>' to continue it later.

The worker command comes from executor.command in the config file or
the HIVEMIND_EXECUTOR environment variable. It receives each task
prompt on stdin and signals success with a zero exit status.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTask,
}

func init() {
	runCmd.Flags().StringVar(&runName, "name", "", "Session name (defaults to the task)")
	runCmd.Flags().StringVar(&runWorkFolder, "work-folder", "", "Working directory for agents")
	runCmd.Flags().StringVar(&runRole, "role", "generic", "Root task role: generic, researcher, coder, tester, reviewer, analyst, documenter")
	runCmd.Flags().IntVar(&runAgents, "agents", 0, "Concurrent agent cap (overrides config)")
	runCmd.Flags().IntVar(&runMaxDepth, "max-depth", 0, "Maximum decomposition depth (overrides config)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Session timeout (overrides config)")
	runCmd.Flags().BoolVar(&runNoPlan, "no-plan", false, "Skip decomposition, run the root task as-is")
	runCmd.Flags().StringVar(&runProfiles, "profiles", "", "Directory with role profile YAML files")
}

func runTask(cmd *cobra.Command, args []string) error {
	task := args[0]

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	sessionCfg := cfg.SessionConfig()
	if runAgents > 0 {
		sessionCfg.MaxConcurrentAgents = runAgents
		if runAgents > sessionCfg.MaxAgents {
			sessionCfg.MaxAgents = runAgents
		}
	}
	if runMaxDepth > 0 {
		sessionCfg.MaxTaskDepth = runMaxDepth
	}
	if runTimeout > 0 {
		sessionCfg.SessionTimeout = runTimeout
	}

	role := models.AgentRole(runRole)
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", runRole)
	}
	profiles, err := config.LoadRoleProfiles(runProfiles)
	if err != nil {
		return err
	}
	prompt := task
	if p := profiles.Get(role); p != nil {
		if p.PromptPreamble != "" {
			prompt = p.PromptPreamble + "\n\n" + task
		}
		if p.Timeout > 0 {
			sessionCfg.AgentTimeout = p.Timeout
		}
		if p.MaxRetries > 0 {
			sessionCfg.MaxRetries = p.MaxRetries
		}
		if p.PassThreshold > 0 {
			sessionCfg.JudgePassThreshold = p.PassThreshold
		}
	}

	mgr, cleanup, err := buildManager(cfg, sessionCfg.MaxCheckpointsPerSession)
	if err != nil {
		return err
	}
	defer cleanup()

	name := runName
	if name == "" {
		name = task
	}
	workFolder := runWorkFolder
	if workFolder == "" {
		workFolder = cfg.Executor.WorkFolder
	}
	sess, err := mgr.CreateSession(session.CreateRequest{
		Name:       name,
		Task:       task,
		Prompt:     prompt,
		WorkFolder: workFolder,
		Role:       role,
		Config:     &sessionCfg,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Session %s started (%d agent slots, depth limit %d)\n",
		color.CyanString(sess.ID), sessionCfg.MaxConcurrentAgents, sessionCfg.MaxTaskDepth)

	if !runNoPlan {
		ctx, cancel := context.WithTimeout(context.Background(), sessionCfg.AgentTimeout)
		children, capped, planErr := mgr.PlanTask(ctx, sess.ID, sess.RootTaskID)
		cancel()
		switch {
		case planErr != nil:
			fmt.Printf("%s planning failed, running root task directly: %v\n", color.YellowString("!"), planErr)
		case children == 0:
			fmt.Println("Planner kept the task atomic")
		default:
			fmt.Printf("Planned %d subtasks", children)
			if capped {
				fmt.Print(" (depth limit reached)")
			}
			fmt.Println()
		}
	}

	if err := mgr.Start(sess.ID); err != nil {
		return err
	}
	return superviseSession(mgr, sess.ID)
}

// superviseSession waits for the session to settle, pausing it behind a
// checkpoint on interrupt.
func superviseSession(mgr *session.Manager, sessionID string) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			fmt.Println("\nInterrupted, pausing session...")
			if _, err := mgr.PauseSession(sessionID, true, "interrupt"); err != nil {
				return fmt.Errorf("pause on interrupt: %w", err)
			}
			fmt.Printf("Paused. Continue later with: hivemind resume %s\n", sessionID)
			return nil
		case <-ticker.C:
			sess, err := mgr.GetSession(sessionID)
			if err != nil {
				return err
			}
			switch sess.Status {
			case models.SessionCompleted:
				printSummary(sess)
				return nil
			case models.SessionFailed:
				printSummary(sess)
				return errors.New("session failed")
			}
		}
	}
}

func printSummary(sess *models.SwarmSession) {
	m := sess.Metrics
	statusStr := color.GreenString(string(sess.Status))
	if sess.Status == models.SessionFailed {
		statusStr = color.RedString(string(sess.Status))
	}
	fmt.Printf("\nSession %s: %s\n", sess.ID, statusStr)
	fmt.Printf("  Tasks: %d total, %s completed, %s failed\n",
		m.TotalTasks,
		color.GreenString("%d", m.CompletedTasks),
		color.RedString("%d", m.FailedTasks))
	if m.TotalRetries > 0 || m.TotalReworks > 0 {
		fmt.Printf("  Recovery: %d retries, %d reworks\n", m.TotalRetries, m.TotalReworks)
	}
	if sess.StartedAt != nil && sess.CompletedAt != nil {
		fmt.Printf("  Duration: %s\n", sess.CompletedAt.Sub(*sess.StartedAt).Round(time.Second))
	}
	if sess.LastCheckpointID != "" {
		fmt.Printf("  Last checkpoint: %s\n", sess.LastCheckpointID)
	}
	for _, e := range sess.Errors {
		if e.Severity == models.SeverityCritical {
			fmt.Printf("  %s %s\n", color.RedString("critical:"), e.Message)
		}
	}
}
