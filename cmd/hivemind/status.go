package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/seanmoran/hivemind/internal/config"
	"github.com/seanmoran/hivemind/internal/state"
	"github.com/seanmoran/hivemind/pkg/models"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show the state of a session",
	Long: `Display a session's lifecycle state, task counts, and checkpoints
from the session index. Without an argument, lists recent sessions.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "text", "Output format: text or yaml")
}

// statusView is the serializable answer to a status query.
type statusView struct {
	Session     state.SessionRecord          `yaml:"session"`
	Tasks       map[models.TaskStatus]int    `yaml:"tasks,omitempty"`
	Checkpoints []models.CheckpointInfo      `yaml:"checkpoints,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	dbPath := cfg.DatabasePath()
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No sessions yet. Run 'hivemind run <task>' to start one.")
		return nil
	}
	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open session index: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate session index: %w", err)
	}

	if len(args) == 0 {
		return displayRecentSessions(db)
	}

	sessionID := args[0]
	record, err := db.GetSession(sessionID)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	counts, err := db.CountTasksByStatus(sessionID)
	if err != nil {
		return err
	}
	checkpoints, err := db.ListCheckpoints(sessionID)
	if err != nil {
		return err
	}

	view := statusView{Session: *record, Tasks: counts, Checkpoints: checkpoints}
	if statusOutput == "yaml" {
		out, err := yaml.Marshal(view)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	}
	displayStatus(view)
	return nil
}

func displayStatus(view statusView) {
	s := view.Session
	fmt.Printf("Session %s (%s)\n", color.CyanString(s.ID), s.Name)
	fmt.Printf("  Status: %s\n", colorStatus(s.Status))
	fmt.Printf("  Created: %s ago\n", formatDuration(time.Since(s.CreatedAt)))
	if s.CompletedAt != nil {
		fmt.Printf("  Finished: %s ago\n", formatDuration(time.Since(*s.CompletedAt)))
	}
	fmt.Printf("  Tasks: %d total, %d completed, %d failed\n", s.TotalTasks, s.CompletedTasks, s.FailedTasks)

	if len(view.Tasks) > 0 {
		fmt.Println("  By status:")
		for _, status := range []models.TaskStatus{
			models.TaskStatusPending, models.TaskStatusQueued, models.TaskStatusBlocked,
			models.TaskStatusInProgress, models.TaskStatusVerifying, models.TaskStatusRework,
			models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusCancelled,
		} {
			if n := view.Tasks[status]; n > 0 {
				fmt.Printf("    %-12s %d\n", status, n)
			}
		}
	}
	if len(view.Checkpoints) > 0 {
		fmt.Printf("  Checkpoints: %d (latest %s, %s ago)\n",
			len(view.Checkpoints), view.Checkpoints[0].ID,
			formatDuration(time.Since(view.Checkpoints[0].Timestamp)))
	}
}

func displayRecentSessions(db *state.DB) error {
	records, err := db.ListSessions(nil)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No sessions yet. Run 'hivemind run <task>' to start one.")
		return nil
	}
	fmt.Println("Recent sessions:")
	limit := len(records)
	if limit > 10 {
		limit = 10
	}
	for _, r := range records[:limit] {
		fmt.Printf("  %s  %-10s  %2d/%2d tasks  %s  %s\n",
			r.ID, colorStatus(r.Status), r.CompletedTasks, r.TotalTasks,
			formatDuration(time.Since(r.CreatedAt))+" ago", r.Name)
	}
	return nil
}

func colorStatus(s models.SessionStatus) string {
	switch s {
	case models.SessionActive, models.SessionResuming:
		return color.CyanString(string(s))
	case models.SessionCompleted:
		return color.GreenString(string(s))
	case models.SessionFailed:
		return color.RedString(string(s))
	case models.SessionPaused:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
