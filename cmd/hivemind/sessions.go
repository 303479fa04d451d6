package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/seanmoran/hivemind/internal/config"
	"github.com/seanmoran/hivemind/internal/state"
	"github.com/seanmoran/hivemind/pkg/models"
)

var (
	sessionsStatus string
	sessionsPurge  bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions from the index",
	Long: `List sessions recorded in the session index, newest first.

Use --status to filter by lifecycle state. --purge removes finished
sessions older than seven days along with their index rows.`,
	RunE: runSessions,
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsStatus, "status", "", "Filter by status (active, paused, completed, failed, archived)")
	sessionsCmd.Flags().BoolVar(&sessionsPurge, "purge", false, "Remove finished sessions older than 7 days")
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	dbPath := cfg.DatabasePath()
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No sessions yet.")
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

	if sessionsPurge {
		n, err := db.PurgeOldSessions(7 * 24 * time.Hour)
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d old sessions\n", n)
		return nil
	}

	var filter *models.SessionStatus
	if sessionsStatus != "" {
		status := models.SessionStatus(sessionsStatus)
		if !status.Valid() {
			return fmt.Errorf("unknown status %q", sessionsStatus)
		}
		filter = &status
	}
	records, err := db.ListSessions(filter)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No matching sessions.")
		return nil
	}
	for _, r := range records {
		fmt.Printf("  %s  %-10s  %2d/%2d tasks  %s\n",
			r.ID, colorStatus(r.Status), r.CompletedTasks, r.TotalTasks, r.Name)
	}
	return nil
}
