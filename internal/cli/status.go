package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fenwick-dev/samplebox/internal/store"
)

var (
	statusDBPath   string
	statusSessions int
	statusJSON     bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show history store contents and recent sessions",
	Long: `Status summarizes the persistent history: how many tests have a
recorded success, how stale the oldest record is, which test files are
fingerprinted and what the last few sessions did.

Examples:
  samplebox status --db .samplebox.db
  samplebox status --db .samplebox.db --sessions 10
  samplebox status --db .samplebox.db --json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusDBPath, "db", "", "history database path")
	statusCmd.Flags().IntVar(&statusSessions, "sessions", 5, "number of recent sessions to show")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output in JSON format")
}

func runStatus(cmd *cobra.Command, args []string) error {
	path, err := resolveDBPath(statusDBPath)
	if err != nil {
		return err
	}

	st, err := store.Open(path, false, logger)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer st.Close()

	runs, err := st.ListRuns()
	if err != nil {
		return fmt.Errorf("reading run records: %w", err)
	}
	fingerprints, err := st.CountFingerprints()
	if err != nil {
		return fmt.Errorf("counting fingerprints: %w", err)
	}
	sessions, err := st.RecentSessions(statusSessions)
	if err != nil {
		return fmt.Errorf("reading sessions: %w", err)
	}

	if statusJSON {
		return printStatusJSON(path, runs, fingerprints, sessions)
	}
	return printStatusText(path, runs, fingerprints, sessions)
}

func printStatusText(path string, runs []store.RunRecord, fingerprints int, sessions []store.SessionRecord) error {
	fmt.Printf("History store: %s\n", path)
	fmt.Printf("  recorded successes: %d\n", len(runs))
	fmt.Printf("  fingerprinted files: %d\n", fingerprints)

	if len(runs) > 0 {
		// ListRuns orders ascending by last success, so the first
		// record is the one the next session will reach for first.
		oldest := runs[0]
		newest := runs[len(runs)-1]
		fmt.Printf("  oldest success: %s (%s)\n", oldest.ID, humanize.Time(oldest.LastRun))
		fmt.Printf("  newest success: %s (%s)\n", newest.ID, humanize.Time(newest.LastRun))
	}

	if len(sessions) == 0 {
		fmt.Println("\nNo sessions recorded yet. Run 'samplebox run' to start.")
		return nil
	}

	fmt.Println("\nRecent sessions:")
	for _, s := range sessions {
		fmt.Printf("  %s  %-9s executed=%-4d passed=%-4d failed=%-4d skipped=%-4d %s\n",
			s.RunID[:8], s.Mode, s.Executed, s.Passed, s.Failed, s.Skipped,
			humanize.Time(s.StartedAt))
	}
	return nil
}

func printStatusJSON(path string, runs []store.RunRecord, fingerprints int, sessions []store.SessionRecord) error {
	fmt.Printf(`{
  "db_path": "%s",
  "run_records": %d,
  "fingerprints": %d,
  "sessions": %d
}
`, path, len(runs), fingerprints, len(sessions))
	return nil
}

// resolveDBPath takes the flag value or falls back to the config file.
func resolveDBPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	if cfg.DBPath == "" {
		return "", fmt.Errorf("no database configured: pass --db or set db_path in samplebox.yaml")
	}
	return cfg.DBPath, nil
}
