package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fenwick-dev/samplebox/internal/store"
)

var (
	resetDBPath       string
	resetFingerprints bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear recorded successes from the history store",
	Long: `Reset deletes every run record so the next session treats the whole
suite as unseen. Fingerprints survive unless --fingerprints is given,
so file-change detection keeps working across the reset.

Examples:
  samplebox reset --db .samplebox.db
  samplebox reset --db .samplebox.db --fingerprints`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().StringVar(&resetDBPath, "db", "", "history database path")
	resetCmd.Flags().BoolVar(&resetFingerprints, "fingerprints", false, "also clear file fingerprints")
}

func runReset(cmd *cobra.Command, args []string) error {
	path, err := resolveDBPath(resetDBPath)
	if err != nil {
		return err
	}

	st, err := store.Open(path, false, logger)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer st.Close()

	dropped, err := st.ClearRuns()
	if err != nil {
		return fmt.Errorf("clearing run records: %w", err)
	}
	fmt.Printf("Cleared %d run records.\n", dropped)

	if resetFingerprints {
		cleared, err := st.ClearFingerprints()
		if err != nil {
			return fmt.Errorf("clearing fingerprints: %w", err)
		}
		fmt.Printf("Cleared %d fingerprints.\n", cleared)
	}
	return nil
}
