package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fenwick-dev/samplebox/internal/config"
)

var (
	initStateful bool
	initForce    bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a samplebox.yaml with default settings",
	Long: `Init writes a samplebox.yaml into the current directory so the
defaults are visible and editable.

Examples:
  samplebox init
  samplebox init --stateful
  samplebox init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initStateful, "stateful", false, "configure stateful mode with a local database")
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing samplebox.yaml")
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}
	path := filepath.Join(cwd, "samplebox.yaml")

	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("samplebox.yaml already exists: use --force to overwrite")
		}
	}

	cfg := config.DefaultConfig()
	if initStateful {
		cfg.Mode = config.ModeStateful
		cfg.DBPath = ".samplebox.db"
	}

	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	logger.Info("created samplebox.yaml", "mode", cfg.Mode)
	fmt.Printf("✓ Initialized samplebox config: %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Adjust soft_timeout and runner.packages in samplebox.yaml")
	fmt.Println("  2. Run 'samplebox run' to sample the suite")
	return nil
}
