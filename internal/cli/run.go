package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fenwick-dev/samplebox/internal/config"
	"github.com/fenwick-dev/samplebox/internal/runner"
	"github.com/fenwick-dev/samplebox/internal/sample"
	"github.com/fenwick-dev/samplebox/internal/scheduler"
	"github.com/fenwick-dev/samplebox/internal/session"
	"github.com/fenwick-dev/samplebox/internal/shuffle"
	"github.com/fenwick-dev/samplebox/internal/store"
)

var (
	runMode         string
	runTimeout      string
	runDBPath       string
	runRoot         string
	runPackages     string
	runSeed         int64
	runRandomize    bool
	runHashFiles    bool
	runImmediate    bool
	runNoPruning    bool
	runRest         bool
	runAllowRebuild bool
	runDryRun       bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one sampling session over the test suite",
	Long: `Run collects the test suite, orders it for this session and executes
tests until the soft time budget expires.

In stateless mode the whole suite is shuffled. In stateful mode tests
that have never succeeded run first, followed by previously successful
tests ordered oldest success first.

Examples:
  samplebox run --timeout 10m
  samplebox run --mode stateful --db .samplebox.db
  samplebox run --seed 42 --dry-run`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runMode, "mode", "m", "", "scheduling mode (stateless, stateful)")
	runCmd.Flags().StringVarP(&runTimeout, "timeout", "t", "", "soft time budget, e.g. 50m or 'off'")
	runCmd.Flags().StringVar(&runDBPath, "db", "", "history database path (stateful mode)")
	runCmd.Flags().StringVar(&runRoot, "root", "", "repository root to collect tests under")
	runCmd.Flags().StringVar(&runPackages, "packages", "", "package pattern to collect, e.g. ./...")
	runCmd.Flags().Int64Var(&runSeed, "seed", 0, "fixed shuffle seed for reproducible runs")
	runCmd.Flags().BoolVar(&runRandomize, "randomize-unseen", false, "shuffle the unseen block in stateful mode")
	runCmd.Flags().BoolVar(&runHashFiles, "hash-files", false, "invalidate history when test files change")
	runCmd.Flags().BoolVar(&runImmediate, "write-immediately", false, "persist each success as it happens")
	runCmd.Flags().BoolVar(&runNoPruning, "no-pruning", false, "keep records for tests that no longer exist")
	runCmd.Flags().BoolVar(&runRest, "rest-on-saturation", false, "clear run records once every test has succeeded")
	runCmd.Flags().BoolVar(&runAllowRebuild, "allow-overwrite-broken-db", false, "recreate the database if it cannot be opened")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "print the planned order without executing tests")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received interrupt signal, winding down session...")
		cancel()
	}()

	r := &runner.GoTest{
		Root:     cfg.Root,
		Packages: cfg.Runner.Packages,
		Logger:   logger,
	}

	if runDryRun {
		return previewPlan(ctx, cfg, r)
	}

	sum, err := session.New(cfg, r, logger).Run(ctx)
	if err != nil {
		return err
	}

	printSummary(sum)
	if sum.Failed > 0 {
		return fmt.Errorf("%d of %d executed tests failed", sum.Failed, sum.Executed)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if found, err := config.FindConfigFile(); err == nil {
			path = found
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// applyRunFlags overlays explicitly set flags on the file config.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("mode") {
		cfg.Mode = runMode
	}
	if flags.Changed("timeout") {
		cfg.SoftTimeout = runTimeout
	}
	if flags.Changed("db") {
		cfg.DBPath = runDBPath
	}
	if flags.Changed("root") {
		cfg.Root = runRoot
	}
	if flags.Changed("packages") {
		cfg.Runner.Packages = runPackages
	}
	if flags.Changed("seed") {
		seed := runSeed
		cfg.Seed = &seed
	}
	if flags.Changed("randomize-unseen") {
		cfg.RandomizeUnseen = runRandomize
	}
	if flags.Changed("hash-files") {
		cfg.HashTestFiles = runHashFiles
	}
	if flags.Changed("write-immediately") {
		cfg.WriteImmediately = runImmediate
	}
	if flags.Changed("no-pruning") {
		cfg.NoPruning = runNoPruning
	}
	if flags.Changed("rest-on-saturation") {
		cfg.RestOnSaturation = runRest
	}
	if flags.Changed("allow-overwrite-broken-db") {
		cfg.AllowOverwriteBroken = runAllowRebuild
	}
}

// previewPlan prints the order a session would use. The store is
// opened read-only in effect: pruning and fingerprinting are forced
// off so a preview never mutates history.
func previewPlan(ctx context.Context, cfg *config.Config, r sample.Runner) error {
	universe, err := r.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collecting tests: %w", err)
	}

	var src *shuffle.Source
	if cfg.Seed != nil {
		src = shuffle.New(*cfg.Seed)
	} else {
		src = shuffle.FromEntropy()
	}

	var plan *scheduler.Plan
	if cfg.Stateful() {
		st, err := store.Open(cfg.DBPath, false, nil)
		if err != nil {
			return fmt.Errorf("opening history store: %w", err)
		}
		defer st.Close()

		opts := scheduler.Options{NoPruning: true}
		if cfg.RandomizeUnseen {
			opts.Shuffle = src
			opts.RandomizeUnseen = true
		}
		plan, err = scheduler.Stateful(st, universe, opts, logger)
		if err != nil {
			return fmt.Errorf("planning session: %w", err)
		}
	} else {
		plan = scheduler.Stateless(universe, src)
	}

	fmt.Printf("Planned order (%d tests, %d unseen, seed %d):\n",
		len(plan.Order), plan.Unseen, src.Seed())
	for i, id := range plan.Order {
		marker := "seen"
		if i < plan.Unseen {
			marker = "unseen"
		}
		if !cfg.Stateful() {
			marker = "shuffled"
		}
		fmt.Printf("  %3d. %-8s %s\n", i+1, marker, id)
	}
	if plan.Saturated {
		fmt.Println("\nEvery test has a recorded success; the store is saturated.")
	}
	return nil
}

func printSummary(sum *session.Summary) {
	fmt.Printf("\nSession %s (%s mode, seed %d)\n", sum.RunID, sum.Mode, sum.Seed)
	fmt.Printf("  collected: %d\n", sum.Total)
	fmt.Printf("  executed:  %d\n", sum.Executed)
	fmt.Printf("  passed:    %d\n", sum.Passed)
	fmt.Printf("  failed:    %d\n", sum.Failed)
	fmt.Printf("  skipped:   %d\n", sum.Skipped)
	if sum.Expired {
		fmt.Println("  soft timeout expired before the plan finished")
	}
	if sum.Saturated {
		fmt.Println("  store was saturated going into this session")
	}
}
