package cli

import (
	"testing"

	"github.com/fenwick-dev/samplebox/internal/config"
)

func TestApplyRunFlagsOverridesConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SoftTimeout = "50m"
	cfg.Runner.Packages = "./..."

	flags := runCmd.Flags()
	mustSet := func(name, value string) {
		t.Helper()
		if err := flags.Set(name, value); err != nil {
			t.Fatalf("setting --%s: %v", name, err)
		}
	}
	mustSet("mode", "stateful")
	mustSet("db", ".samplebox.db")
	mustSet("timeout", "10m")
	mustSet("seed", "42")

	applyRunFlags(runCmd, cfg)

	if cfg.Mode != config.ModeStateful {
		t.Errorf("mode = %q, want stateful", cfg.Mode)
	}
	if cfg.DBPath != ".samplebox.db" {
		t.Errorf("db_path = %q, want .samplebox.db", cfg.DBPath)
	}
	if cfg.SoftTimeout != "10m" {
		t.Errorf("soft_timeout = %q, want 10m", cfg.SoftTimeout)
	}
	if cfg.Seed == nil || *cfg.Seed != 42 {
		t.Errorf("seed = %v, want 42", cfg.Seed)
	}

	// Flags never touched keep their file-config values.
	if cfg.Runner.Packages != "./..." {
		t.Errorf("packages = %q, want untouched default", cfg.Runner.Packages)
	}
	if cfg.NoPruning {
		t.Error("no_pruning flipped without its flag being set")
	}
}

func TestResolveDBPathPrefersFlag(t *testing.T) {
	path, err := resolveDBPath("/tmp/explicit.db")
	if err != nil {
		t.Fatalf("resolveDBPath: %v", err)
	}
	if path != "/tmp/explicit.db" {
		t.Errorf("path = %q, want the flag value", path)
	}
}
