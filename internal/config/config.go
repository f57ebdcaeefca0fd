// Package config handles samplebox configuration parsing and
// validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Scheduling modes.
const (
	ModeStateless = "stateless"
	ModeStateful  = "stateful"
)

// TimeoutOff disables the soft timeout when used as the SoftTimeout
// value.
const TimeoutOff = "off"

// Configuration errors. All of them abort a session before any test
// executes.
var (
	ErrBadMode          = errors.New("mode must be \"stateless\" or \"stateful\"")
	ErrMissingDBPath    = errors.New("stateful mode requires db_path")
	ErrUnexpectedDBPath = errors.New("db_path must not be set in stateless mode")
	ErrBadTimeout       = errors.New("soft_timeout must be a non-negative duration or \"off\"")
)

// Config represents the samplebox.yaml configuration file.
type Config struct {
	Mode        string `yaml:"mode"`
	SoftTimeout string `yaml:"soft_timeout"`
	DBPath      string `yaml:"db_path,omitempty"`
	Root        string `yaml:"root"`

	// Seed is nil when a fresh seed should be drawn per session.
	Seed *int64 `yaml:"seed,omitempty"`

	WarnOnSeedInStateless bool `yaml:"warn_on_seed_in_stateless"`
	RandomizeUnseen       bool `yaml:"randomize_unseen"`
	HashTestFiles         bool `yaml:"hash_test_files"`
	RestOnSaturation      bool `yaml:"rest_on_saturation"`
	WriteImmediately      bool `yaml:"write_immediately"`
	NoPruning             bool `yaml:"no_pruning"`
	AllowOverwriteBroken  bool `yaml:"allow_overwrite_broken_db"`
	EnableStoreLogging    bool `yaml:"enable_store_logging"`

	Runner RunnerConfig `yaml:"runner"`
}

// RunnerConfig selects and parameterizes the external test runner.
type RunnerConfig struct {
	// Packages is the package pattern handed to the go test runner.
	Packages string `yaml:"packages"`
}

// DefaultConfig returns a configuration with sensible defaults. The
// default soft timeout matches the original 50 minute session budget.
func DefaultConfig() *Config {
	return &Config{
		Mode:                  ModeStateless,
		SoftTimeout:           "50m",
		Root:                  ".",
		WarnOnSeedInStateless: true,
		Runner: RunnerConfig{
			Packages: "./...",
		},
	}
}

// Load reads and parses the samplebox.yaml config file. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "samplebox.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the specified path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for errors. Mode and store path
// are mutually constrained: stateful requires a path, stateless
// forbids one. Silently ignoring a stray path would mask user error.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeStateless:
		if c.DBPath != "" {
			return fmt.Errorf("%w (got %q)", ErrUnexpectedDBPath, c.DBPath)
		}
	case ModeStateful:
		if c.DBPath == "" {
			return ErrMissingDBPath
		}
	default:
		return fmt.Errorf("%w (got %q)", ErrBadMode, c.Mode)
	}

	if _, _, err := c.Timeout(); err != nil {
		return err
	}

	return nil
}

// Timeout parses the soft timeout. enabled is false when the value is
// "off" or empty.
func (c *Config) Timeout() (d time.Duration, enabled bool, err error) {
	if c.SoftTimeout == "" || c.SoftTimeout == TimeoutOff {
		return 0, false, nil
	}
	d, err = time.ParseDuration(c.SoftTimeout)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrBadTimeout, err)
	}
	if d < 0 {
		return 0, false, fmt.Errorf("%w (got %s)", ErrBadTimeout, d)
	}
	return d, true, nil
}

// Stateful reports whether the stateful scheduling mode is selected.
func (c *Config) Stateful() bool {
	return c.Mode == ModeStateful
}

// FindConfigFile searches for samplebox.yaml in the current and parent
// directories.
func FindConfigFile() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for dir := cwd; ; dir = filepath.Dir(dir) {
		configPath := filepath.Join(dir, "samplebox.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		if dir == filepath.Dir(dir) {
			break
		}
	}

	return "", fmt.Errorf("samplebox.yaml not found in %s or parent directories", cwd)
}
