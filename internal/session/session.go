// Package session drives one scheduling session end to end: validate
// configuration, compute the plan, execute tests through the external
// runner, enforce the soft timeout between tests and persist outcomes.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fenwick-dev/samplebox/internal/budget"
	"github.com/fenwick-dev/samplebox/internal/config"
	"github.com/fenwick-dev/samplebox/internal/sample"
	"github.com/fenwick-dev/samplebox/internal/scheduler"
	"github.com/fenwick-dev/samplebox/internal/shuffle"
	"github.com/fenwick-dev/samplebox/internal/store"
)

// Summary reports what one session did.
type Summary struct {
	RunID string
	Mode  string

	// Seed actually used by the shuffle source, reported so a run can
	// be reproduced.
	Seed int64

	Total    int
	Executed int
	Skipped  int
	Passed   int
	Failed   int

	Saturated bool
	Expired   bool
}

// Coordinator runs sessions. One Coordinator instance serves one
// session at a time; the store is opened at session start and closed
// on every exit path.
type Coordinator struct {
	cfg    *config.Config
	runner sample.Runner
	logger *slog.Logger
}

// New creates a coordinator.
func New(cfg *config.Config, runner sample.Runner, logger *slog.Logger) *Coordinator {
	return &Coordinator{cfg: cfg, runner: runner, logger: logger}
}

// Run executes one full session. Configuration problems fail before
// any test executes; a single test's failure never does.
func (c *Coordinator) Run(ctx context.Context) (*Summary, error) {
	// INIT: validate before touching anything.
	if err := c.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	limit, timeoutEnabled, err := c.cfg.Timeout()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	src := c.newShuffleSource()

	summary := &Summary{
		RunID: uuid.NewString(),
		Mode:  c.cfg.Mode,
		Seed:  src.Seed(),
	}
	startedAt := time.Now().UTC()

	universe, err := c.runner.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("collecting tests: %w", err)
	}
	summary.Total = len(universe)

	var st *store.Store
	if c.cfg.Stateful() {
		var storeLogger *slog.Logger
		if c.cfg.EnableStoreLogging {
			storeLogger = c.logger
		}
		st, err = store.Open(c.cfg.DBPath, c.cfg.AllowOverwriteBroken, storeLogger)
		if err != nil {
			return nil, fmt.Errorf("opening history store: %w", err)
		}
		defer st.Close()
	}

	// PLANNING.
	var plan *scheduler.Plan
	if c.cfg.Stateful() {
		opts := scheduler.Options{
			RandomizeUnseen: c.cfg.RandomizeUnseen,
			HashFiles:       c.cfg.HashTestFiles,
			NoPruning:       c.cfg.NoPruning,
			Root:            c.cfg.Root,
		}
		if c.cfg.RandomizeUnseen {
			opts.Shuffle = src
		}
		plan, err = scheduler.Stateful(st, universe, opts, c.logger)
		if err != nil {
			return nil, fmt.Errorf("planning session: %w", err)
		}
	} else {
		plan = scheduler.Stateless(universe, src)
	}
	summary.Saturated = plan.Saturated

	gate := budget.Disabled()
	if timeoutEnabled {
		gate = budget.New(limit)
	}

	c.logger.Info("session starting",
		"run_id", summary.RunID,
		"mode", summary.Mode,
		"tests", len(plan.Order),
		"unseen", plan.Unseen,
		"seed", summary.Seed,
	)

	// RUNNING. The gate is polled between tests only, and never before
	// the first one, so at least one test executes per session.
	gate.Start()

	var batch []store.RunRecord
	cancelled := false
	for i, id := range plan.Order {
		if err := ctx.Err(); err != nil {
			c.skipRemaining(plan.Order[i:], summary)
			cancelled = true
			break
		}
		if i > 0 && gate.Expired() {
			c.logger.Info("soft timeout expired, skipping remaining tests",
				"elapsed", gate.Elapsed(), "remaining", len(plan.Order)-i)
			summary.Expired = true
			c.skipRemaining(plan.Order[i:], summary)
			break
		}

		res, runErr := c.runner.Run(ctx, id)
		if runErr != nil {
			// Execution machinery trouble counts as an errored test,
			// not a session failure.
			c.logger.Warn("runner error", "test", id.String(), "error", runErr)
			res = sample.Result{Outcome: sample.Errored, TeardownOK: true}
		}
		summary.Executed++

		c.logger.Debug("test finished",
			"test", id.String(),
			"outcome", res.Outcome.String(),
			"teardown_ok", res.TeardownOK,
		)

		switch {
		case res.Qualifying():
			summary.Passed++
			if st != nil {
				now := time.Now().UTC()
				if c.cfg.WriteImmediately {
					if err := st.UpsertRun(id, now); err != nil {
						return summary, fmt.Errorf("recording %s: %w", id, err)
					}
				} else {
					batch = append(batch, store.RunRecord{ID: id, LastRun: now})
				}
			}
		case res.Disqualifying():
			summary.Failed++
			if st != nil {
				// Deletion is immediate even in batched mode so a
				// stale success never outlives the session.
				if err := st.DeleteRun(id); err != nil {
					return summary, fmt.Errorf("dropping record for %s: %w", id, err)
				}
				batch = dropFromBatch(batch, id)
			}
		default:
			// Skipped by the runner itself: neither record nor remove.
			summary.Skipped++
		}
	}

	// FINALIZING.
	if st != nil {
		if err := c.finalize(st, universe, plan, batch, summary, startedAt); err != nil {
			return summary, err
		}
	}

	c.logger.Info("session finished",
		"run_id", summary.RunID,
		"executed", summary.Executed,
		"skipped", summary.Skipped,
		"passed", summary.Passed,
		"failed", summary.Failed,
		"elapsed", gate.Elapsed(),
	)

	if cancelled {
		return summary, ctx.Err()
	}
	return summary, nil
}

func (c *Coordinator) finalize(
	st *store.Store,
	universe []sample.TestID,
	plan *scheduler.Plan,
	batch []store.RunRecord,
	summary *Summary,
	startedAt time.Time,
) error {
	if len(batch) > 0 {
		if err := st.CommitBatch(batch); err != nil {
			return fmt.Errorf("committing session results: %w", err)
		}
	}

	if !c.cfg.NoPruning {
		pruned, err := st.PruneFingerprints(scheduler.Files(universe))
		if err != nil {
			return fmt.Errorf("pruning fingerprints: %w", err)
		}
		if pruned > 0 {
			c.logger.Info("pruned fingerprints for disappeared files", "count", pruned)
		}
	}

	// Saturation reset: when every test was already covered going in,
	// or this session completed coverage, start the next session from
	// a clean slate instead of an ever-aging timestamp list.
	if c.cfg.RestOnSaturation {
		saturated := plan.Saturated || (summary.Total > 0 && summary.Passed == summary.Total)
		if saturated {
			dropped, err := st.ClearRuns()
			if err != nil {
				return fmt.Errorf("resetting saturated store: %w", err)
			}
			c.logger.Info("store saturated, cleared run records", "dropped", dropped)
		}
	}

	if err := st.RecordSession(store.SessionRecord{
		RunID:     summary.RunID,
		StartedAt: startedAt,
		Mode:      summary.Mode,
		Executed:  summary.Executed,
		Skipped:   summary.Skipped,
		Passed:    summary.Passed,
		Failed:    summary.Failed,
	}); err != nil {
		return fmt.Errorf("recording session: %w", err)
	}
	return nil
}

// newShuffleSource builds the session's shuffle source, warning when a
// fixed seed is configured in stateless mode since identical runs
// defeat coverage-via-shuffling.
func (c *Coordinator) newShuffleSource() *shuffle.Source {
	if c.cfg.Seed != nil {
		if !c.cfg.Stateful() && c.cfg.WarnOnSeedInStateless {
			c.logger.Warn("fixed seed in stateless mode: every session will run the same order",
				"seed", *c.cfg.Seed)
		}
		return shuffle.New(*c.cfg.Seed)
	}
	src := shuffle.FromEntropy()
	c.logger.Info("no seed provided, drew one from the clock", "seed", src.Seed())
	return src
}

func (c *Coordinator) skipRemaining(ids []sample.TestID, summary *Summary) {
	for _, id := range ids {
		c.runner.Skip(id)
		summary.Skipped++
	}
}

func dropFromBatch(batch []store.RunRecord, id sample.TestID) []store.RunRecord {
	out := batch[:0]
	for _, r := range batch {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}
