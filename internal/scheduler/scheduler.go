// Package scheduler computes the execution order for one session: the
// tests never known to pass run first so first-pass coverage grows
// monotonically, then previously seen tests ordered by how long ago
// they last succeeded.
package scheduler

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/fenwick-dev/samplebox/internal/hashing"
	"github.com/fenwick-dev/samplebox/internal/sample"
	"github.com/fenwick-dev/samplebox/internal/shuffle"
	"github.com/fenwick-dev/samplebox/internal/store"
)

// Options configures stateful planning.
type Options struct {
	// RandomizeUnseen shuffles the unseen partition instead of keeping
	// discovery order.
	RandomizeUnseen bool

	// HashFiles enables content-based change detection for test files.
	HashFiles bool

	// NoPruning keeps records for tests that are no longer collected.
	NoPruning bool

	// Root resolves the relative file paths stored with each identity.
	Root string

	// Shuffle orders the unseen partition when RandomizeUnseen is set.
	Shuffle *shuffle.Source

	// Hash overrides the file digest function. Nil means hashing.File
	// against Root. Tests inject fakes here.
	Hash func(path string) (string, error)
}

// Plan is the ephemeral result of planning one session: the execution
// order plus what the planner learned about the universe.
type Plan struct {
	Order []sample.TestID

	Unseen int
	Seen   int

	// Saturated means every collected test already had a run record
	// before anything executed.
	Saturated bool

	PrunedRuns       int64
	InvalidatedFiles int
}

// Stateless shuffles the whole universe with the given source. No
// store is consulted or required.
func Stateless(universe []sample.TestID, src *shuffle.Source) *Plan {
	order := make([]sample.TestID, len(universe))
	copy(order, universe)
	shuffle.Shuffle(src, order)
	return &Plan{Order: order, Unseen: len(order)}
}

// Stateful computes the session plan against the history store. Stale
// identities are pruned before ordering so they cannot influence it;
// file pruning is left to the session's finalize step.
func Stateful(st *store.Store, universe []sample.TestID, opts Options, logger *slog.Logger) (*Plan, error) {
	plan := &Plan{}

	if !opts.NoPruning {
		pruned, err := st.PruneRuns(universe)
		if err != nil {
			return nil, fmt.Errorf("pruning stale run records: %w", err)
		}
		plan.PrunedRuns = pruned
		if pruned > 0 {
			logger.Info("pruned disappeared tests", "count", pruned)
		}
	}

	type seenTest struct {
		id      sample.TestID
		lastRun time.Time
	}
	var unseen []sample.TestID
	var seen []seenTest

	lastRuns := make(map[sample.TestID]time.Time)
	for _, id := range universe {
		ts, ok, err := st.GetLastRun(id)
		if err != nil {
			return nil, fmt.Errorf("looking up %s: %w", id, err)
		}
		if ok {
			lastRuns[id] = ts
		}
	}

	if opts.HashFiles {
		invalidated, err := checkFingerprints(st, universe, lastRuns, opts, logger)
		if err != nil {
			return nil, err
		}
		plan.InvalidatedFiles = invalidated
	}

	for _, id := range universe {
		if ts, ok := lastRuns[id]; ok {
			seen = append(seen, seenTest{id: id, lastRun: ts})
		} else {
			unseen = append(unseen, id)
		}
	}

	if opts.RandomizeUnseen && opts.Shuffle != nil {
		shuffle.Shuffle(opts.Shuffle, unseen)
	}

	// Least-recently-succeeded first; stable so equal timestamps keep
	// discovery order.
	sort.SliceStable(seen, func(i, j int) bool {
		return seen[i].lastRun.Before(seen[j].lastRun)
	})

	plan.Unseen = len(unseen)
	plan.Seen = len(seen)
	plan.Saturated = len(unseen) == 0 && len(universe) > 0

	plan.Order = make([]sample.TestID, 0, len(universe))
	plan.Order = append(plan.Order, unseen...)
	for _, s := range seen {
		plan.Order = append(plan.Order, s.id)
	}

	logger.Debug("session plan computed",
		"unseen", plan.Unseen,
		"seen", plan.Seen,
		"saturated", plan.Saturated,
	)

	return plan, nil
}

// checkFingerprints compares the current content hash of every
// collected file against the stored fingerprint. A changed or missing
// fingerprint demotes the file's recorded tests to unseen and removes
// their run records; the new hash is stored either way. lastRuns is
// mutated in place.
func checkFingerprints(
	st *store.Store,
	universe []sample.TestID,
	lastRuns map[sample.TestID]time.Time,
	opts Options,
	logger *slog.Logger,
) (int, error) {
	hash := opts.Hash
	if hash == nil {
		root := opts.Root
		if root == "" {
			root = "."
		}
		hash = func(path string) (string, error) {
			sum, err := hashing.File(filepath.Join(root, path))
			if err != nil {
				return "", err
			}
			return hashing.Format(sum), nil
		}
	}

	invalidated := 0
	for _, file := range Files(universe) {
		current, err := hash(file)
		if err != nil {
			return invalidated, fmt.Errorf("fingerprinting %s: %w", file, err)
		}

		stored, ok, err := st.GetFingerprint(file)
		if err != nil {
			return invalidated, fmt.Errorf("reading fingerprint for %s: %w", file, err)
		}
		if ok && stored == current {
			continue
		}

		// Changed, or tracked for the first time: any recorded success
		// in this file can no longer be trusted.
		removed, err := st.DeleteRunsForFile(file)
		if err != nil {
			return invalidated, err
		}
		if err := st.UpsertFingerprint(file, current); err != nil {
			return invalidated, err
		}

		demoted := 0
		for id := range lastRuns {
			if id.File == file {
				delete(lastRuns, id)
				demoted++
			}
		}
		if removed > 0 || demoted > 0 {
			invalidated++
			logger.Info("test file changed, invalidating records",
				"file", file, "removed", removed)
		}
	}
	return invalidated, nil
}

// Files returns the unique file paths of the universe in discovery
// order.
func Files(universe []sample.TestID) []string {
	seen := make(map[string]struct{}, len(universe))
	var files []string
	for _, id := range universe {
		if _, ok := seen[id.File]; ok {
			continue
		}
		seen[id.File] = struct{}{}
		files = append(files, id.File)
	}
	return files
}
