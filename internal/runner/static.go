package runner

import (
	"context"

	"github.com/fenwick-dev/samplebox/internal/sample"
)

// Static is a manifest-driven runner: it collects from a fixed list
// and reports scripted results without executing anything. The `run
// --dry-run` path uses it to preview a plan, and tests use it to
// script sessions.
type Static struct {
	Universe []sample.TestID

	// Results maps identities to scripted outcomes. Identities without
	// an entry pass with a clean teardown.
	Results map[sample.TestID]sample.Result

	// OnRun, when set, is called before each scripted result is
	// returned. Tests use it to stall the clock or mutate state
	// mid-session.
	OnRun func(id sample.TestID)

	RunLog  []sample.TestID
	SkipLog []sample.TestID
}

var _ sample.Runner = (*Static)(nil)

func (r *Static) Collect(ctx context.Context) ([]sample.TestID, error) {
	out := make([]sample.TestID, len(r.Universe))
	copy(out, r.Universe)
	return out, nil
}

func (r *Static) Run(ctx context.Context, id sample.TestID) (sample.Result, error) {
	r.RunLog = append(r.RunLog, id)
	if r.OnRun != nil {
		r.OnRun(id)
	}
	if res, ok := r.Results[id]; ok {
		return res, nil
	}
	return sample.Result{Outcome: sample.Passed, TeardownOK: true}, nil
}

func (r *Static) Skip(id sample.TestID) {
	r.SkipLog = append(r.SkipLog, id)
}
