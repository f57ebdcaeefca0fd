package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/fenwick-dev/samplebox/internal/config"
	"github.com/fenwick-dev/samplebox/internal/runner"
	"github.com/fenwick-dev/samplebox/internal/sample"
	"github.com/fenwick-dev/samplebox/internal/store"
)

var (
	idA = sample.TestID{File: "pkg/a_test.go", Name: "TestA"}
	idB = sample.TestID{File: "pkg/b_test.go", Name: "TestB"}
	idC = sample.TestID{File: "pkg/c_test.go", Name: "TestC"}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func statefulConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeStateful
	cfg.SoftTimeout = config.TimeoutOff
	cfg.DBPath = filepath.Join(t.TempDir(), "history.db")
	cfg.RandomizeUnseen = false
	return cfg
}

func inspectStore(t *testing.T, path string) *store.Store {
	t.Helper()
	st, err := store.Open(path, false, nil)
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestTimeoutRunsAtLeastOneTest(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SoftTimeout = "0s"

	r := &runner.Static{Universe: []sample.TestID{idA, idB, idC}}
	sum, err := New(cfg, r, testLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}

	if sum.Executed != 1 {
		t.Errorf("executed = %d, want exactly 1 with an exhausted budget", sum.Executed)
	}
	if sum.Skipped != 2 {
		t.Errorf("skipped = %d, want 2", sum.Skipped)
	}
	if !sum.Expired {
		t.Error("summary should report the timeout as expired")
	}
	if len(r.SkipLog) != 2 {
		t.Errorf("runner saw %d skips, want 2", len(r.SkipLog))
	}
}

func TestStatelessWithDBPathAbortsBeforeRunning(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "history.db")

	r := &runner.Static{Universe: []sample.TestID{idA}}
	_, err := New(cfg, r, testLogger()).Run(context.Background())
	if !errors.Is(err, config.ErrUnexpectedDBPath) {
		t.Fatalf("err = %v, want ErrUnexpectedDBPath", err)
	}
	if len(r.RunLog) != 0 {
		t.Errorf("no test may execute on a configuration error, ran %v", r.RunLog)
	}
}

func TestUnseenPrecedeSeenAcrossSessions(t *testing.T) {
	cfg := statefulConfig(t)
	cfg.WriteImmediately = true

	// First session: A and B succeed, C fails and therefore stays
	// unseen for the next session.
	first := &runner.Static{
		Universe: []sample.TestID{idA, idB, idC},
		Results: map[sample.TestID]sample.Result{
			idC: {Outcome: sample.Failed, TeardownOK: true},
		},
		OnRun: func(sample.TestID) { time.Sleep(2 * time.Millisecond) },
	}
	sum, err := New(cfg, first, testLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("first session: %v", err)
	}
	if sum.Passed != 2 || sum.Failed != 1 {
		t.Fatalf("first session passed=%d failed=%d, want 2/1", sum.Passed, sum.Failed)
	}

	second := &runner.Static{Universe: []sample.TestID{idA, idB, idC}}
	if _, err := New(cfg, second, testLogger()).Run(context.Background()); err != nil {
		t.Fatalf("second session: %v", err)
	}

	want := []sample.TestID{idC, idA, idB}
	if !slices.Equal(second.RunLog, want) {
		t.Errorf("second session order = %v, want %v", second.RunLog, want)
	}
}

func TestBatchedCommitPersistsQualifyingResults(t *testing.T) {
	cfg := statefulConfig(t)
	cfg.WriteImmediately = false

	r := &runner.Static{Universe: []sample.TestID{idA, idB}}
	if _, err := New(cfg, r, testLogger()).Run(context.Background()); err != nil {
		t.Fatalf("session failed: %v", err)
	}

	st := inspectStore(t, cfg.DBPath)
	for _, id := range []sample.TestID{idA, idB} {
		if _, ok, err := st.GetLastRun(id); err != nil || !ok {
			t.Errorf("record for %s missing after batched commit (ok=%v err=%v)", id, ok, err)
		}
	}
}

func TestDisqualificationRemovesHistoryEvenWhenBatched(t *testing.T) {
	cfg := statefulConfig(t)
	cfg.WriteImmediately = false
	cfg.RestOnSaturation = false

	first := &runner.Static{Universe: []sample.TestID{idA, idB}}
	if _, err := New(cfg, first, testLogger()).Run(context.Background()); err != nil {
		t.Fatalf("first session: %v", err)
	}

	second := &runner.Static{
		Universe: []sample.TestID{idA, idB},
		Results: map[sample.TestID]sample.Result{
			idA: {Outcome: sample.Failed, TeardownOK: true},
		},
	}
	if _, err := New(cfg, second, testLogger()).Run(context.Background()); err != nil {
		t.Fatalf("second session: %v", err)
	}

	st := inspectStore(t, cfg.DBPath)
	if _, ok, _ := st.GetLastRun(idA); ok {
		t.Error("failed test must lose its success record")
	}
	if _, ok, _ := st.GetLastRun(idB); !ok {
		t.Error("passing test lost its record")
	}
}

func TestDirtyTeardownDisqualifies(t *testing.T) {
	cfg := statefulConfig(t)
	cfg.WriteImmediately = true
	cfg.RestOnSaturation = false

	r := &runner.Static{
		Universe: []sample.TestID{idA},
		Results: map[sample.TestID]sample.Result{
			idA: {Outcome: sample.Passed, TeardownOK: false},
		},
	}
	sum, err := New(cfg, r, testLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}
	if sum.Failed != 1 {
		t.Errorf("failed = %d, want 1 for a dirty teardown", sum.Failed)
	}

	st := inspectStore(t, cfg.DBPath)
	if _, ok, _ := st.GetLastRun(idA); ok {
		t.Error("dirty teardown must not be recorded as a success")
	}
}

func TestSkippedTestsLeaveHistoryUntouched(t *testing.T) {
	cfg := statefulConfig(t)
	cfg.WriteImmediately = true
	cfg.RestOnSaturation = false

	first := &runner.Static{Universe: []sample.TestID{idA}}
	if _, err := New(cfg, first, testLogger()).Run(context.Background()); err != nil {
		t.Fatalf("first session: %v", err)
	}

	second := &runner.Static{
		Universe: []sample.TestID{idA},
		Results: map[sample.TestID]sample.Result{
			idA: {Outcome: sample.Skipped, TeardownOK: true},
		},
	}
	sum, err := New(cfg, second, testLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("second session: %v", err)
	}
	if sum.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", sum.Skipped)
	}

	st := inspectStore(t, cfg.DBPath)
	if _, ok, _ := st.GetLastRun(idA); !ok {
		t.Error("a skip must not erase an earlier success")
	}
}

func TestSaturationResetClearsRunRecords(t *testing.T) {
	cfg := statefulConfig(t)
	cfg.WriteImmediately = true
	cfg.RestOnSaturation = true

	r := &runner.Static{Universe: []sample.TestID{idA, idB}}
	sum, err := New(cfg, r, testLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}
	if sum.Passed != 2 {
		t.Fatalf("passed = %d, want 2", sum.Passed)
	}

	st := inspectStore(t, cfg.DBPath)
	n, err := st.CountRuns()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("run records = %d after saturation reset, want 0", n)
	}
}

func TestCancellationSkipsRemaining(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SoftTimeout = config.TimeoutOff

	ctx, cancel := context.WithCancel(context.Background())
	r := &runner.Static{
		Universe: []sample.TestID{idA, idB, idC},
		OnRun:    func(sample.TestID) { cancel() },
	}
	sum, err := New(cfg, r, testLogger()).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if sum.Executed != 1 {
		t.Errorf("executed = %d, want 1", sum.Executed)
	}
	if sum.Skipped != 2 {
		t.Errorf("skipped = %d, want 2", sum.Skipped)
	}
}

func TestSessionsAreRecorded(t *testing.T) {
	cfg := statefulConfig(t)
	cfg.RestOnSaturation = false

	r := &runner.Static{Universe: []sample.TestID{idA}}
	sum, err := New(cfg, r, testLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}

	st := inspectStore(t, cfg.DBPath)
	sessions, err := st.RecentSessions(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Fatalf("recorded sessions = %d, want 1", len(sessions))
	}
	if sessions[0].RunID != sum.RunID {
		t.Errorf("recorded run id %q, want %q", sessions[0].RunID, sum.RunID)
	}
}

func TestFixedSeedReproducesStatelessOrder(t *testing.T) {
	seed := int64(42)

	order := func() []sample.TestID {
		cfg := config.DefaultConfig()
		cfg.SoftTimeout = config.TimeoutOff
		cfg.Seed = &seed
		cfg.WarnOnSeedInStateless = false
		r := &runner.Static{Universe: []sample.TestID{idA, idB, idC}}
		if _, err := New(cfg, r, testLogger()).Run(context.Background()); err != nil {
			t.Fatalf("session failed: %v", err)
		}
		return r.RunLog
	}

	if a, b := order(), order(); !slices.Equal(a, b) {
		t.Errorf("same seed produced different orders: %v vs %v", a, b)
	}
}
