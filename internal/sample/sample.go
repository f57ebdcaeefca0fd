// Package sample defines the core types shared by the scheduler, the
// history store and the session coordinator: test identities, test
// outcomes and the external runner contract.
package sample

import (
	"context"
	"fmt"
)

// TestID is the stable key for one test: the path of the file that
// contains it, relative to the configured project root, plus the
// qualified test name. Moving the project tree does not invalidate
// history; changing the configured root between sessions does.
type TestID struct {
	File string
	Name string
}

func (id TestID) String() string {
	return id.File + "::" + id.Name
}

// Outcome is the result kind reported by the runner for one test.
type Outcome int

const (
	Passed Outcome = iota
	Failed
	Skipped
	ExpectedFailure
	UnexpectedPass
	Errored
)

func (o Outcome) String() string {
	switch o {
	case Passed:
		return "passed"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	case ExpectedFailure:
		return "xfailed"
	case UnexpectedPass:
		return "xpassed"
	case Errored:
		return "error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is one test's execution report: the outcome plus whether the
// associated teardown also succeeded. A teardown failure invalidates
// trust in an otherwise successful run.
type Result struct {
	Outcome    Outcome
	TeardownOK bool
}

// Qualifying reports whether the result counts as a success worth
// recording: passed, expected-failure or unexpected-pass, each with a
// clean teardown.
func (r Result) Qualifying() bool {
	if !r.TeardownOK {
		return false
	}
	switch r.Outcome {
	case Passed, ExpectedFailure, UnexpectedPass:
		return true
	}
	return false
}

// Disqualifying reports whether the result must remove any previously
// recorded success for the test. Skips are neutral: they neither
// record nor remove.
func (r Result) Disqualifying() bool {
	if r.Outcome == Skipped {
		return false
	}
	return !r.Qualifying()
}

// Runner is the external test-execution machinery. It supplies the
// test universe in discovery order, executes one test at a time and
// can mark a not-yet-run test as skipped without executing it.
type Runner interface {
	// Collect returns the flat universe of tests for this session in
	// discovery order. The returned order is not yet the execution
	// order.
	Collect(ctx context.Context) ([]TestID, error)

	// Run executes one test to completion and reports its result. A
	// test that has started always runs to completion; cancellation
	// granularity is between tests, not mid-test.
	Run(ctx context.Context, id TestID) (Result, error)

	// Skip marks a test that will not be executed this session.
	Skip(id TestID)
}
