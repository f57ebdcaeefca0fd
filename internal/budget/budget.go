// Package budget tracks elapsed wall time against a soft limit. The
// gate is polled between test executions only; a test that has started
// always runs to completion, so at least one test executes per session
// even with a zero budget.
package budget

import "time"

// Gate answers "has the session budget expired" after each completed
// test. The zero value is a disabled gate that never expires.
type Gate struct {
	limit   time.Duration
	start   time.Time
	enabled bool
	started bool
}

// New creates a gate with the given duration budget.
func New(limit time.Duration) *Gate {
	return &Gate{limit: limit, enabled: true}
}

// Disabled returns a gate that never expires, for sessions that run
// with the soft timeout switched off.
func Disabled() *Gate {
	return &Gate{}
}

// Start records the session start instant. Calling Start again resets
// the clock.
func (g *Gate) Start() {
	g.start = time.Now()
	g.started = true
}

// Expired reports whether the budget has been used up. Polling is
// synchronous and non-blocking; the gate never interrupts anything.
func (g *Gate) Expired() bool {
	if !g.enabled || !g.started {
		return false
	}
	return time.Since(g.start) >= g.limit
}

// Elapsed returns the time since Start, or zero if never started.
func (g *Gate) Elapsed() time.Duration {
	if !g.started {
		return 0
	}
	return time.Since(g.start)
}

// Enabled reports whether the gate enforces a limit at all.
func (g *Gate) Enabled() bool {
	return g.enabled
}
