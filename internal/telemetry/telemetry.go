// Package telemetry keeps in-process counters for the sync engine.
//
// Nothing recorded here ever leaves the process. There is no
// transmission, no persistence, and no user identification; the
// numbers exist so the status surface can answer "how has sync been
// doing since launch" without scraping logs.
package telemetry

import (
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of the counters.
type Stats struct {
	Passes        int64 `json:"passes"`
	PassesAborted int64 `json:"passes_aborted"`

	OpsCompleted   int64 `json:"ops_completed"`
	OpsFailed      int64 `json:"ops_failed"`
	OpsDiscarded   int64 `json:"ops_discarded"`
	OpsDeferred    int64 `json:"ops_deferred"`
	OpsInterrupted int64 `json:"ops_interrupted"`

	LastPassAt         int64 `json:"last_pass_at"`
	LastPassDurationMs int64 `json:"last_pass_duration_ms"`
}

// PassOutcome describes one finished reconciliation pass.
type PassOutcome struct {
	Completed   int
	Failed      int
	Discarded   int
	Deferred    int
	Interrupted int
	Aborted     bool // the pass stopped early on cancellation
	Duration    time.Duration
}

// =====================================================
// Recorder
// =====================================================

// Recorder accumulates counters. The zero value is ready to use.
type Recorder struct {
	mu    sync.Mutex
	stats Stats
}

// RecordPass folds one finished pass into the counters.
func (r *Recorder) RecordPass(outcome PassOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Passes++
	if outcome.Aborted {
		r.stats.PassesAborted++
	}
	r.stats.OpsCompleted += int64(outcome.Completed)
	r.stats.OpsFailed += int64(outcome.Failed)
	r.stats.OpsDiscarded += int64(outcome.Discarded)
	r.stats.OpsDeferred += int64(outcome.Deferred)
	r.stats.OpsInterrupted += int64(outcome.Interrupted)
	r.stats.LastPassAt = time.Now().UnixMilli()
	r.stats.LastPassDurationMs = outcome.Duration.Milliseconds()
}

// Snapshot returns a copy of the counters.
func (r *Recorder) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Reset zeroes the counters.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = Stats{}
}

// =====================================================
// Process-Wide Counters
// =====================================================

// global recorder shared by the process
var global Recorder

// RecordPass folds one finished pass into the process-wide counters.
func RecordPass(outcome PassOutcome) {
	global.RecordPass(outcome)
}

// Snapshot returns the process-wide counters.
func Snapshot() Stats {
	return global.Snapshot()
}

// Reset zeroes the process-wide counters.
func Reset() {
	global.Reset()
}
