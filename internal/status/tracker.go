// Package status provides a dedicated controller for observing shadow
// run progress over HTTP. The tracker accumulates per-step outcomes
// from the worker pool and the controller serves them as JSON or
// msgpack while a run executes.
package status

import (
	"sort"
	"sync"
	"time"
)

// Snapshot is a point-in-time view of run progress, shaped for the
// /status endpoint.
type Snapshot struct {
	RunID          string   `json:"run_id,omitempty"`
	Variant        string   `json:"variant,omitempty"`
	Terrain        string   `json:"terrain,omitempty"`
	StartedAt      string   `json:"started_at,omitempty"`
	ElapsedSeconds float64  `json:"elapsed_seconds"`
	Total          int      `json:"total"`
	Completed      int      `json:"completed"`
	Failed         int      `json:"failed"`
	Skipped        int      `json:"skipped"`
	Remaining      int      `json:"remaining"`
	InFlight       []string `json:"in_flight,omitempty"`
}

// Tracker accumulates step outcomes for the current run. All methods are
// safe for concurrent use by pool workers.
type Tracker struct {
	mu        sync.Mutex
	runID     string
	variant   string
	terrain   string
	started   time.Time
	total     int
	completed int
	failed    int
	skipped   int
	inFlight  map[string]struct{}
}

// NewTracker creates an empty tracker. It reports an idle snapshot until
// Begin is called.
func NewTracker() *Tracker {
	return &Tracker{
		inFlight: make(map[string]struct{}),
	}
}

// Begin resets the tracker for a new run with the given step count.
func (t *Tracker) Begin(runID, variant, terrain string, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runID = runID
	t.variant = variant
	t.terrain = terrain
	t.started = time.Now()
	t.total = total
	t.completed = 0
	t.failed = 0
	t.skipped = 0
	t.inFlight = make(map[string]struct{})
}

// StepStarted records that a worker picked up the step with the given
// time-of-day identifier.
func (t *Tracker) StepStarted(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inFlight[id] = struct{}{}
}

// StepSucceeded records a completed step.
func (t *Tracker) StepSucceeded(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, id)
	t.completed++
}

// StepFailed records a step that errored and was abandoned.
func (t *Tracker) StepFailed(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, id)
	t.failed++
}

// StepSkipped records a step that was not computed, such as a nighttime
// timestamp under the skip-night policy.
func (t *Tracker) StepSkipped(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, id)
	t.skipped++
}

// Snapshot returns the current progress. The in-flight list is sorted so
// repeated polls render stably.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		RunID:     t.runID,
		Variant:   t.variant,
		Terrain:   t.terrain,
		Total:     t.total,
		Completed: t.completed,
		Failed:    t.failed,
		Skipped:   t.skipped,
	}
	snap.Remaining = t.total - t.completed - t.failed - t.skipped
	if snap.Remaining < 0 {
		snap.Remaining = 0
	}
	if !t.started.IsZero() {
		snap.StartedAt = t.started.UTC().Format(time.RFC3339)
		snap.ElapsedSeconds = time.Since(t.started).Seconds()
	}
	for id := range t.inFlight {
		snap.InFlight = append(snap.InFlight, id)
	}
	sort.Strings(snap.InFlight)
	return snap
}
