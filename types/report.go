package types

import "time"

// SourceState is the per-source state inside a run.
type SourceState string

const (
	SourcePending     SourceState = "PENDING"
	SourceFetching    SourceState = "FETCHING"
	SourceNormalizing SourceState = "NORMALIZING"
	SourceDone        SourceState = "DONE"
	SourceFailed      SourceState = "FAILED"
	// SourceSkipped marks a source whose trigger was coalesced into a run
	// already in flight.
	SourceSkipped SourceState = "SKIPPED"
)

// SourceStats holds per-source counts for one run.
type SourceStats struct {
	SourceID   string      `json:"source_id"`
	State      SourceState `json:"state"`
	Fetched    int         `json:"fetched"`
	Accepted   int         `json:"accepted"`
	Duplicates int         `json:"duplicates"`
	// Unchanged counts items at or before the source checkpoint, skipped
	// without a dedup lookup.
	Unchanged int    `json:"unchanged"`
	Errors    int    `json:"errors"`
	Duration  string `json:"duration,omitempty"`
}

// RunReport summarizes one collection cycle. It is not modified after the
// coordinator returns it.
type RunReport struct {
	ID         string        `json:"id"`
	Trigger    string        `json:"trigger"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Sources    []SourceStats `json:"sources"`
	Errors     []string      `json:"errors"`
}

// Totals sums the per-source counts.
func (r RunReport) Totals() SourceStats {
	var t SourceStats
	for _, s := range r.Sources {
		t.Fetched += s.Fetched
		t.Accepted += s.Accepted
		t.Duplicates += s.Duplicates
		t.Unchanged += s.Unchanged
		t.Errors += s.Errors
	}
	return t
}

// Source returns the stats for id, if that source was scheduled.
func (r RunReport) Source(id string) (SourceStats, bool) {
	for _, s := range r.Sources {
		if s.SourceID == id {
			return s, true
		}
	}
	return SourceStats{}, false
}
