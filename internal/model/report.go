package model

import (
	"sort"
	"time"
)

// SourceState is the per-source position in the run state machine.
type SourceState string

const (
	StatePending     SourceState = "pending"
	StateFetching    SourceState = "fetching"
	StateNormalizing SourceState = "normalizing"
	StateUpserting   SourceState = "upserting"
	StateDone        SourceState = "done"
	StateFailed      SourceState = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s SourceState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// RunReport is the outcome of one adapter within a run.
type RunReport struct {
	SourceName       string      `json:"source_name"`
	State            SourceState `json:"state"`
	FetchedCount     int         `json:"fetched_count"`
	InsertedCount    int         `json:"inserted_count"`
	UpdatedCount     int         `json:"updated_count"`
	DeactivatedCount int         `json:"deactivated_count"`
	Failed           bool        `json:"failed"`
	Error            string      `json:"error,omitempty"`

	NormalizationFailures map[NormalizationReason]int `json:"normalization_failures,omitempty"`
	UnknownCategories     int                         `json:"unknown_categories,omitempty"`
	DuplicatesDropped     int                         `json:"duplicates_dropped,omitempty"`
	Merged                int                         `json:"merged,omitempty"`
	DedupConflicts        int                         `json:"dedup_conflicts,omitempty"`
	WriteFailures         int                         `json:"write_failures,omitempty"`
	SweepSkipped          bool                        `json:"sweep_skipped,omitempty"`
	Duration              time.Duration               `json:"duration_ns"`
}

// CountRejection increments the normalization failure counter for reason.
func (r *RunReport) CountRejection(reason NormalizationReason) {
	if r.NormalizationFailures == nil {
		r.NormalizationFailures = make(map[NormalizationReason]int)
	}
	r.NormalizationFailures[reason]++
}

// Rejected returns the total number of records rejected by the normalizer.
func (r *RunReport) Rejected() int {
	n := 0
	for _, c := range r.NormalizationFailures {
		n += c
	}
	return n
}

// Summary aggregates every adapter's report for one run.
type Summary struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	TimedOut   bool         `json:"timed_out,omitempty"`
	Reports    []*RunReport `json:"reports"`
}

// Succeeded returns the number of adapters that did not fail.
func (s *Summary) Succeeded() int {
	n := 0
	for _, r := range s.Reports {
		if !r.Failed {
			n++
		}
	}
	return n
}

// Failed reports whether the whole run failed: no adapter succeeded.
func (s *Summary) Failed() bool {
	return s.Succeeded() == 0
}

// Degraded reports a successful run in which at least one adapter failed.
func (s *Summary) Degraded() bool {
	return !s.Failed() && s.Succeeded() < len(s.Reports)
}

// Status returns "ok", "degraded" or "failed".
func (s *Summary) Status() string {
	switch {
	case s.Failed():
		return "failed"
	case s.Degraded():
		return "degraded"
	}
	return "ok"
}

// ExitCode is 0 when at least one adapter succeeded, 1 otherwise.
func (s *Summary) ExitCode() int {
	if s.Failed() {
		return 1
	}
	return 0
}

// Report returns the report for source, or nil.
func (s *Summary) Report(source string) *RunReport {
	for _, r := range s.Reports {
		if r.SourceName == source {
			return r
		}
	}
	return nil
}

// Totals sums the counters across all reports.
func (s *Summary) Totals() RunReport {
	var t RunReport
	t.SourceName = "total"
	for _, r := range s.Reports {
		t.FetchedCount += r.FetchedCount
		t.InsertedCount += r.InsertedCount
		t.UpdatedCount += r.UpdatedCount
		t.DeactivatedCount += r.DeactivatedCount
		t.DuplicatesDropped += r.DuplicatesDropped
		t.Merged += r.Merged
		t.DedupConflicts += r.DedupConflicts
		t.WriteFailures += r.WriteFailures
		t.UnknownCategories += r.UnknownCategories
		for reason, n := range r.NormalizationFailures {
			for i := 0; i < n; i++ {
				t.CountRejection(reason)
			}
		}
	}
	return t
}

// SortReports orders reports by source name.
func (s *Summary) SortReports() {
	sort.Slice(s.Reports, func(i, j int) bool {
		return s.Reports[i].SourceName < s.Reports[j].SourceName
	})
}
