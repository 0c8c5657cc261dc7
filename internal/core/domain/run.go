package domain

import "time"

// RunState is the state of one pipeline attempt.
type RunState string

const (
	RunStateIdle        RunState = "idle"
	RunStateFetching    RunState = "fetching"
	RunStateParsing     RunState = "parsing"
	RunStateReconciling RunState = "reconciling"
	RunStateDone        RunState = "done"
	RunStateFailed      RunState = "failed"
)

// RunReport summarizes one scheduled run, retries included.
type RunReport struct {
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	State          RunState  `json:"state"`
	Attempts       int       `json:"attempts"`
	BackoffSeconds []float64 `json:"backoff_seconds,omitempty"`
	FeedBytes      int       `json:"feed_bytes"`
	Parsed         int       `json:"parsed"`
	SkippedOffline int       `json:"skipped_offline"`
	InvalidRecords int       `json:"invalid_records"`
	InvalidPrices  int       `json:"invalid_prices"`
	Malformed      bool      `json:"malformed"`
	Error          string    `json:"error,omitempty"`
}

// Succeeded reports whether the run ended in the done state.
func (r *RunReport) Succeeded() bool {
	return r != nil && r.State == RunStateDone
}
