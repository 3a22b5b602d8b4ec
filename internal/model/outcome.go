package model

import "time"

// OutcomeStatus is the terminal status of one deal's pipeline pass.
type OutcomeStatus string

const (
	OutcomeUpdated      OutcomeStatus = "updated"
	OutcomeDryRunUpdate OutcomeStatus = "dry_run_update"
	OutcomeNoChange     OutcomeStatus = "no_change"
	OutcomeSkipped      OutcomeStatus = "skipped"
	OutcomeError        OutcomeStatus = "error"
)

// Skip reasons attached to OutcomeSkipped.
const (
	SkipReasonNoCommunications = "no_communications"
	SkipReasonStale            = "stale"
)

// DealOutcome is the per-deal result record produced by the processing
// pipeline and consumed by the run reporter. Not persisted.
type DealOutcome struct {
	DealID     string        `json:"deal_id"`
	Status     OutcomeStatus `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	OldStage   Stage         `json:"old_stage,omitempty"`
	NewStage   Stage         `json:"new_stage,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	Err        string        `json:"error,omitempty"`
}

// RunStatistics accumulates counts for one progression run. Counters are
// monotonic while the run is active and immutable once it completes.
// Accumulation happens on the orchestrator's fan-in side only.
type RunStatistics struct {
	TotalDeals    int `json:"total_deals"`
	DealsAnalyzed int `json:"deals_analyzed"`
	StagesUpdated int `json:"stages_updated"`
	DryRunUpdates int `json:"dry_run_updates"`
	NoChange      int `json:"no_change"`
	Skipped       int `json:"skipped"`
	Errors        int `json:"errors"`
}

// Record tallies one deal outcome. Every outcome counts toward
// DealsAnalyzed; StagesUpdated only ever counts committed writes.
func (s *RunStatistics) Record(o DealOutcome) {
	s.DealsAnalyzed++
	switch o.Status {
	case OutcomeUpdated:
		s.StagesUpdated++
	case OutcomeDryRunUpdate:
		s.DryRunUpdates++
	case OutcomeNoChange:
		s.NoChange++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeError:
		s.Errors++
	}
}

// RunStatus is the lifecycle state of a persisted run record.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunParams are the effective parameters a run executed with.
type RunParams struct {
	BatchSize    int  `json:"batch_size"`
	LookbackDays int  `json:"days_lookback"`
	DryRun       bool `json:"dry_run"`
}

// Run is the persisted record of one progression run.
type Run struct {
	ID         string         `json:"id"`
	Params     RunParams      `json:"params"`
	Status     RunStatus      `json:"status"`
	Stats      *RunStatistics `json:"stats,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}
