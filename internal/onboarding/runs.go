package onboarding

import (
	"context"
	"time"
)

// RunOutcome is how a run ended.
type RunOutcome string

const (
	OutcomeComplete  RunOutcome = "complete"
	OutcomeAbandoned RunOutcome = "abandoned"
	OutcomeReset     RunOutcome = "reset"
)

// RunRecord summarises one finished run for diagnostics.
type RunRecord struct {
	ID          string     `json:"id"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  time.Time  `json:"finished_at"`
	Outcome     RunOutcome `json:"outcome"`
	LastState   State      `json:"last_state"`
	FailedStage State      `json:"failed_stage,omitempty"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	Attempts    int        `json:"attempts"`
}

// RunRecorder stores RunRecords. Recording failures are logged and never
// affect the run.
type RunRecorder interface {
	RecordRun(ctx context.Context, rec RunRecord) error
}
