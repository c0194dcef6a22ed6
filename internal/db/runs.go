package db

import (
	"context"
	"fmt"
	"time"

	"github.com/fitcoach/onboard/internal/onboarding"
)

// RecordRun stores a finished run. Recording the same run twice keeps the
// first record.
func (db *DB) RecordRun(ctx context.Context, rec onboarding.RunRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO onboarding_runs
			(run_id, started_at, finished_at, outcome, last_state, failed_stage, error_kind, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING`,
		rec.ID,
		rec.StartedAt.UnixMilli(),
		rec.FinishedAt.UnixMilli(),
		string(rec.Outcome),
		string(rec.LastState),
		string(rec.FailedStage),
		rec.ErrorKind,
		rec.Attempts,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", rec.ID, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, most recently finished first.
func (db *DB) RecentRuns(ctx context.Context, limit int) ([]onboarding.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, started_at, finished_at, outcome, last_state, failed_stage, error_kind, attempts
		FROM onboarding_runs
		ORDER BY finished_at DESC, run_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []onboarding.RunRecord
	for rows.Next() {
		var (
			rec                 onboarding.RunRecord
			started, finished   int64
			outcome, last, fail string
		)
		if err := rows.Scan(&rec.ID, &started, &finished, &outcome, &last, &fail, &rec.ErrorKind, &rec.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		rec.StartedAt = time.UnixMilli(started).UTC()
		rec.FinishedAt = time.UnixMilli(finished).UTC()
		rec.Outcome = onboarding.RunOutcome(outcome)
		rec.LastState = onboarding.State(last)
		rec.FailedStage = onboarding.State(fail)
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

var _ onboarding.RunRecorder = (*DB)(nil)
