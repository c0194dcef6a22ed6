package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fitcoach/onboard/internal/onboarding"
)

const upsertPreference = `
	INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	WHERE preferences.value IS NOT excluded.value`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (db *DB) setPreference(ctx context.Context, ex execer, key string, value []byte) error {
	if _, err := ex.ExecContext(ctx, upsertPreference, key, value, db.Clock.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Preference returns the raw value stored under key and whether it exists.
func (db *DB) Preference(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, true, nil
}

// CommitPlan stores the plan and sets the completion flag in one
// transaction, plan first. Committing the same plan again changes nothing.
func (db *DB) CommitPlan(ctx context.Context, plan []byte) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := db.setPreference(ctx, tx, onboarding.KeyWorkoutPlan, plan); err != nil {
		return err
	}
	if err := db.setPreference(ctx, tx, onboarding.KeyHasGeneratedPlan, []byte("true")); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit plan: %w", err)
	}
	return nil
}

// HasGeneratedPlan reports whether the completion flag is set.
func (db *DB) HasGeneratedPlan(ctx context.Context) (bool, error) {
	v, ok, err := db.Preference(ctx, onboarding.KeyHasGeneratedPlan)
	if err != nil || !ok {
		return false, err
	}
	return string(v) == "true", nil
}

// Plan returns the stored plan bytes, or onboarding.ErrNoPlan.
func (db *DB) Plan(ctx context.Context) ([]byte, error) {
	v, ok, err := db.Preference(ctx, onboarding.KeyWorkoutPlan)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, onboarding.ErrNoPlan
	}
	return v, nil
}

// ClearPlan removes the plan and the flag so the device onboards again.
// The flag goes first so a partial clear never leaves a flag without a plan.
func (db *DB) ClearPlan(ctx context.Context) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, key := range []string{onboarding.KeyHasGeneratedPlan, onboarding.KeyWorkoutPlan} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM preferences WHERE key = ?`, key); err != nil {
			return fmt.Errorf("failed to clear %s: %w", key, err)
		}
	}
	return tx.Commit()
}

var _ onboarding.PlanStore = (*DB)(nil)
