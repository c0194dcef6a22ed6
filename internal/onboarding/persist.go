package onboarding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Persistence keys.
const (
	KeyHasGeneratedPlan = "has_generated_plan"
	KeyWorkoutPlan      = "workout_plan"
)

// ErrNoPlan is returned by PlanStore.Plan when nothing has been committed.
var ErrNoPlan = errors.New("no workout plan stored")

// PlanStore is the durable store for the completed plan.
//
// CommitPlan must write the plan and the completion flag as one unit with
// the flag written last, and must be idempotent for the same plan bytes.
type PlanStore interface {
	CommitPlan(ctx context.Context, plan []byte) error
	HasGeneratedPlan(ctx context.Context) (bool, error)
	Plan(ctx context.Context) ([]byte, error)
}

// EncodePlan is the serialized form written under KeyWorkoutPlan.
func EncodePlan(plan WorkoutPlan) ([]byte, error) {
	return json.Marshal(plan)
}

// DecodePlan reverses EncodePlan.
func DecodePlan(data []byte) (WorkoutPlan, error) {
	var plan WorkoutPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return WorkoutPlan{}, err
	}
	return plan, nil
}

// commitPlan serializes and stores the plan.
func commitPlan(ctx context.Context, store PlanStore, plan WorkoutPlan) error {
	if plan.Len() == 0 {
		return stageErrorf(StatePersisting, ErrPersistence, nil, "refusing to store an empty plan")
	}
	blob, err := EncodePlan(plan)
	if err != nil {
		return stageErrorf(StatePersisting, ErrPersistence, err, "encode plan")
	}
	if err := store.CommitPlan(ctx, blob); err != nil {
		return stageErrorf(StatePersisting, ErrPersistence, err, "commit plan")
	}
	return nil
}

// MemoryStore is a PlanStore kept in process memory. It is used by tests and
// when running without a database.
type MemoryStore struct {
	mu      sync.Mutex
	values  map[string][]byte
	writes  int
	FailErr error // when set, CommitPlan fails with it before writing anything
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

// CommitPlan writes the plan, then the flag.
func (s *MemoryStore) CommitPlan(ctx context.Context, plan []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailErr != nil {
		return s.FailErr
	}
	s.values[KeyWorkoutPlan] = bytes.Clone(plan)
	s.values[KeyHasGeneratedPlan] = []byte("true")
	s.writes++
	return nil
}

// HasGeneratedPlan reports whether the completion flag is set.
func (s *MemoryStore) HasGeneratedPlan(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.values[KeyHasGeneratedPlan]) == "true", nil
}

// Plan returns the stored plan bytes.
func (s *MemoryStore) Plan(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[KeyWorkoutPlan]
	if !ok {
		return nil, ErrNoPlan
	}
	return bytes.Clone(v), nil
}

// Commits returns how many CommitPlan calls succeeded.
func (s *MemoryStore) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Dump returns a copy of every stored key, for state comparisons in tests.
func (s *MemoryStore) Dump() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = string(v)
	}
	return out
}

// LoadPlan reads and decodes the persisted plan.
func LoadPlan(ctx context.Context, store PlanStore) (WorkoutPlan, error) {
	data, err := store.Plan(ctx)
	if err != nil {
		return WorkoutPlan{}, err
	}
	plan, err := DecodePlan(data)
	if err != nil {
		return WorkoutPlan{}, fmt.Errorf("stored plan is corrupt: %w", err)
	}
	return plan, nil
}
