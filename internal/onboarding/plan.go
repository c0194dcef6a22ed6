package onboarding

import "context"

// PlanGenerator requests a workout plan for a profile.
type PlanGenerator interface {
	GeneratePlan(ctx context.Context, req PlanRequest) (WorkoutPlan, error)
}

// generatePlan performs the single request and rejects an empty plan.
func generatePlan(ctx context.Context, gen PlanGenerator, profile UserProfile) (WorkoutPlan, error) {
	plan, err := gen.GeneratePlan(ctx, profile.PlanRequest())
	if err != nil {
		return WorkoutPlan{}, stageErrorf(StateGeneratingPlan, ErrGeneration, err, "plan request failed")
	}
	if plan.Len() == 0 {
		return WorkoutPlan{}, stageErrorf(StateGeneratingPlan, ErrGeneration, nil, "plan service returned no entries")
	}
	return plan.clone(), nil
}
