package onboarding

import (
	"context"
	"fmt"
)

// Destination is where the app goes on launch.
type Destination string

const (
	DestinationHome       Destination = "home"
	DestinationOnboarding Destination = "onboarding"
)

// Route picks the launch destination: a device that already completed a run
// skips onboarding entirely.
func Route(ctx context.Context, store PlanStore) (Destination, error) {
	done, err := store.HasGeneratedPlan(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read completion flag: %w", err)
	}
	if done {
		return DestinationHome, nil
	}
	return DestinationOnboarding, nil
}
