package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fitcoach/onboard/internal/fsutil"
	"github.com/fitcoach/onboard/internal/onboarding"
)

// Fixtures stands in for both remote services in dev mode. The file has the
// same shape as the two service responses merged:
//
//	{"biometrics": {"height_cm": 180, ...}, "workoutPlan": [...]}
type Fixtures struct {
	Biometrics  map[string]float64     `json:"biometrics"`
	WorkoutPlan onboarding.WorkoutPlan `json:"workoutPlan"`

	// Delay simulates service latency. Cancellation interrupts it.
	Delay time.Duration `json:"-"`
	// DelayString is the file form of Delay, e.g. "750ms".
	DelayString string `json:"delay,omitempty"`
}

// LoadFixtures reads a fixtures file.
func LoadFixtures(fs fsutil.FileSystem, path string) (*Fixtures, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	var f Fixtures
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures %s: %w", path, err)
	}
	if len(f.Biometrics) == 0 {
		return nil, errors.New("fixtures have no biometrics")
	}
	if f.DelayString != "" {
		d, err := time.ParseDuration(f.DelayString)
		if err != nil {
			return nil, fmt.Errorf("invalid fixture delay %q: %w", f.DelayString, err)
		}
		f.Delay = d
	}
	return &f, nil
}

func (f *Fixtures) wait(ctx context.Context) error {
	if f.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(f.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// UploadBiometrics returns the fixture measurements.
func (f *Fixtures) UploadBiometrics(ctx context.Context, frontal, side onboarding.ImageHandle) (onboarding.MeasurementMap, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	m := make(onboarding.MeasurementMap, len(f.Biometrics))
	for k, v := range f.Biometrics {
		m[k] = v
	}
	return m, nil
}

// GeneratePlan returns the fixture plan.
func (f *Fixtures) GeneratePlan(ctx context.Context, req onboarding.PlanRequest) (onboarding.WorkoutPlan, error) {
	if err := f.wait(ctx); err != nil {
		return onboarding.WorkoutPlan{}, err
	}
	data, err := json.Marshal(f.WorkoutPlan)
	if err != nil {
		return onboarding.WorkoutPlan{}, err
	}
	var plan onboarding.WorkoutPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return onboarding.WorkoutPlan{}, err
	}
	return plan, nil
}

var (
	_ onboarding.BiometricsUploader = (*Fixtures)(nil)
	_ onboarding.PlanGenerator      = (*Fixtures)(nil)
	_ onboarding.BiometricsUploader = (*Client)(nil)
	_ onboarding.PlanGenerator      = (*Client)(nil)
)
