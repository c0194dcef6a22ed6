package onboarding

import "context"

// ErrorView is the last error as presented to the user.
type ErrorView struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// Snapshot is a read-only copy of the run for rendering. It never contains a
// plan before the run is COMPLETE.
type Snapshot struct {
	RunID        string         `json:"run_id"`
	State        State          `json:"state"`
	FailedStage  State          `json:"failed_stage,omitempty"`
	Busy         bool           `json:"busy"`
	CanRetry     bool           `json:"can_retry"`
	Frontal      *CaptureSlot   `json:"frontal,omitempty"`
	Side         *CaptureSlot   `json:"side,omitempty"`
	Measurements MeasurementMap `json:"measurements,omitempty"`
	Profile      *UserProfile   `json:"profile,omitempty"`
	Plan         *WorkoutPlan   `json:"plan,omitempty"`
	Attempts     int            `json:"attempts"`
	Error        *ErrorView     `json:"error,omitempty"`
}

// Snapshot returns the current run.
func (c *Controller) Snapshot(ctx context.Context) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	r := c.run
	s := Snapshot{
		RunID:        r.id,
		State:        r.state.State,
		Busy:         r.pending,
		CanRetry:     r.state.State == StateFailed && !r.pending,
		Measurements: r.measurements.clone(),
		Attempts:     r.attempt,
	}
	if r.state.State == StateFailed {
		s.FailedStage = r.state.FailedStage
	}
	if f, ok := r.seq.Frontal(); ok {
		s.Frontal = &f
	}
	if sd, ok := r.seq.Side(); ok {
		s.Side = &sd
	}
	if r.profile != nil {
		p := *r.profile
		p.Measurements = p.Measurements.clone()
		s.Profile = &p
	}
	if r.state.State == StateComplete {
		plan := r.plan.clone()
		s.Plan = &plan
	}
	if err := r.state.LastError; err != nil {
		s.Error = &ErrorView{
			Kind:    KindName(err),
			Message: UserMessage(err),
			Detail:  err.Error(),
		}
	}
	return s
}
