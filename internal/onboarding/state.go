package onboarding

import "fmt"

// State is the pipeline progress of one run.
type State string

const (
	StateInit                State = "INIT"
	StateCapturingFrontal    State = "CAPTURING_FRONTAL"
	StateCapturingSide       State = "CAPTURING_SIDE"
	StateFrontalAndSideReady State = "FRONTAL_AND_SIDE_READY"
	StateUploadingBiometrics State = "UPLOADING_BIOMETRICS"
	StateAwaitingProfile     State = "AWAITING_PROFILE"
	StateGeneratingPlan      State = "GENERATING_PLAN"
	StatePersisting          State = "PERSISTING"
	StateComplete            State = "COMPLETE"
	StateFailed              State = "FAILED"
)

// IsTerminal reports whether the run is finished.
func IsTerminal(s State) bool {
	return s == StateComplete
}

// retryable lists the stages a FAILED run can re-enter.
func retryable(s State) bool {
	switch s {
	case StateUploadingBiometrics, StateGeneratingPlan, StatePersisting:
		return true
	}
	return false
}

func isAllowedTransition(from, to State) bool {
	if to == StateFailed {
		return !IsTerminal(from) && from != StateFailed
	}
	switch from {
	case StateInit:
		return to == StateCapturingFrontal
	case StateCapturingFrontal:
		return to == StateCapturingSide
	case StateCapturingSide:
		return to == StateFrontalAndSideReady
	case StateFrontalAndSideReady:
		return to == StateUploadingBiometrics
	case StateUploadingBiometrics:
		return to == StateAwaitingProfile
	case StateAwaitingProfile:
		return to == StateGeneratingPlan
	case StateGeneratingPlan:
		return to == StatePersisting
	case StatePersisting:
		return to == StateComplete
	case StateFailed:
		return retryable(to)
	default:
		return false
	}
}

// PipelineState is the single mutable value of a run: where it is, which
// stage failed (when State is StateFailed) and the most recent error.
type PipelineState struct {
	State       State
	FailedStage State
	LastError   error
}

// transition moves to the next state if the edge exists. Leaving FAILED is
// only allowed back into the stage that failed.
func (p *PipelineState) transition(to State) error {
	if !isAllowedTransition(p.State, to) {
		return fmt.Errorf("disallowed transition %s -> %s", p.State, to)
	}
	if p.State == StateFailed && to != p.FailedStage {
		return fmt.Errorf("disallowed transition %s(%s) -> %s", p.State, p.FailedStage, to)
	}
	if to != StateFailed {
		p.FailedStage = ""
		p.LastError = nil
	}
	p.State = to
	return nil
}

// fail records err and moves to FAILED, remembering the stage to retry.
func (p *PipelineState) fail(err *StageError) error {
	stage := p.State
	if err := p.transition(StateFailed); err != nil {
		return err
	}
	p.FailedStage = stage
	p.LastError = err
	return nil
}
