package onboarding

import (
	"errors"
	"fmt"
)

// Error kinds. Every error a Controller intent returns matches exactly one of
// these with errors.Is, except ErrBusy and ErrAbandoned which describe the
// run rather than a stage.
var (
	ErrCamera                 = errors.New("camera error")
	ErrSequence               = errors.New("capture out of sequence")
	ErrUpload                 = errors.New("biometrics upload failed")
	ErrIncompleteMeasurements = errors.New("incomplete measurements")
	ErrValidation             = errors.New("invalid profile")
	ErrGeneration             = errors.New("plan generation failed")
	ErrPersistence            = errors.New("plan persistence failed")

	ErrBusy      = errors.New("stage already in progress")
	ErrAbandoned = errors.New("run abandoned")
)

// StageError is a failure attributed to one pipeline stage.
type StageError struct {
	Stage State
	Kind  error
	Msg   string
	Err   error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	s := e.Kind.Error()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func stageErrorf(stage State, kind error, cause error, format string, args ...any) *StageError {
	return &StageError{Stage: stage, Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

var kindNames = []struct {
	kind error
	name string
}{
	{ErrCamera, "camera"},
	{ErrSequence, "sequence"},
	{ErrUpload, "upload"},
	{ErrIncompleteMeasurements, "incomplete_measurements"},
	{ErrValidation, "validation"},
	{ErrGeneration, "generation"},
	{ErrPersistence, "persistence"},
	{ErrBusy, "busy"},
	{ErrAbandoned, "abandoned"},
}

// KindName returns the diagnostic name of err's kind, or "unknown".
func KindName(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		for _, k := range kindNames {
			if se.Kind == k.kind {
				return k.name
			}
		}
	}
	for _, k := range kindNames {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	return "unknown"
}

// UserMessage returns the short message shown next to the retry action.
// Upload failures and unusable measurements read the same to the user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCamera):
		return "Photo capture failed. Please try again."
	case errors.Is(err, ErrSequence):
		return "Please take the frontal photo first."
	case errors.Is(err, ErrUpload), errors.Is(err, ErrIncompleteMeasurements):
		return "Could not process images, try again."
	case errors.Is(err, ErrValidation):
		var se *StageError
		if errors.As(err, &se) && se.Msg != "" {
			return "Please check your details: " + se.Msg + "."
		}
		return "Please check your details."
	case errors.Is(err, ErrGeneration):
		return "Could not generate your plan, try again."
	case errors.Is(err, ErrPersistence):
		return "Could not save your plan, try again."
	case errors.Is(err, ErrBusy):
		return "Please wait for the current step to finish."
	default:
		return "Something went wrong."
	}
}
