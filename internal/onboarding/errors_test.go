package onboarding

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageError(t *testing.T) {
	se := stageErrorf(StatePersisting, ErrPersistence, errBoom, "commit plan")
	assert.Equal(t, "plan persistence failed: commit plan: boom", se.Error())
	assert.ErrorIs(t, se, ErrPersistence)
	assert.ErrorIs(t, se, errBoom)
	assert.NotErrorIs(t, se, ErrGeneration)

	wrapped := fmt.Errorf("outer: %w", se)
	var got *StageError
	assert.True(t, errors.As(wrapped, &got))
	assert.Equal(t, StatePersisting, got.Stage)
}

func TestKindName(t *testing.T) {
	assert.Equal(t, "upload", KindName(stageErrorf(StateUploadingBiometrics, ErrUpload, nil, "")))
	assert.Equal(t, "incomplete_measurements", KindName(stageErrorf(StateUploadingBiometrics, ErrIncompleteMeasurements, nil, "")))
	assert.Equal(t, "busy", KindName(fmt.Errorf("%w: x", ErrBusy)))
	assert.Equal(t, "unknown", KindName(errBoom))
}

func TestUserMessage(t *testing.T) {
	upload := UserMessage(stageErrorf(StateUploadingBiometrics, ErrUpload, nil, ""))
	incomplete := UserMessage(stageErrorf(StateUploadingBiometrics, ErrIncompleteMeasurements, nil, ""))
	assert.Equal(t, upload, incomplete)
	assert.Empty(t, UserMessage(nil))
	assert.Contains(t, UserMessage(stageErrorf(StateAwaitingProfile, ErrValidation, nil, "age is required")), "age is required")
}
