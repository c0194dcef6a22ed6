package onboarding

import (
	"context"
	"time"
)

// Camera produces a still image for a slot when the shutter is pressed.
type Camera interface {
	Capture(ctx context.Context, slot Slot) (ImageHandle, error)
}

// ImageDiscarder is implemented by cameras that can delete the captures of a
// run that ended without completing.
type ImageDiscarder interface {
	Discard(ctx context.Context, img ImageHandle) error
}

// CaptureSequencer enforces frontal-then-side ordering and keeps each
// successful capture immutable until the run is reset.
type CaptureSequencer struct {
	frontal *CaptureSlot
	side    *CaptureSlot
}

// Admit reports whether a capture for slot may start now. It never changes
// the sequencer.
func (s *CaptureSequencer) Admit(slot Slot) error {
	switch slot {
	case SlotFrontal:
		if s.frontal != nil {
			return stageErrorf(StateCapturingSide, ErrSequence, nil, "frontal image already captured")
		}
	case SlotSide:
		if s.frontal == nil {
			return stageErrorf(StateCapturingFrontal, ErrSequence, nil, "side capture requested before frontal")
		}
		if s.side != nil {
			return stageErrorf(StateFrontalAndSideReady, ErrSequence, nil, "side image already captured")
		}
	default:
		return stageErrorf(StateInit, ErrSequence, nil, "unknown slot %q", slot)
	}
	return nil
}

// Record stores a successful capture.
func (s *CaptureSequencer) Record(slot Slot, img ImageHandle, at time.Time) (CaptureSlot, error) {
	if err := s.Admit(slot); err != nil {
		return CaptureSlot{}, err
	}
	c := CaptureSlot{Slot: slot, Image: img, CapturedAt: at}
	if slot == SlotFrontal {
		s.frontal = &c
	} else {
		s.side = &c
	}
	return c, nil
}

// Images returns the captured handles in slot order.
func (s *CaptureSequencer) Images() []ImageHandle {
	var imgs []ImageHandle
	for _, c := range []*CaptureSlot{s.frontal, s.side} {
		if c != nil {
			imgs = append(imgs, c.Image)
		}
	}
	return imgs
}

// Ready reports whether both slots are filled.
func (s *CaptureSequencer) Ready() bool {
	return s.frontal != nil && s.side != nil
}

// Frontal returns the frontal capture, if any.
func (s *CaptureSequencer) Frontal() (CaptureSlot, bool) {
	if s.frontal == nil {
		return CaptureSlot{}, false
	}
	return *s.frontal, true
}

// Side returns the side capture, if any.
func (s *CaptureSequencer) Side() (CaptureSlot, bool) {
	if s.side == nil {
		return CaptureSlot{}, false
	}
	return *s.side, true
}

// next is the capturing state that follows a successful capture of slot.
func (s *CaptureSequencer) next() State {
	switch {
	case s.Ready():
		return StateFrontalAndSideReady
	case s.frontal != nil:
		return StateCapturingSide
	default:
		return StateCapturingFrontal
	}
}
