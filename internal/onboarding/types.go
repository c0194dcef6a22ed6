package onboarding

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Slot identifies one of the two required captures.
type Slot string

const (
	SlotFrontal Slot = "frontal"
	SlotSide    Slot = "side"
)

// ParseSlot accepts "frontal" or "side" in any case.
func ParseSlot(s string) (Slot, error) {
	switch Slot(strings.ToLower(strings.TrimSpace(s))) {
	case SlotFrontal:
		return SlotFrontal, nil
	case SlotSide:
		return SlotSide, nil
	default:
		return "", fmt.Errorf("unknown capture slot %q", s)
	}
}

// ImageHandle is an opaque reference to a captured still.
type ImageHandle struct {
	URI         string `json:"uri"`
	ContentType string `json:"content_type,omitempty"`
}

// CaptureSlot is a successful capture. It is never modified after creation.
type CaptureSlot struct {
	Slot       Slot        `json:"slot"`
	Image      ImageHandle `json:"image"`
	CapturedAt time.Time   `json:"captured_at"`
}

// Measurement names returned by the biometrics service.
const (
	MeasureHeight = "height_cm"
	MeasureWeight = "weight_kg"
	MeasureChest  = "chest"
	MeasureWaist  = "waist"
	MeasureHip    = "hip"
	MeasureThigh  = "thigh"
	MeasureBicep  = "bicep"
)

// MeasurementMap maps a measurement name to its value.
type MeasurementMap map[string]float64

func (m MeasurementMap) clone() MeasurementMap {
	if m == nil {
		return nil
	}
	out := make(MeasurementMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Gender as selected on the profile form.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// ParseGender accepts "male" or "female" in any case.
func ParseGender(s string) (Gender, bool) {
	switch Gender(strings.ToLower(strings.TrimSpace(s))) {
	case GenderMale:
		return GenderMale, true
	case GenderFemale:
		return GenderFemale, true
	}
	return "", false
}

// wire is the spelling the plan service expects.
func (g Gender) wire() string {
	switch g {
	case GenderMale:
		return "Male"
	case GenderFemale:
		return "Female"
	}
	return string(g)
}

// FormInput holds the raw profile form fields as entered by the user.
type FormInput struct {
	Age    string `json:"age" schema:"age"`
	Gender string `json:"gender" schema:"gender"`
	Goal   string `json:"goal" schema:"goal"`
	Level  string `json:"level" schema:"level"`
}

// UserProfile is a validated profile ready for plan generation.
type UserProfile struct {
	Age          int            `json:"age"`
	Gender       Gender         `json:"gender"`
	Goal         string         `json:"goal"`
	Level        string         `json:"level"`
	Measurements MeasurementMap `json:"measurements"`
	BMI          float64        `json:"bmi"`
}

// PlanRequest is the body sent to the plan generation service.
type PlanRequest struct {
	Age      int     `json:"age"`
	Gender   string  `json:"gender"`
	HeightCM float64 `json:"height_cm"`
	WeightKG float64 `json:"weight_kg"`
	Goal     string  `json:"goal"`
	Level    string  `json:"level"`
	BMI      float64 `json:"bmi"`
	ChestCM  float64 `json:"chest_cm"`
	WaistCM  float64 `json:"waist_cm"`
	HipCM    float64 `json:"hip_cm"`
	ThighCM  float64 `json:"thigh_cm"`
	BicepCM  float64 `json:"bicep_cm"`
}

// PlanRequest converts the profile to the plan service request. Optional
// measurements that were not reported are sent as zero.
func (p UserProfile) PlanRequest() PlanRequest {
	m := p.Measurements
	return PlanRequest{
		Age:      p.Age,
		Gender:   p.Gender.wire(),
		HeightCM: m[MeasureHeight],
		WeightKG: m[MeasureWeight],
		Goal:     p.Goal,
		Level:    p.Level,
		BMI:      p.BMI,
		ChestCM:  m[MeasureChest],
		WaistCM:  m[MeasureWaist],
		HipCM:    m[MeasureHip],
		ThighCM:  m[MeasureThigh],
		BicepCM:  m[MeasureBicep],
	}
}

// WorkoutPlan is the ordered plan returned by the plan service. Entries are
// kept as raw JSON and passed through untouched.
type WorkoutPlan struct {
	Entries []json.RawMessage
}

// Len returns the number of plan entries.
func (p WorkoutPlan) Len() int { return len(p.Entries) }

// MarshalJSON encodes the plan as a JSON array of its entries.
func (p WorkoutPlan) MarshalJSON() ([]byte, error) {
	if p.Entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p.Entries)
}

// UnmarshalJSON decodes a JSON array. null decodes to an empty plan.
func (p *WorkoutPlan) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		p.Entries = nil
		return nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("workout plan must be a JSON array: %w", err)
	}
	p.Entries = entries
	return nil
}

func (p WorkoutPlan) clone() WorkoutPlan {
	out := WorkoutPlan{Entries: make([]json.RawMessage, len(p.Entries))}
	for i, e := range p.Entries {
		out.Entries[i] = append(json.RawMessage(nil), e...)
	}
	return out
}
