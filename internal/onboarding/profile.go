package onboarding

import (
	"strconv"
	"strings"
)

// Catalog lists the goal and level choices offered on the profile form.
type Catalog struct {
	Goals  []string
	Levels []string
}

// lookup returns the catalog spelling of v, matched case-insensitively.
func lookup(values []string, v string) (string, bool) {
	v = strings.TrimSpace(v)
	for _, c := range values {
		if strings.EqualFold(c, v) {
			return c, true
		}
	}
	return "", false
}

// BMI computes weight_kg / (height_cm/100)^2 without rounding.
func BMI(heightCM, weightKG float64) float64 {
	h := heightCM / 100
	return weightKG / (h * h)
}

// Assemble validates the form against the catalog and merges it with the
// measurements into a profile. It has no side effects.
func Assemble(form FormInput, m MeasurementMap, cat Catalog) (UserProfile, error) {
	invalid := func(format string, args ...any) (UserProfile, error) {
		return UserProfile{}, stageErrorf(StateAwaitingProfile, ErrValidation, nil, format, args...)
	}

	ageText := strings.TrimSpace(form.Age)
	if ageText == "" {
		return invalid("age is required")
	}
	age, err := strconv.Atoi(ageText)
	if err != nil || age <= 0 {
		return invalid("age must be a positive whole number")
	}

	gender, ok := ParseGender(form.Gender)
	if !ok {
		return invalid("select male or female")
	}

	goal, ok := lookup(cat.Goals, form.Goal)
	if !ok {
		return invalid("unknown goal %q", form.Goal)
	}
	level, ok := lookup(cat.Levels, form.Level)
	if !ok {
		return invalid("unknown level %q", form.Level)
	}

	height, weight := m[MeasureHeight], m[MeasureWeight]
	if !(height > 0) || !(weight > 0) {
		return invalid("height and weight could not be determined from the images")
	}

	return UserProfile{
		Age:          age,
		Gender:       gender,
		Goal:         goal,
		Level:        level,
		Measurements: m.clone(),
		BMI:          BMI(height, weight),
	}, nil
}
