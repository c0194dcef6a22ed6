package onboarding

import (
	"context"
	"math"
	"sort"
	"strings"
)

// BiometricsUploader turns the two captured images into body measurements.
// The remote inference client and the dev-mode fixtures both implement it.
type BiometricsUploader interface {
	UploadBiometrics(ctx context.Context, frontal, side ImageHandle) (MeasurementMap, error)
}

// uploadBiometrics sends both images in one call and validates the result.
// Transport failures are ErrUpload; a usable transport result with missing
// height or weight is ErrIncompleteMeasurements.
func uploadBiometrics(ctx context.Context, up BiometricsUploader, frontal, side ImageHandle) (MeasurementMap, error) {
	m, err := up.UploadBiometrics(ctx, frontal, side)
	if err != nil {
		return nil, stageErrorf(StateUploadingBiometrics, ErrUpload, err, "upload of frontal and side images failed")
	}
	if err := ValidateMeasurements(m); err != nil {
		return nil, err
	}
	return m.clone(), nil
}

// ValidateMeasurements checks that height and weight are present and
// positive and that no value is negative or not a number.
func ValidateMeasurements(m MeasurementMap) error {
	var problems []string
	for _, key := range []string{MeasureHeight, MeasureWeight} {
		v, ok := m[key]
		switch {
		case !ok:
			problems = append(problems, key+" missing")
		case !(v > 0) || math.IsInf(v, 0):
			problems = append(problems, key+" not positive")
		}
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == MeasureHeight || k == MeasureWeight {
			continue
		}
		if v := m[k]; math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			problems = append(problems, k+" invalid")
		}
	}

	if len(problems) > 0 {
		return stageErrorf(StateUploadingBiometrics, ErrIncompleteMeasurements, nil, "%s", strings.Join(problems, ", "))
	}
	return nil
}
