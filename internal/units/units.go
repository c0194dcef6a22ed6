// Package units provides display unit systems for body measurements.
package units

import "strings"

// Unit systems
const (
	Metric   = "metric"
	Imperial = "imperial"
)

// ValidUnits contains all valid unit systems
var ValidUnits = []string{Metric, Imperial}

// IsValid checks if the given unit system is known
func IsValid(system string) bool {
	for _, v := range ValidUnits {
		if system == v {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid unit systems for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

const (
	cmPerInch  = 2.54
	kgPerPound = 0.45359237
)

// ConvertMeasurement converts a metric measurement for display. Keys ending in
// _cm or _kg are converted for Imperial and renamed to _in or _lb; every other
// key passes through unchanged. Measurements are always stored metric.
func ConvertMeasurement(key string, value float64, system string) (string, float64) {
	if system != Imperial {
		return key, value
	}
	switch {
	case strings.HasSuffix(key, "_cm"):
		return strings.TrimSuffix(key, "_cm") + "_in", value / cmPerInch
	case strings.HasSuffix(key, "_kg"):
		return strings.TrimSuffix(key, "_kg") + "_lb", value / kgPerPound
	default:
		return key, value
	}
}

// ConvertMeasurements returns a converted copy of m. A nil map stays nil.
func ConvertMeasurements(m map[string]float64, system string) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		k2, v2 := ConvertMeasurement(k, v, system)
		out[k2] = v2
	}
	return out
}
