package units

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestConvertMeasurement(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   float64
		system  string
		wantKey string
		want    float64
	}{
		{"height to inches", "height_cm", 180, Imperial, "height_in", 70.866},
		{"weight to pounds", "weight_kg", 81, Imperial, "weight_lb", 178.574},
		{"unsuffixed key passes through", "waist", 84, Imperial, "waist", 84},
		{"metric is identity", "height_cm", 180, Metric, "height_cm", 180},
		{"unknown system is identity", "weight_kg", 81, "furlongs", "weight_kg", 81},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, got := ConvertMeasurement(tt.key, tt.value, tt.system)
			if key != tt.wantKey {
				t.Errorf("key = %q, want %q", key, tt.wantKey)
			}
			if math.Abs(got-tt.want) > 0.01 {
				t.Errorf("ConvertMeasurement(%q, %f, %s) = %f, want %f", tt.key, tt.value, tt.system, got, tt.want)
			}
		})
	}
}

func TestConvertMeasurements(t *testing.T) {
	in := map[string]float64{"height_cm": 254, "weight_kg": 45.359237, "bmi": 22}
	got := ConvertMeasurements(in, Imperial)
	want := map[string]float64{"height_in": 100, "weight_lb": 100, "bmi": 22}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("ConvertMeasurements mismatch (-want +got):\n%s", diff)
	}
	if _, ok := in["height_in"]; ok {
		t.Error("input map was modified")
	}
	if ConvertMeasurements(nil, Imperial) != nil {
		t.Error("nil map should stay nil")
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		unit     string
		expected bool
	}{
		{Metric, true},
		{Imperial, true},
		{"", false},
		{"METRIC", false},
		{"mph", false},
	}

	for _, tt := range tests {
		if got := IsValid(tt.unit); got != tt.expected {
			t.Errorf("IsValid(%q) = %v, want %v", tt.unit, got, tt.expected)
		}
	}
}

func TestGetValidUnitsString(t *testing.T) {
	if got := GetValidUnitsString(); got != "metric, imperial" {
		t.Errorf("GetValidUnitsString() = %q", got)
	}
}
