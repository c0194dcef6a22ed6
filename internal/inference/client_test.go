package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitcoach/onboard/internal/fsutil"
	"github.com/fitcoach/onboard/internal/httputil"
	"github.com/fitcoach/onboard/internal/onboarding"
)

var (
	frontalJPEG = []byte("\xff\xd8\xff\xe0frontal")
	sideJPEG    = []byte("\xff\xd8\xff\xe0side")
)

func setupClient(t *testing.T) (*Client, *httputil.MockHTTPClient) {
	t.Helper()
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.MkdirAll("/images", 0o755))
	require.NoError(t, fs.WriteFile("/images/1_frontal.jpg", frontalJPEG, 0o644))
	require.NoError(t, fs.WriteFile("/images/2_side.jpg", sideJPEG, 0o644))

	mock := httputil.NewMockHTTPClient()
	return NewClient(mock, fs, "http://ml.local/analyze-biometrics", "http://ml.local/generate-workout"), mock
}

var (
	frontal = onboarding.ImageHandle{URI: "file:///images/1_frontal.jpg", ContentType: "image/jpeg"}
	side    = onboarding.ImageHandle{URI: "/images/2_side.jpg"}
)

func TestUploadBiometrics_Multipart(t *testing.T) {
	c, mock := setupClient(t)
	mock.AddResponse(http.StatusOK, `{"biometrics": {"height_cm": 180, "weight_kg": 81, "waist": 84.5}}`)

	m, err := c.UploadBiometrics(context.Background(), frontal, side)
	require.NoError(t, err)
	assert.Equal(t, onboarding.MeasurementMap{"height_cm": 180, "weight_kg": 81, "waist": 84.5}, m)

	require.Equal(t, 1, mock.RequestCount())
	req := mock.GetRequest(0)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "http://ml.local/analyze-biometrics", req.URL.String())

	mediaType, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mediaType)

	mr := multipart.NewReader(bytes.NewReader(mock.GetBody(0)), params["boundary"])
	parts := map[string][]byte{}
	filenames := map[string]string{}
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(p)
		require.NoError(t, err)
		parts[p.FormName()] = data
		filenames[p.FormName()] = p.FileName()
	}
	assert.Equal(t, frontalJPEG, parts[FieldFrontal])
	assert.Equal(t, sideJPEG, parts[FieldSide])
	assert.Equal(t, map[string]string{FieldFrontal: "1_frontal.jpg", FieldSide: "2_side.jpg"}, filenames)
}

func TestUploadBiometrics_NullValuesDropped(t *testing.T) {
	c, mock := setupClient(t)
	mock.AddResponse(http.StatusOK, `{"biometrics": {"height_cm": 180, "weight_kg": null}}`)

	m, err := c.UploadBiometrics(context.Background(), frontal, side)
	require.NoError(t, err)
	_, ok := m["weight_kg"]
	assert.False(t, ok)
}

func TestUploadBiometrics_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		err    error
	}{
		{"server error", http.StatusInternalServerError, `{"error": "model crashed"}`, nil},
		{"malformed json", http.StatusOK, `{"biometrics": `, nil},
		{"missing object", http.StatusOK, `{"measurements": {}}`, nil},
		{"transport", 0, "", errors.New("connection refused")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, mock := setupClient(t)
			if tt.err != nil {
				mock.AddErrorResponse(tt.err)
			} else {
				mock.AddResponse(tt.status, tt.body)
			}
			_, err := c.UploadBiometrics(context.Background(), frontal, side)
			assert.Error(t, err)
		})
	}
}

func TestUploadBiometrics_StatusError(t *testing.T) {
	c, mock := setupClient(t)
	mock.AddResponse(http.StatusBadGateway, "upstream down")

	_, err := c.UploadBiometrics(context.Background(), frontal, side)
	var se *httputil.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
}

func TestUploadBiometrics_MissingImage(t *testing.T) {
	c, mock := setupClient(t)
	_, err := c.UploadBiometrics(context.Background(), onboarding.ImageHandle{URI: "/images/nope.jpg"}, side)
	assert.Error(t, err)
	assert.Zero(t, mock.RequestCount())
}

func TestUploadBiometrics_Cancelled(t *testing.T) {
	c, mock := setupClient(t)
	mock.AddResponse(http.StatusOK, `{"biometrics": {"height_cm": 180, "weight_kg": 81}}`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.UploadBiometrics(ctx, frontal, side)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGeneratePlan(t *testing.T) {
	c, mock := setupClient(t)
	mock.AddResponse(http.StatusOK, `{"workoutPlan": ["Day 1: Legs", {"day": 2, "exercises": ["Row"]}]}`)

	req := onboarding.PlanRequest{Age: 30, Gender: "Male", HeightCM: 180, WeightKG: 81, Goal: "Build Muscle", Level: "Beginner", BMI: 25}
	plan, err := c.GeneratePlan(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, plan.Len())

	sent := mock.GetRequest(0)
	assert.Equal(t, "application/json", sent.Header.Get("Content-Type"))
	assert.Contains(t, sent.Header.Get("User-Agent"), "onboard/")

	var got map[string]any
	require.NoError(t, json.Unmarshal(mock.GetBody(0), &got))
	want := map[string]any{
		"age": 30.0, "gender": "Male", "height_cm": 180.0, "weight_kg": 81.0,
		"goal": "Build Muscle", "level": "Beginner", "bmi": 25.0,
		"chest_cm": 0.0, "waist_cm": 0.0, "hip_cm": 0.0, "thigh_cm": 0.0, "bicep_cm": 0.0,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("request body mismatch (-want +got):\n%s", diff)
	}
}

func TestGeneratePlan_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusServiceUnavailable, "busy"},
		{"missing list", http.StatusOK, `{"plan": []}`},
		{"not a list", http.StatusOK, `{"workoutPlan": "rest"}`},
		{"malformed", http.StatusOK, `<html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, mock := setupClient(t)
			mock.AddResponse(tt.status, tt.body)
			_, err := c.GeneratePlan(context.Background(), onboarding.PlanRequest{})
			assert.Error(t, err)
		})
	}
}

func TestGeneratePlan_EmptyListIsNotAnError(t *testing.T) {
	// Rejecting an empty plan is the pipeline's job.
	c, mock := setupClient(t)
	mock.AddResponse(http.StatusOK, `{"workoutPlan": []}`)
	plan, err := c.GeneratePlan(context.Background(), onboarding.PlanRequest{})
	require.NoError(t, err)
	assert.Zero(t, plan.Len())
}

func TestImagePath(t *testing.T) {
	p, err := ImagePath(onboarding.ImageHandle{URI: "file:///var/lib/onboard/images/1_side.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/onboard/images/1_side.jpg", p)

	_, err = ImagePath(onboarding.ImageHandle{URI: "https://cdn.example.com/a.jpg"})
	assert.Error(t, err)
	_, err = ImagePath(onboarding.ImageHandle{})
	assert.Error(t, err)

	uri := FileURI("/tmp/x y.jpg")
	p, err = ImagePath(onboarding.ImageHandle{URI: uri})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x y.jpg", p)
}
