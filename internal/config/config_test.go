package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "onboard.db", cfg.DBPath)
	assert.Equal(t, "images", cfg.ImageDir)
	assert.Equal(t, 60*time.Second, cfg.GetUploadTimeout())
	assert.Equal(t, 90*time.Second, cfg.GetPlanTimeout())
	assert.Equal(t, 15*time.Second, cfg.GetCaptureTimeout())
	assert.Contains(t, cfg.Goals, "Build Muscle")
	assert.Equal(t, []string{"Beginner", "Intermediate", "Advanced"}, cfg.Levels)
	assert.Equal(t, "metric", cfg.Units)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_PartialOverlay(t *testing.T) {
	path := writeConfig(t, "onboard.json", `{
  "plan_url": "https://plans.example.com/generate-workout",
  "plan_timeout": "30s",
  "levels": ["Easy", "Hard"],
  "goals": []
}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://plans.example.com/generate-workout", cfg.PlanURL)
	assert.Equal(t, 30*time.Second, cfg.GetPlanTimeout())
	assert.Equal(t, []string{"Easy", "Hard"}, cfg.Levels)
	// Untouched and explicitly emptied fields keep defaults.
	assert.Equal(t, "http://localhost:5000/analyze-biometrics", cfg.BiometricsURL)
	assert.Len(t, cfg.Goals, 4)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "onboard.yaml", `{}`, ".json extension"},
		{"bad json", "onboard.json", `{`, "failed to parse config JSON"},
		{"bad url scheme", "onboard.json", `{"plan_url": "ftp://x"}`, "plan_url must be an http(s) URL"},
		{"bad duration", "onboard.json", `{"upload_timeout": "soon"}`, "invalid upload_timeout"},
		{"negative duration", "onboard.json", `{"capture_timeout": "-1s"}`, "capture_timeout must be positive"},
		{"duplicate goal", "onboard.json", `{"goals": ["Tone", "tone "]}`, "duplicate entry"},
		{"shutter without output", "onboard.json", `{"shutter_command": ["libcamera-still", "-n"]}`, "{output}"},
		{"unknown units", "onboard.json", `{"units": "stone"}`, "invalid units"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_TooLarge(t *testing.T) {
	body := `{"listen": "` + strings.Repeat("x", 1024*1024) + `"}`
	_, err := Load(writeConfig(t, "big.json", body))
	assert.ErrorContains(t, err, "too large")
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorContains(t, err, "failed to stat config file")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvPlanURL: " https://plan.internal/gen ",
		EnvDBPath:  "/var/lib/onboard/onboard.db",
		EnvListen:  "",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, "https://plan.internal/gen", cfg.PlanURL)
	assert.Equal(t, "/var/lib/onboard/onboard.db", cfg.DBPath)
	assert.Equal(t, ":8080", cfg.Listen, "blank values do not override")
}

func TestGetters_FallBackOnGarbage(t *testing.T) {
	cfg := &Config{UploadTimeout: "nonsense", PlanTimeout: "0s"}
	assert.Equal(t, 60*time.Second, cfg.GetUploadTimeout())
	assert.Equal(t, 90*time.Second, cfg.GetPlanTimeout())
	assert.Equal(t, 15*time.Second, cfg.GetCaptureTimeout())
}
