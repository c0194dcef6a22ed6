package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"

	"github.com/fitcoach/onboard/internal/units"
)

// DefaultConfigPath is where onboard looks for its configuration when no
// -config flag is given.
const DefaultConfigPath = "config/onboard.json"

// OutputPlaceholder marks where the capture file path goes in ShutterCommand.
const OutputPlaceholder = "{output}"

// Config is the onboarding service configuration. Fields omitted from the
// JSON file keep their defaults, so partial configs are safe.
type Config struct {
	Listen   string `json:"listen" default:":8080"`
	DBPath   string `json:"db_path" default:"onboard.db"`
	ImageDir string `json:"image_dir" default:"images"`

	// Remote stages
	BiometricsURL string `json:"biometrics_url" default:"http://localhost:5000/analyze-biometrics"`
	PlanURL       string `json:"plan_url" default:"http://localhost:5000/generate-workout"`
	UploadTimeout string `json:"upload_timeout" default:"60s"` // duration string like "60s"
	PlanTimeout   string `json:"plan_timeout" default:"90s"`

	// Camera
	ShutterCommand []string `json:"shutter_command,omitempty"` // e.g. ["libcamera-still", "-n", "-o", "{output}"]
	CaptureTimeout string   `json:"capture_timeout" default:"15s"`

	// Dev mode fixtures
	FixturesPath      string            `json:"fixtures_path" default:"fixtures/onboard.json"`
	FixtureImagePaths map[string]string `json:"fixture_images,omitempty"` // slot -> jpeg path

	// Profile catalogs offered by the form.
	Goals  []string `json:"goals"`
	Levels []string `json:"levels"`

	// Units is the default display system for measurements.
	Units string `json:"units" default:"metric"`

	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// SetDefaults fills the catalogs; it is called by defaults.Set after the tag
// defaults are applied.
func (c *Config) SetDefaults() {
	if len(c.Goals) == 0 {
		c.Goals = []string{"Lose Weight", "Build Muscle", "Improve Endurance", "General Fitness"}
	}
	if len(c.Levels) == 0 {
		c.Levels = []string{"Beginner", "Intermediate", "Advanced"}
	}
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		// Only reachable if a default tag is malformed.
		panic(fmt.Sprintf("config: invalid default tag: %v", err))
	}
	return cfg
}

// Load reads a Config from a JSON file on top of the defaults and validates it.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	// An explicit empty list in the file falls back to the default catalog.
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Environment variables that override file values.
const (
	EnvBiometricsURL = "ONBOARD_BIOMETRICS_URL"
	EnvPlanURL       = "ONBOARD_PLAN_URL"
	EnvDBPath        = "ONBOARD_DB_PATH"
	EnvListen        = "ONBOARD_LISTEN"
	EnvImageDir      = "ONBOARD_IMAGE_DIR"
)

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv in
// production.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(EnvBiometricsURL, &c.BiometricsURL)
	set(EnvPlanURL, &c.PlanURL)
	set(EnvDBPath, &c.DBPath)
	set(EnvListen, &c.Listen)
	set(EnvImageDir, &c.ImageDir)
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{"biometrics_url": c.BiometricsURL, "plan_url": c.PlanURL} {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%s must be an http(s) URL, got %q", name, raw)
		}
	}

	for name, raw := range map[string]string{
		"upload_timeout":  c.UploadTimeout,
		"plan_timeout":    c.PlanTimeout,
		"capture_timeout": c.CaptureTimeout,
	} {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, raw)
		}
	}

	if len(c.ShutterCommand) > 0 {
		found := false
		for _, arg := range c.ShutterCommand {
			if strings.Contains(arg, OutputPlaceholder) {
				found = true
			}
		}
		if !found {
			return fmt.Errorf("shutter_command must contain %s", OutputPlaceholder)
		}
	}

	if !units.IsValid(c.Units) {
		return fmt.Errorf("invalid units %q; must be one of: %s", c.Units, units.GetValidUnitsString())
	}

	if err := validateCatalog("goals", c.Goals); err != nil {
		return err
	}
	return validateCatalog("levels", c.Levels)
}

func validateCatalog(name string, values []string) error {
	if len(values) == 0 {
		return fmt.Errorf("%s must not be empty", name)
	}
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			return fmt.Errorf("%s contains an empty entry", name)
		}
		if seen[key] {
			return fmt.Errorf("%s contains duplicate entry %q", name, v)
		}
		seen[key] = true
	}
	return nil
}

// GetUploadTimeout returns the biometrics upload timeout.
func (c *Config) GetUploadTimeout() time.Duration {
	return parseDurationOr(c.UploadTimeout, 60*time.Second)
}

// GetPlanTimeout returns the plan generation timeout.
func (c *Config) GetPlanTimeout() time.Duration {
	return parseDurationOr(c.PlanTimeout, 90*time.Second)
}

// GetCaptureTimeout returns how long a shutter command may run.
func (c *Config) GetCaptureTimeout() time.Duration {
	return parseDurationOr(c.CaptureTimeout, 15*time.Second)
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
