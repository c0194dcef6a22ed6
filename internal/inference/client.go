// Package inference talks to the remote biometrics and plan services.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/fitcoach/onboard/internal/fsutil"
	"github.com/fitcoach/onboard/internal/httputil"
	"github.com/fitcoach/onboard/internal/monitoring"
	"github.com/fitcoach/onboard/internal/onboarding"
	"github.com/fitcoach/onboard/internal/version"
)

// Multipart field names expected by the biometrics service.
const (
	FieldFrontal = "frontal_image"
	FieldSide    = "side_image"
)

// maxResponseBytes caps what either service may send back.
const maxResponseBytes = 4 << 20

var logf = monitoring.Component("inference")

// Client implements onboarding.BiometricsUploader and
// onboarding.PlanGenerator over HTTP. Each call is a single request; the
// caller decides whether to retry.
type Client struct {
	HTTP          httputil.HTTPClient
	FS            fsutil.FileSystem
	BiometricsURL string
	PlanURL       string
}

// NewClient creates a Client. A nil httpClient uses http.DefaultClient and a
// nil fs reads images from disk.
func NewClient(httpClient httputil.HTTPClient, fs fsutil.FileSystem, biometricsURL, planURL string) *Client {
	if httpClient == nil {
		httpClient = httputil.NewStandardClient(nil)
	}
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	return &Client{
		HTTP:          httpClient,
		FS:            fs,
		BiometricsURL: biometricsURL,
		PlanURL:       planURL,
	}
}

type biometricsResponse struct {
	Biometrics map[string]*float64 `json:"biometrics"`
}

// UploadBiometrics posts both images in one multipart request and returns
// the measurements from the "biometrics" object. Null values are dropped so
// that downstream validation sees them as missing.
func (c *Client) UploadBiometrics(ctx context.Context, frontal, side onboarding.ImageHandle) (onboarding.MeasurementMap, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, part := range []struct {
		field string
		img   onboarding.ImageHandle
	}{{FieldFrontal, frontal}, {FieldSide, side}} {
		if err := c.writeImagePart(mw, part.field, part.img); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BiometricsURL, &buf)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	logf("uploading %s and %s to %s", frontal.URI, side.URI, c.BiometricsURL)
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var parsed biometricsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding biometrics response: %w", err)
	}
	if parsed.Biometrics == nil {
		return nil, errors.New("biometrics response has no \"biometrics\" object")
	}
	m := make(onboarding.MeasurementMap, len(parsed.Biometrics))
	for k, v := range parsed.Biometrics {
		if v != nil {
			m[k] = *v
		}
	}
	return m, nil
}

func (c *Client) writeImagePart(mw *multipart.Writer, field string, img onboarding.ImageHandle) error {
	path, err := ImagePath(img)
	if err != nil {
		return err
	}
	data, err := c.FS.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", field, err)
	}
	contentType := img.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filepath.Base(path)))
	h.Set("Content-Type", contentType)
	w, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("creating %s part: %w", field, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing %s part: %w", field, err)
	}
	return nil
}

// ImagePath resolves an image handle to a local path. Handles are either
// file:// URIs or plain paths.
func ImagePath(img onboarding.ImageHandle) (string, error) {
	if img.URI == "" {
		return "", errors.New("image handle has no URI")
	}
	if !strings.Contains(img.URI, "://") {
		return img.URI, nil
	}
	u, err := url.Parse(img.URI)
	if err != nil {
		return "", fmt.Errorf("parsing image URI: %w", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported image URI scheme %q", u.Scheme)
	}
	return u.Path, nil
}

// FileURI is the handle URI for a local path.
func FileURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

type planResponse struct {
	WorkoutPlan *onboarding.WorkoutPlan `json:"workoutPlan"`
}

// GeneratePlan posts the profile as JSON and returns the "workoutPlan" list.
func (c *Client) GeneratePlan(ctx context.Context, pr onboarding.PlanRequest) (onboarding.WorkoutPlan, error) {
	payload, err := json.Marshal(pr)
	if err != nil {
		return onboarding.WorkoutPlan{}, fmt.Errorf("encoding plan request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.PlanURL, bytes.NewReader(payload))
	if err != nil {
		return onboarding.WorkoutPlan{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	logf("requesting plan from %s (goal=%s level=%s)", c.PlanURL, pr.Goal, pr.Level)
	body, err := c.do(req)
	if err != nil {
		return onboarding.WorkoutPlan{}, err
	}

	var parsed planResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return onboarding.WorkoutPlan{}, fmt.Errorf("decoding plan response: %w", err)
	}
	if parsed.WorkoutPlan == nil {
		return onboarding.WorkoutPlan{}, errors.New("plan response has no \"workoutPlan\" list")
	}
	return *parsed.WorkoutPlan, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	body, err := httputil.ReadBody(resp, maxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	return body, nil
}
