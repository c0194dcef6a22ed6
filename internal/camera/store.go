// Package camera produces the still images the onboarding pipeline uploads.
package camera

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // registers the JPEG decoder for DecodeConfig
	"net/http"
	"strings"

	"github.com/fitcoach/onboard/internal/fsutil"
	"github.com/fitcoach/onboard/internal/inference"
	"github.com/fitcoach/onboard/internal/onboarding"
	"github.com/fitcoach/onboard/internal/security"
	"github.com/fitcoach/onboard/internal/timeutil"
)

// JPEGContentType is the only image type the biometrics service accepts.
const JPEGContentType = "image/jpeg"

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrDecodingImage     = errors.New("image could not be decoded")
)

// ValidateJPEG checks that data is a decodable JPEG.
func ValidateJPEG(data []byte) error {
	if ct := http.DetectContentType(data); ct != JPEGContentType {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, ct)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecodingImage, err)
	}
	if format != "jpeg" {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return fmt.Errorf("%w: empty image", ErrDecodingImage)
	}
	return nil
}

// ImageStore names, validates and keeps captured images under Dir as
// <unix-millis>_<slot>.jpg.
type ImageStore struct {
	Dir   string
	FS    fsutil.FileSystem
	Clock timeutil.Clock
}

// NewImageStore creates dir if needed.
func NewImageStore(dir string, fs fsutil.FileSystem, clock timeutil.Clock) (*ImageStore, error) {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory %s: %w", dir, err)
	}
	return &ImageStore{Dir: dir, FS: fs, Clock: clock}, nil
}

// PathFor returns the path a new capture for slot should be written to.
func (s *ImageStore) PathFor(slot onboarding.Slot) (string, error) {
	name := fmt.Sprintf("%d_%s.jpg", s.Clock.Now().UnixMilli(), security.SanitizeFilename(string(slot)))
	return security.JoinWithin(s.Dir, name)
}

// Save validates data and writes it as a new capture for slot.
func (s *ImageStore) Save(slot onboarding.Slot, data []byte) (onboarding.ImageHandle, error) {
	if err := ValidateJPEG(data); err != nil {
		return onboarding.ImageHandle{}, err
	}
	path, err := s.PathFor(slot)
	if err != nil {
		return onboarding.ImageHandle{}, err
	}
	if err := s.FS.WriteFile(path, data, 0o644); err != nil {
		return onboarding.ImageHandle{}, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return handleFor(path), nil
}

// Adopt validates a file something else wrote into the store. Invalid files
// are removed.
func (s *ImageStore) Adopt(path string) (onboarding.ImageHandle, error) {
	if err := security.ValidatePathWithinDirectory(path, s.Dir); err != nil {
		return onboarding.ImageHandle{}, err
	}
	data, err := s.FS.ReadFile(path)
	if err != nil {
		return onboarding.ImageHandle{}, fmt.Errorf("capture produced no image: %w", err)
	}
	if err := ValidateJPEG(data); err != nil {
		if rmErr := s.FS.Remove(path); rmErr != nil {
			logf("failed to remove invalid capture %s: %v", path, rmErr)
		}
		return onboarding.ImageHandle{}, err
	}
	return handleFor(path), nil
}

// Remove deletes a stored image.
func (s *ImageStore) Remove(img onboarding.ImageHandle) error {
	path, err := inference.ImagePath(img)
	if err != nil {
		return err
	}
	if err := security.ValidatePathWithinDirectory(path, s.Dir); err != nil {
		return err
	}
	return s.FS.Remove(path)
}

func handleFor(path string) onboarding.ImageHandle {
	uri := path
	if strings.HasPrefix(path, "/") {
		uri = inference.FileURI(path)
	}
	return onboarding.ImageHandle{URI: uri, ContentType: JPEGContentType}
}
