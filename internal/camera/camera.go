package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os/exec"
	"strings"

	"github.com/fitcoach/onboard/internal/config"
	"github.com/fitcoach/onboard/internal/fsutil"
	"github.com/fitcoach/onboard/internal/monitoring"
	"github.com/fitcoach/onboard/internal/onboarding"
)

var logf = monitoring.Component("camera")

// Runner executes a shutter command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// CommandCamera captures by running an external still-capture program such
// as libcamera-still. Every argument equal to or containing the output
// placeholder is replaced by the destination path.
type CommandCamera struct {
	Store   *ImageStore
	Command []string
	Run     Runner
}

// NewCommandCamera creates a CommandCamera. command must reference the
// output placeholder.
func NewCommandCamera(store *ImageStore, command []string) (*CommandCamera, error) {
	if len(command) == 0 {
		return nil, errors.New("camera: shutter command is empty")
	}
	if !strings.Contains(strings.Join(command, " "), config.OutputPlaceholder) {
		return nil, fmt.Errorf("camera: shutter command must contain %s", config.OutputPlaceholder)
	}
	return &CommandCamera{Store: store, Command: command, Run: execRunner}, nil
}

// Capture runs the shutter command for slot and validates what it wrote.
func (c *CommandCamera) Capture(ctx context.Context, slot onboarding.Slot) (onboarding.ImageHandle, error) {
	path, err := c.Store.PathFor(slot)
	if err != nil {
		return onboarding.ImageHandle{}, err
	}
	args := make([]string, len(c.Command))
	for i, a := range c.Command {
		args[i] = strings.ReplaceAll(a, config.OutputPlaceholder, path)
	}

	logf("capturing %s: %s", slot, strings.Join(args, " "))
	out, err := c.Run(ctx, args[0], args[1:]...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return onboarding.ImageHandle{}, ctxErr
		}
		msg := strings.TrimSpace(string(out))
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return onboarding.ImageHandle{}, fmt.Errorf("shutter command failed: %w: %s", err, msg)
	}
	return c.Store.Adopt(path)
}

// Discard deletes a capture the pipeline no longer needs.
func (c *CommandCamera) Discard(ctx context.Context, img onboarding.ImageHandle) error {
	return c.Store.Remove(img)
}

var (
	_ onboarding.ImageDiscarder = (*CommandCamera)(nil)
	_ onboarding.ImageDiscarder = (*FixtureCamera)(nil)
)

// FixtureCamera serves images from disk instead of a sensor, for dev mode.
// Slots without a fixture get a generated placeholder frame.
type FixtureCamera struct {
	Store  *ImageStore
	Source fsutil.FileSystem
	Paths  map[onboarding.Slot]string
}

// Capture copies the fixture for slot into the store.
func (c *FixtureCamera) Capture(ctx context.Context, slot onboarding.Slot) (onboarding.ImageHandle, error) {
	if err := ctx.Err(); err != nil {
		return onboarding.ImageHandle{}, err
	}
	var data []byte
	if p, ok := c.Paths[slot]; ok && p != "" {
		b, err := c.Source.ReadFile(p)
		if err != nil {
			return onboarding.ImageHandle{}, fmt.Errorf("reading fixture image for %s: %w", slot, err)
		}
		data = b
	} else {
		b, err := PlaceholderJPEG(slot)
		if err != nil {
			return onboarding.ImageHandle{}, err
		}
		data = b
	}
	return c.Store.Save(slot, data)
}

func (c *FixtureCamera) Discard(ctx context.Context, img onboarding.ImageHandle) error {
	return c.Store.Remove(img)
}

// PlaceholderJPEG renders a small solid frame, darker for the side view.
func PlaceholderJPEG(slot onboarding.Slot) ([]byte, error) {
	shade := uint8(0xc0)
	if slot == onboarding.SlotSide {
		shade = 0x80
	}
	img := image.NewGray(image.Rect(0, 0, 64, 96))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	img.SetGray(32, 48, color.Gray{Y: 0})

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("encoding placeholder: %w", err)
	}
	return buf.Bytes(), nil
}

var (
	_ onboarding.Camera = (*CommandCamera)(nil)
	_ onboarding.Camera = (*FixtureCamera)(nil)
)
