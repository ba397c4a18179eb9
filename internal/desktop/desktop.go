// Package desktop drives an X11 session through xdotool and captures it
// with ffmpeg, falling back to scrot.
package desktop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rahul/reenact/internal/action"
)

// Runner executes an external command against an X display and returns
// its stdout.
type Runner func(ctx context.Context, display, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, display, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "DISPLAY="+display)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%s is not installed: %w", name, err)
		}
		return nil, fmt.Errorf("%s: %v: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Desktop implements action.Dispatcher and action.Screen for an X display.
type Desktop struct {
	Display string
	run     Runner
}

var (
	_ action.Dispatcher = (*Desktop)(nil)
	_ action.Screen     = (*Desktop)(nil)
)

// New returns a Desktop for display (":0.0" when empty).
func New(display string) *Desktop {
	return NewWithRunner(display, execRunner)
}

func NewWithRunner(display string, run Runner) *Desktop {
	if display == "" {
		display = ":0.0"
	}
	return &Desktop{Display: display, run: run}
}

func (d *Desktop) xdotool(ctx context.Context, args ...string) error {
	_, err := d.run(ctx, d.Display, "xdotool", args...)
	return err
}

func (d *Desktop) Click(ctx context.Context, p image.Point) error {
	return d.xdotool(ctx, "mousemove", strconv.Itoa(p.X), strconv.Itoa(p.Y), "click", "1")
}

func (d *Desktop) Type(ctx context.Context, text string) error {
	if text == "" {
		return errors.New("text is required for type")
	}
	return d.xdotool(ctx, "type", "--delay", "20", "--", text)
}

// KeyCombo accepts xdotool key names joined with '+', e.g. "ctrl+l".
func (d *Desktop) KeyCombo(ctx context.Context, combo string) error {
	if combo == "" {
		return errors.New("key is required for key combo")
	}
	return d.xdotool(ctx, "key", "--clearmodifiers", combo)
}

// Scroll sends |delta| wheel clicks at p. Positive delta scrolls down.
func (d *Desktop) Scroll(ctx context.Context, p image.Point, delta int) error {
	if delta == 0 {
		return nil
	}
	button := "5"
	if delta < 0 {
		button, delta = "4", -delta
	}
	return d.xdotool(ctx, "mousemove", strconv.Itoa(p.X), strconv.Itoa(p.Y),
		"click", "--repeat", strconv.Itoa(delta), button)
}

func (d *Desktop) Drag(ctx context.Context, from, to image.Point) error {
	return d.xdotool(ctx,
		"mousemove", strconv.Itoa(from.X), strconv.Itoa(from.Y),
		"mousedown", "1",
		"mousemove", "--sync", strconv.Itoa(to.X), strconv.Itoa(to.Y),
		"mouseup", "1")
}

// Capture grabs one frame of the display as PNG.
func (d *Desktop) Capture(ctx context.Context) (image.Image, error) {
	out, err := d.run(ctx, d.Display, "ffmpeg", "-loglevel", "error", "-f", "x11grab", "-i", d.Display,
		"-frames:v", "1", "-f", "image2pipe", "-vcodec", "png", "-")
	if err == nil {
		return decode(out)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// scrot cannot write to stdout
	dir, derr := os.MkdirTemp("", "reenact-shot")
	if derr != nil {
		return nil, fmt.Errorf("capturing desktop: %v", err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "shot.png")
	if _, serr := d.run(ctx, d.Display, "scrot", "--overwrite", path); serr != nil {
		return nil, fmt.Errorf("capturing desktop: ffmpeg: %v; scrot: %v", err, serr)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decode(data)
}

func decode(data []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding screenshot: %w", err)
	}
	return img, nil
}
