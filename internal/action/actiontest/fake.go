// Package actiontest provides in-memory dispatchers and screens for tests.
package actiontest

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math/rand"
	"sync"
)

// Dispatcher records every call as a short string such as "click 450,320".
type Dispatcher struct {
	mu    sync.Mutex
	calls []string
	// Fail makes every call return this error.
	Fail error
	// OnClick, when set, runs after each recorded click.
	OnClick func(p image.Point)
}

func (d *Dispatcher) record(format string, args ...any) error {
	d.mu.Lock()
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
	d.mu.Unlock()
	return d.Fail
}

func (d *Dispatcher) Click(_ context.Context, p image.Point) error {
	if err := d.record("click %d,%d", p.X, p.Y); err != nil {
		return err
	}
	if d.OnClick != nil {
		d.OnClick(p)
	}
	return nil
}

func (d *Dispatcher) Type(_ context.Context, text string) error {
	return d.record("type %s", text)
}

func (d *Dispatcher) KeyCombo(_ context.Context, combo string) error {
	return d.record("key %s", combo)
}

func (d *Dispatcher) Scroll(_ context.Context, p image.Point, delta int) error {
	return d.record("scroll %d,%d %+d", p.X, p.Y, delta)
}

func (d *Dispatcher) Drag(_ context.Context, from, to image.Point) error {
	return d.record("drag %d,%d %d,%d", from.X, from.Y, to.X, to.Y)
}

// Calls returns a copy of the recorded calls.
func (d *Dispatcher) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// Navigating adds direct URL navigation to Dispatcher.
type Navigating struct {
	Dispatcher
}

func (n *Navigating) Navigate(_ context.Context, url string) error {
	return n.record("navigate %s", url)
}

// Screen serves a current frame that tests can swap at any time.
type Screen struct {
	mu    sync.Mutex
	frame image.Image
	count int
	Fail  error
}

func NewScreen(frame image.Image) *Screen {
	return &Screen{frame: frame}
}

func (s *Screen) Capture(context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	if s.Fail != nil {
		return nil, s.Fail
	}
	return s.frame, nil
}

// Set replaces the frame returned by later captures.
func (s *Screen) Set(frame image.Image) {
	s.mu.Lock()
	s.frame = frame
	s.mu.Unlock()
}

// Captures reports how many captures were taken.
func (s *Screen) Captures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Frame returns a w×h image of random gray blocks. Frames with different
// seeds hash far apart.
func Frame(w, h int, seed int64) *image.RGBA {
	r := rand.New(rand.NewSource(seed))
	const cells = 32
	levels := make([]uint8, cells*cells)
	for i := range levels {
		levels[i] = uint8(r.Intn(256))
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := levels[(y*cells/h)*cells+x*cells/w]
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}
