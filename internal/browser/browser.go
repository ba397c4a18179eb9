// Package browser runs workflows inside a Chrome tab driven over the
// DevTools protocol.
package browser

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/rahul/reenact/internal/action"
)

// Options configures the Chrome process.
type Options struct {
	Headless bool
	Width    int
	Height   int
	// Timeout bounds each DevTools round trip.
	Timeout time.Duration
}

func DefaultOptions() Options {
	return Options{Width: 1920, Height: 1080, Timeout: 60 * time.Second}
}

// Session implements action.Dispatcher, action.Navigator and action.Screen
// on one browser tab. Chrome starts on first use and stays open until Close.
type Session struct {
	opts Options

	mu            sync.Mutex
	allocCtx      context.Context
	browserCtx    context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
}

var (
	_ action.Dispatcher = (*Session)(nil)
	_ action.Navigator  = (*Session)(nil)
	_ action.Screen     = (*Session)(nil)
)

func NewSession(opts Options) *Session {
	d := DefaultOptions()
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = d.Width, d.Height
	}
	if opts.Timeout <= 0 {
		opts.Timeout = d.Timeout
	}
	return &Session{opts: opts}
}

func (s *Session) init() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browserCtx != nil {
		select {
		case <-s.browserCtx.Done():
			s.cleanup()
		default:
			return s.browserCtx, nil
		}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("headless", s.opts.Headless),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("force-device-scale-factor", "1"),
		chromedp.WindowSize(s.opts.Width, s.opts.Height),
	)

	s.allocCtx, s.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	s.browserCtx, s.browserCancel = chromedp.NewContext(s.allocCtx)

	if err := chromedp.Run(s.browserCtx); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to start browser: %v", err)
	}
	return s.browserCtx, nil
}

func (s *Session) cleanup() {
	if s.browserCancel != nil {
		s.browserCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
	s.browserCtx = nil
	s.allocCtx = nil
}

// Close shuts Chrome down. The next call starts a fresh browser.
func (s *Session) Close() {
	s.mu.Lock()
	s.cleanup()
	s.mu.Unlock()
}

// run executes actions on the tab. The tab context is not derived from ctx,
// so ctx cancellation is forwarded for the duration of the call.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	tab, err := s.init()
	if err != nil {
		return err
	}
	actionCtx, cancel := context.WithTimeout(tab, s.opts.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(actionCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (s *Session) Click(ctx context.Context, p image.Point) error {
	return s.run(ctx, chromedp.MouseClickXY(float64(p.X), float64(p.Y)))
}

// Type sends text to the focused element.
func (s *Session) Type(ctx context.Context, text string) error {
	return s.run(ctx, chromedp.KeyEvent(text))
}

func (s *Session) KeyCombo(ctx context.Context, combo string) error {
	key, mods, err := ParseCombo(combo)
	if err != nil {
		return err
	}
	return s.run(ctx, chromedp.KeyEvent(key, chromedp.KeyModifiers(mods...)))
}

// Scroll turns delta wheel clicks into a wheel event of 100px per click.
func (s *Session) Scroll(ctx context.Context, p image.Point, delta int) error {
	if delta == 0 {
		return nil
	}
	return s.run(ctx, input.DispatchMouseEvent(input.MouseWheel, float64(p.X), float64(p.Y)).
		WithDeltaX(0).
		WithDeltaY(float64(delta)*100))
}

func (s *Session) Drag(ctx context.Context, from, to image.Point) error {
	fx, fy, tx, ty := float64(from.X), float64(from.Y), float64(to.X), float64(to.Y)
	return s.run(ctx,
		input.DispatchMouseEvent(input.MouseMoved, fx, fy),
		input.DispatchMouseEvent(input.MousePressed, fx, fy).WithButton(input.Left).WithClickCount(1),
		input.DispatchMouseEvent(input.MouseMoved, (fx+tx)/2, (fy+ty)/2).WithButton(input.Left),
		input.DispatchMouseEvent(input.MouseMoved, tx, ty).WithButton(input.Left),
		input.DispatchMouseEvent(input.MouseReleased, tx, ty).WithButton(input.Left).WithClickCount(1),
	)
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if url == "" {
		return fmt.Errorf("url is required for navigate")
	}
	return s.run(ctx, chromedp.Navigate(url))
}

// Capture screenshots the visible viewport.
func (s *Session) Capture(ctx context.Context) (image.Image, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("decoding screenshot: %w", err)
	}
	return img, nil
}

var namedKeys = map[string]string{
	"return":    kb.Enter,
	"enter":     kb.Enter,
	"tab":       kb.Tab,
	"escape":    kb.Escape,
	"esc":       kb.Escape,
	"backspace": kb.Backspace,
	"delete":    kb.Delete,
	"up":        kb.ArrowUp,
	"down":      kb.ArrowDown,
	"left":      kb.ArrowLeft,
	"right":     kb.ArrowRight,
	"home":      kb.Home,
	"end":       kb.End,
	"page_up":   kb.PageUp,
	"prior":     kb.PageUp,
	"page_down": kb.PageDown,
	"next":      kb.PageDown,
	"space":     " ",
}

var modifiers = map[string]input.Modifier{
	"ctrl":    input.ModifierCtrl,
	"control": input.ModifierCtrl,
	"shift":   input.ModifierShift,
	"alt":     input.ModifierAlt,
	"meta":    input.ModifierMeta,
	"super":   input.ModifierMeta,
	"cmd":     input.ModifierMeta,
}

// ParseCombo splits an xdotool-style combo such as "ctrl+shift+t" into the
// final key and its modifiers.
func ParseCombo(combo string) (string, []input.Modifier, error) {
	parts := strings.Split(combo, "+")
	var mods []input.Modifier
	for _, p := range parts[:len(parts)-1] {
		m, ok := modifiers[strings.ToLower(strings.TrimSpace(p))]
		if !ok {
			return "", nil, fmt.Errorf("unknown modifier %q in %q", p, combo)
		}
		mods = append(mods, m)
	}

	key := strings.TrimSpace(parts[len(parts)-1])
	if key == "" {
		return "", nil, fmt.Errorf("empty key in combo %q", combo)
	}
	if named, ok := namedKeys[strings.ToLower(key)]; ok {
		return named, mods, nil
	}
	if len([]rune(key)) != 1 {
		return "", nil, fmt.Errorf("unknown key %q", key)
	}
	if len(mods) > 0 {
		key = strings.ToLower(key)
	}
	return key, mods, nil
}
