// Package action dispatches one physical input action at a resolved
// location and captures the screen on either side of it.
package action

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/rahul/reenact/internal/governance"
	"github.com/rahul/reenact/internal/workflow"
)

var (
	ErrDispatchFailed = errors.New("action dispatch failed")
	ErrDenied         = errors.New("action denied by policy")
)

// Dispatcher sends real input events. Each call is fire-and-forget and
// returns an error only when dispatch itself failed.
type Dispatcher interface {
	Click(ctx context.Context, p image.Point) error
	Type(ctx context.Context, text string) error
	KeyCombo(ctx context.Context, combo string) error
	Scroll(ctx context.Context, p image.Point, delta int) error
	Drag(ctx context.Context, from, to image.Point) error
}

// Navigator is implemented by dispatchers that can open a URL directly.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

// Screen captures the current display.
type Screen interface {
	Capture(ctx context.Context) (image.Image, error)
}

// Request is one concrete action with its target already resolved.
type Request struct {
	Kind  workflow.ActionKind
	Point image.Point
	Drop  image.Point
	Text  string
	Delta int
	Wait  time.Duration
}

func (r Request) String() string {
	switch r.Kind {
	case workflow.ActionClickElement:
		return fmt.Sprintf("click at (%d,%d)", r.Point.X, r.Point.Y)
	case workflow.ActionDrag:
		return fmt.Sprintf("drag (%d,%d) -> (%d,%d)", r.Point.X, r.Point.Y, r.Drop.X, r.Drop.Y)
	case workflow.ActionScroll:
		return fmt.Sprintf("scroll %+d at (%d,%d)", r.Delta, r.Point.X, r.Point.Y)
	case workflow.ActionWait:
		return fmt.Sprintf("wait %s", r.Wait)
	case workflow.ActionTypeText:
		return fmt.Sprintf("type %q", r.Text)
	default:
		return fmt.Sprintf("%s %q", r.Kind, r.Text)
	}
}

// Outcome carries the screen state around a dispatched action.
type Outcome struct {
	Before    image.Image
	After     image.Image
	Performed string
}

type Option func(*Executor)

func WithPolicy(p governance.PolicyEngine) Option {
	return func(e *Executor) { e.policy = p }
}

func WithSettle(d time.Duration) Option {
	return func(e *Executor) { e.settle = d }
}

// WithKeys overrides the launcher key used by open_application and the
// combo that focuses the browser address bar.
func WithKeys(launcher, addressBar string) Option {
	return func(e *Executor) {
		if launcher != "" {
			e.launcherKey = launcher
		}
		if addressBar != "" {
			e.addressBar = addressBar
		}
	}
}

// Executor performs exactly one physical action per Execute call.
type Executor struct {
	dispatcher  Dispatcher
	screen      Screen
	policy      governance.PolicyEngine
	settle      time.Duration
	launcherKey string
	addressBar  string
}

func NewExecutor(d Dispatcher, s Screen, opts ...Option) *Executor {
	e := &Executor{
		dispatcher:  d,
		screen:      s,
		settle:      500 * time.Millisecond,
		launcherKey: "super",
		addressBar:  "ctrl+l",
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute captures the before state, dispatches req, waits for the UI to
// settle and captures the after state. Once dispatch has started it runs
// to completion even if ctx is cancelled.
func (e *Executor) Execute(ctx context.Context, workflowID string, req Request) (Outcome, error) {
	out := Outcome{Performed: req.String()}

	if req.Kind == workflow.ActionWait {
		select {
		case <-time.After(req.Wait):
			return out, nil
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}

	if e.policy != nil {
		res, err := e.policy.Evaluate(ctx, governance.Request{
			Action:     string(req.Kind),
			Payload:    req.Text,
			WorkflowID: workflowID,
		})
		if err != nil {
			return out, fmt.Errorf("evaluating policy: %w", err)
		}
		if res.Effect == governance.EffectDeny {
			return out, fmt.Errorf("%w: %s", ErrDenied, res.Reason)
		}
	}

	before, err := e.screen.Capture(ctx)
	if err != nil {
		return out, fmt.Errorf("capturing before state: %w", err)
	}
	out.Before = before

	dctx := context.WithoutCancel(ctx)
	if err := e.dispatch(dctx, req); err != nil {
		return out, fmt.Errorf("%w: %s: %v", ErrDispatchFailed, req.Kind, err)
	}
	time.Sleep(e.settle)

	after, err := e.screen.Capture(dctx)
	if err != nil {
		return out, fmt.Errorf("capturing after state: %w", err)
	}
	out.After = after
	return out, nil
}

// Scroll moves the viewport without capturing state. It is used between
// attempts to bring an off-screen target into view.
func (e *Executor) Scroll(ctx context.Context, p image.Point, delta int) error {
	if err := e.dispatcher.Scroll(context.WithoutCancel(ctx), p, delta); err != nil {
		return fmt.Errorf("%w: scroll: %v", ErrDispatchFailed, err)
	}
	return nil
}

func (e *Executor) dispatch(ctx context.Context, req Request) error {
	d := e.dispatcher
	switch req.Kind {
	case workflow.ActionClickElement:
		return d.Click(ctx, req.Point)
	case workflow.ActionTypeText:
		return d.Type(ctx, req.Text)
	case workflow.ActionKeyCombo:
		return d.KeyCombo(ctx, req.Text)
	case workflow.ActionScroll:
		return d.Scroll(ctx, req.Point, req.Delta)
	case workflow.ActionDrag:
		return d.Drag(ctx, req.Point, req.Drop)
	case workflow.ActionNavigate:
		if n, ok := d.(Navigator); ok {
			return n.Navigate(ctx, req.Text)
		}
		return e.sequence(ctx, e.addressBar, req.Text)
	case workflow.ActionOpenApplication:
		return e.sequence(ctx, e.launcherKey, req.Text)
	default:
		return fmt.Errorf("unsupported action kind %q", req.Kind)
	}
}

// sequence focuses an input with combo, types text and submits it.
func (e *Executor) sequence(ctx context.Context, combo, text string) error {
	if err := e.dispatcher.KeyCombo(ctx, combo); err != nil {
		return err
	}
	time.Sleep(e.settle / 2)
	if err := e.dispatcher.Type(ctx, text); err != nil {
		return err
	}
	return e.dispatcher.KeyCombo(ctx, "Return")
}
