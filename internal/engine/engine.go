// Package engine drives a workflow run: every step goes through the
// Locating, Acting and Verifying states with bounded retries and a fixed
// rotation of remediations between attempts.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/rahul/reenact/internal/action"
	"github.com/rahul/reenact/internal/geometry"
	"github.com/rahul/reenact/internal/params"
	"github.com/rahul/reenact/internal/resolve"
	"github.com/rahul/reenact/internal/visual"
	"github.com/rahul/reenact/internal/workflow"
)

// Config bounds the retry loop. MaxAttempts counts every cycle including
// the first, so a step that keeps failing goes through the first
// MaxAttempts-1 entries of Menu. Relax and widen need 4 and 5.
type Config struct {
	MaxAttempts     int
	StepBudget      time.Duration
	Thresholds      resolve.Thresholds
	RelaxStep       float64
	ScrollIncrement int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		StepBudget:      30 * time.Second,
		Thresholds:      resolve.DefaultThresholds(),
		RelaxStep:       0.15,
		ScrollIncrement: 5,
		BackoffBase:     500 * time.Millisecond,
		BackoffMax:      2 * time.Second,
	}
}

// Backoff returns the wait applied by the n-th (0-based) wait remediation.
func (c Config) Backoff(n int) time.Duration {
	d := c.BackoffBase
	for range n {
		d *= 2
		if d >= c.BackoffMax {
			return c.BackoffMax
		}
	}
	return min(d, c.BackoffMax)
}

// CandidateGenerator proposes locations for a target on a capture.
type CandidateGenerator interface {
	Generate(ctx context.Context, capture image.Image, t resolve.Target) []resolve.Candidate
}

// Deps are the engine's collaborators.
type Deps struct {
	Generator CandidateGenerator
	Arbiter   *resolve.Arbiter
	Executor  *action.Executor
	Verifier  *visual.Verifier
	Screen    action.Screen
	Observer  Observer
}

// Engine runs workflows one step at a time. A single Engine must not run
// two workflows at once: the screen is shared.
type Engine struct {
	cfg Config
	Deps
}

func New(cfg Config, deps Deps) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if deps.Observer == nil {
		deps.Observer = NoopObserver{}
	}
	if deps.Arbiter == nil {
		deps.Arbiter = resolve.NewArbiter(20, 0.1)
	}
	if deps.Verifier == nil {
		deps.Verifier = visual.NewVerifier(visual.DefaultChangeThreshold)
	}
	return &Engine{cfg: cfg, Deps: deps}
}

// Run substitutes values into def and executes its steps in order. A
// missing parameter fails before any action and returns no report. Any
// other failure stops the run at the failing step; the report is returned
// together with the error.
func (e *Engine) Run(ctx context.Context, def *workflow.Definition, values map[string]string) (*Report, error) {
	steps, err := params.Substitute(def, values)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		RunID:        uuid.NewString(),
		WorkflowID:   def.ID,
		WorkflowName: def.Name,
		Parameters:   maps.Clone(values),
		Attempts:     []Attempt{},
		StartedAt:    time.Now(),
	}
	e.Observer.OnRunStart(ctx, rep)

	var runErr error
	for _, step := range steps {
		e.Observer.OnStepStart(ctx, rep, step)
		failure, err := e.runStep(ctx, rep, step)
		if err != nil {
			seq := step.Sequence
			rep.FailedStep = &seq
			rep.Failure = failure
			runErr = fmt.Errorf("workflow %q step %d: %w", def.Name, seq, err)
			break
		}
	}

	rep.Success = runErr == nil
	rep.FinishedAt = time.Now()
	e.Observer.OnRunFinished(ctx, rep)
	return rep, runErr
}

// stepRun is the mutable state of one step's state machine.
type stepRun struct {
	e    *Engine
	rep  *Report
	step workflow.Step

	target resolve.Target
	drop   resolve.Target
	th     resolve.Thresholds

	exclude      []image.Rectangle
	remediations []Remediation
	waits        int
	screen       image.Point
	last         *resolve.Candidate

	attempt   Attempt
	begun     time.Time
	committed bool
	req       action.Request
	outcome   action.Outcome
	err       error
}

func (e *Engine) runStep(ctx context.Context, rep *Report, step workflow.Step) (*Failure, error) {
	sctx, cancel := context.WithTimeout(ctx, e.cfg.StepBudget)
	defer cancel()

	r := &stepRun{
		e:            e,
		rep:          rep,
		step:         step,
		th:           e.cfg.Thresholds,
		remediations: []Remediation{},
		committed:    true,
		target: resolve.Target{
			Description: step.Target,
			Reference:   step.ReferencePosition,
		},
		drop: resolve.Target{
			Description: step.DropTarget,
			Reference:   step.DropPosition,
		},
	}
	if len(step.VisualSignature) > 0 {
		sig, err := visual.DecodePNG(step.VisualSignature)
		if err != nil {
			log.Printf("[engine] step %d: ignoring visual signature: %v", step.Sequence, err)
		} else {
			r.target.Signature = sig
		}
	}

	state := StateLocating
	for {
		switch state {
		case StateLocating:
			state = r.locate(ctx, sctx)
		case StateActing:
			state = r.act(sctx)
		case StateVerifying:
			state = r.verify()
		case StateRetrying:
			state = r.retry(ctx, sctx)
		case StateRecovering:
			state = r.recover(sctx)
		case StateSucceeded:
			if r.attempt.Index > 1 {
				r.commit(OutcomeRecovery)
			} else {
				r.commit(OutcomeSuccess)
			}
			return nil, nil
		case StateFailed:
			r.commit(OutcomeFailed)
			return r.failure(), r.err
		}
	}
}

func (r *stepRun) locate(ctx, sctx context.Context) State {
	if sctx.Err() != nil {
		r.err = r.budgetErr(ctx)
		return StateFailed
	}

	r.attempt = Attempt{Step: r.step.Sequence, Index: r.attempt.Index + 1}
	r.begun = time.Now()
	r.committed = false
	r.err = nil

	var point, drop image.Point
	if r.step.NeedsTarget() || r.step.Action == workflow.ActionScroll {
		capture, err := r.e.Screen.Capture(sctx)
		if err != nil {
			r.err = fmt.Errorf("capturing screen: %w", err)
			return StateRetrying
		}
		r.screen = capture.Bounds().Size()
		point = geometry.Center(capture.Bounds())

		if r.step.NeedsTarget() {
			d := r.resolve(sctx, capture, r.target)
			if d.Candidate != nil {
				r.attempt.Candidate = d.Candidate
				r.last = d.Candidate
			}
			if !d.Found {
				r.err = ErrTargetNotFound
				return StateRetrying
			}
			r.attempt.LowConfidence = d.LowConfidence
			point = d.Candidate.Center

			if r.step.Action == workflow.ActionDrag {
				dd := r.resolve(sctx, capture, r.drop)
				r.attempt.Drop = dd.Candidate
				if !dd.Found {
					r.err = fmt.Errorf("drop target: %w", ErrTargetNotFound)
					return StateRetrying
				}
				r.attempt.LowConfidence = r.attempt.LowConfidence || dd.LowConfidence
				drop = dd.Candidate.Center
			}
		}
	}

	req, err := r.request(point, drop)
	if err != nil {
		r.err = err
		return StateFailed
	}
	r.req = req
	return StateActing
}

func (r *stepRun) resolve(ctx context.Context, capture image.Image, t resolve.Target) resolve.Decision {
	cands := r.e.Generator.Generate(ctx, capture, t)
	return r.e.Arbiter.Decide(cands, r.th, r.exclude)
}

func (r *stepRun) request(point, drop image.Point) (action.Request, error) {
	s := r.step
	req := action.Request{Kind: s.Action, Point: point, Drop: drop, Text: s.Value}
	switch s.Action {
	case workflow.ActionOpenApplication:
		if req.Text == "" {
			req.Text = s.Target
		}
	case workflow.ActionScroll:
		delta, err := s.ScrollDelta(r.e.cfg.ScrollIncrement)
		if err != nil {
			return req, fmt.Errorf("scroll value: %w", err)
		}
		req.Delta = delta
	case workflow.ActionWait:
		d, err := s.WaitDuration()
		if err != nil {
			return req, fmt.Errorf("wait value: %w", err)
		}
		req.Wait = d
	}
	return req, nil
}

func (r *stepRun) act(ctx context.Context) State {
	out, err := r.e.Executor.Execute(ctx, r.rep.WorkflowID, r.req)
	r.attempt.Action = out.Performed
	if err != nil {
		r.err = err
		if errors.Is(err, ErrActionDenied) || errors.Is(err, ErrActionDispatchFailed) {
			return StateFailed
		}
		return StateRetrying
	}
	r.outcome = out
	return StateVerifying
}

func (r *stepRun) verify() State {
	if !r.step.Action.Verifiable() {
		return StateSucceeded
	}
	v, err := r.e.Verifier.Verify(r.outcome.Before, r.outcome.After)
	if err != nil {
		r.err = fmt.Errorf("verifying: %w", err)
		return StateRetrying
	}
	r.attempt.ScreenChanged = v.Changed
	r.attempt.Distance = v.Distance
	if v.Changed {
		return StateSucceeded
	}

	r.err = ErrNoVisibleChange
	if r.attempt.LowConfidence && r.attempt.Candidate != nil {
		c := r.attempt.Candidate.Center
		rad := int(r.e.Arbiter.Radius)
		r.exclude = append(r.exclude, image.Rect(c.X-rad, c.Y-rad, c.X+rad+1, c.Y+rad+1))
	}
	return StateRetrying
}

func (r *stepRun) retry(ctx, sctx context.Context) State {
	if sctx.Err() != nil {
		r.err = r.budgetErr(ctx)
		return StateFailed
	}
	if r.attempt.Index >= r.e.cfg.MaxAttempts {
		return StateFailed
	}
	return StateRecovering
}

func (r *stepRun) recover(ctx context.Context) State {
	rem := Menu[(r.attempt.Index-1)%len(Menu)]
	r.attempt.Remediation = &rem
	r.commit(OutcomeRetry)

	r.remediations = append(r.remediations, rem)
	r.e.Observer.OnRemediation(ctx, r.rep, r.step.Sequence, rem)
	if err := r.apply(ctx, rem); err != nil {
		log.Printf("[engine] step %d: remediation %s failed: %v", r.step.Sequence, rem, err)
	}
	return StateLocating
}

func (r *stepRun) apply(ctx context.Context, rem Remediation) error {
	switch rem {
	case RemediationScroll:
		if r.screen == (image.Point{}) {
			capture, err := r.e.Screen.Capture(ctx)
			if err != nil {
				return err
			}
			r.screen = capture.Bounds().Size()
		}
		delta := geometry.ScrollDirection(r.target.Reference) * r.e.cfg.ScrollIncrement
		return r.e.Executor.Scroll(ctx, image.Pt(r.screen.X/2, r.screen.Y/2), delta)
	case RemediationWait:
		d := r.e.cfg.Backoff(r.waits)
		r.waits++
		select {
		case <-time.After(d):
		case <-ctx.Done():
		}
	case RemediationRelax:
		r.th = r.th.Relax(r.e.cfg.RelaxStep)
	case RemediationWiden:
		r.target.Widen = true
		r.drop.Widen = true
	}
	return nil
}

// commit appends the current attempt to the report once.
func (r *stepRun) commit(o Outcome) {
	if r.committed {
		return
	}
	r.committed = true
	r.attempt.Outcome = o
	if r.err != nil && o != OutcomeSuccess && o != OutcomeRecovery {
		r.attempt.Error = r.err.Error()
	}
	r.attempt.Duration = time.Since(r.begun)
	r.rep.Attempts = append(r.rep.Attempts, r.attempt)
	r.e.Observer.OnAttempt(context.Background(), r.rep, r.attempt)
}

func (r *stepRun) failure() *Failure {
	f := &Failure{
		Step:          r.step.Sequence,
		LastCandidate: r.last,
		Remediations:  r.remediations,
	}
	if r.last != nil {
		f.Confidence = r.last.Confidence
	}
	if r.err != nil {
		f.Error = r.err.Error()
	}
	return f
}

func (r *stepRun) budgetErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run cancelled: %w", err)
	}
	return fmt.Errorf("%w after %s", ErrStepTimeout, r.e.cfg.StepBudget)
}
