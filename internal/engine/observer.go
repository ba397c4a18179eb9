package engine

import (
	"context"

	"github.com/rahul/reenact/internal/workflow"
)

// Observer receives callbacks from the engine for logging and status
// reporting. Implementations run on the engine's goroutine and should be
// fast.
type Observer interface {
	OnRunStart(ctx context.Context, rep *Report)
	OnStepStart(ctx context.Context, rep *Report, step workflow.Step)
	OnAttempt(ctx context.Context, rep *Report, a Attempt)
	OnRemediation(ctx context.Context, rep *Report, step int, r Remediation)
	OnRunFinished(ctx context.Context, rep *Report)
}

// NoopObserver is an Observer that does nothing.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(context.Context, *Report)                      {}
func (NoopObserver) OnStepStart(context.Context, *Report, workflow.Step)      {}
func (NoopObserver) OnAttempt(context.Context, *Report, Attempt)              {}
func (NoopObserver) OnRemediation(context.Context, *Report, int, Remediation) {}
func (NoopObserver) OnRunFinished(context.Context, *Report)                   {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver forwards events to each non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, rep *Report) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, rep)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, rep *Report, step workflow.Step) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, rep, step)
	}
}

func (c *CompositeObserver) OnAttempt(ctx context.Context, rep *Report, a Attempt) {
	for _, o := range c.observers {
		o.OnAttempt(ctx, rep, a)
	}
}

func (c *CompositeObserver) OnRemediation(ctx context.Context, rep *Report, step int, r Remediation) {
	for _, o := range c.observers {
		o.OnRemediation(ctx, rep, step, r)
	}
}

func (c *CompositeObserver) OnRunFinished(ctx context.Context, rep *Report) {
	for _, o := range c.observers {
		o.OnRunFinished(ctx, rep)
	}
}
