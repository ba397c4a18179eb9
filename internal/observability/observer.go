package observability

import (
	"context"
	"fmt"

	"github.com/rahul/reenact/internal/engine"
	"github.com/rahul/reenact/internal/workflow"
)

// EngineObserver turns engine callbacks into log events and keeps the
// global status current.
type EngineObserver struct {
	Logger *Logger
}

var _ engine.Observer = (*EngineObserver)(nil)

func NewEngineObserver(l *Logger) *EngineObserver {
	return &EngineObserver{Logger: l}
}

func (o *EngineObserver) event(t EventType, rep *engine.Report, data any) {
	if o.Logger == nil {
		return
	}
	o.Logger.Log(Event{Type: t, RunID: rep.RunID, WorkflowID: rep.WorkflowID, Data: data})
}

func (o *EngineObserver) OnRunStart(_ context.Context, rep *engine.Report) {
	SetStatus(PhaseRunning, rep.WorkflowName)
	o.event(EventTypeRun, rep, map[string]any{
		"phase":      "start",
		"workflow":   rep.WorkflowName,
		"parameters": rep.Parameters,
	})
}

func (o *EngineObserver) OnStepStart(_ context.Context, rep *engine.Report, step workflow.Step) {
	SetProgress(PhaseRunning, step.Sequence, 0)
	o.event(EventTypeStep, rep, map[string]any{
		"step":   step.Sequence,
		"action": step.Action,
		"target": step.Target,
	})
}

func (o *EngineObserver) OnAttempt(_ context.Context, rep *engine.Report, a engine.Attempt) {
	SetProgress(PhaseRunning, a.Step, a.Index)
	o.event(EventTypeAttempt, rep, a)
}

func (o *EngineObserver) OnRemediation(_ context.Context, rep *engine.Report, step int, r engine.Remediation) {
	st := GetStatus()
	SetProgress(PhaseRecovering, step, st.Attempt)
	o.event(EventTypeRemediation, rep, map[string]any{
		"step":        step,
		"remediation": r.String(),
	})
}

func (o *EngineObserver) OnRunFinished(_ context.Context, rep *engine.Report) {
	outcome := fmt.Sprintf("%q ok", rep.WorkflowName)
	if !rep.Success {
		outcome = fmt.Sprintf("%q failed", rep.WorkflowName)
		if rep.FailedStep != nil {
			outcome += fmt.Sprintf(" at step %d", *rep.FailedStep)
		}
	}
	FinishRun(outcome)
	o.event(EventTypeRun, rep, map[string]any{
		"phase":       "finish",
		"success":     rep.Success,
		"failed_step": rep.FailedStep,
		"failure":     rep.Failure,
		"duration_ms": rep.Duration().Milliseconds(),
	})
}
