package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/rahul/reenact/internal/action"
	"github.com/rahul/reenact/internal/resolve"
)

var (
	ErrTargetNotFound       = errors.New("target not found")
	ErrActionDispatchFailed = action.ErrDispatchFailed
	ErrActionDenied         = action.ErrDenied
	ErrStepTimeout          = errors.New("step timed out")
	ErrNoVisibleChange      = errors.New("no visible change after action")
)

// State is a position in the per-step retry state machine.
type State int

const (
	StateLocating State = iota
	StateActing
	StateVerifying
	StateSucceeded
	StateRetrying
	StateRecovering
	StateFailed
)

var stateNames = [...]string{"locating", "acting", "verifying", "succeeded", "retrying", "recovering", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Remediation is one recovery action applied between attempts.
type Remediation int

const (
	RemediationScroll Remediation = iota
	RemediationWait
	RemediationRelax
	RemediationWiden
)

// Menu is the fixed rotation of remediations.
var Menu = [...]Remediation{RemediationScroll, RemediationWait, RemediationRelax, RemediationWiden}

func (r Remediation) String() string {
	switch r {
	case RemediationScroll:
		return "scroll"
	case RemediationWait:
		return "wait"
	case RemediationRelax:
		return "relax_threshold"
	case RemediationWiden:
		return "widen_search"
	}
	return "unknown"
}

func (r Remediation) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Remediation) UnmarshalText(text []byte) error {
	for _, m := range Menu {
		if m.String() == string(text) {
			*r = m
			return nil
		}
	}
	return fmt.Errorf("unknown remediation %q", text)
}

// Outcome classifies a finished attempt.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeRecovery Outcome = "recovery"
	OutcomeRetry    Outcome = "retry"
	OutcomeFailed   Outcome = "failed"
)

// Attempt is the audit record of one Locating..Verifying cycle.
type Attempt struct {
	Step          int                `json:"step_sequence_number"`
	Index         int                `json:"attempt_index"`
	Candidate     *resolve.Candidate `json:"chosen_candidate,omitempty"`
	Drop          *resolve.Candidate `json:"drop_candidate,omitempty"`
	LowConfidence bool               `json:"low_confidence,omitempty"`
	Action        string             `json:"action_performed,omitempty"`
	ScreenChanged bool               `json:"screen_changed"`
	Distance      int                `json:"hash_distance,omitempty"`
	Outcome       Outcome            `json:"outcome"`
	Remediation   *Remediation       `json:"remediation,omitempty"`
	Error         string             `json:"error,omitempty"`
	Duration      time.Duration      `json:"duration"`
}

// Failure explains why a run stopped.
type Failure struct {
	Step          int                `json:"step"`
	LastCandidate *resolve.Candidate `json:"last_candidate,omitempty"`
	Confidence    float64            `json:"confidence,omitempty"`
	Remediations  []Remediation      `json:"remediations"`
	Error         string             `json:"error"`
}

// Report is returned by Run for every run that got past parameter
// substitution.
type Report struct {
	RunID        string            `json:"run_id"`
	WorkflowID   string            `json:"workflow_id"`
	WorkflowName string            `json:"workflow_name"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	Attempts     []Attempt         `json:"attempts"`
	Success      bool              `json:"success"`
	FailedStep   *int              `json:"failed_step,omitempty"`
	Failure      *Failure          `json:"failure,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
}

// Duration is the wall-clock length of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
