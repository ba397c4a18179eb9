package observability

import (
	"fmt"
	"sync"
	"time"
)

type Phase string

const (
	PhaseIdle       Phase = "IDLE"
	PhaseRunning    Phase = "RUNNING"
	PhaseRecovering Phase = "RECOVERING"
)

// Status is a snapshot of what the process is doing. LastRun summarizes
// the most recent finished run.
type Status struct {
	Phase         Phase
	Workflow      string
	Step          int
	Attempt       int
	LastRun       string
	LastHeartbeat time.Time
}

// String renders the status for chat replies.
func (s Status) String() string {
	if s.Phase == PhaseIdle || s.Workflow == "" {
		if s.LastRun != "" {
			return fmt.Sprintf("%s, last run %s (last heartbeat %s)", PhaseIdle, s.LastRun, s.LastHeartbeat.Format("15:04:05"))
		}
		return fmt.Sprintf("%s (last heartbeat %s)", PhaseIdle, s.LastHeartbeat.Format("15:04:05"))
	}
	return fmt.Sprintf("%s %q step %d attempt %d (last heartbeat %s)",
		s.Phase, s.Workflow, s.Step, s.Attempt, s.LastHeartbeat.Format("15:04:05"))
}

type systemStatus struct {
	mu sync.RWMutex
	Status
}

var globalStatus = &systemStatus{
	Status: Status{Phase: PhaseIdle, LastHeartbeat: time.Now()},
}

// SetStatus updates the global phase and workflow. Step progress is reset.
func SetStatus(phase Phase, workflow string) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.Phase = phase
	globalStatus.Workflow = workflow
	globalStatus.Step = 0
	globalStatus.Attempt = 0
}

// SetProgress records the step and attempt currently executing.
func SetProgress(phase Phase, step, attempt int) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.Phase = phase
	globalStatus.Step = step
	globalStatus.Attempt = attempt
}

// FinishRun returns to idle and remembers how the run ended.
func FinishRun(summary string) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.Phase = PhaseIdle
	globalStatus.Workflow = ""
	globalStatus.Step = 0
	globalStatus.Attempt = 0
	globalStatus.LastRun = summary
}

// GetStatus retrieves a copy of the global system status.
func GetStatus() Status {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return globalStatus.Status
}

// Heartbeat updates the last heartbeat time.
func Heartbeat() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.LastHeartbeat = time.Now()
}
