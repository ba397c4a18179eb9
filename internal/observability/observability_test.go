package observability

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/reenact/internal/engine"
	"github.com/rahul/reenact/internal/workflow"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []Event {
	t.Helper()
	var out []Event
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e)
	}
	return out
}

func TestLogger_LLMEventsGoToFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "llm.jsonl")
	l := NewLogger(WithOutput(&buf), WithLLMLog(path, 0))

	l.LogLLM("locate", "run-1", "find it", "FOUND: no", nil)
	l.LogHeartbeat()

	events := decodeLines(t, &buf)
	require.Len(t, events, 2)
	assert.Equal(t, EventTypeLLM, events[0].Type)
	assert.Equal(t, "run-1", events[0].RunID)
	assert.Equal(t, EventTypeHeartbeat, events[1].Type)
	assert.False(t, events[1].Timestamp.IsZero())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
	assert.Contains(t, string(data), `"call":"locate"`)
}

func TestLogger_RotatesLLMLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llm.jsonl")
	l := NewLogger(WithOutput(&bytes.Buffer{}), WithLLMLog(path, 10))

	l.LogLLM("rank", "", "p", "r", nil)
	l.LogLLM("rank", "", "p", "r", nil)

	_, err := os.Stat(path + ".old")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
}

func TestEngineObserver(t *testing.T) {
	var buf bytes.Buffer
	obs := NewEngineObserver(NewLogger(WithOutput(&buf), WithLLMLog("", 0)))
	ctx := context.Background()
	rep := &engine.Report{RunID: "r", WorkflowID: "w", WorkflowName: "open course"}

	obs.OnRunStart(ctx, rep)
	assert.Equal(t, PhaseRunning, GetStatus().Phase)
	assert.Equal(t, "open course", GetStatus().Workflow)

	obs.OnStepStart(ctx, rep, workflow.Step{Sequence: 2, Action: workflow.ActionClickElement, Target: "x"})
	obs.OnAttempt(ctx, rep, engine.Attempt{Step: 2, Index: 1, Outcome: engine.OutcomeRetry})
	obs.OnRemediation(ctx, rep, 2, engine.RemediationScroll)
	st := GetStatus()
	assert.Equal(t, PhaseRecovering, st.Phase)
	assert.Equal(t, 2, st.Step)
	assert.Equal(t, 1, st.Attempt)
	assert.Contains(t, st.String(), `"open course" step 2 attempt 1`)

	rep.Success = true
	obs.OnRunFinished(ctx, rep)
	assert.Equal(t, PhaseIdle, GetStatus().Phase)
	assert.True(t, strings.HasPrefix(GetStatus().String(), `IDLE, last run "open course" ok`))

	step := 4
	rep.Success, rep.FailedStep = false, &step
	obs.OnRunFinished(ctx, rep)
	assert.Equal(t, `"open course" failed at step 4`, GetStatus().LastRun)

	var types []EventType
	for _, e := range decodeLines(t, &buf) {
		types = append(types, e.Type)
		assert.Equal(t, "r", e.RunID)
	}
	assert.Equal(t, []EventType{EventTypeRun, EventTypeStep, EventTypeAttempt, EventTypeRemediation, EventTypeRun, EventTypeRun}, types)
}

func TestStatusLine(t *testing.T) {
	now := time.Now()
	st := Status{Phase: PhaseRecovering, Workflow: "open the DataVis course page", Step: 3, Attempt: 2, LastHeartbeat: now.Add(-time.Minute)}

	line := statusLine(st, now, 1, 10<<20, 20<<20)
	assert.Contains(t, line, "LAGGING")
	assert.Contains(t, line, "RECOVERING")
	assert.Contains(t, line, "open the DataVis course p...")
	assert.Contains(t, line, spinner[1])
	assert.Contains(t, line, strings.Repeat("█", 10)+strings.Repeat("▒", 10))

	idle := statusLine(Status{Phase: PhaseIdle, LastRun: `"x" ok`, LastHeartbeat: now}, now, 0, 0, 0)
	assert.Contains(t, idle, "HEALTHY")
	assert.Contains(t, idle, `last: "x" ok`)
	assert.Contains(t, idle, strings.Repeat("▒", 20))
}

func TestHealth(t *testing.T) {
	_, label, _ := health(10 * time.Second)
	assert.Equal(t, "HEALTHY", label)
	_, label, _ = health(2 * time.Minute)
	assert.Equal(t, "OFFLINE", label)
}
