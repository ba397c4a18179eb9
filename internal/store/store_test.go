package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/reenact/internal/engine"
	"github.com/rahul/reenact/internal/geometry"
	"github.com/rahul/reenact/internal/workflow"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func definition(id, name string, created time.Time, tags ...string) *workflow.Definition {
	return &workflow.Definition{
		ID:   id,
		Name: name,
		Tags: tags,
		Parameters: []workflow.ParameterSpec{
			{Name: "course_name", ExampleValue: "Machine Learning", TypeHint: workflow.HintString, OriginatingStep: 1},
		},
		Steps: []workflow.Step{{
			Sequence:          1,
			Action:            workflow.ActionClickElement,
			Target:            "course link 'Machine Learning'",
			ReferencePosition: &geometry.NormPoint{X: 234, Y: 296},
			VisualSignature:   workflow.Signature{0x89, 'P', 'N', 'G'},
			Parameterizable:   true,
			ParameterName:     "course_name",
		}},
		CreatedAt: created,
	}
}

func TestWorkflows(t *testing.T) {
	s := openMemory(t)
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveWorkflow(definition("b", "Open Course", t0.Add(time.Hour), "lms")))
	require.NoError(t, s.SaveWorkflow(definition("a", "Send email", t0, "mail")))

	got, err := s.GetWorkflow("b")
	require.NoError(t, err)
	assert.Equal(t, "Open Course", got.Name)
	assert.Equal(t, &geometry.NormPoint{X: 234, Y: 296}, got.Steps[0].ReferencePosition)
	assert.Equal(t, workflow.Signature{0x89, 'P', 'N', 'G'}, got.Steps[0].VisualSignature)

	all, err := s.ListWorkflows(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID, "oldest first")

	byTag, err := s.ListWorkflows(Filter{Tag: "lms"})
	require.NoError(t, err)
	require.Len(t, byTag, 1)
	assert.Equal(t, "b", byTag[0].ID)

	byName, err := s.ListWorkflows(Filter{Name: "EMAIL"})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "a", byName[0].ID)

	require.NoError(t, s.DeleteWorkflow("a"))
	_, err = s.GetWorkflow("a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteWorkflow("a"), ErrNotFound)
}

func TestSaveWorkflow_Validates(t *testing.T) {
	s := openMemory(t)
	def := definition("x", "broken", time.Time{})
	def.Steps[0].ParameterName = "nope"
	assert.ErrorIs(t, s.SaveWorkflow(def), workflow.ErrInvalid)

	ok := definition("y", "fine", time.Time{})
	require.NoError(t, s.SaveWorkflow(ok))
	assert.False(t, ok.CreatedAt.IsZero())
}

func TestReports(t *testing.T) {
	s := openMemory(t)
	t0 := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	step := 2

	require.NoError(t, s.SaveReport(&engine.Report{RunID: "r1", WorkflowID: "w", Success: true, StartedAt: t0}))
	require.NoError(t, s.SaveReport(&engine.Report{
		RunID:      "r2",
		WorkflowID: "w",
		FailedStep: &step,
		Failure:    &engine.Failure{Step: 2, Error: "target not found", Remediations: []engine.Remediation{engine.RemediationScroll, engine.RemediationRelax}},
		Attempts:   []engine.Attempt{{Step: 2, Index: 1, Outcome: engine.OutcomeFailed}},
		StartedAt:  t0.Add(time.Minute),
	}))
	require.NoError(t, s.SaveReport(&engine.Report{RunID: "r3", WorkflowID: "other", StartedAt: t0}))

	list, err := s.ListReports("w", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "r2", list[0].RunID)
	assert.Equal(t, 2, *list[0].FailedStep)
	assert.False(t, list[0].Success)
	assert.True(t, list[1].Success)
	assert.Nil(t, list[1].FailedStep)
	assert.Equal(t, t0, list[1].StartedAt)

	rep, err := s.GetReport("r2")
	require.NoError(t, err)
	require.NotNil(t, rep.Failure)
	assert.Equal(t, "target not found", rep.Failure.Error)
	assert.Equal(t, []engine.Remediation{engine.RemediationScroll, engine.RemediationRelax}, rep.Failure.Remediations)
	assert.Equal(t, engine.OutcomeFailed, rep.Attempts[0].Outcome)

	_, err = s.GetReport("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSchedules(t *testing.T) {
	s := openMemory(t)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	hourly, err := s.AddSchedule("chat1", "open DataVis course", time.Hour)
	require.NoError(t, err)
	once, err := s.AddSchedule("chat1", "send the report", 0)
	require.NoError(t, err)
	_, err = s.AddSchedule("chat2", "other", time.Hour)
	require.NoError(t, err)

	pending, err := s.PendingSchedules(now)
	require.NoError(t, err)
	assert.Len(t, pending, 3, "new schedules are due immediately")

	require.NoError(t, s.MarkScheduleRun(hourly, now))
	pending, err = s.PendingSchedules(now.Add(30 * time.Minute))
	require.NoError(t, err)
	for _, p := range pending {
		assert.NotEqual(t, hourly, p.ID)
	}
	pending, err = s.PendingSchedules(now.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	mine, err := s.ListSchedules("chat1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, time.Hour, mine[0].Interval)
	assert.Equal(t, now, mine[0].LastRun)
	assert.True(t, mine[0].Due(now.Add(time.Hour)))
	assert.False(t, mine[0].Due(now.Add(time.Minute)))

	assert.ErrorIs(t, s.DeleteSchedule("chat2", once), ErrNotFound)
	require.NoError(t, s.DeleteSchedule("chat1", once))
	require.NoError(t, s.ClearSchedules("chat1"))
	mine, err = s.ListSchedules("chat1")
	require.NoError(t, err)
	assert.Empty(t, mine)
}
