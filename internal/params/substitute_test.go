package params

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/reenact/internal/workflow"
)

func courseWorkflow() *workflow.Definition {
	return &workflow.Definition{
		Name: "open course",
		Parameters: []workflow.ParameterSpec{
			{Name: "course_name", ExampleValue: "Machine Learning", TypeHint: workflow.HintString},
		},
		Steps: []workflow.Step{
			{Sequence: 1, Action: workflow.ActionClickElement, Target: "click link 'Machine Learning'", Parameterizable: true, ParameterName: "course_name"},
			{Sequence: 2, Action: workflow.ActionTypeText, Target: "search box", Value: "Machine Learning notes", Parameterizable: true, ParameterName: "course_name"},
			{Sequence: 3, Action: workflow.ActionClickElement, Target: "click 'Modules'"},
		},
	}
}

func TestApply_ReplacesExampleValue(t *testing.T) {
	def := courseWorkflow()
	out, err := Apply(def, def.Steps[0], map[string]string{"course_name": "DataVis"})
	require.NoError(t, err)
	assert.Equal(t, "click link 'DataVis'", out.Target)
	// the stored step is untouched
	assert.Equal(t, "click link 'Machine Learning'", def.Steps[0].Target)
}

func TestApply_RewritesTypedValue(t *testing.T) {
	def := courseWorkflow()
	out, err := Apply(def, def.Steps[1], map[string]string{"course_name": "DataVis"})
	require.NoError(t, err)
	assert.Equal(t, "DataVis notes", out.Value)
	assert.Equal(t, "search box", out.Target)
}

func TestApply_PassThrough(t *testing.T) {
	def := courseWorkflow()
	out, err := Apply(def, def.Steps[2], nil)
	require.NoError(t, err)
	assert.Equal(t, def.Steps[2], out)
}

func TestApply_Idempotent(t *testing.T) {
	def := courseWorkflow()
	values := map[string]string{"course_name": "DataVis"}
	first, err := Apply(def, def.Steps[0], values)
	require.NoError(t, err)
	second, err := Apply(def, def.Steps[0], values)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestApply_MissingParameter(t *testing.T) {
	def := courseWorkflow()
	for _, values := range []map[string]string{nil, {"other": "x"}, {"course_name": ""}} {
		_, err := Apply(def, def.Steps[0], values)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMissingParameter)

		var mp *MissingParameterError
		require.True(t, errors.As(err, &mp))
		assert.Equal(t, "course_name", mp.Name)
		assert.Equal(t, 1, mp.Step)
	}
}

func TestSubstitute_AllOrNothing(t *testing.T) {
	def := courseWorkflow()
	steps, err := Substitute(def, map[string]string{"course_name": "DataVis"})
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "click link 'DataVis'", steps[0].Target)

	steps, err = Substitute(def, map[string]string{})
	assert.ErrorIs(t, err, ErrMissingParameter)
	assert.Nil(t, steps)
}

func TestApply_RewritesDropTarget(t *testing.T) {
	def := &workflow.Definition{
		Name:       "file report",
		Parameters: []workflow.ParameterSpec{{Name: "folder", ExampleValue: "Invoices", TypeHint: workflow.HintString}},
		Steps: []workflow.Step{
			{Sequence: 1, Action: workflow.ActionDrag, Target: "report.pdf", DropTarget: "folder 'Invoices'", Parameterizable: true, ParameterName: "folder"},
		},
	}
	out, err := Apply(def, def.Steps[0], map[string]string{"folder": "Receipts"})
	require.NoError(t, err)
	assert.Equal(t, "folder 'Receipts'", out.DropTarget)
	assert.Equal(t, "report.pdf", out.Target)
}
