// Package params rewrites stored steps with the parameter values supplied
// for a run.
package params

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rahul/reenact/internal/workflow"
)

// ErrMissingParameter is matched by every *MissingParameterError.
var ErrMissingParameter = errors.New("missing parameter")

// MissingParameterError names the parameter a step needed but did not get.
type MissingParameterError struct {
	Name string
	Step int
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing parameter %q required by step %d", e.Name, e.Step)
}

func (e *MissingParameterError) Is(target error) bool {
	return target == ErrMissingParameter
}

// Apply returns a copy of step with the recorded example value replaced by
// the supplied one. Steps that are not parameterizable pass through.
// A missing value is an error: falling back to the example would act on
// the wrong target.
func Apply(def *workflow.Definition, step workflow.Step, values map[string]string) (workflow.Step, error) {
	if !step.Parameterizable {
		return step, nil
	}
	v, ok := values[step.ParameterName]
	if !ok || v == "" {
		return step, &MissingParameterError{Name: step.ParameterName, Step: step.Sequence}
	}
	spec, ok := def.Parameter(step.ParameterName)
	if !ok {
		return step, fmt.Errorf("step %d: parameter %q is not declared by workflow %q", step.Sequence, step.ParameterName, def.Name)
	}

	out := step
	out.Target = strings.ReplaceAll(step.Target, spec.ExampleValue, v)
	out.Value = strings.ReplaceAll(step.Value, spec.ExampleValue, v)
	out.DropTarget = strings.ReplaceAll(step.DropTarget, spec.ExampleValue, v)
	return out, nil
}

// Substitute applies values to every step of def. It fails before
// returning anything if a single step lacks its parameter.
func Substitute(def *workflow.Definition, values map[string]string) ([]workflow.Step, error) {
	steps := make([]workflow.Step, 0, len(def.Steps))
	for _, s := range def.Steps {
		out, err := Apply(def, s, values)
		if err != nil {
			return nil, err
		}
		steps = append(steps, out)
	}
	return steps, nil
}
