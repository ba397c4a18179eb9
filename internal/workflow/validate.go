package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid workflow")

// Validate checks the definition and every step's kind-specific fields.
// It is run when a workflow is loaded or stored, never during execution.
func Validate(d *Definition) error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalid)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("%w %q: must have at least one step", ErrInvalid, d.Name)
	}

	params := make(map[string]ParameterSpec, len(d.Parameters))
	for _, p := range d.Parameters {
		if p.Name == "" {
			return fmt.Errorf("%w %q: parameter without a name", ErrInvalid, d.Name)
		}
		if _, dup := params[p.Name]; dup {
			return fmt.Errorf("%w %q: duplicate parameter %q", ErrInvalid, d.Name, p.Name)
		}
		switch p.TypeHint {
		case "", HintString, HintNumber, HintURL:
		default:
			return fmt.Errorf("%w %q: parameter %q has unknown type hint %q", ErrInvalid, d.Name, p.Name, p.TypeHint)
		}
		params[p.Name] = p
	}

	seen := make(map[int]bool, len(d.Steps))
	for i := range d.Steps {
		s := &d.Steps[i]
		if seen[s.Sequence] {
			return fmt.Errorf("%w %q: duplicate sequence number %d", ErrInvalid, d.Name, s.Sequence)
		}
		seen[s.Sequence] = true
		if i > 0 && s.Sequence < d.Steps[i-1].Sequence {
			return fmt.Errorf("%w %q: steps out of order at %d", ErrInvalid, d.Name, s.Sequence)
		}
		if err := validateStep(s); err != nil {
			return fmt.Errorf("%w %q: step %d: %v", ErrInvalid, d.Name, s.Sequence, err)
		}
		if s.Parameterizable {
			p, ok := params[s.ParameterName]
			if !ok {
				return fmt.Errorf("%w %q: step %d references unknown parameter %q", ErrInvalid, d.Name, s.Sequence, s.ParameterName)
			}
			if p.ExampleValue == "" {
				return fmt.Errorf("%w %q: parameter %q has no example value", ErrInvalid, d.Name, p.Name)
			}
			if !s.Contains(p.ExampleValue) {
				return fmt.Errorf("%w %q: step %d does not contain the example value of %q", ErrInvalid, d.Name, s.Sequence, p.Name)
			}
		}
	}
	return nil
}

func validateStep(s *Step) error {
	if !s.Action.Valid() {
		return fmt.Errorf("unknown action kind %q", s.Action)
	}
	switch s.Action {
	case ActionClickElement:
		if s.Target == "" {
			return errors.New("click_element requires target_description")
		}
	case ActionDrag:
		if s.Target == "" || s.DropTarget == "" {
			return errors.New("drag requires target_description and drop_target")
		}
	case ActionTypeText:
		if s.Value == "" {
			return errors.New("type_text requires value")
		}
	case ActionKeyCombo:
		if s.Value == "" {
			return errors.New("key_combo requires value")
		}
	case ActionNavigate:
		if s.Value == "" {
			return errors.New("navigate requires a url value")
		}
	case ActionOpenApplication:
		if s.Value == "" && s.Target == "" {
			return errors.New("open_application requires the application name")
		}
	case ActionWait:
		d, err := s.WaitDuration()
		if err != nil {
			return fmt.Errorf("wait value: %v", err)
		}
		if d < 0 {
			return errors.New("wait duration must not be negative")
		}
	case ActionScroll:
		if _, err := s.ScrollDelta(0); err != nil {
			return fmt.Errorf("scroll value: %v", err)
		}
	}
	if s.Parameterizable && s.ParameterName == "" {
		return errors.New("parameterizable step without parameter_name")
	}
	return nil
}
