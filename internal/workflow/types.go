// Package workflow holds the learned, immutable description of a
// demonstrated task: its parameters and its ordered semantic steps.
package workflow

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/rahul/reenact/internal/geometry"
)

// ActionKind is the closed set of abstract actions a step can perform.
type ActionKind string

const (
	ActionOpenApplication ActionKind = "open_application"
	ActionClickElement    ActionKind = "click_element"
	ActionTypeText        ActionKind = "type_text"
	ActionKeyCombo        ActionKind = "key_combo"
	ActionNavigate        ActionKind = "navigate"
	ActionScroll          ActionKind = "scroll"
	ActionWait            ActionKind = "wait"
	ActionDrag            ActionKind = "drag"
)

var actionKinds = map[ActionKind]bool{
	ActionOpenApplication: true,
	ActionClickElement:    true,
	ActionTypeText:        true,
	ActionKeyCombo:        true,
	ActionNavigate:        true,
	ActionScroll:          true,
	ActionWait:            true,
	ActionDrag:            true,
}

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	return actionKinds[k]
}

// Verifiable reports whether a screen change is expected after the action.
func (k ActionKind) Verifiable() bool {
	return k != ActionWait
}

// TypeHint constrains the values a parameter accepts.
type TypeHint string

const (
	HintString TypeHint = "string"
	HintNumber TypeHint = "number"
	HintURL    TypeHint = "url"
)

// ParameterSpec declares a value that may change between runs.
type ParameterSpec struct {
	Name            string   `json:"name" yaml:"name"`
	ExampleValue    string   `json:"example_value" yaml:"example_value"`
	TypeHint        TypeHint `json:"type_hint" yaml:"type_hint"`
	OriginatingStep int      `json:"originating_step" yaml:"originating_step"`
	Description     string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// Signature is the PNG-encoded appearance of a target at recording time.
// JSON encodes it as base64 already; YAML gets the same representation.
type Signature []byte

func (s Signature) MarshalYAML() (any, error) {
	if len(s) == 0 {
		return "", nil
	}
	return base64.StdEncoding.EncodeToString(s), nil
}

func (s *Signature) UnmarshalYAML(unmarshal func(any) error) error {
	var text string
	if err := unmarshal(&text); err != nil {
		return err
	}
	b, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return err
	}
	*s = b
	return nil
}

// Step is one abstract action, independent of exact screen coordinates.
type Step struct {
	Sequence          int                 `json:"sequence_number" yaml:"sequence_number"`
	Action            ActionKind          `json:"action_kind" yaml:"action_kind"`
	Target            string              `json:"target_description,omitempty" yaml:"target_description,omitempty"`
	DropTarget        string              `json:"drop_target,omitempty" yaml:"drop_target,omitempty"`
	Value             string              `json:"value,omitempty" yaml:"value,omitempty"`
	ReferencePosition *geometry.NormPoint `json:"reference_normalized_position,omitempty" yaml:"reference_normalized_position,omitempty"`
	DropPosition      *geometry.NormPoint `json:"drop_normalized_position,omitempty" yaml:"drop_normalized_position,omitempty"`
	VisualSignature   Signature           `json:"visual_signature,omitempty" yaml:"visual_signature,omitempty"`
	Parameterizable   bool                `json:"is_parameterizable" yaml:"is_parameterizable"`
	ParameterName     string              `json:"parameter_name,omitempty" yaml:"parameter_name,omitempty"`
}

// NeedsTarget reports whether the step must be resolved to a screen
// location before it can be performed.
func (s Step) NeedsTarget() bool {
	switch s.Action {
	case ActionClickElement, ActionDrag:
		return true
	case ActionScroll:
		return s.Target != ""
	}
	return false
}

// Contains reports whether v appears in the step's target, drop target
// or value.
func (s Step) Contains(v string) bool {
	return strings.Contains(s.Target, v) || strings.Contains(s.DropTarget, v) || strings.Contains(s.Value, v)
}

// WaitDuration parses the value of a wait step. Plain numbers are seconds.
func (s Step) WaitDuration() (time.Duration, error) {
	v := strings.TrimSpace(s.Value)
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

// ScrollDelta parses the value of a scroll step as wheel clicks, positive
// scrolling down. An empty value scrolls down by def.
func (s Step) ScrollDelta(def int) (int, error) {
	v := strings.TrimSpace(s.Value)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// Definition is a finalized workflow. It is read-only once stored.
type Definition struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description" yaml:"description"`
	Tags        []string        `json:"tags,omitempty" yaml:"tags,omitempty"`
	Parameters  []ParameterSpec `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Steps       []Step          `json:"steps" yaml:"steps"`
	CreatedAt   time.Time       `json:"created_at" yaml:"created_at,omitempty"`
}

// Parameter looks up a parameter spec by name.
func (d *Definition) Parameter(name string) (ParameterSpec, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterSpec{}, false
}

// HasTag reports whether the workflow carries tag (case-insensitive).
func (d *Definition) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Summary is the one-line text used when ranking workflows against a
// natural-language request.
func (d *Definition) Summary() string {
	s := d.Name
	if d.Description != "" {
		s += ": " + d.Description
	}
	if len(d.Tags) > 0 {
		s += " (tags: " + strings.Join(d.Tags, ", ") + ")"
	}
	return s
}
