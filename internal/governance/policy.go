package governance

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request describes one physical action about to be dispatched.
type Request struct {
	Action string // workflow action kind, e.g. "type_text"
	// Payload is the text typed, the key combo pressed, the URL opened or
	// the application launched. Empty for pointer-only actions.
	Payload    string
	WorkflowID string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// PolicyEngine evaluates actions against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultPolicyEngine denies whole action kinds, payloads matching a
// pattern, and navigation to blocked hosts.
type DefaultPolicyEngine struct {
	DeniedActions map[string]bool
	DeniedRegex   []*regexp.Regexp
	DeniedHosts   map[string]bool
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		DeniedActions: make(map[string]bool),
		DeniedRegex:   make([]*regexp.Regexp, 0),
		DeniedHosts:   make(map[string]bool),
	}
}

// Rules is the serialized form of a policy.
type Rules struct {
	DenyActions  []string `json:"deny_actions"`
	DenyPatterns []string `json:"deny_patterns"`
	DenyHosts    []string `json:"deny_hosts"`
}

// FromRules builds an engine from configuration.
func FromRules(r Rules) (*DefaultPolicyEngine, error) {
	e := NewDefaultPolicyEngine()
	for _, a := range r.DenyActions {
		e.DenyAction(a)
	}
	for _, p := range r.DenyPatterns {
		if err := e.DenyPayload(p); err != nil {
			return nil, fmt.Errorf("policy pattern %q: %w", p, err)
		}
	}
	for _, h := range r.DenyHosts {
		e.DenyHost(h)
	}
	return e, nil
}

func (e *DefaultPolicyEngine) DenyAction(kind string) {
	e.DeniedActions[kind] = true
}

func (e *DefaultPolicyEngine) DenyPayload(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

func (e *DefaultPolicyEngine) DenyHost(host string) {
	e.DeniedHosts[strings.ToLower(host)] = true
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	if e.DeniedActions[req.Action] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("Action '%s' is restricted by system policy", req.Action),
		}, nil
	}

	for _, re := range e.DeniedRegex {
		if re.MatchString(req.Payload) {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("Payload matches restricted pattern: %s", re.String()),
			}, nil
		}
	}

	if req.Action == "navigate" && len(e.DeniedHosts) > 0 {
		if u, err := url.Parse(req.Payload); err == nil && e.hostDenied(u.Hostname()) {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("Host '%s' is restricted by system policy", u.Hostname()),
			}, nil
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
	}, nil
}

// hostDenied matches the host and every parent domain.
func (e *DefaultPolicyEngine) hostDenied(host string) bool {
	host = strings.ToLower(host)
	for host != "" {
		if e.DeniedHosts[host] {
			return true
		}
		_, rest, ok := strings.Cut(host, ".")
		if !ok {
			break
		}
		host = rest
	}
	return false
}
