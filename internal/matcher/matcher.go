// Package matcher picks the stored workflow a free-text request refers to
// and extracts its parameter values. Ranking is delegated to a language
// model; the acceptance policy lives here.
package matcher

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/rahul/reenact/internal/workflow"
)

var (
	ErrNoMatch        = errors.New("no matching workflow")
	ErrAmbiguousMatch = errors.New("workflow match needs confirmation")
	ErrParameterType  = errors.New("parameter does not match its type")
)

// AmbiguousMatchError carries a match whose similarity fell in the
// confirmation band. It must not be run without explicit confirmation.
type AmbiguousMatchError struct {
	Match *Match
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("%s: %q (similarity %.2f)", ErrAmbiguousMatch, e.Match.Workflow.Name, e.Match.Similarity)
}

func (e *AmbiguousMatchError) Is(target error) bool {
	return target == ErrAmbiguousMatch
}

// Ranking scores one catalog entry by its position in the list handed to
// the ranker.
type Ranking struct {
	Index      int     `json:"workflow_index"`
	Similarity float64 `json:"similarity"`
}

type Ranker interface {
	RankWorkflows(ctx context.Context, request string, descriptions []string) ([]Ranking, error)
}

// Extractor returns a value for every parameter it found in the request.
// Parameters it could not find are left out of the map.
type Extractor interface {
	ExtractParameters(ctx context.Context, request string, specs []workflow.ParameterSpec) (map[string]string, error)
}

type Config struct {
	Accept  float64
	Confirm float64
}

func DefaultConfig() Config {
	return Config{Accept: 0.7, Confirm: 0.5}
}

// Match is a selected workflow with the values extracted for it.
type Match struct {
	Workflow   *workflow.Definition `json:"-"`
	Similarity float64              `json:"similarity"`
	Parameters map[string]string    `json:"parameters"`
	// Missing lists declared parameters the request did not mention.
	Missing []string `json:"missing,omitempty"`
}

type Matcher struct {
	cfg       Config
	ranker    Ranker
	extractor Extractor
}

func New(cfg Config, ranker Ranker, extractor Extractor) *Matcher {
	return &Matcher{cfg: cfg, ranker: ranker, extractor: extractor}
}

// Match ranks catalog against request. It returns the match when the best
// similarity reaches Accept, an *AmbiguousMatchError between Confirm and
// Accept, and ErrNoMatch below Confirm. Equal similarities resolve to the
// entry that comes first in catalog.
func (m *Matcher) Match(ctx context.Context, request string, catalog []*workflow.Definition) (*Match, error) {
	if len(catalog) == 0 {
		return nil, fmt.Errorf("%w: catalog is empty", ErrNoMatch)
	}
	descriptions := make([]string, len(catalog))
	for i, d := range catalog {
		descriptions[i] = d.Summary()
	}

	rankings, err := m.ranker.RankWorkflows(ctx, request, descriptions)
	if err != nil {
		return nil, fmt.Errorf("ranking workflows: %w", err)
	}
	rankings = slices.DeleteFunc(slices.Clone(rankings), func(r Ranking) bool {
		return r.Index < 0 || r.Index >= len(catalog)
	})
	if len(rankings) == 0 {
		return nil, fmt.Errorf("%w for %q", ErrNoMatch, request)
	}
	best := slices.MinFunc(rankings, func(a, b Ranking) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return cmp.Compare(a.Index, b.Index)
	})

	if best.Similarity < m.cfg.Confirm {
		return nil, fmt.Errorf("%w for %q (best %q at %.2f)", ErrNoMatch, request, catalog[best.Index].Name, best.Similarity)
	}

	match, err := m.extract(ctx, request, catalog[best.Index])
	if err != nil {
		return nil, err
	}
	match.Similarity = best.Similarity
	if best.Similarity < m.cfg.Accept {
		return nil, &AmbiguousMatchError{Match: match}
	}
	return match, nil
}

// Confirm builds a match for a workflow the user picked explicitly,
// extracting parameters again from the request.
func (m *Matcher) Confirm(ctx context.Context, request string, def *workflow.Definition) (*Match, error) {
	match, err := m.extract(ctx, request, def)
	if err != nil {
		return nil, err
	}
	match.Similarity = 1
	return match, nil
}

func (m *Matcher) extract(ctx context.Context, request string, def *workflow.Definition) (*Match, error) {
	match := &Match{Workflow: def, Parameters: map[string]string{}}
	if len(def.Parameters) == 0 {
		return match, nil
	}

	values, err := m.extractor.ExtractParameters(ctx, request, def.Parameters)
	if err != nil {
		return nil, fmt.Errorf("extracting parameters: %w", err)
	}
	for _, p := range def.Parameters {
		v, ok := values[p.Name]
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			match.Missing = append(match.Missing, p.Name)
			continue
		}
		if err := CheckType(p.TypeHint, v); err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		match.Parameters[p.Name] = v
	}
	return match, nil
}

// CheckType reports whether v satisfies hint. Values are never coerced.
func CheckType(hint workflow.TypeHint, v string) error {
	switch hint {
	case workflow.HintNumber:
		// decimal and finite only: ParseFloat also takes "NaN", "Inf" and hex
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || strings.ContainsAny(v, "xX") {
			return fmt.Errorf("%w: %q is not a number", ErrParameterType, v)
		}
	case workflow.HintURL:
		u, err := url.Parse(v)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: %q is not an absolute url", ErrParameterType, v)
		}
	default:
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: empty string", ErrParameterType)
		}
	}
	return nil
}
