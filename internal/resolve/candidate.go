// Package resolve turns an abstract target description into a concrete
// on-screen location. The Generator gathers candidates from independent
// evidence sources; the Arbiter fuses them into one decision.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/rahul/reenact/internal/geometry"
)

// ErrCollaboratorTimeout marks an evidence source that exceeded its budget.
// It is logged and treated as zero candidates, never returned by Generate.
var ErrCollaboratorTimeout = errors.New("collaborator timeout")

// Source identifies where a candidate came from. The declaration order is
// the tie-break priority.
type Source int

const (
	SourceExactText Source = iota
	SourceVisualSignature
	SourceFuzzyText
	SourceSemanticQuery
	SourceLastKnown
)

var sourceNames = [...]string{
	SourceExactText:       "exact_text",
	SourceVisualSignature: "visual_signature",
	SourceFuzzyText:       "fuzzy_text",
	SourceSemanticQuery:   "semantic_query",
	SourceLastKnown:       "last_known_position",
}

func (s Source) String() string {
	if s < 0 || int(s) >= len(sourceNames) {
		return fmt.Sprintf("source(%d)", int(s))
	}
	return sourceNames[s]
}

func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Source) UnmarshalText(b []byte) error {
	for i, n := range sourceNames {
		if n == string(b) {
			*s = Source(i)
			return nil
		}
	}
	return fmt.Errorf("unknown candidate source %q", b)
}

// Candidate is a proposed location for a target. It lives for one
// resolution cycle only.
type Candidate struct {
	Center     image.Point      `json:"center"`
	Box        *image.Rectangle `json:"bounding_box,omitempty"`
	Confidence float64          `json:"confidence"`
	Source     Source           `json:"source"`
	Evidence   string           `json:"evidence_text,omitempty"`
}

// Target is everything known about what a step acts on.
type Target struct {
	Description string
	Signature   image.Image
	Reference   *geometry.NormPoint
	// Widen drops the region hint sent with semantic queries.
	Widen bool
}

// SemanticResult is the vision collaborator's answer to a locate query.
type SemanticResult struct {
	Found      bool
	Position   geometry.NormPoint
	Confidence float64
}

// SemanticLocator asks a vision model where a described element is. A
// non-nil hint scopes the search to a sub-region of the capture.
type SemanticLocator interface {
	Locate(ctx context.Context, img image.Image, description string, hint *image.Rectangle) (SemanticResult, error)
}

// Comparer scores the visual similarity of a stored signature and a region.
type Comparer interface {
	Compare(ctx context.Context, signature, region image.Image) (float64, error)
}
