package resolve

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"github.com/rahul/reenact/internal/geometry"
	"github.com/rahul/reenact/internal/ocr"
	"github.com/rahul/reenact/internal/visual"
)

// Config holds the Generator's source thresholds.
type Config struct {
	FuzzyThreshold      float64
	VisualFloor         float64
	SemanticTrigger     float64
	LastKnownConfidence float64
	SemanticTimeout     time.Duration
	// MaxVisualRegions caps the full-screen scan used when a step has no
	// last-known position.
	MaxVisualRegions int
}

func DefaultConfig() Config {
	return Config{
		FuzzyThreshold:      0.6,
		VisualFloor:         0.5,
		SemanticTrigger:     0.85,
		LastKnownConfidence: 0.3,
		SemanticTimeout:     5 * time.Second,
		MaxVisualRegions:    400,
	}
}

// Generator produces candidates from every evidence source it has a
// collaborator for. Missing collaborators simply contribute nothing.
type Generator struct {
	cfg      Config
	text     ocr.Detector
	comparer Comparer
	semantic SemanticLocator
}

func NewGenerator(cfg Config, text ocr.Detector, comparer Comparer, semantic SemanticLocator) *Generator {
	return &Generator{cfg: cfg, text: text, comparer: comparer, semantic: semantic}
}

// Generate returns every candidate produced for t against the capture.
// Cheap sources run concurrently; the semantic source only runs when none
// of them reached the trigger confidence. Source failures are logged and
// contribute zero candidates.
func (g *Generator) Generate(ctx context.Context, capture image.Image, t Target) []Candidate {
	var (
		wg          sync.WaitGroup
		textCands   []Candidate
		visualCands []Candidate
	)
	if g.text != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			textCands = g.textCandidates(ctx, capture, LiteralText(t.Description))
		}()
	}
	if g.comparer != nil && t.Signature != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			visualCands = g.visualCandidates(ctx, capture, t)
		}()
	}
	wg.Wait()

	cands := append(textCands, visualCands...)

	best := 0.0
	for _, c := range cands {
		best = max(best, c.Confidence)
	}
	if g.semantic != nil && best < g.cfg.SemanticTrigger && ctx.Err() == nil {
		if c, ok := g.semanticCandidate(ctx, capture, t); ok {
			cands = append(cands, c)
		}
	}

	if t.Reference != nil {
		cands = append(cands, Candidate{
			Center:     geometry.Denormalize(*t.Reference, capture.Bounds().Size()),
			Confidence: g.cfg.LastKnownConfidence,
			Source:     SourceLastKnown,
			Evidence:   t.Reference.String(),
		})
	}
	return cands
}

func (g *Generator) textCandidates(ctx context.Context, capture image.Image, literal string) []Candidate {
	if literal == "" {
		return nil
	}
	dets, err := g.text.Detect(ctx, capture)
	if err != nil {
		log.Printf("[resolve] text detection failed: %v", err)
		return nil
	}

	want := NormalizeText(literal)
	var (
		out       []Candidate
		fuzzy     Candidate
		fuzzyBest = -1.0
	)
	for _, d := range dets {
		box := d.Bounds()
		if NormalizeText(d.Text) == want {
			out = append(out, Candidate{
				Center:     geometry.Center(box),
				Box:        &box,
				Confidence: clamp01(d.Confidence),
				Source:     SourceExactText,
				Evidence:   d.Text,
			})
			continue
		}
		if sim := Similarity(d.Text, literal); sim >= g.cfg.FuzzyThreshold && sim > fuzzyBest {
			fuzzyBest = sim
			fuzzy = Candidate{
				Center:     geometry.Center(box),
				Box:        &box,
				Confidence: sim,
				Source:     SourceFuzzyText,
				Evidence:   d.Text,
			}
		}
	}
	if fuzzyBest >= 0 {
		out = append(out, fuzzy)
	}
	return out
}

func (g *Generator) visualCandidates(ctx context.Context, capture image.Image, t Target) []Candidate {
	bounds := capture.Bounds()
	size := t.Signature.Bounds().Size()
	if size.X <= 0 || size.Y <= 0 || size.X > bounds.Dx() || size.Y > bounds.Dy() {
		return nil
	}

	var (
		best     = -1.0
		bestRect image.Rectangle
	)
	for _, c := range g.searchCenters(bounds, size, t.Reference) {
		if ctx.Err() != nil {
			break
		}
		r := geometry.RectAround(c, size.X, size.Y, bounds)
		if r.Empty() {
			continue
		}
		sim, err := g.comparer.Compare(ctx, t.Signature, visual.Crop(capture, r))
		if err != nil {
			log.Printf("[resolve] visual comparison failed: %v", err)
			return nil
		}
		if sim > best {
			best, bestRect = sim, r
		}
	}
	if best < g.cfg.VisualFloor {
		return nil
	}
	return []Candidate{{
		Center:     geometry.Center(bestRect),
		Box:        &bestRect,
		Confidence: clamp01(best),
		Source:     SourceVisualSignature,
		Evidence:   fmt.Sprintf("similarity %.2f", best),
	}}
}

// searchCenters lists where the signature is compared: a 5x5 neighbourhood
// around the last-known position, or a coarse grid over the whole screen.
func (g *Generator) searchCenters(bounds image.Rectangle, size image.Point, ref *geometry.NormPoint) []image.Point {
	if ref != nil {
		origin := geometry.Denormalize(*ref, bounds.Size())
		step := image.Pt(max(size.X/2, 1), max(size.Y/2, 1))
		out := make([]image.Point, 0, 25)
		for dy := -2; dy <= 2; dy++ {
			for dx := -2; dx <= 2; dx++ {
				out = append(out, origin.Add(image.Pt(dx*step.X, dy*step.Y)))
			}
		}
		return out
	}

	limit := g.cfg.MaxVisualRegions
	if limit <= 0 {
		limit = 400
	}
	step := size
	for (bounds.Dx()/step.X+1)*(bounds.Dy()/step.Y+1) > limit {
		step = step.Mul(2)
	}
	var out []image.Point
	for y := bounds.Min.Y + size.Y/2; y < bounds.Max.Y; y += step.Y {
		for x := bounds.Min.X + size.X/2; x < bounds.Max.X; x += step.X {
			out = append(out, image.Pt(x, y))
		}
	}
	return out
}

func (g *Generator) semanticCandidate(ctx context.Context, capture image.Image, t Target) (Candidate, bool) {
	screen := capture.Bounds().Size()
	var hint *image.Rectangle
	if t.Reference != nil && !t.Widen {
		r := geometry.RectAround(geometry.Denormalize(*t.Reference, screen), screen.X/2, screen.Y/2, capture.Bounds())
		hint = &r
	}

	sctx, cancel := context.WithTimeout(ctx, g.cfg.SemanticTimeout)
	defer cancel()
	res, err := g.semantic.Locate(sctx, capture, t.Description, hint)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: semantic query after %s", ErrCollaboratorTimeout, g.cfg.SemanticTimeout)
		}
		log.Printf("[resolve] semantic query failed: %v", err)
		return Candidate{}, false
	}
	if !res.Found {
		return Candidate{}, false
	}
	return Candidate{
		Center:     geometry.Denormalize(res.Position, screen),
		Confidence: clamp01(res.Confidence),
		Source:     SourceSemanticQuery,
		Evidence:   t.Description,
	}, true
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
