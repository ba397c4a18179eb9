package resolve

import (
	"cmp"
	"image"
	"slices"

	"github.com/rahul/reenact/internal/geometry"
)

// MinFloor is the lowest floor relaxation may reach.
const MinFloor = 0.35

// Thresholds decide whether the best candidate is accepted.
type Thresholds struct {
	Accept float64 `json:"accept"`
	Floor  float64 `json:"floor"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Accept: 0.8, Floor: 0.5}
}

// Relax lowers both thresholds by step. The floor never drops below MinFloor.
func (t Thresholds) Relax(step float64) Thresholds {
	floor := max(t.Floor-step, MinFloor)
	return Thresholds{Accept: max(t.Accept-step, floor), Floor: floor}
}

// Decision is the Arbiter's verdict for one resolution cycle.
type Decision struct {
	Found bool `json:"found"`
	// Candidate is the head of the best cluster, with Confidence raised by
	// any agreement bonus. It is set even when nothing was accepted.
	Candidate     *Candidate `json:"candidate,omitempty"`
	LowConfidence bool       `json:"low_confidence"`
	Agreeing      []Source   `json:"agreeing_sources,omitempty"`
}

// Arbiter fuses candidates from the Generator.
type Arbiter struct {
	Radius float64
	Bonus  float64
}

func NewArbiter(radius, bonus float64) *Arbiter {
	return &Arbiter{Radius: radius, Bonus: bonus}
}

type cluster struct {
	head    Candidate
	sources []Source
	conf    float64
}

// Decide picks a candidate. Candidates whose centres fall in an excluded
// zone are ignored. The result does not depend on the order of cands.
func (a *Arbiter) Decide(cands []Candidate, th Thresholds, exclude []image.Rectangle) Decision {
	pool := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if !excluded(c.Center, exclude) {
			pool = append(pool, c)
		}
	}
	if len(pool) == 0 {
		return Decision{}
	}
	slices.SortFunc(pool, compareCandidates)

	var clusters []*cluster
	for _, c := range pool {
		var home *cluster
		for _, cl := range clusters {
			if geometry.Distance(cl.head.Center, c.Center) <= a.Radius {
				home = cl
				break
			}
		}
		if home == nil {
			clusters = append(clusters, &cluster{head: c, sources: []Source{c.Source}})
			continue
		}
		if !slices.Contains(home.sources, c.Source) {
			home.sources = append(home.sources, c.Source)
		}
	}

	for _, cl := range clusters {
		cl.conf = cl.head.Confidence
		if len(cl.sources) >= 2 {
			cl.conf = min(cl.conf+a.Bonus, 1.0)
		}
	}
	best := slices.MinFunc(clusters, func(x, y *cluster) int {
		if c := cmp.Compare(y.conf, x.conf); c != 0 {
			return c
		}
		return compareCandidates(x.head, y.head)
	})

	chosen := best.head
	chosen.Confidence = best.conf
	d := Decision{Candidate: &chosen}
	if len(best.sources) >= 2 {
		d.Agreeing = slices.Clone(best.sources)
		slices.Sort(d.Agreeing)
	}
	switch {
	case best.conf >= th.Accept:
		d.Found = true
	case best.conf >= th.Floor:
		d.Found = true
		d.LowConfidence = true
	}
	return d
}

// compareCandidates orders by confidence descending, then source priority,
// then position, so ties resolve the same way regardless of input order.
func compareCandidates(x, y Candidate) int {
	if c := cmp.Compare(y.Confidence, x.Confidence); c != 0 {
		return c
	}
	if c := cmp.Compare(x.Source, y.Source); c != 0 {
		return c
	}
	if c := cmp.Compare(x.Center.X, y.Center.X); c != 0 {
		return c
	}
	if c := cmp.Compare(x.Center.Y, y.Center.Y); c != 0 {
		return c
	}
	return cmp.Compare(x.Evidence, y.Evidence)
}

func excluded(p image.Point, zones []image.Rectangle) bool {
	for _, z := range zones {
		if p.In(z) {
			return true
		}
	}
	return false
}
