// Package geometry converts between device pixels and the resolution
// independent 0..1000 scale stored in workflows.
package geometry

import (
	"fmt"
	"image"
	"math"
)

// Scale is the upper bound of the normalized coordinate space.
const Scale = 1000.0

// NormPoint is a position on the 0..1000 scale. (0,0) is the top-left
// corner, (1000,1000) the bottom-right.
type NormPoint struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

func (n NormPoint) String() string {
	return fmt.Sprintf("(%.0f,%.0f)", n.X, n.Y)
}

// Rounded returns the point snapped to whole normalized units.
func (n NormPoint) Rounded() NormPoint {
	return NormPoint{X: math.Round(n.X), Y: math.Round(n.Y)}
}

// Normalize maps a pixel onto the 0..1000 scale for a screen of the given
// size. Pixels outside the screen are clamped.
func Normalize(p image.Point, screen image.Point) NormPoint {
	if screen.X <= 0 || screen.Y <= 0 {
		return NormPoint{}
	}
	return NormPoint{
		X: clampf(float64(p.X)/float64(screen.X)*Scale, 0, Scale),
		Y: clampf(float64(p.Y)/float64(screen.Y)*Scale, 0, Scale),
	}
}

// Denormalize is the inverse of Normalize for the current screen size.
// The result is rounded to the nearest pixel and clamped to the screen.
func Denormalize(n NormPoint, screen image.Point) image.Point {
	if screen.X <= 0 || screen.Y <= 0 {
		return image.Point{}
	}
	x := int(math.Round(n.X / Scale * float64(screen.X)))
	y := int(math.Round(n.Y / Scale * float64(screen.Y)))
	return image.Point{
		X: clampi(x, 0, screen.X-1),
		Y: clampi(y, 0, screen.Y-1),
	}
}

// NormalizeRect normalizes both corners of r.
func NormalizeRect(r image.Rectangle, screen image.Point) (NormPoint, NormPoint) {
	return Normalize(r.Min, screen), Normalize(r.Max, screen)
}

// Center returns the centre pixel of r.
func Center(r image.Rectangle) image.Point {
	return image.Point{X: (r.Min.X + r.Max.X) / 2, Y: (r.Min.Y + r.Max.Y) / 2}
}

// BoundingBox returns the smallest rectangle holding every point in quad.
// OCR engines report boxes as four corner points in arbitrary order.
func BoundingBox(quad []image.Point) image.Rectangle {
	if len(quad) == 0 {
		return image.Rectangle{}
	}
	r := image.Rectangle{Min: quad[0], Max: quad[0]}
	for _, p := range quad[1:] {
		r.Min.X = min(r.Min.X, p.X)
		r.Min.Y = min(r.Min.Y, p.Y)
		r.Max.X = max(r.Max.X, p.X)
		r.Max.Y = max(r.Max.Y, p.Y)
	}
	return r
}

// Distance is the euclidean distance between two pixels.
func Distance(a, b image.Point) float64 {
	return math.Hypot(float64(a.X-b.X), float64(a.Y-b.Y))
}

// RectAround returns a w×h rectangle centred on c, clipped to bounds.
func RectAround(c image.Point, w, h int, bounds image.Rectangle) image.Rectangle {
	r := image.Rect(c.X-w/2, c.Y-h/2, c.X-w/2+w, c.Y-h/2+h)
	return r.Intersect(bounds)
}

// RegionName describes where a normalized point sits on a 3x3 grid,
// e.g. "top-left" or "center". It is used in prompts to vision models.
func RegionName(n NormPoint) string {
	var v, h string
	switch {
	case n.Y < 333:
		v = "top"
	case n.Y < 666:
		v = "middle"
	default:
		v = "bottom"
	}
	switch {
	case n.X < 333:
		h = "left"
	case n.X < 666:
		h = "center"
	default:
		h = "right"
	}
	if v == "middle" && h == "center" {
		return "center"
	}
	return v + "-" + h
}

// ScrollDirection returns +1 when a target recorded at ref most likely sits
// below the current viewport centre and -1 when it sits above it.
func ScrollDirection(ref *NormPoint) int {
	if ref == nil || ref.Y >= Scale/2 {
		return 1
	}
	return -1
}

func clampf(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampi(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
