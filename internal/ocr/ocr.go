// Package ocr defines the text-detection collaborator used by the
// resolver and ships a Tesseract-backed implementation.
package ocr

import (
	"context"
	"image"

	"github.com/rahul/reenact/internal/geometry"
)

// Detection is one piece of text found in an image.
type Detection struct {
	Text       string        `json:"text"`
	Box        []image.Point `json:"bounding_box"` // four corners
	Confidence float64       `json:"confidence"`
}

// Bounds returns the axis-aligned rectangle around the detection.
func (d Detection) Bounds() image.Rectangle {
	return geometry.BoundingBox(d.Box)
}

// Center returns the centre of the detection's bounds.
func (d Detection) Center() image.Point {
	return geometry.Center(d.Bounds())
}

// Detector finds text in an image. No text is an empty slice, not an error.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}

// Quad turns a rectangle into the four-corner form used by Detection.
func Quad(r image.Rectangle) []image.Point {
	return []image.Point{
		{X: r.Min.X, Y: r.Min.Y},
		{X: r.Max.X, Y: r.Min.Y},
		{X: r.Max.X, Y: r.Max.Y},
		{X: r.Min.X, Y: r.Max.Y},
	}
}
