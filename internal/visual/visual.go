// Package visual compares screen regions by appearance using perceptual
// hashes, both for matching stored signatures and for verifying that an
// action changed the screen.
package visual

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	"github.com/corona10/goimagehash"
)

// HashComparer scores how alike two images look on a 0..1 scale.
type HashComparer struct{}

func NewHashComparer() *HashComparer {
	return &HashComparer{}
}

// Compare returns 1 - hamming(pHash(a), pHash(b)) / 64.
func (HashComparer) Compare(ctx context.Context, signature, region image.Image) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	a, err := goimagehash.PerceptionHash(signature)
	if err != nil {
		return 0, fmt.Errorf("hashing signature: %w", err)
	}
	b, err := goimagehash.PerceptionHash(region)
	if err != nil {
		return 0, fmt.Errorf("hashing region: %w", err)
	}
	dist, err := a.Distance(b)
	if err != nil {
		return 0, err
	}
	return 1 - float64(dist)/64, nil
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Crop returns the part of img inside r. Images that cannot share pixels
// are copied.
func Crop(img image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(img.Bounds())
	if s, ok := img.(subImager); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

// EncodePNG serializes img, typically a cropped signature.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodePNG parses a stored signature.
func DecodePNG(data []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding png: %w", err)
	}
	return img, nil
}
