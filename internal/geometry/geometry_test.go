package geometry

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_RoundTrip(t *testing.T) {
	screens := []image.Point{{1920, 1080}, {1280, 800}, {3840, 2160}, {1366, 768}, {800, 600}}
	for _, s := range screens {
		for x := 0; x < s.X; x += 37 {
			for y := 0; y < s.Y; y += 41 {
				p := image.Pt(x, y)
				got := Denormalize(Normalize(p, s), s)
				assert.InDelta(t, p.X, got.X, 1, "screen %v x", s)
				assert.InDelta(t, p.Y, got.Y, 1, "screen %v y", s)
			}
		}
	}
}

func TestNormalize_ScenarioPosition(t *testing.T) {
	n := Normalize(image.Pt(450, 320), image.Pt(1920, 1080))
	assert.InDelta(t, 234, n.X, 1)
	assert.InDelta(t, 296, n.Y, 1)
	assert.Equal(t, NormPoint{X: 234, Y: 296}, n.Rounded())
}

func TestNormalize_ClampsOutside(t *testing.T) {
	s := image.Pt(100, 100)
	assert.Equal(t, NormPoint{X: 0, Y: 1000}, Normalize(image.Pt(-5, 250), s))
	assert.Equal(t, image.Pt(99, 0), Denormalize(NormPoint{X: 1200, Y: -3}, s))
}

func TestNormalize_ZeroScreen(t *testing.T) {
	assert.Equal(t, NormPoint{}, Normalize(image.Pt(5, 5), image.Point{}))
	assert.Equal(t, image.Point{}, Denormalize(NormPoint{X: 500, Y: 500}, image.Point{}))
}

func TestBoundingBox(t *testing.T) {
	r := BoundingBox([]image.Point{{10, 20}, {50, 20}, {50, 40}, {10, 40}})
	require.Equal(t, image.Rect(10, 20, 50, 40), r)
	assert.Equal(t, image.Pt(30, 30), Center(r))
	assert.Equal(t, image.Rectangle{}, BoundingBox(nil))
}

func TestRectAround_ClipsToBounds(t *testing.T) {
	b := image.Rect(0, 0, 100, 100)
	assert.Equal(t, image.Rect(0, 0, 10, 5), RectAround(image.Pt(0, 0), 20, 10, b))
	assert.Equal(t, image.Rect(40, 45, 60, 55), RectAround(image.Pt(50, 50), 20, 10, b))
}

func TestRegionName(t *testing.T) {
	cases := map[NormPoint]string{
		{X: 10, Y: 10}:   "top-left",
		{X: 500, Y: 500}: "center",
		{X: 900, Y: 500}: "middle-right",
		{X: 500, Y: 900}: "bottom-center",
	}
	for in, want := range cases {
		assert.Equal(t, want, RegionName(in), "point %v", in)
	}
}

func TestScrollDirection(t *testing.T) {
	assert.Equal(t, 1, ScrollDirection(nil))
	assert.Equal(t, 1, ScrollDirection(&NormPoint{X: 500, Y: 800}))
	assert.Equal(t, -1, ScrollDirection(&NormPoint{X: 500, Y: 100}))
}
