package visual

import (
	"context"
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flat(w, h int, c uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{c, c, c, 255})
		}
	}
	return img
}

func noise(w, h int, seed int64) *image.RGBA {
	r := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(r.Intn(256))
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

func TestVerifier_IdenticalIsUnchanged(t *testing.T) {
	v := NewVerifier(0)
	img := noise(320, 200, 1)
	got, err := v.Verify(img, img)
	require.NoError(t, err)
	assert.False(t, got.Changed)
	assert.Equal(t, 0, got.Distance)
}

func TestVerifier_DetectsChange(t *testing.T) {
	v := NewVerifier(3)
	got, err := v.Verify(flat(320, 200, 128), noise(320, 200, 7))
	require.NoError(t, err)
	assert.True(t, got.Changed)
	assert.GreaterOrEqual(t, got.Distance, 3)
}

func TestVerifier_SizeChangeCountsAsChange(t *testing.T) {
	got, err := NewVerifier(3).Verify(flat(100, 100, 0), flat(200, 100, 0))
	require.NoError(t, err)
	assert.True(t, got.Changed)
}

func TestVerifier_MissingState(t *testing.T) {
	_, err := NewVerifier(3).Verify(nil, flat(10, 10, 0))
	assert.Error(t, err)
}

func TestHashComparer(t *testing.T) {
	c := NewHashComparer()
	img := noise(64, 32, 3)

	same, err := c.Compare(context.Background(), img, img)
	require.NoError(t, err)
	assert.Equal(t, 1.0, same)

	diff, err := c.Compare(context.Background(), img, noise(64, 32, 99))
	require.NoError(t, err)
	assert.Less(t, diff, 1.0)
	assert.GreaterOrEqual(t, diff, 0.0)
}

func TestCropAndPNG(t *testing.T) {
	img := noise(100, 80, 5)
	sub := Crop(img, image.Rect(10, 10, 40, 30))
	assert.Equal(t, image.Pt(30, 20), sub.Bounds().Size())

	data, err := EncodePNG(sub)
	require.NoError(t, err)
	back, err := DecodePNG(data)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(30, 20), back.Bounds().Size())

	_, err = DecodePNG([]byte("not a png"))
	assert.Error(t, err)
}
