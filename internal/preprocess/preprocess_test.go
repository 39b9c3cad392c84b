package preprocess

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkerboard builds a small image with dark text-like pixels on light ground.
func checkerboard(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			c := color.NRGBA{240, 240, 240, 255}
			if (x/4+y/4)%2 == 0 {
				c = color.NRGBA{20, 20, 20, 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

func TestVariants_StableOrder(t *testing.T) {
	vs := Variants(DefaultConfig())
	require.Len(t, vs, 3)
	assert.Equal(t, "grayscale", vs[0].Name)
	assert.Equal(t, "adaptive", vs[1].Name)
	assert.Equal(t, "inverted", vs[2].Name)
}

func TestVariants_PreserveAspect(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinHeight = 64 // avoid upscaling in tests
	src := checkerboard(64, 64)
	for _, v := range Variants(cfg) {
		out := v.Apply(src)
		require.NotNil(t, out, v.Name)
		assert.Equal(t, 64, out.Bounds().Dx(), v.Name)
		assert.Equal(t, 64, out.Bounds().Dy(), v.Name)
	}
}

func TestBinarize(t *testing.T) {
	src := checkerboard(8, 8)
	out := Binarize(src, 128)
	// Every pixel must be pure black or pure white.
	for y := range 8 {
		for x := range 8 {
			r, g, b, _ := out.At(x, y).RGBA()
			v := r >> 8
			assert.True(t, v == 0 || v == 255)
			assert.Equal(t, r, g)
			assert.Equal(t, g, b)
		}
	}
}

func TestAdaptiveThreshold_WindowNormalization(t *testing.T) {
	src := checkerboard(16, 16)
	// Even and too-small windows must not panic; they are normalized internally.
	assert.NotNil(t, AdaptiveThreshold(src, 0, 5))
	assert.NotNil(t, AdaptiveThreshold(src, 4, 5))
}

func TestDilate_GrowsBlackRegions(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 9, 9))
	for y := range 9 {
		for x := range 9 {
			img.Set(x, y, color.NRGBA{255, 255, 255, 255})
		}
	}
	img.Set(4, 4, color.NRGBA{0, 0, 0, 255})

	out := Dilate(img, 1)
	count := 0
	for y := range 9 {
		for x := range 9 {
			r, g, b, _ := out.At(x, y).RGBA()
			if r+g+b == 0 {
				count++
			}
		}
	}
	assert.Equal(t, 5, count) // center plus 4-neighbourhood

	same := Dilate(img, 0)
	assert.Equal(t, img, same)
}
