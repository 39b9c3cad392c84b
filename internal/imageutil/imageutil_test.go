package imageutil

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestIsSupported(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"lobby.png", true},
		{"lobby.JPG", true},
		{"standings.webp", true},
		{"notes.txt", false},
		{"archive.tar.gz", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsSupported(tt.path), tt.path)
	}
}

func TestDecode(t *testing.T) {
	data := encodePNG(t, 640, 480)
	img, meta, err := Decode(data)
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, "png", meta.Format)
	assert.Equal(t, 640, meta.Width)
	assert.Equal(t, 480, meta.Height)
	assert.InDelta(t, 4.0/3.0, meta.AspectRatio, 1e-9)
	assert.Equal(t, int64(len(data)), meta.SizeBytes)
}

func TestDecode_Invalid(t *testing.T) {
	_, _, err := Decode([]byte("not an image"))
	require.Error(t, err)

	_, _, err = Decode(nil)
	require.Error(t, err)
}

func TestContentHash_Deterministic(t *testing.T) {
	data := encodePNG(t, 100, 100)
	h1 := ContentHash(data)
	h2 := ContentHash(data)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	other := encodePNG(t, 101, 100)
	assert.NotEqual(t, h1, ContentHash(other))
}

func TestValidate(t *testing.T) {
	c := DefaultConstraints()

	ok := Metadata{Width: 1920, Height: 1080}
	assert.NoError(t, Validate(ok, c))

	tiny := Metadata{Width: 10, Height: 10}
	assert.Error(t, Validate(tiny, c))

	huge := Metadata{Width: 20000, Height: 20000}
	assert.Error(t, Validate(huge, c))
}
