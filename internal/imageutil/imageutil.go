package imageutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// SupportedExtensions lists file extensions accepted for ingestion.
var SupportedExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}

// IsSupported reports whether the path has a supported image extension.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// Metadata captures lightweight file and pixel information for a decoded image.
type Metadata struct {
	Format      string
	SizeBytes   int64
	Width       int
	Height      int
	AspectRatio float64
}

// Constraints bounds the dimensions of images the pipeline will accept.
type Constraints struct {
	MinWidth  int `mapstructure:"min_width" yaml:"min_width" json:"min_width"`
	MinHeight int `mapstructure:"min_height" yaml:"min_height" json:"min_height"`
	MaxWidth  int `mapstructure:"max_width" yaml:"max_width" json:"max_width"`
	MaxHeight int `mapstructure:"max_height" yaml:"max_height" json:"max_height"`
}

// DefaultConstraints returns dimension bounds suitable for standings screenshots.
func DefaultConstraints() Constraints {
	return Constraints{
		MinWidth:  320,
		MinHeight: 240,
		MaxWidth:  8192,
		MaxHeight: 8192,
	}
}

// ContentHash returns the hex-encoded SHA-256 digest of the raw image bytes.
// The hash keys duplicate detection, so it is computed over the encoded file
// content rather than decoded pixels.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Decode decodes raw image bytes and returns the image with metadata.
func Decode(data []byte) (image.Image, Metadata, error) {
	if len(data) == 0 {
		return nil, Metadata{}, errors.New("empty image data")
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	meta := Metadata{
		Format:      format,
		SizeBytes:   int64(len(data)),
		Width:       b.Dx(),
		Height:      b.Dy(),
		AspectRatio: float64(b.Dx()) / float64(b.Dy()),
	}
	return img, meta, nil
}

// Validate checks decoded dimensions against the provided constraints.
func Validate(meta Metadata, c Constraints) error {
	if meta.Width < c.MinWidth || meta.Height < c.MinHeight {
		return fmt.Errorf("image too small: %dx%d < %dx%d", meta.Width, meta.Height, c.MinWidth, c.MinHeight)
	}
	if c.MaxWidth > 0 && (meta.Width > c.MaxWidth || meta.Height > c.MaxHeight) {
		return fmt.Errorf("image too large: %dx%d > %dx%d", meta.Width, meta.Height, c.MaxWidth, c.MaxHeight)
	}
	return nil
}
