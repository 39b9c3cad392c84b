// Package preprocess provides the preprocessing variants fed to the OCR
// ensemble. Each variant is an independent rendering of the source screenshot
// tuned to favour a different failure mode of the recognition engines.
package preprocess

import (
	"image"

	"github.com/disintegration/imaging"
)

// Config holds tunables for the preprocessing variants.
type Config struct {
	// MinHeight is the height screenshots are upscaled to before thresholding.
	MinHeight int `mapstructure:"min_height" yaml:"min_height" json:"min_height"`
	// Contrast adjustment applied to the grayscale base, in percent.
	Contrast float64 `mapstructure:"contrast" yaml:"contrast" json:"contrast"`
	// Sharpen sigma applied to the grayscale base.
	Sharpen float64 `mapstructure:"sharpen" yaml:"sharpen" json:"sharpen"`
	// BinarizeThreshold is the global threshold for the high-contrast variant.
	BinarizeThreshold uint8 `mapstructure:"binarize_threshold" yaml:"binarize_threshold" json:"binarize_threshold"`
	// AdaptiveWindow is the window size for mean adaptive thresholding.
	AdaptiveWindow int `mapstructure:"adaptive_window" yaml:"adaptive_window" json:"adaptive_window"`
	// AdaptiveBias is subtracted from the local mean before comparison.
	AdaptiveBias int `mapstructure:"adaptive_bias" yaml:"adaptive_bias" json:"adaptive_bias"`
}

// DefaultConfig returns preprocessing defaults tuned for game UI screenshots.
func DefaultConfig() Config {
	return Config{
		MinHeight:         1080,
		Contrast:          15,
		Sharpen:           0.7,
		BinarizeThreshold: 210,
		AdaptiveWindow:    15,
		AdaptiveBias:      7,
	}
}

// Variant is one named preprocessing pass.
type Variant struct {
	Name  string
	Apply func(image.Image) image.Image
}

// Variants returns the ensemble's preprocessing passes in a stable order.
func Variants(cfg Config) []Variant {
	return []Variant{
		{Name: "grayscale", Apply: func(img image.Image) image.Image {
			return grayBase(img, cfg)
		}},
		{Name: "adaptive", Apply: func(img image.Image) image.Image {
			return Dilate(AdaptiveThreshold(grayBase(img, cfg), cfg.AdaptiveWindow, cfg.AdaptiveBias), 1)
		}},
		{Name: "inverted", Apply: func(img image.Image) image.Image {
			return imaging.Invert(grayBase(img, cfg))
		}},
	}
}

// grayBase produces the shared grayscale base all variants derive from.
func grayBase(img image.Image, cfg Config) image.Image {
	gray := imaging.Grayscale(img)
	gray = imaging.AdjustContrast(gray, cfg.Contrast)
	gray = imaging.Sharpen(gray, cfg.Sharpen)
	if gray.Bounds().Dy() < cfg.MinHeight {
		gray = imaging.Resize(gray, 0, cfg.MinHeight, imaging.Lanczos)
	}
	return Binarize(gray, cfg.BinarizeThreshold)
}
