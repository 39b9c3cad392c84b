package engine

import (
	"image"
)

// LineStrip is one horizontal band of the image believed to contain a text line.
type LineStrip struct {
	Top    int
	Bottom int
}

// SegmentLines locates text lines with a horizontal projection profile: rows
// whose dark-pixel count exceeds a fraction of the peak are text, gaps
// separate lines. Bands shorter than minHeight pixels are discarded as noise.
func SegmentLines(img image.Image, minHeight int) []LineStrip {
	b := img.Bounds()
	h := b.Dy()
	if h == 0 || b.Dx() == 0 {
		return nil
	}

	profile := make([]int, h)
	peak := 0
	for y := range h {
		count := 0
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bb, _ := img.At(x, b.Min.Y+y).RGBA()
			if (r+g+bb)/3>>8 < 128 {
				count++
			}
		}
		profile[y] = count
		if count > peak {
			peak = count
		}
	}
	if peak == 0 {
		return nil
	}

	threshold := peak / 20
	var strips []LineStrip
	inText := false
	start := 0
	for y := range h {
		if profile[y] > threshold {
			if !inText {
				inText = true
				start = y
			}
		} else if inText {
			inText = false
			if y-start >= minHeight {
				strips = append(strips, LineStrip{Top: b.Min.Y + start, Bottom: b.Min.Y + y})
			}
		}
	}
	if inText && h-start >= minHeight {
		strips = append(strips, LineStrip{Top: b.Min.Y + start, Bottom: b.Min.Y + h})
	}
	return strips
}
