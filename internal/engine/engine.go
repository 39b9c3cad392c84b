// Package engine defines the recognition engine abstraction used by the OCR
// ensemble. Engines are consumed as black boxes: each turns one preprocessed
// image into positioned text tokens with per-token confidence.
package engine

import (
	"context"
	"image"
)

// Token is one recognized word with its position in source pixel coordinates.
type Token struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"` // normalized to [0,1]
	Line       int     `json:"line"`       // zero-based line index, top to bottom
	Left       int     `json:"left"`
	Top        int     `json:"top"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// Result is the full output of one engine invocation on one image variant.
type Result struct {
	Engine  string  `json:"engine"`
	Variant string  `json:"variant"`
	Tokens  []Token `json:"tokens"`
}

// AvgConfidence returns the mean token confidence, or 0 for empty results.
func (r *Result) AvgConfidence() float64 {
	if len(r.Tokens) == 0 {
		return 0
	}
	var sum float64
	for _, t := range r.Tokens {
		sum += t.Confidence
	}
	return sum / float64(len(r.Tokens))
}

// LineCount returns the number of distinct lines in the result.
func (r *Result) LineCount() int {
	n := 0
	for _, t := range r.Tokens {
		if t.Line+1 > n {
			n = t.Line + 1
		}
	}
	return n
}

// Engine recognizes text in an image. Implementations must be safe for
// concurrent use; Recognize is the pipeline's sole blocking operation.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, img image.Image) (*Result, error)
	Close() error
}
