package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sort"

	"github.com/otiai10/gosseract/v2"
)

// TesseractConfig holds settings for the Tesseract engine.
type TesseractConfig struct {
	Language  string                `mapstructure:"language" yaml:"language" json:"language"`
	Whitelist string                `mapstructure:"whitelist" yaml:"whitelist" json:"whitelist"` // allowed characters; empty = engine default
	PSM       gosseract.PageSegMode `mapstructure:"psm" yaml:"psm" json:"psm"`
}

// DefaultTesseractConfig returns settings tuned for standings tables.
func DefaultTesseractConfig() TesseractConfig {
	return TesseractConfig{
		Language: "eng",
		PSM:      gosseract.PSM_SPARSE_TEXT,
	}
}

// Tesseract recognizes text via the Tesseract C API. A fresh client is created
// per invocation because gosseract clients are not safe for concurrent use.
type Tesseract struct {
	cfg TesseractConfig
}

// NewTesseract creates a Tesseract-backed engine.
func NewTesseract(cfg TesseractConfig) *Tesseract {
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	return &Tesseract{cfg: cfg}
}

// Name implements Engine.
func (t *Tesseract) Name() string { return "tesseract" }

// Close implements Engine. Clients are per-call, so there is nothing to release.
func (t *Tesseract) Close() error { return nil }

// Recognize implements Engine.
func (t *Tesseract) Recognize(ctx context.Context, img image.Image) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode image for tesseract: %w", err)
	}

	client := gosseract.NewClient()
	defer func() { _ = client.Close() }()

	if err := client.SetLanguage(t.cfg.Language); err != nil {
		return nil, fmt.Errorf("set language: %w", err)
	}
	if t.cfg.Whitelist != "" {
		if err := client.SetWhitelist(t.cfg.Whitelist); err != nil {
			return nil, fmt.Errorf("set whitelist: %w", err)
		}
	}
	if err := client.SetPageSegMode(t.cfg.PSM); err != nil {
		return nil, fmt.Errorf("set page segmentation mode: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract recognize: %w", err)
	}

	res := &Result{Engine: t.Name()}
	for _, b := range boxes {
		if b.Word == "" {
			continue
		}
		res.Tokens = append(res.Tokens, Token{
			Text:       b.Word,
			Confidence: b.Confidence / 100.0, // tesseract reports 0..100
			Left:       b.Box.Min.X,
			Top:        b.Box.Min.Y,
			Width:      b.Box.Dx(),
			Height:     b.Box.Dy(),
		})
	}
	assignLines(res.Tokens)
	return res, nil
}

// assignLines groups tokens into lines by vertical overlap and numbers the
// lines top to bottom. Tokens whose vertical centers fall within half the
// median token height of each other share a line.
func assignLines(tokens []Token) {
	if len(tokens) == 0 {
		return
	}
	idx := make([]int, len(tokens))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		ta, tb := tokens[idx[a]], tokens[idx[b]]
		return ta.Top+ta.Height/2 < tb.Top+tb.Height/2
	})

	heights := make([]int, len(tokens))
	for i, t := range tokens {
		heights[i] = t.Height
	}
	sort.Ints(heights)
	tol := heights[len(heights)/2] / 2
	if tol < 2 {
		tol = 2
	}

	line := 0
	prevCenter := tokens[idx[0]].Top + tokens[idx[0]].Height/2
	for _, i := range idx {
		center := tokens[i].Top + tokens[i].Height/2
		if center-prevCenter > tol {
			line++
		}
		tokens[i].Line = line
		prevCenter = center
	}
}
