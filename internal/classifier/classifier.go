// Package classifier decides whether an image plausibly shows a standings
// table before the expensive OCR ensemble runs. It relies on cheap structural
// signals only: aspect ratio, a row-grid projection profile, and keyword hits
// from a single fast low-resolution recognition pass.
package classifier

import (
	"context"
	"image"
	"log/slog"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/podium/internal/engine"
	"github.com/MeKo-Tech/podium/internal/preprocess"
)

// Config holds classification tunables.
type Config struct {
	// Threshold is the minimum score an image must reach to enter the pipeline.
	Threshold float64 `mapstructure:"threshold" yaml:"threshold" json:"threshold"`
	// MinRows is the row count at which the grid signal saturates.
	MinRows int `mapstructure:"min_rows" yaml:"min_rows" json:"min_rows"`
	// Keywords are header words whose presence marks a standings table.
	Keywords []string `mapstructure:"keywords" yaml:"keywords" json:"keywords"`
	// LowResWidth is the width the keyword pass downsamples to.
	LowResWidth int `mapstructure:"low_res_width" yaml:"low_res_width" json:"low_res_width"`
	// AspectMin/AspectMax bound the expected screenshot aspect ratio.
	AspectMin float64 `mapstructure:"aspect_min" yaml:"aspect_min" json:"aspect_min"`
	AspectMax float64 `mapstructure:"aspect_max" yaml:"aspect_max" json:"aspect_max"`
}

// DefaultConfig returns classification defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:   0.95,
		MinRows:     4,
		Keywords:    []string{"place", "rank", "player", "standings", "results", "finish"},
		LowResWidth: 480,
		AspectMin:   0.4,
		AspectMax:   2.6,
	}
}

// Signal weights. Keyword evidence weighs heaviest because menu and chat
// screenshots also produce row grids.
const (
	weightAspect   = 0.20
	weightGrid     = 0.40
	weightKeywords = 0.40
)

// Verdict is the classification outcome for one image.
type Verdict struct {
	Score     float64 `json:"score"`
	Plausible bool    `json:"plausible"`
	Rows      int     `json:"rows"`
	Keyword   string  `json:"keyword,omitempty"`
}

// Classifier scores standings plausibility.
type Classifier struct {
	cfg    Config
	keyeng engine.Engine // fast pass engine; may be nil
}

// New creates a classifier. keyeng may be nil, in which case the keyword
// signal is derived from the grid signal alone.
func New(cfg Config, keyeng engine.Engine) *Classifier {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	if cfg.MinRows <= 0 {
		cfg.MinRows = DefaultConfig().MinRows
	}
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = DefaultConfig().Keywords
	}
	return &Classifier{cfg: cfg, keyeng: keyeng}
}

// Classify scores one decoded image.
func (c *Classifier) Classify(ctx context.Context, img image.Image) (Verdict, error) {
	b := img.Bounds()
	ratio := float64(b.Dx()) / float64(max(b.Dy(), 1))

	aspect := 0.0
	if ratio >= c.cfg.AspectMin && ratio <= c.cfg.AspectMax {
		aspect = 1.0
	}

	bin := preprocess.Binarize(imaging.Grayscale(img), 160)
	rows := len(engine.SegmentLines(bin, 3))
	grid := float64(rows) / float64(c.cfg.MinRows)
	if grid > 1 {
		grid = 1
	}

	keyword, hit := c.keywordSignal(ctx, img)
	kw := 0.0
	switch {
	case hit:
		kw = 1.0
	case c.keyeng == nil:
		kw = grid // no fast engine configured; fall back to structure
	}

	v := Verdict{
		Score:   weightAspect*aspect + weightGrid*grid + weightKeywords*kw,
		Rows:    rows,
		Keyword: keyword,
	}
	v.Plausible = v.Score >= c.cfg.Threshold
	slog.Debug("classified image",
		"score", v.Score, "rows", rows, "keyword", keyword, "plausible", v.Plausible)
	return v, nil
}

// keywordSignal runs the fast low-resolution pass and reports the first
// matched keyword. Errors are treated as a miss; the gate must stay cheap.
func (c *Classifier) keywordSignal(ctx context.Context, img image.Image) (string, bool) {
	if c.keyeng == nil {
		return "", false
	}
	small := imaging.Resize(img, c.cfg.LowResWidth, 0, imaging.Linear)
	res, err := c.keyeng.Recognize(ctx, small)
	if err != nil {
		slog.Debug("keyword pass failed", "engine", c.keyeng.Name(), "error", err)
		return "", false
	}
	for _, tok := range res.Tokens {
		lower := strings.ToLower(tok.Text)
		for _, kw := range c.cfg.Keywords {
			if strings.Contains(lower, kw) {
				return kw, true
			}
		}
	}
	return "", false
}
