// Package score combines the pipeline's stage signals into one overall
// confidence. The combination is a deterministic pure function of its five
// inputs; weights and the auto-accept threshold are configuration because
// they are design defaults pending calibration against observed accuracy,
// not fixed law.
package score

import (
	"errors"
	"fmt"
	"math"
)

// Weights holds the per-signal contribution. They must sum to 1.
type Weights struct {
	Classification float64 `mapstructure:"classification" yaml:"classification" json:"classification"`
	Agreement      float64 `mapstructure:"agreement" yaml:"agreement" json:"agreement"`
	CellConfidence float64 `mapstructure:"cell_confidence" yaml:"cell_confidence" json:"cell_confidence"`
	MatchConfidence float64 `mapstructure:"match_confidence" yaml:"match_confidence" json:"match_confidence"`
	Structural     float64 `mapstructure:"structural" yaml:"structural" json:"structural"`
}

// DefaultWeights returns the design-default signal weights.
func DefaultWeights() Weights {
	return Weights{
		Classification:  0.15,
		Agreement:       0.25,
		CellConfidence:  0.15,
		MatchConfidence: 0.30,
		Structural:      0.15,
	}
}

// Validate checks the weights are non-negative and sum to 1.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"classification":   w.Classification,
		"agreement":        w.Agreement,
		"cell_confidence":  w.CellConfidence,
		"match_confidence": w.MatchConfidence,
		"structural":       w.Structural,
	} {
		if v < 0 {
			return fmt.Errorf("weight %s must be >= 0, got %v", name, v)
		}
	}
	sum := w.Classification + w.Agreement + w.CellConfidence + w.MatchConfidence + w.Structural
	if math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("weights must sum to 1, got %v", sum)
	}
	return nil
}

// Inputs are the five stage signals feeding the overall score.
type Inputs struct {
	Classification  float64 `json:"classification"`   // classifier score, [0,1]
	Agreement       float64 `json:"agreement"`        // OCR consensus agreement ratio
	CellConfidence  float64 `json:"cell_confidence"`  // mean consensus cell confidence
	MatchConfidence float64 `json:"match_confidence"` // mean player-match confidence
	StructuralValid bool    `json:"structural_valid"`
}

// Config holds the scorer tunables.
type Config struct {
	Weights Weights `mapstructure:"weights" yaml:"weights" json:"weights"`
	// AutoAcceptThreshold is the minimum overall score for skipping review.
	AutoAcceptThreshold float64 `mapstructure:"auto_accept_threshold" yaml:"auto_accept_threshold" json:"auto_accept_threshold"`
}

// DefaultConfig returns the design-default scorer configuration.
func DefaultConfig() Config {
	return Config{
		Weights:             DefaultWeights(),
		AutoAcceptThreshold: 0.98,
	}
}

// Validate checks the scorer configuration.
func (c Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if c.AutoAcceptThreshold <= 0 || c.AutoAcceptThreshold > 1 {
		return errors.New("auto_accept_threshold must be in (0,1]")
	}
	return nil
}

// Overall computes the weighted score. The structural term contributes its
// full weight only when every structural rule passed, otherwise zero.
func Overall(in Inputs, w Weights) float64 {
	structural := 0.0
	if in.StructuralValid {
		structural = 1.0
	}
	return w.Classification*clamp01(in.Classification) +
		w.Agreement*clamp01(in.Agreement) +
		w.CellConfidence*clamp01(in.CellConfidence) +
		w.MatchConfidence*clamp01(in.MatchConfidence) +
		w.Structural*structural
}

// AutoAccept decides whether a submission may skip human review. Structural
// validity is a hard gate: a violation forces review no matter how high the
// weighted score lands.
func AutoAccept(in Inputs, cfg Config) (float64, bool) {
	overall := Overall(in, cfg.Weights)
	return overall, in.StructuralValid && overall >= cfg.AutoAcceptThreshold
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
