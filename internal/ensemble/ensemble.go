// Package ensemble fans one screenshot out over every preprocessing variant
// and recognition engine, then reduces the raw outputs into a single
// consensus text grid with per-cell confidence.
package ensemble

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/MeKo-Tech/podium/internal/engine"
	"github.com/MeKo-Tech/podium/internal/preprocess"
)

// ErrNoRows reports that recognition succeeded but no structured rows were
// found. Callers treat this as retryable: it is usually a transient
// preprocessing failure rather than proof the image holds no standings.
var ErrNoRows = errors.New("no rows detected")

// Config holds ensemble tunables.
type Config struct {
	// AgreementRatio is the fraction of outputs that must agree on a token
	// before the consensus cell is considered confident.
	AgreementRatio float64 `mapstructure:"agreement_ratio" yaml:"agreement_ratio" json:"agreement_ratio"`
	// MaxParallel bounds concurrent engine invocations.
	MaxParallel int `mapstructure:"max_parallel" yaml:"max_parallel" json:"max_parallel"`
}

// DefaultConfig returns ensemble defaults: 4-of-6 agreement, as produced by
// three preprocessing variants times two engines.
func DefaultConfig() Config {
	return Config{
		AgreementRatio: 4.0 / 6.0,
		MaxParallel:    4,
	}
}

// Output is one raw (variant, engine) extraction, retained verbatim for audit.
type Output struct {
	Variant string         `json:"variant"`
	Engine  string         `json:"engine"`
	Result  *engine.Result `json:"result,omitempty"`
	Err     string         `json:"error,omitempty"`
}

// Ensemble runs the variant × engine grid.
type Ensemble struct {
	cfg      Config
	variants []preprocess.Variant
	engines  []engine.Engine
}

// New creates an ensemble over the given preprocessing variants and engines.
func New(cfg Config, variants []preprocess.Variant, engines []engine.Engine) (*Ensemble, error) {
	if len(variants) == 0 {
		return nil, errors.New("no preprocessing variants")
	}
	if len(engines) == 0 {
		return nil, errors.New("no recognition engines")
	}
	if cfg.AgreementRatio <= 0 || cfg.AgreementRatio > 1 {
		cfg.AgreementRatio = DefaultConfig().AgreementRatio
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultConfig().MaxParallel
	}
	return &Ensemble{cfg: cfg, variants: variants, engines: engines}, nil
}

// Size returns the number of (variant, engine) combinations.
func (e *Ensemble) Size() int { return len(e.variants) * len(e.engines) }

type job struct {
	variantIdx int
	engineIdx  int
	img        image.Image
}

// Run executes every (variant, engine) combination with bounded parallelism
// and reduces the outputs into a consensus grid. All raw outputs are returned
// alongside the grid so the store can retain them for audit.
func (e *Ensemble) Run(ctx context.Context, img image.Image) (*Grid, []Output, error) {
	outputs := make([]Output, e.Size())

	// Preprocessing runs once per variant; engines share the rendered image.
	rendered := make([]image.Image, len(e.variants))
	for i, v := range e.variants {
		rendered[i] = v.Apply(img)
	}

	jobs := make(chan job)
	var wg sync.WaitGroup
	for range e.cfg.MaxParallel {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				e.runOne(ctx, j, outputs)
			}
		}()
	}
	for vi := range e.variants {
		for ei := range e.engines {
			select {
			case jobs <- job{variantIdx: vi, engineIdx: ei, img: rendered[vi]}:
			case <-ctx.Done():
				close(jobs)
				wg.Wait()
				return nil, outputs, ctx.Err()
			}
		}
	}
	close(jobs)
	wg.Wait()

	grid := Reduce(outputs, e.cfg.AgreementRatio)
	if len(grid.Rows) == 0 {
		return nil, outputs, ErrNoRows
	}
	slog.Debug("ensemble complete",
		"outputs", len(outputs), "rows", len(grid.Rows), "agreement", grid.AgreementRatio)
	return grid, outputs, nil
}

func (e *Ensemble) runOne(ctx context.Context, j job, outputs []Output) {
	eng := e.engines[j.engineIdx]
	variant := e.variants[j.variantIdx]
	idx := j.variantIdx*len(e.engines) + j.engineIdx

	out := Output{Variant: variant.Name, Engine: eng.Name()}
	res, err := eng.Recognize(ctx, j.img)
	if err != nil {
		// One failed output weakens the vote but never fails the image.
		out.Err = fmt.Sprintf("%s/%s: %v", eng.Name(), variant.Name, err)
		slog.Warn("engine output failed", "engine", eng.Name(), "variant", variant.Name, "error", err)
	} else {
		res.Variant = variant.Name
		out.Result = res
	}
	outputs[idx] = out
}
