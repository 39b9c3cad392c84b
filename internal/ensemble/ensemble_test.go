package ensemble

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/podium/internal/engine"
	"github.com/MeKo-Tech/podium/internal/engine/enginetest"
	"github.com/MeKo-Tech/podium/internal/preprocess"
)

func passthroughVariants(names ...string) []preprocess.Variant {
	vs := make([]preprocess.Variant, 0, len(names))
	for _, n := range names {
		vs = append(vs, preprocess.Variant{Name: n, Apply: func(img image.Image) image.Image { return img }})
	}
	return vs
}

func testImage() image.Image { return image.NewNRGBA(image.Rect(0, 0, 100, 100)) }

func TestNew_Validation(t *testing.T) {
	eng := enginetest.New("a", &engine.Result{})

	_, err := New(DefaultConfig(), nil, []engine.Engine{eng})
	require.Error(t, err)

	_, err = New(DefaultConfig(), passthroughVariants("v"), nil)
	require.Error(t, err)

	e, err := New(Config{AgreementRatio: 5, MaxParallel: -1}, passthroughVariants("v"), []engine.Engine{eng})
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().AgreementRatio, e.cfg.AgreementRatio)
	assert.Equal(t, DefaultConfig().MaxParallel, e.cfg.MaxParallel)
}

func TestRun_UnanimousConsensus(t *testing.T) {
	res := &engine.Result{Tokens: []engine.Token{
		{Text: "1", Confidence: 0.99, Line: 0, Left: 40},
		{Text: "alpha", Confidence: 0.98, Line: 0, Left: 200},
		{Text: "2", Confidence: 0.99, Line: 1, Left: 40},
		{Text: "bravo", Confidence: 0.97, Line: 1, Left: 200},
	}}
	engines := []engine.Engine{enginetest.New("e1", res), enginetest.New("e2", res)}
	e, err := New(DefaultConfig(), passthroughVariants("v1", "v2", "v3"), engines)
	require.NoError(t, err)
	assert.Equal(t, 6, e.Size())

	grid, outputs, err := e.Run(context.Background(), testImage())
	require.NoError(t, err)
	require.Len(t, outputs, 6)
	require.Len(t, grid.Rows, 2)

	assert.Equal(t, "1", grid.Rows[0][0].Text)
	assert.Equal(t, "alpha", grid.Rows[0][1].Text)
	assert.Equal(t, "bravo", grid.Rows[1][1].Text)
	assert.InDelta(t, 1.0, grid.AgreementRatio, 1e-9)
	for _, row := range grid.Rows {
		for _, cell := range row {
			assert.False(t, cell.LowConfidence)
		}
	}
}

func TestRun_PluralityAndLowConfidence(t *testing.T) {
	good := &engine.Result{Tokens: []engine.Token{
		{Text: "alpha", Confidence: 0.95, Line: 0, Left: 200},
	}}
	bad := &engine.Result{Tokens: []engine.Token{
		{Text: "a1pha", Confidence: 0.40, Line: 0, Left: 200},
	}}
	// Four variants x one bad engine vs one good engine alternating yields
	// disagreement on the single region.
	engines := []engine.Engine{enginetest.New("good", good), enginetest.New("bad", bad)}
	e, err := New(Config{AgreementRatio: 4.0 / 6.0, MaxParallel: 2}, passthroughVariants("v1", "v2", "v3"), engines)
	require.NoError(t, err)

	grid, _, err := e.Run(context.Background(), testImage())
	require.NoError(t, err)
	require.Len(t, grid.Rows, 1)

	cell := grid.Rows[0][0]
	// 3 of 6 voted "alpha", 3 voted "a1pha": tie broken by confidence.
	assert.Equal(t, "alpha", cell.Text)
	assert.InDelta(t, 0.5, cell.Agreement, 1e-9)
	assert.True(t, cell.LowConfidence)
}

func TestRun_EngineFailureIsNotFatal(t *testing.T) {
	good := &engine.Result{Tokens: []engine.Token{
		{Text: "1", Confidence: 0.9, Line: 0, Left: 40},
	}}
	failing := enginetest.New("broken", nil)
	failing.Err = errors.New("segfault in native layer")

	engines := []engine.Engine{enginetest.New("good", good), failing}
	e, err := New(DefaultConfig(), passthroughVariants("v1"), engines)
	require.NoError(t, err)

	grid, outputs, err := e.Run(context.Background(), testImage())
	require.NoError(t, err)
	require.Len(t, grid.Rows, 1)
	assert.Equal(t, "1", grid.Rows[0][0].Text)

	var failed int
	for _, o := range outputs {
		if o.Err != "" {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}

func TestRun_NoRows(t *testing.T) {
	empty := enginetest.New("empty", &engine.Result{})
	e, err := New(DefaultConfig(), passthroughVariants("v1"), []engine.Engine{empty})
	require.NoError(t, err)

	grid, outputs, err := e.Run(context.Background(), testImage())
	require.ErrorIs(t, err, ErrNoRows)
	assert.Nil(t, grid)
	assert.Len(t, outputs, 1)
}

func TestRun_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng := enginetest.New("e", &engine.Result{Tokens: []engine.Token{{Text: "x"}}})
	e, err := New(DefaultConfig(), passthroughVariants("v1"), []engine.Engine{eng})
	require.NoError(t, err)

	_, _, err = e.Run(ctx, testImage())
	require.Error(t, err)
}

func TestReduce_Deterministic(t *testing.T) {
	outputs := []Output{
		{Engine: "a", Result: &engine.Result{Tokens: []engine.Token{{Text: "x", Confidence: 0.5, Line: 0}}}},
		{Engine: "b", Result: &engine.Result{Tokens: []engine.Token{{Text: "y", Confidence: 0.5, Line: 0}}}},
	}
	// Equal votes, equal confidence: tie falls back to lexical order.
	for range 10 {
		g := Reduce(outputs, 0.5)
		require.Len(t, g.Rows, 1)
		assert.Equal(t, "x", g.Rows[0][0].Text)
	}
}
