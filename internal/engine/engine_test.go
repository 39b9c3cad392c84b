package engine

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult_AvgConfidence(t *testing.T) {
	empty := &Result{}
	assert.Equal(t, 0.0, empty.AvgConfidence())

	res := &Result{Tokens: []Token{
		{Text: "1", Confidence: 0.9},
		{Text: "alpha", Confidence: 0.7},
	}}
	assert.InDelta(t, 0.8, res.AvgConfidence(), 1e-9)
}

func TestResult_LineCount(t *testing.T) {
	res := &Result{Tokens: []Token{
		{Line: 0}, {Line: 2}, {Line: 1}, {Line: 2},
	}}
	assert.Equal(t, 3, res.LineCount())
	assert.Equal(t, 0, (&Result{}).LineCount())
}

func TestAssignLines(t *testing.T) {
	tokens := []Token{
		{Text: "8", Top: 280, Height: 30},
		{Text: "1", Top: 0, Height: 30},
		{Text: "alpha", Top: 2, Height: 30}, // same line as "1" despite jitter
		{Text: "hotel", Top: 282, Height: 30},
	}
	assignLines(tokens)
	assert.Equal(t, tokens[1].Line, tokens[2].Line)
	assert.Equal(t, tokens[0].Line, tokens[3].Line)
	assert.Less(t, tokens[1].Line, tokens[0].Line)
}

func TestSegmentLines(t *testing.T) {
	// Two black bands separated by white space.
	img := image.NewNRGBA(image.Rect(0, 0, 100, 60))
	for y := range 60 {
		for x := range 100 {
			c := color.NRGBA{255, 255, 255, 255}
			if (y >= 10 && y < 20) || (y >= 40 && y < 50) {
				c = color.NRGBA{0, 0, 0, 255}
			}
			img.Set(x, y, c)
		}
	}

	strips := SegmentLines(img, 3)
	require.Len(t, strips, 2)
	assert.Equal(t, 10, strips[0].Top)
	assert.Equal(t, 20, strips[0].Bottom)
	assert.Equal(t, 40, strips[1].Top)
	assert.Equal(t, 50, strips[1].Bottom)
}

func TestSegmentLines_Blank(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 50, 50))
	for y := range 50 {
		for x := range 50 {
			img.Set(x, y, color.NRGBA{255, 255, 255, 255})
		}
	}
	assert.Empty(t, SegmentLines(img, 3))
	assert.Empty(t, SegmentLines(image.NewNRGBA(image.Rect(0, 0, 0, 0)), 3))
}

func TestSplitLineTokens(t *testing.T) {
	strip := LineStrip{Top: 100, Bottom: 130}
	bounds := image.Rect(0, 0, 400, 300)

	tokens := splitLineTokens("1 alpha", 0.8, 2, strip, bounds)
	require.Len(t, tokens, 2)
	assert.Equal(t, "1", tokens[0].Text)
	assert.Equal(t, "alpha", tokens[1].Text)
	assert.Equal(t, 2, tokens[0].Line)
	assert.Equal(t, 100, tokens[0].Top)
	assert.Less(t, tokens[0].Left, tokens[1].Left)

	assert.Empty(t, splitLineTokens("", 0.8, 0, strip, bounds))
}

func TestCTCGreedyDecode(t *testing.T) {
	p := &Paddle{charset: &Charset{chars: []string{"", "a", "b"}}}

	// Steps: a a blank b -> "ab"
	logits := []float32{
		0.1, 0.8, 0.1,
		0.1, 0.8, 0.1,
		0.8, 0.1, 0.1,
		0.1, 0.1, 0.8,
	}
	text, conf, err := p.ctcGreedyDecode(logits, 4, 3)
	require.NoError(t, err)
	assert.Equal(t, "ab", text)
	assert.InDelta(t, 0.8, conf, 1e-6)

	_, _, err = p.ctcGreedyDecode(logits[:2], 4, 3)
	require.Error(t, err)
}
