package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/podium/internal/ensemble"
)

func cell(text string, left int, conf float64) ensemble.Cell {
	return ensemble.Cell{Text: text, Left: left, Confidence: conf, Agreement: 1}
}

func standingsGrid() *ensemble.Grid {
	return &ensemble.Grid{Rows: [][]ensemble.Cell{
		{cell("Place", 40, 0.99), cell("Player", 200, 0.99)},
		{cell("1", 40, 0.98), cell("alpha", 200, 0.97)},
		{cell("2", 40, 0.98), cell("bravo", 200, 0.96)},
		{cell("3", 40, 0.98), cell("charlie", 200, 0.95)},
	}}
}

func TestParsePlacement(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"1", 1, true},
		{"12", 12, true},
		{"l", 1, true},   // OCR confusion l -> 1
		{"O", 0, false},  // maps to 0, rejected as non-positive
		{"S", 5, true},   // S -> 5
		{"B", 8, true},   // B -> 8
		{"1st", 1, true},
		{"2nd", 2, true},
		{"3.", 3, true},
		{"#4", 4, true},
		{"1O", 10, true}, // 1 + O->0
		{"alpha", 0, false},
		{"", 0, false},
		{"-2", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParsePlacement(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.in)
		}
	}
}

func TestLooksNumeric(t *testing.T) {
	assert.True(t, looksNumeric("12"))
	assert.True(t, looksNumeric("l2"))
	assert.False(t, looksNumeric("alpha"))
	assert.False(t, looksNumeric(""))
}

func TestExtract_WithHeader(t *testing.T) {
	ext := Extract(standingsGrid(), DefaultConfig())
	require.True(t, ext.HeaderFound)
	require.Len(t, ext.Rows, 3)

	for i, want := range []struct {
		placement int
		name      string
	}{{1, "alpha"}, {2, "bravo"}, {3, "charlie"}} {
		assert.Equal(t, want.placement, ext.Rows[i].Placement)
		assert.Equal(t, want.name, ext.Rows[i].RawName)
		assert.False(t, ext.Rows[i].Incomplete)
	}
	assert.Len(t, ext.Complete(), 3)
}

func TestExtract_NoHeader_ContentHeuristics(t *testing.T) {
	grid := &ensemble.Grid{Rows: [][]ensemble.Cell{
		{cell("1", 40, 0.9), cell("alpha", 200, 0.9)},
		{cell("2", 40, 0.9), cell("bravo", 200, 0.9)},
	}}
	ext := Extract(grid, DefaultConfig())
	assert.False(t, ext.HeaderFound)
	require.Len(t, ext.Rows, 2)
	assert.Equal(t, 1, ext.Rows[0].Placement)
	assert.Equal(t, "alpha", ext.Rows[0].RawName)
}

func TestExtract_IncompleteRowFlaggedNotDropped(t *testing.T) {
	grid := standingsGrid()
	// Row with an unparseable placement cell.
	grid.Rows = append(grid.Rows, []ensemble.Cell{cell("??", 40, 0.3), cell("delta", 200, 0.8)})
	// Row with no name at all.
	grid.Rows = append(grid.Rows, []ensemble.Cell{cell("5", 40, 0.9)})

	ext := Extract(grid, DefaultConfig())
	require.Len(t, ext.Rows, 5)

	bad := ext.Rows[3]
	assert.True(t, bad.Incomplete)
	assert.Equal(t, "placement not parseable", bad.Reason)
	assert.Equal(t, "delta", bad.RawName)

	noName := ext.Rows[4]
	assert.True(t, noName.Incomplete)
	assert.Equal(t, "name cell missing", noName.Reason)
	assert.Equal(t, 5, noName.Placement)

	assert.Len(t, ext.Complete(), 3)
}

func TestExtract_ConfidenceIsMinOfCells(t *testing.T) {
	grid := &ensemble.Grid{Rows: [][]ensemble.Cell{
		{cell("1", 40, 0.99), cell("alpha", 200, 0.42)},
	}}
	ext := Extract(grid, DefaultConfig())
	require.Len(t, ext.Rows, 1)
	assert.InDelta(t, 0.42, ext.Rows[0].Confidence, 1e-9)
}

func TestExtract_LowConfidencePropagates(t *testing.T) {
	lowCell := ensemble.Cell{Text: "a1pha", Left: 200, Confidence: 0.5, LowConfidence: true}
	grid := &ensemble.Grid{Rows: [][]ensemble.Cell{
		{cell("1", 40, 0.99), lowCell},
	}}
	ext := Extract(grid, DefaultConfig())
	require.Len(t, ext.Rows, 1)
	assert.True(t, ext.Rows[0].LowConfidence)
}
