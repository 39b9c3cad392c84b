// Package extract converts a consensus text grid into an ordered list of
// (placement, raw name) rows using spatial layout. Column positions come
// from header keywords and left-edge clustering, not fixed pixel offsets,
// because screenshots vary in resolution and UI skin.
package extract

import (
	"log/slog"
	"strings"

	"github.com/MeKo-Tech/podium/internal/ensemble"
)

// Config holds extraction tunables.
type Config struct {
	// PlacementKeywords mark the placement column header.
	PlacementKeywords []string `mapstructure:"placement_keywords" yaml:"placement_keywords" json:"placement_keywords"`
	// NameKeywords mark the name column header.
	NameKeywords []string `mapstructure:"name_keywords" yaml:"name_keywords" json:"name_keywords"`
	// ColumnTolerance is the max left-edge distance, in pixels, for a cell
	// to be assigned to a header-derived column.
	ColumnTolerance int `mapstructure:"column_tolerance" yaml:"column_tolerance" json:"column_tolerance"`
}

// DefaultConfig returns extraction defaults.
func DefaultConfig() Config {
	return Config{
		PlacementKeywords: []string{"place", "rank", "pos", "#"},
		NameKeywords:      []string{"player", "name", "team"},
		ColumnTolerance:   80,
	}
}

// Row is one extracted standings row.
type Row struct {
	Placement  int     `json:"placement"`
	RawName    string  `json:"raw_name"`
	Confidence float64 `json:"confidence"`
	// Incomplete marks rows missing a placement or a name. They are flagged
	// and surfaced to the reviewer, never silently dropped.
	Incomplete bool   `json:"incomplete"`
	Reason     string `json:"reason,omitempty"`
	// LowConfidence propagates the consensus marker of either source cell.
	LowConfidence bool `json:"low_confidence"`
}

// Extraction is the full structured result for one image.
type Extraction struct {
	Rows        []Row `json:"rows"`
	HeaderFound bool  `json:"header_found"`
}

// Complete returns only the rows carrying both a placement and a name.
func (e *Extraction) Complete() []Row {
	out := make([]Row, 0, len(e.Rows))
	for _, r := range e.Rows {
		if !r.Incomplete {
			out = append(out, r)
		}
	}
	return out
}

// Extract turns the consensus grid into ordered rows, at most one per grid row.
func Extract(grid *ensemble.Grid, cfg Config) *Extraction {
	if cfg.ColumnTolerance <= 0 {
		cfg.ColumnTolerance = DefaultConfig().ColumnTolerance
	}
	if len(cfg.PlacementKeywords) == 0 {
		cfg.PlacementKeywords = DefaultConfig().PlacementKeywords
	}
	if len(cfg.NameKeywords) == 0 {
		cfg.NameKeywords = DefaultConfig().NameKeywords
	}

	ext := &Extraction{}
	headerIdx, placementLeft, nameLeft := findHeader(grid, cfg)
	ext.HeaderFound = headerIdx >= 0

	for i, cells := range grid.Rows {
		if i == headerIdx || len(cells) == 0 {
			continue
		}
		row := extractRow(cells, placementLeft, nameLeft, cfg, ext.HeaderFound)
		ext.Rows = append(ext.Rows, row)
	}
	slog.Debug("extracted rows",
		"total", len(ext.Rows), "complete", len(ext.Complete()), "header", ext.HeaderFound)
	return ext
}

// findHeader locates the header row and returns its index plus the left
// edges of the placement and name columns (-1 when not identified).
func findHeader(grid *ensemble.Grid, cfg Config) (headerIdx, placementLeft, nameLeft int) {
	headerIdx, placementLeft, nameLeft = -1, -1, -1
	for i, cells := range grid.Rows {
		pl, nl := -1, -1
		for _, c := range cells {
			lower := strings.ToLower(c.Text)
			for _, kw := range cfg.PlacementKeywords {
				if strings.Contains(lower, kw) {
					pl = c.Left
				}
			}
			for _, kw := range cfg.NameKeywords {
				if strings.Contains(lower, kw) {
					nl = c.Left
				}
			}
		}
		if pl >= 0 || nl >= 0 {
			return i, pl, nl
		}
	}
	return headerIdx, placementLeft, nameLeft
}

// extractRow pulls the placement and name out of one grid row.
func extractRow(cells []ensemble.Cell, placementLeft, nameLeft int, cfg Config, header bool) Row {
	var placementCell, nameCell *ensemble.Cell

	if header {
		// Position-first assignment against the header columns.
		for i := range cells {
			c := &cells[i]
			if placementLeft >= 0 && abs(c.Left-placementLeft) <= cfg.ColumnTolerance && placementCell == nil {
				placementCell = c
			} else if nameLeft >= 0 && abs(c.Left-nameLeft) <= cfg.ColumnTolerance && nameCell == nil {
				nameCell = c
			}
		}
	}
	// Content heuristics fill whatever position matching left open.
	for i := range cells {
		c := &cells[i]
		if c == placementCell || c == nameCell {
			continue
		}
		if placementCell == nil && looksNumeric(c.Text) {
			placementCell = c
			continue
		}
		if nameCell == nil && !looksNumeric(c.Text) && c.Text != "" {
			nameCell = c
		}
	}

	row := Row{}
	if placementCell != nil {
		if n, ok := ParsePlacement(placementCell.Text); ok {
			row.Placement = n
		}
	}
	if nameCell != nil {
		row.RawName = strings.TrimSpace(nameCell.Text)
	}

	switch {
	case row.Placement == 0 && row.RawName == "":
		row.Incomplete = true
		row.Reason = "no placement or name found"
	case row.Placement == 0:
		row.Incomplete = true
		row.Reason = "placement not parseable"
	case row.RawName == "":
		row.Incomplete = true
		row.Reason = "name cell missing"
	}

	if placementCell != nil {
		row.Confidence = placementCell.Confidence
		row.LowConfidence = placementCell.LowConfidence
	}
	if nameCell != nil {
		if placementCell == nil || nameCell.Confidence < row.Confidence {
			row.Confidence = nameCell.Confidence
		}
		row.LowConfidence = row.LowConfidence || nameCell.LowConfidence
	}
	return row
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
