package ensemble

import (
	"sort"
	"strings"

	"github.com/MeKo-Tech/podium/internal/engine"
)

// Cell is one consensus token with the evidence behind it.
type Cell struct {
	Text          string  `json:"text"`
	Confidence    float64 `json:"confidence"` // mean confidence of agreeing outputs
	Agreement     float64 `json:"agreement"`  // votes / outputs that produced this region
	LowConfidence bool    `json:"low_confidence"`
	Left          int     `json:"left"` // median left edge, for column heuristics
}

// Grid is the consensus text grid: one row per detected text line.
type Grid struct {
	Rows              [][]Cell `json:"rows"`
	AgreementRatio    float64  `json:"agreement_ratio"`     // mean cell agreement
	AvgCellConfidence float64  `json:"avg_cell_confidence"` // mean cell confidence
}

// vote is one output's candidate for a region.
type vote struct {
	text       string
	confidence float64
	left       int
}

// regionKey identifies one text region across outputs: a line index plus the
// token's ordinal position within that line.
type regionKey struct {
	line int
	slot int
}

// Reduce folds raw (engine, variant) outputs into a consensus grid using
// plurality voting per region. Ties break toward the candidate with the
// highest mean confidence; regions below minAgreement are kept but marked
// low-confidence rather than failing the image.
func Reduce(outputs []Output, minAgreement float64) *Grid {
	votes := make(map[regionKey][]vote)
	produced := make(map[regionKey]int)
	maxLine := -1

	for _, out := range outputs {
		if out.Result == nil {
			continue
		}
		byLine := tokensByLine(out.Result.Tokens)
		for line, toks := range byLine {
			if line > maxLine {
				maxLine = line
			}
			for slot, tok := range toks {
				k := regionKey{line: line, slot: slot}
				votes[k] = append(votes[k], vote{
					text:       strings.TrimSpace(tok.Text),
					confidence: tok.Confidence,
					left:       tok.Left,
				})
				produced[k]++
			}
		}
	}
	if maxLine < 0 {
		return &Grid{}
	}

	grid := &Grid{Rows: make([][]Cell, maxLine+1)}
	var agreementSum, confSum float64
	var cellCount int
	for k, vs := range votes {
		cell := tally(vs, produced[k], minAgreement)
		row := grid.Rows[k.line]
		for len(row) <= k.slot {
			row = append(row, Cell{})
		}
		row[k.slot] = cell
		grid.Rows[k.line] = row
	}
	for _, row := range grid.Rows {
		for _, c := range row {
			agreementSum += c.Agreement
			confSum += c.Confidence
			cellCount++
		}
	}
	if cellCount > 0 {
		grid.AgreementRatio = agreementSum / float64(cellCount)
		grid.AvgCellConfidence = confSum / float64(cellCount)
	}
	return grid
}

// tally picks the plurality winner among votes for one region.
func tally(vs []vote, produced int, minAgreement float64) Cell {
	type bucket struct {
		count   int
		confSum float64
		leftSum int
	}
	buckets := make(map[string]*bucket)
	for _, v := range vs {
		b := buckets[v.text]
		if b == nil {
			b = &bucket{}
			buckets[v.text] = b
		}
		b.count++
		b.confSum += v.confidence
		b.leftSum += v.left
	}

	texts := make([]string, 0, len(buckets))
	for t := range buckets {
		texts = append(texts, t)
	}
	// Deterministic iteration: plurality first, then mean confidence, then text.
	sort.Slice(texts, func(i, j int) bool {
		bi, bj := buckets[texts[i]], buckets[texts[j]]
		if bi.count != bj.count {
			return bi.count > bj.count
		}
		mi := bi.confSum / float64(bi.count)
		mj := bj.confSum / float64(bj.count)
		if mi != mj {
			return mi > mj
		}
		return texts[i] < texts[j]
	})

	winner := buckets[texts[0]]
	agreement := float64(winner.count) / float64(produced)
	return Cell{
		Text:          texts[0],
		Confidence:    winner.confSum / float64(winner.count),
		Agreement:     agreement,
		LowConfidence: agreement < minAgreement,
		Left:          winner.leftSum / winner.count,
	}
}

// tokensByLine orders each line's tokens left to right.
func tokensByLine(tokens []engine.Token) map[int][]engine.Token {
	byLine := make(map[int][]engine.Token)
	for _, t := range tokens {
		byLine[t.Line] = append(byLine[t.Line], t)
	}
	for line := range byLine {
		toks := byLine[line]
		sort.Slice(toks, func(i, j int) bool { return toks[i].Left < toks[j].Left })
		byLine[line] = toks
	}
	return byLine
}
