package match

import (
	"unicode"
)

// confusionGroups lists characters OCR engines swap freely. Substitutions
// inside one group cost almost nothing compared to a regular edit.
var confusionGroups = [][]rune{
	{'1', 'l', 'i', '|', '!'},
	{'0', 'o', 'q', 'd'},
	{'5', 's'},
	{'8', 'b'},
	{'2', 'z'},
	{'6', 'g'},
	{'7', 't'},
	{'4', 'a'},
	{'m', 'n'},
	{'u', 'v'},
	{'c', 'e'},
}

const confusionCost = 0.1

var confusionClass = func() map[rune]int {
	m := make(map[rune]int)
	for class, group := range confusionGroups {
		for _, r := range group {
			m[r] = class
		}
	}
	return m
}()

// substitutionCost returns the cost of replacing a with b: zero for equal
// runes, near-zero inside a confusion group, one otherwise.
func substitutionCost(a, b rune) float64 {
	a = unicode.ToLower(a)
	b = unicode.ToLower(b)
	if a == b {
		return 0
	}
	ca, oka := confusionClass[a]
	cb, okb := confusionClass[b]
	if oka && okb && ca == cb {
		return confusionCost
	}
	return 1
}

// distance computes a weighted Levenshtein distance where confusion-group
// substitutions are nearly free.
func distance(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return float64(len(rb))
	}
	if len(rb) == 0 {
		return float64(len(ra))
	}

	prev := make([]float64, len(rb)+1)
	cur := make([]float64, len(rb)+1)
	for j := range prev {
		prev[j] = float64(j)
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = float64(i)
		for j := 1; j <= len(rb); j++ {
			sub := prev[j-1] + substitutionCost(ra[i-1], rb[j-1])
			ins := cur[j-1] + 1
			del := prev[j] + 1
			cur[j] = min(sub, ins, del)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

// Similarity returns a normalized similarity in [0,1] between two names,
// using the confusion-aware distance.
func Similarity(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	sim := 1 - distance(a, b)/float64(longest)
	if sim < 0 {
		return 0
	}
	return sim
}
