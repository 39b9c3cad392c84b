package extract

import (
	"strconv"
	"strings"
)

// digitConfusions maps characters OCR engines routinely misread for digits.
// Applied before numeric parsing only, never to name cells.
var digitConfusions = map[rune]rune{
	'l': '1', 'I': '1', 'i': '1', '|': '1',
	'O': '0', 'o': '0', 'Q': '0', 'D': '0',
	'S': '5', 's': '5',
	'B': '8',
	'Z': '2', 'z': '2',
	'G': '6',
	'A': '4',
	'T': '7',
}

// ordinalSuffixes are stripped from placement tokens ("1st", "2.", "#3").
var ordinalSuffixes = []string{"st", "nd", "rd", "th", ".", ")", ":"}

// ParsePlacement parses a placement token, applying the digit confusion map
// and stripping ordinal decorations. Returns the placement and whether the
// token was numeric at all.
func ParsePlacement(token string) (int, bool) {
	s := strings.TrimSpace(token)
	s = strings.TrimPrefix(s, "#")
	lower := strings.ToLower(s)
	for _, suf := range ordinalSuffixes {
		if strings.HasSuffix(lower, suf) && len(s) > len(suf) {
			s = s[:len(s)-len(suf)]
			break
		}
	}
	if s == "" {
		return 0, false
	}

	mapped := strings.Map(func(r rune) rune {
		if d, ok := digitConfusions[r]; ok {
			return d
		}
		return r
	}, s)

	n, err := strconv.Atoi(mapped)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// looksNumeric reports whether most of the token maps to digits, used to
// tell placement cells from name cells when no header was found.
func looksNumeric(token string) bool {
	if token == "" {
		return false
	}
	digits := 0
	for _, r := range token {
		if r >= '0' && r <= '9' {
			digits++
		} else if _, ok := digitConfusions[r]; ok {
			digits++
		}
	}
	return digits*2 > len([]rune(token))
}
