package engine

import (
	"bufio"
	"fmt"
	"os"
)

// Charset maps CTC output indices to characters. Index 0 is the blank token;
// dictionary entries follow in file order.
type Charset struct {
	chars []string
}

// LoadCharset reads a dictionary file with one character per line.
func LoadCharset(path string) (*Charset, error) {
	f, err := os.Open(path) //nolint:gosec // G304: configured dictionary path is expected
	if err != nil {
		return nil, fmt.Errorf("open dictionary %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	cs := &Charset{chars: []string{""}} // reserve blank at index 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		cs.chars = append(cs.chars, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dictionary %s: %w", path, err)
	}
	if len(cs.chars) < 2 {
		return nil, fmt.Errorf("dictionary %s is empty", path)
	}
	return cs, nil
}

// Size returns the number of entries including the blank.
func (c *Charset) Size() int { return len(c.chars) }

// Char returns the character for an output index, or "" for blank/unknown.
func (c *Charset) Char(idx int) string {
	if idx <= 0 || idx >= len(c.chars) {
		return ""
	}
	return c.chars[idx]
}
