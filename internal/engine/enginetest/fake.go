// Package enginetest provides a scripted Engine implementation for tests.
package enginetest

import (
	"context"
	"image"
	"sync"

	"github.com/MeKo-Tech/podium/internal/engine"
)

// Fake is a scripted engine. Each call to Recognize returns the next queued
// result (or the last one repeatedly once the queue is exhausted).
type Fake struct {
	EngineName string
	Err        error

	mu      sync.Mutex
	queue   []*engine.Result
	calls   int
	closed  bool
	lastImg image.Image
}

// New creates a fake engine that always returns the given result.
func New(name string, res *engine.Result) *Fake {
	return &Fake{EngineName: name, queue: []*engine.Result{res}}
}

// NewScripted creates a fake engine returning the given results in order.
func NewScripted(name string, results ...*engine.Result) *Fake {
	return &Fake{EngineName: name, queue: results}
}

// Name implements engine.Engine.
func (f *Fake) Name() string { return f.EngineName }

// Recognize implements engine.Engine.
func (f *Fake) Recognize(ctx context.Context, img image.Image) (*engine.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastImg = img
	if f.Err != nil {
		return nil, f.Err
	}
	idx := f.calls - 1
	if idx >= len(f.queue) {
		idx = len(f.queue) - 1
	}
	if idx < 0 {
		return &engine.Result{Engine: f.EngineName}, nil
	}
	res := *f.queue[idx]
	res.Engine = f.EngineName
	return &res, nil
}

// Close implements engine.Engine.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Calls returns how many times Recognize ran.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Row builds the tokens for one standings row at the given line index.
func Row(line int, placement string, name string, conf float64) []engine.Token {
	return []engine.Token{
		{Text: placement, Confidence: conf, Line: line, Left: 40, Top: 40 * line, Width: 30, Height: 30},
		{Text: name, Confidence: conf, Line: line, Left: 200, Top: 40 * line, Width: 200, Height: 30},
	}
}

// Standings builds a complete engine result for ordered player names,
// placements 1..N, with uniform confidence.
func Standings(conf float64, names ...string) *engine.Result {
	res := &engine.Result{}
	for i, n := range names {
		res.Tokens = append(res.Tokens, Row(i+1, itoa(i+1), n, conf)...)
	}
	// header line
	res.Tokens = append(res.Tokens, []engine.Token{
		{Text: "Place", Confidence: conf, Line: 0, Left: 40, Top: 0, Width: 60, Height: 30},
		{Text: "Player", Confidence: conf, Line: 0, Left: 200, Top: 0, Width: 80, Height: 30},
	}...)
	return res
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
