// Package match resolves raw OCR names to roster identities. Matching runs
// in tiers, stopping at the first success: exact normalized lookup, alias
// table, then confusion-aware fuzzy comparison against the whole roster.
package match

import (
	"log/slog"

	"github.com/MeKo-Tech/podium/internal/roster"
)

// Tiers, in attempt order.
const (
	TierExact = iota + 1
	TierAlias
	TierFuzzy
	TierNone = 0
)

// Confidence assigned per tier. Fuzzy confidence scales with similarity.
const (
	exactConfidence = 1.0
	aliasConfidence = 0.95
)

// Config holds matching tunables.
type Config struct {
	// FuzzyThreshold is the minimum normalized similarity for a tier-3 match.
	FuzzyThreshold float64 `mapstructure:"fuzzy_threshold" yaml:"fuzzy_threshold" json:"fuzzy_threshold"`
}

// DefaultConfig returns matching defaults.
func DefaultConfig() Config {
	return Config{FuzzyThreshold: 0.95}
}

// Result is the outcome of matching one raw name.
type Result struct {
	PlayerID   string  `json:"player_id"` // empty when unmatched
	PlayerName string  `json:"player_name,omitempty"`
	RawName    string  `json:"raw_name"`
	Tier       int     `json:"tier"`
	Confidence float64 `json:"confidence"`
	Similarity float64 `json:"similarity,omitempty"` // tier-3 only
	// Flagged marks names a reviewer must look at: unmatched names always,
	// regardless of the submission's overall score.
	Flagged bool `json:"flagged"`
}

// Matched reports whether a roster identity was found.
func (r Result) Matched() bool { return r.Tier != TierNone }

// Matcher resolves names against a roster snapshot. A Matcher is cheap and
// snapshot-bound: create one per submission so alias learning mid-flight
// cannot shift results.
type Matcher struct {
	cfg  Config
	snap *roster.Snapshot
}

// New creates a matcher over the given snapshot.
func New(cfg Config, snap *roster.Snapshot) *Matcher {
	if cfg.FuzzyThreshold <= 0 || cfg.FuzzyThreshold > 1 {
		cfg.FuzzyThreshold = DefaultConfig().FuzzyThreshold
	}
	return &Matcher{cfg: cfg, snap: snap}
}

// Match resolves one raw name.
func (m *Matcher) Match(rawName string) Result {
	res := Result{RawName: rawName}
	if roster.Normalize(rawName) == "" {
		res.Flagged = true
		return res
	}

	if p, ok := m.snap.Exact(rawName); ok {
		res.PlayerID = p.ID
		res.PlayerName = p.Name
		res.Tier = TierExact
		res.Confidence = exactConfidence
		return res
	}

	if p, ok := m.snap.ByAlias(rawName); ok {
		res.PlayerID = p.ID
		res.PlayerName = p.Name
		res.Tier = TierAlias
		res.Confidence = aliasConfidence
		return res
	}

	if p, sim, ok := m.fuzzy(rawName); ok {
		res.PlayerID = p.ID
		res.PlayerName = p.Name
		res.Tier = TierFuzzy
		res.Similarity = sim
		res.Confidence = sim // scaled by similarity
		return res
	}

	// Placeholder identity: confidence zero, always flagged for review.
	res.Flagged = true
	slog.Debug("unmatched name", "raw", rawName)
	return res
}

// MatchAll resolves a batch of raw names against the same snapshot.
func (m *Matcher) MatchAll(rawNames []string) []Result {
	out := make([]Result, len(rawNames))
	for i, n := range rawNames {
		out[i] = m.Match(n)
	}
	return out
}

// fuzzy scans the full roster for the most similar name above the threshold.
func (m *Matcher) fuzzy(rawName string) (roster.Player, float64, bool) {
	normalized := roster.Normalize(rawName)
	var best roster.Player
	bestSim := 0.0
	for _, p := range m.snap.Players() {
		sim := Similarity(normalized, roster.Normalize(p.Name))
		if sim > bestSim {
			bestSim = sim
			best = p
		}
	}
	if bestSim >= m.cfg.FuzzyThreshold {
		return best, bestSim, true
	}
	return roster.Player{}, 0, false
}
