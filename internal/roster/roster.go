// Package roster caches the registered player set and its alias table for
// matching. The roster itself is owned by an external collaborator; this
// cache offers read-through snapshots plus an append-only alias learning
// path. A snapshot taken before a mutation stays valid, so matches already
// in progress never observe a changing table.
package roster

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Alias sources.
const (
	SourceRegistered = "registered" // seeded at roster registration
	SourceLearned    = "learned"    // appended from a confirmed fuzzy match
)

// Player is one roster identity.
type Player struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// Alias is an alternate spelling for a roster identity. Lower priority values
// are tried first.
type Alias struct {
	PlayerID  string `yaml:"player_id" json:"player_id"`
	Alias     string `yaml:"alias" json:"alias"`
	Priority  int    `yaml:"priority" json:"priority"`
	Source    string `yaml:"source" json:"source"`
	CreatedBy string `yaml:"created_by,omitempty" json:"created_by,omitempty"`
}

// Normalize canonicalizes a name for lookup: NFKC normalization, case
// folding, and whitespace collapsing. Casers are stateful, so one is created
// per call rather than shared.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// Snapshot is an immutable view of the roster for one matching run.
type Snapshot struct {
	players []Player
	byNorm  map[string]Player
	aliases map[string][]aliasTarget // normalized alias -> targets by priority
}

type aliasTarget struct {
	player   Player
	priority int
}

// Players returns all roster identities in registration order.
func (s *Snapshot) Players() []Player { return s.players }

// Len returns the roster size.
func (s *Snapshot) Len() int { return len(s.players) }

// Exact looks a normalized name up against registered names.
func (s *Snapshot) Exact(name string) (Player, bool) {
	p, ok := s.byNorm[Normalize(name)]
	return p, ok
}

// ByAlias looks a normalized name up against the alias table. When several
// players share an alias spelling the lowest priority entry wins.
func (s *Snapshot) ByAlias(name string) (Player, bool) {
	targets, ok := s.aliases[Normalize(name)]
	if !ok || len(targets) == 0 {
		return Player{}, false
	}
	return targets[0].player, true
}

// Cache is the mutable holder the pipeline reads snapshots from.
type Cache struct {
	mu      sync.RWMutex
	players []Player
	aliases []Alias
	snap    *Snapshot // rebuilt lazily after mutation
}

// NewCache creates an empty cache.
func NewCache() *Cache { return &Cache{} }

// Replace installs a full roster, discarding registered aliases but keeping
// learned ones whose player still exists. Used by the out-of-band refresh.
func (c *Cache) Replace(players []Player, aliases []Alias) {
	c.mu.Lock()
	defer c.mu.Unlock()

	known := make(map[string]bool, len(players))
	for _, p := range players {
		known[p.ID] = true
	}
	kept := make([]Alias, 0, len(aliases))
	kept = append(kept, aliases...)
	for _, a := range c.aliases {
		if a.Source == SourceLearned && known[a.PlayerID] {
			kept = append(kept, a)
		}
	}
	c.players = players
	c.aliases = kept
	c.snap = nil
}

// LearnAlias appends a learned alias. Appending never invalidates snapshots
// already handed out; only subsequently started matches observe it.
func (c *Cache) LearnAlias(playerID, alias, createdBy string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	found := false
	for _, p := range c.players {
		if p.ID == playerID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("unknown player %q", playerID)
	}
	normalized := Normalize(alias)
	if normalized == "" {
		return fmt.Errorf("empty alias for player %q", playerID)
	}
	for _, a := range c.aliases {
		if a.PlayerID == playerID && Normalize(a.Alias) == normalized {
			return nil // already known
		}
	}
	c.aliases = append(c.aliases, Alias{
		PlayerID:  playerID,
		Alias:     alias,
		Priority:  100, // learned aliases rank after registered ones
		Source:    SourceLearned,
		CreatedBy: createdBy,
	})
	c.snap = nil
	return nil
}

// RemoveAlias deletes a specific alias spelling for a player. Manual tuning
// only; the pipeline never removes aliases.
func (c *Cache) RemoveAlias(playerID, alias string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	normalized := Normalize(alias)
	for i, a := range c.aliases {
		if a.PlayerID == playerID && Normalize(a.Alias) == normalized {
			c.aliases = append(c.aliases[:i], c.aliases[i+1:]...)
			c.snap = nil
			return true
		}
	}
	return false
}

// Aliases returns a copy of the current alias table.
func (c *Cache) Aliases() []Alias {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Alias, len(c.aliases))
	copy(out, c.aliases)
	return out
}

// Snapshot returns the current immutable view, rebuilding it if a mutation
// occurred since the last call.
func (c *Cache) Snapshot() *Snapshot {
	c.mu.RLock()
	if c.snap != nil {
		snap := c.snap
		c.mu.RUnlock()
		return snap
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		c.snap = build(c.players, c.aliases)
	}
	return c.snap
}

func build(players []Player, aliases []Alias) *Snapshot {
	s := &Snapshot{
		players: append([]Player(nil), players...),
		byNorm:  make(map[string]Player, len(players)),
		aliases: make(map[string][]aliasTarget),
	}
	byID := make(map[string]Player, len(players))
	for _, p := range players {
		s.byNorm[Normalize(p.Name)] = p
		byID[p.ID] = p
	}
	for _, a := range aliases {
		p, ok := byID[a.PlayerID]
		if !ok {
			continue
		}
		key := Normalize(a.Alias)
		s.aliases[key] = append(s.aliases[key], aliasTarget{player: p, priority: a.Priority})
	}
	for key := range s.aliases {
		targets := s.aliases[key]
		sort.SliceStable(targets, func(i, j int) bool { return targets[i].priority < targets[j].priority })
		s.aliases[key] = targets
	}
	return s
}
