// Package validate enforces the game-shape invariants on extracted
// standings. All checks are pure functions over extracted rows; violations
// are reported with the rule that failed, because structural validity is a
// hard review gate rather than a weighted score input.
package validate

import (
	"fmt"
	"sort"
)

// Rule identifiers, stable for persistence and review display.
const (
	RulePlayerCount      = "player_count"
	RulePlacementRange   = "placement_range"
	RuleDuplicatePlace   = "duplicate_placement"
	RuleMissingPlace     = "missing_placement"
	RuleDuplicatePlayer  = "duplicate_player"
	RuleIncompleteRow    = "incomplete_row"
	RuleCrossLobbyPlayer = "cross_lobby_player"
	RuleLobbyCount       = "lobby_count"
)

// Violation is one failed rule with a human-readable detail.
type Violation struct {
	Rule   string `json:"rule"`
	Detail string `json:"detail"`
}

func (v Violation) String() string { return v.Rule + ": " + v.Detail }

// Entry is one placement candidate under validation.
type Entry struct {
	PlayerID  string // empty for unmatched placeholders
	RawName   string
	Placement int
	// Incomplete marks rows the extractor could not fully resolve.
	Incomplete bool
}

// Result aggregates violations; Valid is true when none were found.
type Result struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations,omitempty"`
}

func (r *Result) add(rule, format string, args ...any) {
	r.Valid = false
	r.Violations = append(r.Violations, Violation{Rule: rule, Detail: fmt.Sprintf(format, args...)})
}

// Lobby checks a single lobby's extracted entries against the expected
// player count: exact count, placements a permutation of 1..N, and no
// duplicate identities.
func Lobby(entries []Entry, expectedCount int) Result {
	res := Result{Valid: true}

	complete := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Incomplete {
			res.add(RuleIncompleteRow, "row %q could not be fully extracted", e.RawName)
			continue
		}
		complete = append(complete, e)
	}

	if expectedCount > 0 && len(complete) != expectedCount {
		res.add(RulePlayerCount, "expected %d players, found %d", expectedCount, len(complete))
	}
	n := expectedCount
	if n <= 0 {
		n = len(complete)
	}

	seenPlace := make(map[int][]string)
	seenPlayer := make(map[string]int)
	for _, e := range complete {
		if e.Placement < 1 || e.Placement > n {
			res.add(RulePlacementRange, "placement %d for %q outside 1..%d", e.Placement, e.RawName, n)
			continue
		}
		seenPlace[e.Placement] = append(seenPlace[e.Placement], e.RawName)
		if e.PlayerID != "" {
			if prev, dup := seenPlayer[e.PlayerID]; dup {
				res.add(RuleDuplicatePlayer, "player %s holds placements %d and %d", e.PlayerID, prev, e.Placement)
			} else {
				seenPlayer[e.PlayerID] = e.Placement
			}
		}
	}

	duplicates := make([]int, 0)
	for place, names := range seenPlace {
		if len(names) > 1 {
			duplicates = append(duplicates, place)
		}
	}
	sort.Ints(duplicates)
	for _, place := range duplicates {
		res.add(RuleDuplicatePlace, "placement %d appears %d times", place, len(seenPlace[place]))
	}
	for place := 1; place <= n; place++ {
		if len(seenPlace[place]) == 0 {
			res.add(RuleMissingPlace, "placement %d missing", place)
		}
	}
	return res
}

// LobbyEntries is one lobby's worth of entries keyed by its lobby ID.
type LobbyEntries struct {
	Lobby   string
	Entries []Entry
}

// CrossLobby checks the rules that only hold across a whole round: a player
// may appear in at most one lobby, and the observed lobby count must match
// the round's expectation. The returned map lists, per lobby ID, the
// violations that implicate it.
func CrossLobby(lobbies []LobbyEntries, expectedLobbies int) (Result, map[string][]Violation) {
	res := Result{Valid: true}
	perLobby := make(map[string][]Violation)

	if expectedLobbies > 0 && len(lobbies) != expectedLobbies {
		res.add(RuleLobbyCount, "expected %d lobbies, observed %d", expectedLobbies, len(lobbies))
	}

	playerLobby := make(map[string]string)
	for _, lb := range lobbies {
		for _, e := range lb.Entries {
			if e.PlayerID == "" || e.Incomplete {
				continue
			}
			if prev, seen := playerLobby[e.PlayerID]; seen && prev != lb.Lobby {
				v := Violation{
					Rule:   RuleCrossLobbyPlayer,
					Detail: fmt.Sprintf("player %s appears in lobbies %s and %s", e.PlayerID, prev, lb.Lobby),
				}
				res.Valid = false
				res.Violations = append(res.Violations, v)
				perLobby[prev] = append(perLobby[prev], v)
				perLobby[lb.Lobby] = append(perLobby[lb.Lobby], v)
			} else if !seen {
				playerLobby[e.PlayerID] = lb.Lobby
			}
		}
	}
	return res, perLobby
}
