package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lobbyOf(placements ...int) []Entry {
	entries := make([]Entry, 0, len(placements))
	for i, p := range placements {
		entries = append(entries, Entry{
			PlayerID:  playerID(i),
			RawName:   playerID(i),
			Placement: p,
		})
	}
	return entries
}

func playerID(i int) string {
	return string(rune('a'+i)) + "-player"
}

func rules(r Result) []string {
	out := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		out = append(out, v.Rule)
	}
	return out
}

func TestLobby_ValidPermutation(t *testing.T) {
	res := Lobby(lobbyOf(3, 1, 4, 2, 8, 6, 5, 7), 8)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Violations)
}

func TestLobby_DuplicateAndMissingPlacement(t *testing.T) {
	// Placements {1,2,2,4,5,6,7,8}: duplicate 2, missing 3.
	res := Lobby(lobbyOf(1, 2, 2, 4, 5, 6, 7, 8), 8)
	require.False(t, res.Valid)
	assert.Contains(t, rules(res), RuleDuplicatePlace)
	assert.Contains(t, rules(res), RuleMissingPlace)
}

func TestLobby_WrongPlayerCount(t *testing.T) {
	res := Lobby(lobbyOf(1, 2, 3), 8)
	require.False(t, res.Valid)
	assert.Contains(t, rules(res), RulePlayerCount)
}

func TestLobby_PlacementOutOfRange(t *testing.T) {
	entries := lobbyOf(1, 2)
	entries = append(entries, Entry{PlayerID: "z-player", RawName: "z", Placement: 99})
	res := Lobby(entries, 3)
	require.False(t, res.Valid)
	assert.Contains(t, rules(res), RulePlacementRange)
}

func TestLobby_DuplicatePlayer(t *testing.T) {
	entries := []Entry{
		{PlayerID: "p1", RawName: "alpha", Placement: 1},
		{PlayerID: "p1", RawName: "a1pha", Placement: 2},
	}
	res := Lobby(entries, 2)
	require.False(t, res.Valid)
	assert.Contains(t, rules(res), RuleDuplicatePlayer)
}

func TestLobby_IncompleteRowViolates(t *testing.T) {
	entries := lobbyOf(1, 2, 3)
	entries = append(entries, Entry{RawName: "??", Incomplete: true})
	res := Lobby(entries, 4)
	require.False(t, res.Valid)
	assert.Contains(t, rules(res), RuleIncompleteRow)
	// The incomplete row also leaves placement 4 unfilled.
	assert.Contains(t, rules(res), RuleMissingPlace)
}

func TestLobby_UnmatchedPlaceholderDoesNotCountAsDuplicate(t *testing.T) {
	entries := []Entry{
		{PlayerID: "", RawName: "???", Placement: 1},
		{PlayerID: "", RawName: "???", Placement: 2},
	}
	res := Lobby(entries, 2)
	assert.True(t, res.Valid)
}

func TestLobby_ZeroExpectedInfersSize(t *testing.T) {
	res := Lobby(lobbyOf(1, 2, 3), 0)
	assert.True(t, res.Valid)
}

func TestCrossLobby_PlayerInTwoLobbies(t *testing.T) {
	lobbies := []LobbyEntries{
		{Lobby: "A", Entries: []Entry{{PlayerID: "p1", Placement: 1}, {PlayerID: "p2", Placement: 2}}},
		{Lobby: "C", Entries: []Entry{{PlayerID: "p1", Placement: 1}, {PlayerID: "p3", Placement: 2}}},
	}
	res, perLobby := CrossLobby(lobbies, 2)
	require.False(t, res.Valid)
	assert.Contains(t, rules(res), RuleCrossLobbyPlayer)

	// Both implicated lobbies carry the violation so both get demoted.
	assert.Len(t, perLobby["A"], 1)
	assert.Len(t, perLobby["C"], 1)
}

func TestCrossLobby_LobbyCountMismatch(t *testing.T) {
	lobbies := []LobbyEntries{
		{Lobby: "A", Entries: []Entry{{PlayerID: "p1", Placement: 1}}},
	}
	res, _ := CrossLobby(lobbies, 4)
	require.False(t, res.Valid)
	assert.Contains(t, rules(res), RuleLobbyCount)
}

func TestCrossLobby_Clean(t *testing.T) {
	lobbies := []LobbyEntries{
		{Lobby: "A", Entries: []Entry{{PlayerID: "p1", Placement: 1}}},
		{Lobby: "B", Entries: []Entry{{PlayerID: "p2", Placement: 1}}},
	}
	res, perLobby := CrossLobby(lobbies, 2)
	assert.True(t, res.Valid)
	assert.Empty(t, perLobby)
}
