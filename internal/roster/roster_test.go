package roster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded() *Cache {
	c := NewCache()
	c.Replace(
		[]Player{{ID: "p1", Name: "Alpha"}, {ID: "p2", Name: "Bravo Two"}},
		[]Alias{
			{PlayerID: "p1", Alias: "alfa", Priority: 0, Source: SourceRegistered},
			{PlayerID: "p2", Alias: "b2", Priority: 1, Source: SourceRegistered},
		},
	)
	return c
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "alpha", Normalize("  ALPHA "))
	assert.Equal(t, "bravo two", Normalize("Bravo\t Two"))
	assert.Equal(t, Normalize("ｆｕｌｌwidth"), Normalize("fullwidth")) // NFKC folds width
	assert.Equal(t, "", Normalize("   "))
}

func TestSnapshot_ExactAndAlias(t *testing.T) {
	snap := seeded().Snapshot()
	assert.Equal(t, 2, snap.Len())

	p, ok := snap.Exact("ALPHA")
	require.True(t, ok)
	assert.Equal(t, "p1", p.ID)

	_, ok = snap.Exact("unknown")
	assert.False(t, ok)

	p, ok = snap.ByAlias("Alfa")
	require.True(t, ok)
	assert.Equal(t, "p1", p.ID)

	_, ok = snap.ByAlias("nope")
	assert.False(t, ok)
}

func TestLearnAlias_AppendOnlyVisibility(t *testing.T) {
	c := seeded()
	before := c.Snapshot()

	require.NoError(t, c.LearnAlias("p1", "a1pha", "reviewer"))

	// The earlier snapshot is untouched; only new snapshots see the alias.
	_, ok := before.ByAlias("a1pha")
	assert.False(t, ok)

	p, ok := c.Snapshot().ByAlias("a1pha")
	require.True(t, ok)
	assert.Equal(t, "p1", p.ID)
}

func TestLearnAlias_Validation(t *testing.T) {
	c := seeded()
	assert.Error(t, c.LearnAlias("ghost", "x", ""))
	assert.Error(t, c.LearnAlias("p1", "   ", ""))

	// Duplicate learn is a no-op, not an error.
	require.NoError(t, c.LearnAlias("p1", "a1pha", ""))
	require.NoError(t, c.LearnAlias("p1", "A1PHA", ""))
	count := 0
	for _, a := range c.Aliases() {
		if a.PlayerID == "p1" && Normalize(a.Alias) == "a1pha" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestRemoveAlias(t *testing.T) {
	c := seeded()
	assert.True(t, c.RemoveAlias("p1", "ALFA"))
	assert.False(t, c.RemoveAlias("p1", "alfa"))

	_, ok := c.Snapshot().ByAlias("alfa")
	assert.False(t, ok)
}

func TestReplace_KeepsLearnedAliases(t *testing.T) {
	c := seeded()
	require.NoError(t, c.LearnAlias("p1", "a1pha", "reviewer"))

	// Refresh drops p2; p1's learned alias survives, p2's registered one goes.
	c.Replace([]Player{{ID: "p1", Name: "Alpha"}}, nil)

	snap := c.Snapshot()
	p, ok := snap.ByAlias("a1pha")
	require.True(t, ok)
	assert.Equal(t, "p1", p.ID)

	_, ok = snap.ByAlias("b2")
	assert.False(t, ok)
}

func TestAliasPriorityOrdering(t *testing.T) {
	c := NewCache()
	c.Replace(
		[]Player{{ID: "p1", Name: "Alpha"}, {ID: "p2", Name: "Bravo"}},
		[]Alias{
			{PlayerID: "p2", Alias: "shared", Priority: 5},
			{PlayerID: "p1", Alias: "shared", Priority: 0},
		},
	)
	p, ok := c.Snapshot().ByAlias("shared")
	require.True(t, ok)
	assert.Equal(t, "p1", p.ID)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roster.yaml")
	content := `players:
  - id: p1
    name: Alpha
    aliases: [alfa, "4lpha"]
  - id: p2
    name: Bravo
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c := NewCache()
	require.NoError(t, c.LoadFile(path))

	snap := c.Snapshot()
	assert.Equal(t, 2, snap.Len())
	p, ok := snap.ByAlias("4lpha")
	require.True(t, ok)
	assert.Equal(t, "p1", p.ID)
}

func TestLoadFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte("players:\n  - name: NoID\n"), 0o600))

	c := NewCache()
	assert.Error(t, c.LoadFile(path))
	assert.Error(t, c.LoadFile(filepath.Join(dir, "missing.yaml")))
}
