package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/podium/internal/classifier"
	"github.com/MeKo-Tech/podium/internal/engine"
	"github.com/MeKo-Tech/podium/internal/engine/enginetest"
	"github.com/MeKo-Tech/podium/internal/ensemble"
	"github.com/MeKo-Tech/podium/internal/preprocess"
	"github.com/MeKo-Tech/podium/internal/roster"
	"github.com/MeKo-Tech/podium/internal/store"
)

var lobbyNames = []string{"Alice", "Bob", "Cara", "Dan", "Eve", "Frank", "Gina", "Hank"}

func testRoster() *roster.Cache {
	players := make([]roster.Player, len(lobbyNames))
	for i, n := range lobbyNames {
		players[i] = roster.Player{ID: "p" + n, Name: n}
	}
	rc := roster.NewCache()
	rc.Replace(players, nil)
	return rc
}

// standingsPNG renders a synthetic screenshot with enough dark text bands
// for the structural grid signal to saturate.
func standingsPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 400, 400))
	for y := 0; y < 400; y++ {
		for x := 0; x < 400; x++ {
			img.Set(x, y, color.White)
		}
	}
	for _, top := range []int{20, 60, 100, 140, 180, 220} {
		for y := top; y < top+10; y++ {
			for x := 40; x < 360; x++ {
				img.Set(x, y, color.Black)
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// blankPNG renders an all-white image with no text structure.
func blankPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 400, 400))
	for y := 0; y < 400; y++ {
		for x := 0; x < 400; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestPipeline(t *testing.T, eng engine.Engine) (*Pipeline, *store.Store) {
	t.Helper()
	cfg := store.DefaultConfig()
	cfg.Path = ":memory:"
	st, err := store.Open(cfg, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ens, err := ensemble.New(ensemble.DefaultConfig(), preprocess.Variants(preprocess.DefaultConfig()), []engine.Engine{eng})
	require.NoError(t, err)

	// No fast keyword engine: the keyword signal falls back to structure.
	cls := classifier.New(classifier.DefaultConfig(), nil)

	p, err := New(DefaultConfig(), cls, ens, testRoster(), st, slog.Default())
	require.NoError(t, err)
	return p, st
}

func pendingSubmission(t *testing.T, st *store.Store, hash string) string {
	t.Helper()
	sub, err := st.CreateSubmission(context.Background(), &store.Submission{
		SubmissionID: uuid.NewString(),
		SourceRef:    "msg-" + uuid.NewString(),
		ContentHash:  hash,
		RoundID:      "round-1",
		LobbyID:      "lobby-a",
	})
	require.NoError(t, err)
	return sub.SubmissionID
}

func TestPointsTable(t *testing.T) {
	var cfg PointsConfig
	assert.Equal(t, 8, cfg.For(1, 8))
	assert.Equal(t, 1, cfg.For(8, 8))
	assert.Equal(t, 0, cfg.For(10, 8))

	cfg.Bonus = map[int]int{1: 12}
	assert.Equal(t, 12, cfg.For(1, 8))
	assert.Equal(t, 7, cfg.For(2, 8))
}

func TestProcess_CleanAutoAccept(t *testing.T) {
	eng := enginetest.New("fake", enginetest.Standings(0.99, lobbyNames...))
	p, st := newTestPipeline(t, eng)
	id := pendingSubmission(t, st, "clean")

	var notified []*store.Submission
	p.OnTransition = func(sub *store.Submission) { notified = append(notified, sub) }

	out, err := p.Process(context.Background(), id, standingsPNG(t))
	require.NoError(t, err)
	assert.Equal(t, store.StatusValidated, out.Status)
	assert.Greater(t, out.Score, 0.98)
	assert.Equal(t, []string{"auto-accepted"}, out.Reasons)
	require.Len(t, notified, 1)

	sub, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusValidated, sub.Status)
	require.Len(t, sub.Placements, 8)
	assert.Equal(t, "pAlice", sub.Placements[0].PlayerID)
	assert.Equal(t, 1, sub.Placements[0].Placement)
	assert.Equal(t, 8, sub.Placements[0].Points)
	assert.Equal(t, 1, sub.Placements[7].Points)
	assert.Equal(t, "exact", sub.Placements[0].MatchTier)

	// Full audit trail retained.
	assert.NotEmpty(t, sub.ClassifierJSON)
	assert.NotEmpty(t, sub.ConsensusJSON)
	assert.NotEmpty(t, sub.ExtractionJSON)
	assert.NotEmpty(t, sub.MatchJSON)
	assert.NotEmpty(t, sub.ValidationJSON)
}

func TestProcess_FuzzyMatchNeedsConfirmation(t *testing.T) {
	names := append([]string{}, lobbyNames...)
	names[2] = "C4ra" // confusion-pair substitution, lands in the fuzzy band
	eng := enginetest.New("fake", enginetest.Standings(0.99, names...))
	p, st := newTestPipeline(t, eng)
	id := pendingSubmission(t, st, "fuzzy")

	out, err := p.Process(context.Background(), id, standingsPNG(t))
	require.NoError(t, err)
	assert.Equal(t, store.StatusNeedsReview, out.Status)
	require.Len(t, out.Reasons, 1)
	assert.Contains(t, out.Reasons[0], "fuzzy match")
	assert.Contains(t, out.Reasons[0], "Cara")

	sub, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusNeedsReview, sub.Status)
	require.Len(t, sub.Placements, 8)
	assert.Equal(t, "fuzzy", sub.Placements[2].MatchTier)
	assert.Equal(t, "pCara", sub.Placements[2].PlayerID)
}

func TestProcess_DuplicatePlacement(t *testing.T) {
	res := &engine.Result{}
	res.Tokens = append(res.Tokens,
		engine.Token{Text: "Place", Confidence: 0.99, Line: 0, Left: 40, Top: 0, Width: 60, Height: 30},
		engine.Token{Text: "Player", Confidence: 0.99, Line: 0, Left: 200, Top: 0, Width: 80, Height: 30},
	)
	places := []string{"1", "2", "2", "4", "5", "6", "7", "8"}
	for i, n := range lobbyNames {
		res.Tokens = append(res.Tokens, enginetest.Row(i+1, places[i], n, 0.99)...)
	}
	p, st := newTestPipeline(t, enginetest.New("fake", res))
	id := pendingSubmission(t, st, "dup-place")

	out, err := p.Process(context.Background(), id, standingsPNG(t))
	require.NoError(t, err)
	assert.Equal(t, store.StatusNeedsReview, out.Status)

	joined := ""
	for _, r := range out.Reasons {
		joined += r + "\n"
	}
	assert.Contains(t, joined, "duplicate_placement")
	assert.Contains(t, joined, "missing_placement")

	// Rows are retained for the reviewer even though validation failed.
	sub, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, sub.Placements, 8)
}

func TestProcess_UnmatchedName(t *testing.T) {
	names := append([]string{}, lobbyNames...)
	names[5] = "Zzyzx" // nowhere near any roster entry
	eng := enginetest.New("fake", enginetest.Standings(0.99, names...))
	p, st := newTestPipeline(t, eng)
	id := pendingSubmission(t, st, "unmatched")

	out, err := p.Process(context.Background(), id, standingsPNG(t))
	require.NoError(t, err)
	assert.Equal(t, store.StatusNeedsReview, out.Status)

	joined := ""
	for _, r := range out.Reasons {
		joined += r + "\n"
	}
	assert.Contains(t, joined, "unmatched name")

	sub, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "none", sub.Placements[5].MatchTier)
	assert.Empty(t, sub.Placements[5].PlayerID)
}

func TestProcess_RejectsNonStandings(t *testing.T) {
	eng := enginetest.New("fake", &engine.Result{})
	p, st := newTestPipeline(t, eng)
	id := pendingSubmission(t, st, "blank")

	out, err := p.Process(context.Background(), id, blankPNG(t))
	require.NoError(t, err)
	assert.Equal(t, store.StatusRejected, out.Status)
	require.Len(t, out.Reasons, 1)
	assert.Contains(t, out.Reasons[0], "not a standings screenshot")

	// The OCR ensemble never ran.
	assert.Equal(t, 0, eng.Calls())

	sub, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusRejected, sub.Status)
}

func TestProcess_NoRowsRecognized(t *testing.T) {
	eng := enginetest.New("fake", &engine.Result{})
	p, st := newTestPipeline(t, eng)
	id := pendingSubmission(t, st, "norows")

	out, err := p.Process(context.Background(), id, standingsPNG(t))
	require.NoError(t, err)
	assert.Equal(t, store.StatusError, out.Status)
	assert.Contains(t, out.Reasons[0], "no text rows recognized")

	// error is retryable
	sub, err := st.Reprocess(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, sub.Status)
}

func TestProcess_RejectsTinyImage(t *testing.T) {
	eng := enginetest.New("fake", enginetest.Standings(0.99, lobbyNames...))
	p, st := newTestPipeline(t, eng)
	id := pendingSubmission(t, st, "tiny")

	img := image.NewRGBA(image.Rect(0, 0, 100, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 100; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	out, err := p.Process(context.Background(), id, buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, store.StatusRejected, out.Status)
	require.Len(t, out.Reasons, 1)
	assert.Contains(t, out.Reasons[0], "image dimensions out of bounds")
	assert.Zero(t, eng.Calls())
}

func TestProcess_UndecodableImage(t *testing.T) {
	eng := enginetest.New("fake", &engine.Result{})
	p, st := newTestPipeline(t, eng)
	id := pendingSubmission(t, st, "garbage")

	out, err := p.Process(context.Background(), id, []byte("not an image"))
	require.NoError(t, err)
	assert.Equal(t, store.StatusError, out.Status)
	assert.Contains(t, out.Reasons[0], "image decode failed")
}

func TestProcess_UnknownSubmission(t *testing.T) {
	eng := enginetest.New("fake", &engine.Result{})
	p, _ := newTestPipeline(t, eng)

	_, err := p.Process(context.Background(), "missing", standingsPNG(t))
	assert.ErrorIs(t, err, store.ErrNotFound)
}
