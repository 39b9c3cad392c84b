// Package pipeline drives one submission through every automated stage:
// classification, OCR consensus, row extraction, roster matching, structural
// validation and confidence scoring, ending in a state machine transition.
// Each stage's output is persisted so reviewers can audit the run.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MeKo-Tech/podium/internal/classifier"
	"github.com/MeKo-Tech/podium/internal/ensemble"
	"github.com/MeKo-Tech/podium/internal/extract"
	"github.com/MeKo-Tech/podium/internal/imageutil"
	"github.com/MeKo-Tech/podium/internal/match"
	"github.com/MeKo-Tech/podium/internal/roster"
	"github.com/MeKo-Tech/podium/internal/score"
	"github.com/MeKo-Tech/podium/internal/store"
	"github.com/MeKo-Tech/podium/internal/validate"
)

// Config holds the per-stage tunables.
type Config struct {
	Classifier classifier.Config `mapstructure:"classifier" yaml:"classifier" json:"classifier"`
	Ensemble   ensemble.Config   `mapstructure:"ensemble" yaml:"ensemble" json:"ensemble"`
	Extract    extract.Config    `mapstructure:"extract" yaml:"extract" json:"extract"`
	Match      match.Config      `mapstructure:"match" yaml:"match" json:"match"`
	Score      score.Config      `mapstructure:"score" yaml:"score" json:"score"`
	// ExpectedPlayers is the lobby size validation enforces. Zero infers
	// the size from the extracted rows.
	ExpectedPlayers int `mapstructure:"expected_players" yaml:"expected_players" json:"expected_players"`

	// Image bounds the dimensions of accepted screenshots.
	Image imageutil.Constraints `mapstructure:"image" yaml:"image" json:"image"`

	Points PointsConfig `mapstructure:"points" yaml:"points" json:"points"`
}

// PointsConfig derives the standings points stored with each placement.
// The default table awards lobbySize - placement + 1, floored at zero.
// Bonus entries override the derived value for specific placements.
type PointsConfig struct {
	Bonus map[int]int `mapstructure:"bonus" yaml:"bonus" json:"bonus"`
}

// For returns the points for a placement in a lobby of the given size.
func (c PointsConfig) For(placement, lobbySize int) int {
	if v, ok := c.Bonus[placement]; ok {
		return v
	}
	pts := lobbySize - placement + 1
	if pts < 0 {
		pts = 0
	}
	return pts
}

// DefaultConfig returns pipeline defaults.
func DefaultConfig() Config {
	return Config{
		Classifier:      classifier.DefaultConfig(),
		Ensemble:        ensemble.DefaultConfig(),
		Extract:         extract.DefaultConfig(),
		Match:           match.DefaultConfig(),
		Score:           score.DefaultConfig(),
		ExpectedPlayers: 8,
		Image:           imageutil.DefaultConstraints(),
	}
}

// Outcome summarizes a pipeline run for the caller.
type Outcome struct {
	Status  store.Status      `json:"status"`
	Score   float64           `json:"score"`
	Reasons []string          `json:"reasons,omitempty"`
	Rows    []store.Placement `json:"rows,omitempty"`
}

// Pipeline processes submissions end to end.
type Pipeline struct {
	cfg        Config
	classifier *classifier.Classifier
	ensemble   *ensemble.Ensemble
	roster     *roster.Cache
	store      *store.Store
	logger     *slog.Logger

	// OnTransition, when set, is called after every finished run so the
	// server can stream live updates.
	OnTransition func(sub *store.Submission)
}

// New assembles a pipeline from its stage components.
func New(cfg Config, cls *classifier.Classifier, ens *ensemble.Ensemble, rc *roster.Cache, st *store.Store, log *slog.Logger) (*Pipeline, error) {
	if cls == nil || ens == nil || rc == nil || st == nil {
		return nil, errors.New("pipeline requires classifier, ensemble, roster and store")
	}
	if err := cfg.Score.Validate(); err != nil {
		return nil, fmt.Errorf("score config: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		cfg:        cfg,
		classifier: cls,
		ensemble:   ens,
		roster:     rc,
		store:      st,
		logger:     log,
	}, nil
}

// Process runs every stage for one pending submission. Stage failures land
// the submission in error (retryable) or rejected (final), never lose it.
func (p *Pipeline) Process(ctx context.Context, submissionID string, data []byte) (*Outcome, error) {
	if _, err := p.store.Transition(ctx, submissionID, store.StatusProcessing, "", nil); err != nil {
		return nil, err
	}
	log := p.logger.With("submission_id", submissionID)

	img, meta, err := imageutil.Decode(data)
	if err != nil {
		return p.finish(ctx, submissionID, store.StatusError, 0,
			[]string{fmt.Sprintf("image decode failed: %v", err)}, nil)
	}
	log.Debug("image decoded", "format", meta.Format, "width", meta.Width, "height", meta.Height)
	if err := imageutil.Validate(meta, p.cfg.Image); err != nil {
		return p.finish(ctx, submissionID, store.StatusRejected, 0,
			[]string{fmt.Sprintf("image dimensions out of bounds: %v", err)}, nil)
	}

	// Stage 1: plausibility gate.
	start := time.Now()
	verdict, err := p.classifier.Classify(ctx, img)
	stageDuration.WithLabelValues("classify").Observe(time.Since(start).Seconds())
	if err != nil {
		return p.finish(ctx, submissionID, store.StatusError, 0,
			[]string{fmt.Sprintf("classification failed: %v", err)}, nil)
	}
	p.saveStage(ctx, submissionID, store.StageOutputs{Classifier: marshal(verdict)})
	if !verdict.Plausible {
		return p.finish(ctx, submissionID, store.StatusRejected, 0,
			[]string{fmt.Sprintf("image is not a standings screenshot (score %.2f)", verdict.Score)}, nil)
	}

	// Stage 2: OCR ensemble with consensus.
	start = time.Now()
	grid, outputs, err := p.ensemble.Run(ctx, img)
	stageDuration.WithLabelValues("ocr").Observe(time.Since(start).Seconds())
	p.saveStage(ctx, submissionID, store.StageOutputs{Consensus: marshalConsensus(grid, outputs)})
	if err != nil {
		reason := fmt.Sprintf("ocr failed: %v", err)
		if errors.Is(err, ensemble.ErrNoRows) {
			reason = "no text rows recognized"
		}
		return p.finish(ctx, submissionID, store.StatusError, 0, []string{reason}, nil)
	}

	// Stage 3: structured extraction.
	start = time.Now()
	extraction := extract.Extract(grid, p.cfg.Extract)
	stageDuration.WithLabelValues("extract").Observe(time.Since(start).Seconds())
	p.saveStage(ctx, submissionID, store.StageOutputs{Extraction: marshal(extraction)})
	if len(extraction.Rows) == 0 {
		return p.finish(ctx, submissionID, store.StatusError, 0,
			[]string{"no standings rows extracted"}, nil)
	}

	// Stage 4: roster matching against one immutable snapshot.
	start = time.Now()
	matcher := match.New(p.cfg.Match, p.roster.Snapshot())
	names := make([]string, len(extraction.Rows))
	for i, r := range extraction.Rows {
		names[i] = r.RawName
	}
	matches := matcher.MatchAll(names)
	stageDuration.WithLabelValues("match").Observe(time.Since(start).Seconds())
	p.saveStage(ctx, submissionID, store.StageOutputs{Match: marshal(matches)})

	// Stage 5: structural validation.
	start = time.Now()
	entries := make([]validate.Entry, len(extraction.Rows))
	for i, r := range extraction.Rows {
		entries[i] = validate.Entry{
			PlayerID:   matches[i].PlayerID,
			RawName:    r.RawName,
			Placement:  r.Placement,
			Incomplete: r.Incomplete,
		}
	}
	validation := validate.Lobby(entries, p.cfg.ExpectedPlayers)
	stageDuration.WithLabelValues("validate").Observe(time.Since(start).Seconds())
	p.saveStage(ctx, submissionID, store.StageOutputs{Validation: marshal(validation)})

	// Stage 6: weighted confidence and the accept decision.
	start = time.Now()
	inputs := score.Inputs{
		Classification:  verdict.Score,
		Agreement:       grid.AgreementRatio,
		CellConfidence:  grid.AvgCellConfidence,
		MatchConfidence: meanMatchConfidence(matches),
		StructuralValid: validation.Valid,
	}
	overall, accept := score.AutoAccept(inputs, p.cfg.Score)
	stageDuration.WithLabelValues("score").Observe(time.Since(start).Seconds())
	overallScore.Observe(overall)

	status, reasons := decide(validation, matches, overall, accept)
	rows := buildPlacements(extraction.Rows, matches, p.cfg.Points, p.lobbySize(len(extraction.Rows)))
	return p.finish(ctx, submissionID, status, overall, reasons, rows)
}

// decide picks the terminal status. Fuzzy matches always require human
// confirmation before the submission can count, keeping the learned alias
// loop human-approved.
func decide(validation validate.Result, matches []match.Result, overall float64, accept bool) (store.Status, []string) {
	var reasons []string
	for _, v := range validation.Violations {
		reasons = append(reasons, v.String())
	}
	for _, m := range matches {
		if m.Flagged {
			reasons = append(reasons, fmt.Sprintf("unmatched name %q", m.RawName))
		}
		if m.Tier == match.TierFuzzy {
			reasons = append(reasons, fmt.Sprintf("fuzzy match %q -> %q needs confirmation", m.RawName, m.PlayerName))
		}
	}
	if len(reasons) == 0 && !accept {
		reasons = append(reasons, fmt.Sprintf("overall confidence %.3f below auto-accept threshold", overall))
	}
	if len(reasons) == 0 {
		return store.StatusValidated, []string{"auto-accepted"}
	}
	return store.StatusNeedsReview, reasons
}

func (p *Pipeline) finish(ctx context.Context, submissionID string, status store.Status, overall float64, reasons []string, rows []store.Placement) (*Outcome, error) {
	p.saveStage(ctx, submissionID, store.StageOutputs{OverallScore: &overall})
	sub, err := p.store.Transition(ctx, submissionID, status, strings.Join(reasons, "; "), rows)
	if err != nil {
		return nil, fmt.Errorf("finishing submission %s: %w", submissionID, err)
	}
	submissionsProcessed.WithLabelValues(string(status)).Inc()
	if status == store.StatusNeedsReview {
		for _, r := range reasons {
			reviewQueueInflow.WithLabelValues(reasonLabel(r)).Inc()
		}
	}
	if p.OnTransition != nil {
		p.OnTransition(sub)
	}
	p.logger.Info("submission finished",
		"submission_id", submissionID, "status", status, "score", overall)
	return &Outcome{Status: status, Score: overall, Reasons: reasons, Rows: rows}, nil
}

func (p *Pipeline) saveStage(ctx context.Context, submissionID string, out store.StageOutputs) {
	if err := p.store.SaveStageOutputs(ctx, submissionID, out); err != nil {
		p.logger.Warn("saving stage output failed", "submission_id", submissionID, "error", err)
	}
}

func buildPlacements(rows []extract.Row, matches []match.Result, points PointsConfig, lobbySize int) []store.Placement {
	out := make([]store.Placement, 0, len(rows))
	for i, r := range rows {
		m := matches[i]
		out = append(out, store.Placement{
			PlayerID:        m.PlayerID,
			PlayerName:      m.PlayerName,
			RawName:         r.RawName,
			Placement:       r.Placement,
			Points:          points.For(r.Placement, lobbySize),
			MatchTier:       tierName(m.Tier),
			MatchConfidence: m.Confidence,
		})
	}
	return out
}

// lobbySize resolves the configured lobby size, falling back to the
// extracted row count when unset.
func (p *Pipeline) lobbySize(rows int) int {
	if p.cfg.ExpectedPlayers > 0 {
		return p.cfg.ExpectedPlayers
	}
	return rows
}

func meanMatchConfidence(matches []match.Result) float64 {
	if len(matches) == 0 {
		return 0
	}
	var sum float64
	for _, m := range matches {
		sum += m.Confidence
	}
	return sum / float64(len(matches))
}

func tierName(tier int) string {
	switch tier {
	case match.TierExact:
		return "exact"
	case match.TierAlias:
		return "alias"
	case match.TierFuzzy:
		return "fuzzy"
	}
	return "none"
}

// reasonLabel collapses free-form reasons to a bounded metric label set.
func reasonLabel(reason string) string {
	switch {
	case strings.Contains(reason, "unmatched name"):
		return "unmatched_name"
	case strings.Contains(reason, "fuzzy match"):
		return "fuzzy_match"
	case strings.Contains(reason, "below auto-accept"):
		return "low_confidence"
	case strings.Contains(reason, ":"):
		return strings.SplitN(reason, ":", 2)[0]
	}
	return "other"
}

func marshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// consensusAudit pairs the reduced grid with per-output engine stats so a
// reviewer can see which engine and variant produced what.
type consensusAudit struct {
	Grid    *ensemble.Grid `json:"grid,omitempty"`
	Outputs []outputAudit  `json:"outputs"`
}

type outputAudit struct {
	Engine  string  `json:"engine"`
	Variant string  `json:"variant"`
	Tokens  int     `json:"tokens"`
	AvgConf float64 `json:"avg_confidence"`
	Error   string  `json:"error,omitempty"`
}

func marshalConsensus(grid *ensemble.Grid, outputs []ensemble.Output) string {
	audit := consensusAudit{Grid: grid}
	for _, o := range outputs {
		oa := outputAudit{Engine: o.Engine, Variant: o.Variant, Error: o.Err}
		if o.Result != nil {
			oa.Tokens = len(o.Result.Tokens)
			oa.AvgConf = o.Result.AvgConfidence()
		}
		audit.Outputs = append(audit.Outputs, oa)
	}
	return marshal(audit)
}
