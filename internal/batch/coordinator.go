// Package batch groups incoming submissions into time windows, drives them
// through the pipeline with a bounded worker pool, and finalizes each round
// with cross-lobby validation. Windowing exists because cross-lobby checks
// are only meaningful once most of a round's screenshots have arrived.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/podium/internal/imageutil"
	"github.com/MeKo-Tech/podium/internal/pipeline"
	"github.com/MeKo-Tech/podium/internal/store"
	"github.com/MeKo-Tech/podium/internal/validate"
)

// ErrQueueFull is returned by Submit when the intake queue cannot accept
// more work.
var ErrQueueFull = errors.New("submission queue full")

// Processor runs the per-image pipeline. Satisfied by *pipeline.Pipeline.
type Processor interface {
	Process(ctx context.Context, submissionID string, data []byte) (*pipeline.Outcome, error)
}

// Config holds coordinator tunables.
type Config struct {
	// Window is how long a batch stays open collecting submissions after
	// its first arrival.
	Window time.Duration `mapstructure:"window" yaml:"window" json:"window"`
	// Workers bounds concurrent pipeline runs per batch.
	Workers int `mapstructure:"workers" yaml:"workers" json:"workers"`
	// QueueSize bounds the intake queue.
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size" json:"queue_size"`
	// ExpectedLobbies is the number of lobbies a finalized round must have.
	// Zero disables the count check.
	ExpectedLobbies int `mapstructure:"expected_lobbies" yaml:"expected_lobbies" json:"expected_lobbies"`
}

// DefaultConfig returns coordinator defaults.
func DefaultConfig() Config {
	return Config{
		Window:          30 * time.Second,
		Workers:         4,
		QueueSize:       256,
		ExpectedLobbies: 0,
	}
}

// Request is one incoming screenshot submission.
type Request struct {
	SourceRef   string `json:"source_ref"`
	RoundID     string `json:"round_id"`
	LobbyID     string `json:"lobby_id"`
	SubmitterID string `json:"submitter_id"`
	ImageURL    string `json:"image_url"`
	// Data carries the image bytes directly when the caller already has
	// them; ImageURL is ignored then.
	Data []byte `json:"-"`
}

// Coordinator batches requests per round and dispatches them.
type Coordinator struct {
	cfg        Config
	processor  Processor
	store      *store.Store
	downloader Downloader
	logger     *slog.Logger

	intake chan Request

	mu      sync.Mutex
	windows map[string]*window // keyed by round ID
}

type window struct {
	batchID  string
	roundID  string
	opened   time.Time
	requests []Request
	timer    *time.Timer
}

// New creates a coordinator.
func New(cfg Config, proc Processor, st *store.Store, dl Downloader, log *slog.Logger) (*Coordinator, error) {
	if proc == nil || st == nil {
		return nil, errors.New("coordinator requires processor and store")
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if dl == nil {
		dl = NewHTTPDownloader()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		cfg:        cfg,
		processor:  proc,
		store:      st,
		downloader: dl,
		logger:     log,
		intake:     make(chan Request, cfg.QueueSize),
		windows:    make(map[string]*window),
	}, nil
}

// Submit queues a request without blocking.
func (c *Coordinator) Submit(req Request) error {
	select {
	case c.intake <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run consumes the intake queue until the context is cancelled. Open
// windows are flushed on shutdown so queued submissions are not lost.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.flushAll(context.WithoutCancel(ctx))
			return
		case req := <-c.intake:
			c.add(ctx, req)
		}
	}
}

// add appends a request to its round's window, opening one if needed.
func (c *Coordinator) add(ctx context.Context, req Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.windows[req.RoundID]
	if !ok {
		w = &window{
			batchID: uuid.NewString(),
			roundID: req.RoundID,
			opened:  time.Now(),
		}
		c.windows[req.RoundID] = w
		w.timer = time.AfterFunc(c.cfg.Window, func() {
			c.closeWindow(ctx, req.RoundID)
		})
		c.logger.Info("batch window opened", "batch_id", w.batchID, "round_id", w.roundID)
	}
	w.requests = append(w.requests, req)
}

// closeWindow detaches the window and dispatches it.
func (c *Coordinator) closeWindow(ctx context.Context, roundID string) {
	c.mu.Lock()
	w, ok := c.windows[roundID]
	if ok {
		delete(c.windows, roundID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	c.dispatch(ctx, w)
}

func (c *Coordinator) flushAll(ctx context.Context) {
	c.mu.Lock()
	pending := make([]*window, 0, len(c.windows))
	for id, w := range c.windows {
		w.timer.Stop()
		pending = append(pending, w)
		delete(c.windows, id)
	}
	c.mu.Unlock()
	for _, w := range pending {
		c.dispatch(ctx, w)
	}
}

// dispatch runs every request in the window through the pipeline with a
// bounded worker pool, then finalizes the round.
func (c *Coordinator) dispatch(ctx context.Context, w *window) {
	log := c.logger.With("batch_id", w.batchID, "round_id", w.roundID)
	log.Info("dispatching batch", "submissions", len(w.requests))

	if err := c.store.CreateBatch(ctx, &store.Batch{
		BatchID:         w.batchID,
		RoundID:         w.roundID,
		WindowStart:     w.opened,
		WindowEnd:       time.Now(),
		SubmissionCount: len(w.requests),
		ExpectedLobbies: c.cfg.ExpectedLobbies,
	}); err != nil {
		log.Error("recording batch failed", "error", err)
	}
	if err := c.store.UpdateBatchStatus(ctx, w.batchID, store.BatchDispatched); err != nil {
		log.Error("updating batch status failed", "error", err)
	}

	sem := make(chan struct{}, c.cfg.Workers)
	var wg sync.WaitGroup
	for _, req := range w.requests {
		wg.Add(1)
		sem <- struct{}{}
		go func(req Request) {
			defer wg.Done()
			defer func() { <-sem }()
			c.processOne(ctx, req)
		}(req)
	}
	wg.Wait()

	if err := c.FinalizeRound(ctx, w.roundID); err != nil {
		log.Error("round finalization failed", "error", err)
	}
	if err := c.store.FinalizeBatch(ctx, w.batchID, c.roundScore(ctx, w.roundID)); err != nil {
		log.Error("finalizing batch failed", "error", err)
	}
	log.Info("batch finalized")
}

// roundScore returns the mean overall confidence of the round's validated
// submissions, zero when none survived.
func (c *Coordinator) roundScore(ctx context.Context, roundID string) float64 {
	subs, err := c.store.List(ctx, store.Query{RoundID: roundID, Status: store.StatusValidated})
	if err != nil || len(subs) == 0 {
		return 0
	}
	var sum float64
	for _, sub := range subs {
		sum += sub.OverallScore
	}
	return sum / float64(len(subs))
}

// processOne registers, downloads and processes a single request. The
// submission is recorded before the download so a failed fetch still leaves
// an errored record behind instead of vanishing.
func (c *Coordinator) processOne(ctx context.Context, req Request) {
	log := c.logger.With("source_ref", req.SourceRef, "round_id", req.RoundID)

	rec := &store.Submission{
		SubmissionID: uuid.NewString(),
		SourceRef:    req.SourceRef,
		RoundID:      req.RoundID,
		LobbyID:      req.LobbyID,
		SubmitterID:  req.SubmitterID,
	}
	data := req.Data
	if data != nil {
		rec.ContentHash = imageutil.ContentHash(data)
	}

	sub, err := c.store.CreateSubmission(ctx, rec)
	if errors.Is(err, store.ErrDuplicate) {
		log.Info("duplicate submission skipped", "submission_id", sub.SubmissionID)
		return
	}
	if err != nil {
		log.Error("registering submission failed", "error", err)
		return
	}

	if data == nil {
		data, err = c.downloader.Download(ctx, req.ImageURL)
		if err != nil {
			log.Error("image download failed",
				"submission_id", sub.SubmissionID, "url", req.ImageURL, "error", err)
			c.recordFailure(ctx, sub.SubmissionID, fmt.Sprintf("image download failed: %v", err))
			return
		}
		if err := c.store.ClaimContent(ctx, sub.SubmissionID, imageutil.ContentHash(data)); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				log.Info("duplicate submission skipped", "submission_id", sub.SubmissionID)
			} else {
				log.Error("recording content hash failed", "submission_id", sub.SubmissionID, "error", err)
			}
			return
		}
	}

	if _, err := c.processor.Process(ctx, sub.SubmissionID, data); err != nil {
		log.Error("pipeline run failed", "submission_id", sub.SubmissionID, "error", err)
	}
}

// recordFailure moves a pending submission to the error state so it can be
// retried through the reprocess path.
func (c *Coordinator) recordFailure(ctx context.Context, submissionID, reason string) {
	if _, err := c.store.Transition(ctx, submissionID, store.StatusProcessing, "", nil); err != nil {
		c.logger.Error("recording failure", "submission_id", submissionID, "error", err)
		return
	}
	if _, err := c.store.Transition(ctx, submissionID, store.StatusError, reason, nil); err != nil {
		c.logger.Error("recording failure", "submission_id", submissionID, "error", err)
	}
}

// FinalizeRound applies cross-lobby validation to a round's validated
// submissions and demotes every implicated one back to review.
func (c *Coordinator) FinalizeRound(ctx context.Context, roundID string) error {
	subs, err := c.store.List(ctx, store.Query{RoundID: roundID, Status: store.StatusValidated})
	if err != nil {
		return fmt.Errorf("loading validated submissions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	byLobby := make(map[string][]validate.Entry)
	subsByLobby := make(map[string][]string)
	for _, sub := range subs {
		for _, p := range sub.Placements {
			byLobby[sub.LobbyID] = append(byLobby[sub.LobbyID], validate.Entry{
				PlayerID:  p.PlayerID,
				RawName:   p.RawName,
				Placement: p.Placement,
			})
		}
		subsByLobby[sub.LobbyID] = append(subsByLobby[sub.LobbyID], sub.SubmissionID)
	}

	lobbies := make([]validate.LobbyEntries, 0, len(byLobby))
	for id, entries := range byLobby {
		lobbies = append(lobbies, validate.LobbyEntries{Lobby: id, Entries: entries})
	}

	res, perLobby := validate.CrossLobby(lobbies, c.cfg.ExpectedLobbies)
	if res.Valid {
		return nil
	}
	for _, v := range res.Violations {
		if v.Rule == validate.RuleLobbyCount {
			c.logger.Warn("round lobby count mismatch", "round_id", roundID, "detail", v.Detail)
		}
	}

	for lobbyID, violations := range perLobby {
		reason := "cross-lobby check failed"
		if len(violations) > 0 {
			reason = violations[0].String()
		}
		for _, subID := range subsByLobby[lobbyID] {
			if _, err := c.store.Transition(ctx, subID, store.StatusNeedsReview, reason, nil); err != nil {
				c.logger.Error("demoting submission failed",
					"submission_id", subID, "error", err)
				continue
			}
			c.logger.Warn("submission demoted to review",
				"submission_id", subID, "lobby_id", lobbyID, "reason", reason)
		}
	}
	return nil
}
