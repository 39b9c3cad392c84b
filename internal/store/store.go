// Package store persists submissions, placements, aliases and batches in
// SQLite and enforces the submission state machine. All status changes go
// through Transition so an illegal move is a programming error surfaced as
// ErrInvalidTransition, never silent data corruption.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrInvalidTransition is returned when a status change is not allowed
	// by the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotFound is returned when a submission does not exist.
	ErrNotFound = errors.New("submission not found")
	// ErrDuplicate is returned by CreateSubmission when the same image
	// content was already submitted.
	ErrDuplicate = errors.New("duplicate submission content")
	// ErrReprocessDisabled is returned by Reprocess for rejected
	// submissions when reprocessing rejected content is switched off.
	ErrReprocessDisabled = errors.New("reprocessing rejected submissions is disabled")
)

// legalTransitions defines every allowed state machine edge. validated may
// only move back to needs_review, and only the cross-lobby finalizer takes
// that edge.
var legalTransitions = map[Status][]Status{
	StatusPending:     {StatusProcessing},
	StatusProcessing:  {StatusValidated, StatusNeedsReview, StatusRejected, StatusError, StatusDuplicate},
	StatusNeedsReview: {StatusValidated, StatusRejected},
	StatusValidated:   {StatusNeedsReview},
	StatusError:       {StatusPending},
	StatusRejected:    {StatusPending},
}

func transitionAllowed(from, to Status) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Config holds store tunables.
type Config struct {
	// Path is the SQLite database file, or ":memory:" for tests.
	Path string `mapstructure:"path" yaml:"path" json:"path"`
	// ReprocessRejected allows a rejected submission to re-enter the
	// pipeline as a fresh attempt. Off by default so a human rejection
	// stays final.
	ReprocessRejected bool `mapstructure:"reprocess_rejected" yaml:"reprocess_rejected" json:"reprocess_rejected"`
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Path:              "podium.db",
		ReprocessRejected: false,
	}
}

// Store wraps the database and serializes writes per submission.
type Store struct {
	db     *gorm.DB
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// createMu serializes the duplicate check with its insert.
	createMu sync.Mutex
}

// Open opens (or creates) the database and migrates the schema.
func Open(cfg Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", cfg.Path, err)
	}
	if err := db.AutoMigrate(&Submission{}, &Placement{}, &PlayerAlias{}, &Batch{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &Store{
		db:     db,
		cfg:    cfg,
		logger: log,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// lockFor returns the per-submission write lock, creating it on first use.
func (s *Store) lockFor(submissionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[submissionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[submissionID] = l
	}
	return l
}

// CreateSubmission inserts a new pending submission. A replayed source ref
// resolves to the already-stored record, and content already submitted in a
// live state stores the new record as duplicate; both return ErrDuplicate
// alongside the record so the caller can report it without processing.
// Hashes whose earlier attempt ended in error may always be resubmitted;
// human-rejected hashes may be resubmitted when ReprocessRejected is set.
func (s *Store) CreateSubmission(ctx context.Context, sub *Submission) (*Submission, error) {
	if sub.SubmissionID == "" {
		return nil, errors.New("submission id required")
	}
	sub.Status = StatusPending

	s.createMu.Lock()
	defer s.createMu.Unlock()

	// At-least-once delivery replays the same source ref. Hand back the
	// existing record instead of tripping its unique index.
	if sub.SourceRef != "" {
		var existing Submission
		err := s.db.WithContext(ctx).Where("source_ref = ?", sub.SourceRef).First(&existing).Error
		if err == nil {
			s.logger.Info("submission replayed",
				"submission_id", existing.SubmissionID, "source_ref", sub.SourceRef)
			return &existing, ErrDuplicate
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("checking source ref: %w", err)
		}
	}

	if sub.ContentHash != "" {
		var dup int64
		if err := s.db.WithContext(ctx).Model(&Submission{}).
			Where("content_hash = ? AND status IN ?", sub.ContentHash, s.blockingStatuses()).
			Count(&dup).Error; err != nil {
			return nil, fmt.Errorf("checking duplicate content: %w", err)
		}
		if dup > 0 {
			sub.Status = StatusDuplicate
			sub.Reason = "image content already submitted"
		}
	}

	if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
		return nil, fmt.Errorf("creating submission: %w", err)
	}
	if sub.Status == StatusDuplicate {
		s.logger.Info("duplicate submission",
			"submission_id", sub.SubmissionID, "content_hash", sub.ContentHash)
		return sub, ErrDuplicate
	}
	return sub, nil
}

// blockingStatuses are the states in which a content hash blocks
// re-ingestion. Errored attempts may always retry; human-rejected ones
// only when ReprocessRejected is set.
func (s *Store) blockingStatuses() []Status {
	blocking := []Status{StatusPending, StatusProcessing, StatusValidated, StatusNeedsReview}
	if !s.cfg.ReprocessRejected {
		blocking = append(blocking, StatusRejected)
	}
	return blocking
}

// ClaimContent records the hash of a submission's image once it has been
// downloaded, applying the same duplicate short-circuit as CreateSubmission.
// On a duplicate the submission is moved to that state and ErrDuplicate
// returned.
func (s *Store) ClaimContent(ctx context.Context, submissionID, hash string) error {
	s.createMu.Lock()
	defer s.createMu.Unlock()

	var dup int64
	if err := s.db.WithContext(ctx).Model(&Submission{}).
		Where("content_hash = ? AND status IN ? AND submission_id <> ?",
			hash, s.blockingStatuses(), submissionID).
		Count(&dup).Error; err != nil {
		return fmt.Errorf("checking duplicate content: %w", err)
	}

	updates := map[string]any{"content_hash": hash}
	if dup > 0 {
		updates["status"] = StatusDuplicate
		updates["reason"] = "image content already submitted"
	}
	res := s.db.WithContext(ctx).Model(&Submission{}).
		Where("submission_id = ?", submissionID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("claiming content: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	if dup > 0 {
		s.logger.Info("duplicate submission",
			"submission_id", submissionID, "content_hash", hash)
		return ErrDuplicate
	}
	return nil
}

// Get returns a submission with its placements.
func (s *Store) Get(ctx context.Context, submissionID string) (*Submission, error) {
	var sub Submission
	err := s.db.WithContext(ctx).Preload("Placements").
		Where("submission_id = ?", submissionID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading submission %s: %w", submissionID, err)
	}
	return &sub, nil
}

// Transition moves a submission to a new status, recording the reason.
// Placements, when given, replace the submission's existing rows in the
// same transaction.
func (s *Store) Transition(ctx context.Context, submissionID string, to Status, reason string, placements []Placement) (*Submission, error) {
	lock := s.lockFor(submissionID)
	lock.Lock()
	defer lock.Unlock()

	var sub Submission
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("submission_id = ?", submissionID).First(&sub).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if !transitionAllowed(sub.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sub.Status, to)
		}
		from := sub.Status
		sub.Status = to
		sub.Reason = reason
		if err := tx.Save(&sub).Error; err != nil {
			return err
		}
		if placements != nil {
			if err := tx.Where("submission_row_id = ?", sub.ID).Delete(&Placement{}).Error; err != nil {
				return err
			}
			for i := range placements {
				placements[i].SubmissionRowID = sub.ID
			}
			if len(placements) > 0 {
				if err := tx.Create(&placements).Error; err != nil {
					return err
				}
			}
		}
		s.logger.Info("submission transition",
			"submission_id", submissionID, "from", from, "to", to, "reason", reason)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// SaveStageOutputs persists the JSON audit trail of each pipeline stage.
// Empty fields are left untouched so stages can report incrementally.
func (s *Store) SaveStageOutputs(ctx context.Context, submissionID string, out StageOutputs) error {
	lock := s.lockFor(submissionID)
	lock.Lock()
	defer lock.Unlock()

	updates := map[string]any{}
	if out.Classifier != "" {
		updates["classifier_json"] = out.Classifier
	}
	if out.Consensus != "" {
		updates["consensus_json"] = out.Consensus
	}
	if out.Extraction != "" {
		updates["extraction_json"] = out.Extraction
	}
	if out.Match != "" {
		updates["match_json"] = out.Match
	}
	if out.Validation != "" {
		updates["validation_json"] = out.Validation
	}
	if out.OverallScore != nil {
		updates["overall_score"] = *out.OverallScore
	}
	if len(updates) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&Submission{}).
		Where("submission_id = ?", submissionID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("saving stage outputs: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// StageOutputs carries the serialized per-stage results for audit storage.
type StageOutputs struct {
	Classifier   string
	Consensus    string
	Extraction   string
	Match        string
	Validation   string
	OverallScore *float64
}

// Approve accepts a needs_review submission unchanged.
func (s *Store) Approve(ctx context.Context, submissionID, reviewer string) (*Submission, error) {
	return s.review(ctx, submissionID, reviewer, StatusValidated, "approved by reviewer", nil)
}

// ApproveWithEdits accepts a needs_review submission with corrected rows.
// The supplied placements replace the extracted ones and are marked as
// manually corrected.
func (s *Store) ApproveWithEdits(ctx context.Context, submissionID, reviewer string, placements []Placement) (*Submission, error) {
	for i := range placements {
		placements[i].ManuallyCorrected = true
	}
	return s.review(ctx, submissionID, reviewer, StatusValidated, "approved with corrections", placements)
}

// Reject discards a needs_review submission.
func (s *Store) Reject(ctx context.Context, submissionID, reviewer, reason string) (*Submission, error) {
	if reason == "" {
		reason = "rejected by reviewer"
	}
	return s.review(ctx, submissionID, reviewer, StatusRejected, reason, nil)
}

func (s *Store) review(ctx context.Context, submissionID, reviewer string, to Status, reason string, placements []Placement) (*Submission, error) {
	sub, err := s.Transition(ctx, submissionID, to, reason, placements)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).Model(&Submission{}).
		Where("submission_id = ?", submissionID).
		Updates(map[string]any{"reviewed_by": reviewer, "reviewed_at": now}).Error; err != nil {
		return nil, fmt.Errorf("recording reviewer: %w", err)
	}
	sub.ReviewedBy = reviewer
	sub.ReviewedAt = &now
	return sub, nil
}

// Reprocess re-queues an error submission, or a rejected one when the
// reprocess policy allows it.
func (s *Store) Reprocess(ctx context.Context, submissionID string) (*Submission, error) {
	sub, err := s.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.Status == StatusRejected && !s.cfg.ReprocessRejected {
		return nil, ErrReprocessDisabled
	}
	return s.Transition(ctx, submissionID, StatusPending, "requeued for reprocessing", nil)
}

// Query filters submission listings. Zero values are ignored.
type Query struct {
	Status   Status
	RoundID  string
	LobbyID  string
	MinScore float64
	MaxScore float64
	Limit    int
}

// List returns submissions matching the query, newest first.
func (s *Store) List(ctx context.Context, q Query) ([]Submission, error) {
	tx := s.db.WithContext(ctx).Model(&Submission{}).Order("created_at DESC")
	if q.Status != "" {
		tx = tx.Where("status = ?", q.Status)
	}
	if q.RoundID != "" {
		tx = tx.Where("round_id = ?", q.RoundID)
	}
	if q.LobbyID != "" {
		tx = tx.Where("lobby_id = ?", q.LobbyID)
	}
	if q.MinScore > 0 {
		tx = tx.Where("overall_score >= ?", q.MinScore)
	}
	if q.MaxScore > 0 {
		tx = tx.Where("overall_score <= ?", q.MaxScore)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var subs []Submission
	if err := tx.Preload("Placements").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("listing submissions: %w", err)
	}
	return subs, nil
}

// ValidatedPlacements returns the authoritative per-player results for a
// round: placements of validated submissions only.
func (s *Store) ValidatedPlacements(ctx context.Context, roundID string) ([]Placement, error) {
	var placements []Placement
	err := s.db.WithContext(ctx).
		Joins("JOIN submissions ON submissions.id = placements.submission_row_id").
		Where("submissions.round_id = ? AND submissions.status = ?", roundID, StatusValidated).
		Order("submissions.lobby_id, placements.placement").
		Find(&placements).Error
	if err != nil {
		return nil, fmt.Errorf("loading round results: %w", err)
	}
	return placements, nil
}

// SaveAlias persists a learned alias. Saving the same pair twice is a
// no-op.
func (s *Store) SaveAlias(ctx context.Context, alias *PlayerAlias) error {
	err := s.db.WithContext(ctx).Create(alias).Error
	if err != nil && isUniqueViolation(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("saving alias: %w", err)
	}
	return nil
}

// DeleteAlias removes a persisted alias pair.
func (s *Store) DeleteAlias(ctx context.Context, playerID, alias string) error {
	res := s.db.WithContext(ctx).
		Where("player_id = ? AND alias = ?", playerID, alias).Delete(&PlayerAlias{})
	if res.Error != nil {
		return fmt.Errorf("deleting alias: %w", res.Error)
	}
	return nil
}

// Aliases returns every persisted alias.
func (s *Store) Aliases(ctx context.Context) ([]PlayerAlias, error) {
	var aliases []PlayerAlias
	// Lower priority ranks first, matching the roster cache's ordering.
	if err := s.db.WithContext(ctx).Order("player_id, priority").Find(&aliases).Error; err != nil {
		return nil, fmt.Errorf("loading aliases: %w", err)
	}
	return aliases, nil
}

// CreateBatch records a new dispatch batch.
func (s *Store) CreateBatch(ctx context.Context, batch *Batch) error {
	batch.Status = BatchOpen
	if err := s.db.WithContext(ctx).Create(batch).Error; err != nil {
		return fmt.Errorf("creating batch: %w", err)
	}
	return nil
}

// UpdateBatchStatus advances a batch through open -> dispatched -> finalized.
func (s *Store) UpdateBatchStatus(ctx context.Context, batchID string, status BatchStatus) error {
	res := s.db.WithContext(ctx).Model(&Batch{}).
		Where("batch_id = ?", batchID).Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("updating batch: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FinalizeBatch marks a batch finalized and records the mean overall
// confidence of its round's validated submissions.
func (s *Store) FinalizeBatch(ctx context.Context, batchID string, avgScore float64) error {
	res := s.db.WithContext(ctx).Model(&Batch{}).
		Where("batch_id = ?", batchID).
		Updates(map[string]any{"status": BatchFinalized, "avg_score": avgScore})
	if res.Error != nil {
		return fmt.Errorf("finalizing batch: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// The sqlite driver does not translate constraint errors.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
