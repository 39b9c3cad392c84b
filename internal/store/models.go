package store

import "time"

// Status is the lifecycle state of a submission.
type Status string

const (
	StatusPending     Status = "pending"
	StatusProcessing  Status = "processing"
	StatusValidated   Status = "validated"
	StatusNeedsReview Status = "needs_review"
	StatusRejected    Status = "rejected"
	StatusError       Status = "error"
	StatusDuplicate   Status = "duplicate"
)

// Terminal reports whether a submission in this status has left the
// automated pipeline. needs_review is terminal for automation but still
// waits on a human decision.
func (s Status) Terminal() bool {
	switch s {
	case StatusValidated, StatusRejected, StatusDuplicate:
		return true
	}
	return false
}

// Submission is the persistent record of one screenshot moving through the
// pipeline. Every intermediate stage output is retained as JSON so a
// reviewer can audit exactly what the automation saw.
type Submission struct {
	ID           uint   `gorm:"primaryKey"`
	SubmissionID string `gorm:"uniqueIndex;not null;size:36"`
	SourceRef    string `gorm:"uniqueIndex;not null"`
	ContentHash  string `gorm:"index;not null;size:64"`
	RoundID      string `gorm:"index:idx_submissions_round;index:idx_submissions_round_lobby,priority:1"`
	LobbyID      string `gorm:"index:idx_submissions_round_lobby,priority:2"`
	SubmitterID  string `gorm:"index"`
	Status       Status `gorm:"index;not null"`

	ClassifierJSON string `gorm:"type:text"`
	ConsensusJSON  string `gorm:"type:text"`
	ExtractionJSON string `gorm:"type:text"`
	MatchJSON      string `gorm:"type:text"`
	ValidationJSON string `gorm:"type:text"`

	OverallScore float64 `gorm:"index"`
	Reason       string  `gorm:"type:text"`
	ReviewedBy   string
	ReviewedAt   *time.Time
	CreatedAt    time.Time `gorm:"index"`
	UpdatedAt    time.Time

	Placements []Placement `gorm:"foreignKey:SubmissionRowID;constraint:OnDelete:CASCADE"`
}

func (Submission) TableName() string { return "submissions" }

// Placement is one per-player result row extracted from a submission. Rows
// are authoritative only while their submission is validated.
type Placement struct {
	ID              uint   `gorm:"primaryKey"`
	SubmissionRowID uint   `gorm:"index;not null"`
	PlayerID        string `gorm:"index"`
	PlayerName      string
	RawName         string
	Placement       int
	Points          int
	MatchTier       string
	MatchConfidence float64
	// ManuallyCorrected marks rows edited by a reviewer during approval.
	ManuallyCorrected bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (Placement) TableName() string { return "placements" }

// PlayerAlias persists a learned alias so future rounds resolve the same
// OCR mangling without human help.
type PlayerAlias struct {
	ID        uint   `gorm:"primaryKey"`
	PlayerID  string `gorm:"uniqueIndex:idx_aliases_player_alias,priority:1;not null"`
	Alias     string `gorm:"uniqueIndex:idx_aliases_player_alias,priority:2;not null"`
	Priority  int
	Source    string
	CreatedBy string
	CreatedAt time.Time
}

func (PlayerAlias) TableName() string { return "player_aliases" }

// BatchStatus is the lifecycle state of a dispatch batch.
type BatchStatus string

const (
	BatchOpen       BatchStatus = "open"
	BatchDispatched BatchStatus = "dispatched"
	BatchFinalized  BatchStatus = "finalized"
)

// Batch records one time-windowed dispatch group for audit.
type Batch struct {
	ID              uint        `gorm:"primaryKey"`
	BatchID         string      `gorm:"uniqueIndex;not null;size:36"`
	RoundID         string      `gorm:"index"`
	Status          BatchStatus `gorm:"index;not null"`
	WindowStart     time.Time
	WindowEnd       time.Time
	SubmissionCount int
	ExpectedLobbies int
	// AvgScore is the mean overall confidence of the batch's validated
	// submissions, set when the batch is finalized.
	AvgScore  float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Batch) TableName() string { return "batches" }
