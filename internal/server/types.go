// Package server exposes the HTTP API: submission intake and queries,
// review decisions, alias management, round results and a WebSocket stream
// of live submission updates.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/podium/internal/batch"
	"github.com/MeKo-Tech/podium/internal/roster"
	"github.com/MeKo-Tech/podium/internal/store"
)

// Config holds server configuration.
type Config struct {
	Host        string `mapstructure:"host" yaml:"host" json:"host"`
	Port        int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin  string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB int64  `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec  int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
}

// DefaultConfig returns server defaults.
func DefaultConfig() Config {
	return Config{
		Host:        "0.0.0.0",
		Port:        8080,
		CORSOrigin:  "*",
		MaxUploadMB: 20,
		TimeoutSec:  60,
	}
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	cfg         Config
	store       *store.Store
	roster      *roster.Cache
	coordinator *batch.Coordinator
	hub         *eventHub
	logger      *slog.Logger
}

// NewServer creates a server over the given dependencies. coordinator may
// be nil, in which case submission intake is disabled.
func NewServer(cfg Config, st *store.Store, rc *roster.Cache, coord *batch.Coordinator, log *slog.Logger) (*Server, error) {
	if st == nil || rc == nil {
		return nil, fmt.Errorf("server requires store and roster")
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = DefaultConfig().MaxUploadMB
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:         cfg,
		store:       st,
		roster:      rc,
		coordinator: coord,
		hub:         newEventHub(log),
		logger:      log,
	}, nil
}

// SetupRoutes registers all API routes on the mux.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("POST /api/submissions", s.corsMiddleware(s.submitHandler))
	mux.HandleFunc("GET /api/submissions", s.corsMiddleware(s.listSubmissionsHandler))
	mux.HandleFunc("GET /api/submissions/{id}", s.corsMiddleware(s.getSubmissionHandler))
	mux.HandleFunc("POST /api/submissions/{id}/approve", s.corsMiddleware(s.approveHandler))
	mux.HandleFunc("POST /api/submissions/{id}/reject", s.corsMiddleware(s.rejectHandler))
	mux.HandleFunc("POST /api/submissions/{id}/reprocess", s.corsMiddleware(s.reprocessHandler))
	mux.HandleFunc("GET /api/rounds/{id}/results", s.corsMiddleware(s.roundResultsHandler))
	mux.HandleFunc("GET /api/aliases", s.corsMiddleware(s.listAliasesHandler))
	mux.HandleFunc("POST /api/aliases", s.corsMiddleware(s.addAliasHandler))
	mux.HandleFunc("DELETE /api/aliases", s.corsMiddleware(s.removeAliasHandler))
	mux.HandleFunc("/ws/events", s.eventsHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// Start runs the HTTP server until it fails.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  time.Duration(s.cfg.TimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.TimeoutSec) * time.Second,
	}
	s.logger.Info("server listening", "addr", addr)
	return srv.ListenAndServe()
}

// SubmissionEvent publishes a submission update to WebSocket subscribers.
// Wire it to the pipeline's transition hook.
func (s *Server) SubmissionEvent(sub *store.Submission) {
	s.hub.broadcast(eventMessage{
		Type: "submission_update",
		Payload: SubmissionSummary{
			SubmissionID: sub.SubmissionID,
			SourceRef:    sub.SourceRef,
			RoundID:      sub.RoundID,
			LobbyID:      sub.LobbyID,
			Status:       string(sub.Status),
			Final:        sub.Status.Terminal(),
			Score:        sub.OverallScore,
			Reason:       sub.Reason,
		},
	})
}

// Response types for API endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

type SubmissionSummary struct {
	SubmissionID string `json:"submission_id"`
	SourceRef    string `json:"source_ref"`
	RoundID      string `json:"round_id"`
	LobbyID      string `json:"lobby_id"`
	Status       string `json:"status"`
	// Final reports whether the submission has left the automated
	// pipeline; needs_review still waits on a human decision.
	Final  bool    `json:"final"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason,omitempty"`
}

type PlacementView struct {
	PlayerID          string  `json:"player_id,omitempty"`
	PlayerName        string  `json:"player_name,omitempty"`
	RawName           string  `json:"raw_name"`
	Placement         int     `json:"placement"`
	Points            int     `json:"points"`
	MatchTier         string  `json:"match_tier"`
	MatchConfidence   float64 `json:"match_confidence"`
	ManuallyCorrected bool    `json:"manually_corrected,omitempty"`
}

type SubmissionDetail struct {
	SubmissionSummary
	SubmitterID string          `json:"submitter_id,omitempty"`
	Placements  []PlacementView `json:"placements,omitempty"`
	Audit       AuditTrail      `json:"audit"`
}

// AuditTrail carries the raw per-stage outputs for reviewers.
type AuditTrail struct {
	Classifier string `json:"classifier,omitempty"`
	Consensus  string `json:"consensus,omitempty"`
	Extraction string `json:"extraction,omitempty"`
	Match      string `json:"match,omitempty"`
	Validation string `json:"validation,omitempty"`
}

type SubmissionListResponse struct {
	Submissions []SubmissionSummary `json:"submissions"`
	Count       int                 `json:"count"`
}

type RoundResultsResponse struct {
	RoundID    string          `json:"round_id"`
	Placements []PlacementView `json:"placements"`
	Count      int             `json:"count"`
}

type AliasView struct {
	PlayerID  string `json:"player_id"`
	Alias     string `json:"alias"`
	Priority  int    `json:"priority"`
	Source    string `json:"source"`
	CreatedBy string `json:"created_by,omitempty"`
}

type AliasListResponse struct {
	Aliases []AliasView `json:"aliases"`
	Count   int         `json:"count"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
