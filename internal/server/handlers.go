package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/MeKo-Tech/podium/internal/batch"
	"github.com/MeKo-Tech/podium/internal/roster"
	"github.com/MeKo-Tech/podium/internal/store"
	"github.com/MeKo-Tech/podium/internal/version"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, status int) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// submitHandler accepts a screenshot upload and queues it for processing.
func (s *Server) submitHandler(w http.ResponseWriter, r *http.Request) {
	if s.coordinator == nil {
		s.writeError(w, "submission intake not available", http.StatusServiceUnavailable)
		return
	}

	maxBytes := s.cfg.MaxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		s.writeError(w, "failed to parse form data", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeError(w, "no image file provided", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()
	if header.Size > maxBytes {
		s.writeError(w, "file too large", http.StatusRequestEntityTooLarge)
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, "failed to read image data", http.StatusInternalServerError)
		return
	}

	req := batch.Request{
		SourceRef:   r.FormValue("source_ref"),
		RoundID:     r.FormValue("round_id"),
		LobbyID:     r.FormValue("lobby_id"),
		SubmitterID: r.FormValue("submitter_id"),
		Data:        data,
	}
	if req.SourceRef == "" || req.RoundID == "" {
		s.writeError(w, "source_ref and round_id are required", http.StatusBadRequest)
		return
	}
	if err := s.coordinator.Submit(req); err != nil {
		if errors.Is(err, batch.ErrQueueFull) {
			s.writeError(w, "submission queue full, retry later", http.StatusTooManyRequests)
			return
		}
		s.writeError(w, "failed to queue submission", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "source_ref": req.SourceRef})
}

func summary(sub *store.Submission) SubmissionSummary {
	return SubmissionSummary{
		SubmissionID: sub.SubmissionID,
		SourceRef:    sub.SourceRef,
		RoundID:      sub.RoundID,
		LobbyID:      sub.LobbyID,
		Status:       string(sub.Status),
		Final:        sub.Status.Terminal(),
		Score:        sub.OverallScore,
		Reason:       sub.Reason,
	}
}

func placementViews(placements []store.Placement) []PlacementView {
	views := make([]PlacementView, len(placements))
	for i, p := range placements {
		views[i] = PlacementView{
			PlayerID:          p.PlayerID,
			PlayerName:        p.PlayerName,
			RawName:           p.RawName,
			Placement:         p.Placement,
			Points:            p.Points,
			MatchTier:         p.MatchTier,
			MatchConfidence:   p.MatchConfidence,
			ManuallyCorrected: p.ManuallyCorrected,
		}
	}
	return views
}

// listSubmissionsHandler lists submissions with optional filters.
func (s *Server) listSubmissionsHandler(w http.ResponseWriter, r *http.Request) {
	q := store.Query{
		Status:  store.Status(r.URL.Query().Get("status")),
		RoundID: r.URL.Query().Get("round_id"),
		LobbyID: r.URL.Query().Get("lobby_id"),
	}
	if v := r.URL.Query().Get("min_score"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			q.MinScore = f
		}
	}
	if v := r.URL.Query().Get("max_score"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			q.MaxScore = f
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Limit = n
		}
	}

	subs, err := s.store.List(r.Context(), q)
	if err != nil {
		s.writeError(w, "failed to list submissions", http.StatusInternalServerError)
		return
	}
	resp := SubmissionListResponse{Submissions: make([]SubmissionSummary, len(subs)), Count: len(subs)}
	for i := range subs {
		resp.Submissions[i] = summary(&subs[i])
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// getSubmissionHandler returns one submission with its full audit trail.
func (s *Server) getSubmissionHandler(w http.ResponseWriter, r *http.Request) {
	sub, err := s.store.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, "submission not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.writeError(w, "failed to load submission", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, SubmissionDetail{
		SubmissionSummary: summary(sub),
		SubmitterID:       sub.SubmitterID,
		Placements:        placementViews(sub.Placements),
		Audit: AuditTrail{
			Classifier: sub.ClassifierJSON,
			Consensus:  sub.ConsensusJSON,
			Extraction: sub.ExtractionJSON,
			Match:      sub.MatchJSON,
			Validation: sub.ValidationJSON,
		},
	})
}

type reviewRequest struct {
	Reviewer   string          `json:"reviewer"`
	Reason     string          `json:"reason,omitempty"`
	Placements []PlacementView `json:"placements,omitempty"`
	// LearnAliases writes confirmed fuzzy matches back as aliases.
	LearnAliases bool `json:"learn_aliases"`
}

// approveHandler accepts a submission under review, optionally with
// corrected rows, and optionally learns aliases from confirmed matches.
func (s *Server) approveHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Reviewer == "" {
		s.writeError(w, "reviewer is required", http.StatusBadRequest)
		return
	}

	var (
		sub *store.Submission
		err error
	)
	if len(req.Placements) > 0 {
		rows := make([]store.Placement, len(req.Placements))
		for i, p := range req.Placements {
			rows[i] = store.Placement{
				PlayerID:        p.PlayerID,
				PlayerName:      p.PlayerName,
				RawName:         p.RawName,
				Placement:       p.Placement,
				Points:          p.Points,
				MatchTier:       p.MatchTier,
				MatchConfidence: p.MatchConfidence,
			}
		}
		sub, err = s.store.ApproveWithEdits(r.Context(), id, req.Reviewer, rows)
		reviewDecisions.WithLabelValues("approve_with_edits").Inc()
	} else {
		sub, err = s.store.Approve(r.Context(), id, req.Reviewer)
		reviewDecisions.WithLabelValues("approve").Inc()
	}
	if err != nil {
		s.reviewError(w, err)
		return
	}

	if req.LearnAliases {
		s.learnAliases(r, sub, req.Reviewer)
	}
	s.hub.broadcast(eventMessage{Type: "submission_update", Payload: summary(sub)})
	s.writeJSON(w, http.StatusOK, summary(sub))
}

// learnAliases persists every confirmed fuzzy match as a learned alias so
// the same OCR mangling resolves at tier 2 next time.
func (s *Server) learnAliases(r *http.Request, sub *store.Submission, reviewer string) {
	loaded, err := s.store.Get(r.Context(), sub.SubmissionID)
	if err != nil {
		s.logger.Warn("loading placements for alias learning failed", "error", err)
		return
	}
	for _, p := range loaded.Placements {
		if p.MatchTier != "fuzzy" || p.PlayerID == "" || p.RawName == "" {
			continue
		}
		if err := s.roster.LearnAlias(p.PlayerID, p.RawName, reviewer); err != nil {
			s.logger.Warn("learning alias failed",
				"player_id", p.PlayerID, "alias", p.RawName, "error", err)
			continue
		}
		if err := s.store.SaveAlias(r.Context(), &store.PlayerAlias{
			PlayerID:  p.PlayerID,
			Alias:     roster.Normalize(p.RawName),
			Priority:  100,
			Source:    roster.SourceLearned,
			CreatedBy: reviewer,
		}); err != nil {
			s.logger.Warn("persisting alias failed", "error", err)
			continue
		}
		aliasesLearned.Inc()
		s.logger.Info("alias learned",
			"player_id", p.PlayerID, "alias", p.RawName, "reviewer", reviewer)
	}
}

// rejectHandler discards a submission under review.
func (s *Server) rejectHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Reviewer == "" {
		s.writeError(w, "reviewer is required", http.StatusBadRequest)
		return
	}
	sub, err := s.store.Reject(r.Context(), id, req.Reviewer, req.Reason)
	if err != nil {
		s.reviewError(w, err)
		return
	}
	reviewDecisions.WithLabelValues("reject").Inc()
	s.hub.broadcast(eventMessage{Type: "submission_update", Payload: summary(sub)})
	s.writeJSON(w, http.StatusOK, summary(sub))
}

// reprocessHandler requeues an errored (or, if allowed, rejected) submission.
func (s *Server) reprocessHandler(w http.ResponseWriter, r *http.Request) {
	sub, err := s.store.Reprocess(r.Context(), r.PathValue("id"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.writeError(w, "submission not found", http.StatusNotFound)
		case errors.Is(err, store.ErrReprocessDisabled):
			s.writeError(w, "reprocessing rejected submissions is disabled", http.StatusConflict)
		case errors.Is(err, store.ErrInvalidTransition):
			s.writeError(w, err.Error(), http.StatusConflict)
		default:
			s.writeError(w, "failed to requeue submission", http.StatusInternalServerError)
		}
		return
	}
	s.writeJSON(w, http.StatusOK, summary(sub))
}

func (s *Server) reviewError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, "submission not found", http.StatusNotFound)
	case errors.Is(err, store.ErrInvalidTransition):
		s.writeError(w, err.Error(), http.StatusConflict)
	default:
		s.writeError(w, "review operation failed", http.StatusInternalServerError)
	}
}

// roundResultsHandler returns the validated placements for a round.
func (s *Server) roundResultsHandler(w http.ResponseWriter, r *http.Request) {
	roundID := r.PathValue("id")
	placements, err := s.store.ValidatedPlacements(r.Context(), roundID)
	if err != nil {
		s.writeError(w, "failed to load round results", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, RoundResultsResponse{
		RoundID:    roundID,
		Placements: placementViews(placements),
		Count:      len(placements),
	})
}

// listAliasesHandler returns the live alias table.
func (s *Server) listAliasesHandler(w http.ResponseWriter, r *http.Request) {
	aliases := s.roster.Aliases()
	resp := AliasListResponse{Aliases: make([]AliasView, len(aliases)), Count: len(aliases)}
	for i, a := range aliases {
		resp.Aliases[i] = AliasView{
			PlayerID:  a.PlayerID,
			Alias:     a.Alias,
			Priority:  a.Priority,
			Source:    a.Source,
			CreatedBy: a.CreatedBy,
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type aliasRequest struct {
	PlayerID  string `json:"player_id"`
	Alias     string `json:"alias"`
	CreatedBy string `json:"created_by"`
}

// addAliasHandler registers a manual alias.
func (s *Server) addAliasHandler(w http.ResponseWriter, r *http.Request) {
	var req aliasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PlayerID == "" || req.Alias == "" {
		s.writeError(w, "player_id and alias are required", http.StatusBadRequest)
		return
	}
	if err := s.roster.LearnAlias(req.PlayerID, req.Alias, req.CreatedBy); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.SaveAlias(r.Context(), &store.PlayerAlias{
		PlayerID:  req.PlayerID,
		Alias:     roster.Normalize(req.Alias),
		Priority:  100,
		Source:    roster.SourceLearned,
		CreatedBy: req.CreatedBy,
	}); err != nil {
		s.writeError(w, "failed to persist alias", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusCreated, AliasView{
		PlayerID:  req.PlayerID,
		Alias:     roster.Normalize(req.Alias),
		Priority:  100,
		Source:    roster.SourceLearned,
		CreatedBy: req.CreatedBy,
	})
}

// removeAliasHandler deletes an alias from the cache and the database.
func (s *Server) removeAliasHandler(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("player_id")
	alias := r.URL.Query().Get("alias")
	if playerID == "" || alias == "" {
		s.writeError(w, "player_id and alias are required", http.StatusBadRequest)
		return
	}
	removed := s.roster.RemoveAlias(playerID, alias)
	if err := s.store.DeleteAlias(r.Context(), playerID, roster.Normalize(alias)); err != nil {
		s.writeError(w, "failed to delete alias", http.StatusInternalServerError)
		return
	}
	if !removed {
		s.writeError(w, "alias not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
