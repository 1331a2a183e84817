package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/linkforge/harvester/internal/harvest"
)

type createCombinationRequest struct {
	LocationID        uuid.UUID `json:"location_id"`
	CategoryID        uuid.UUID `json:"category_id"`
	DorkID            uuid.UUID `json:"dork_id"`
	CredentialID      uuid.UUID `json:"credential_id"`
	MaxAllowedResults int       `json:"max_allowed_results"`
}

type statusResponse struct {
	Combination  harvest.Combination `json:"combination"`
	Progress     int                 `json:"progress"`
	CanFetchMore bool                `json:"can_fetch_more"`
}

func (s *Server) createCombination(w http.ResponseWriter, r *http.Request) {
	var req createCombinationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.LocationID == uuid.Nil || req.CategoryID == uuid.Nil || req.DorkID == uuid.Nil {
		s.writeError(w, http.StatusBadRequest, "location_id, category_id, and dork_id are required")
		return
	}
	if req.MaxAllowedResults == 0 {
		req.MaxAllowedResults = s.cfg.Harvest.DefaultMaxResults
	}

	c, created, err := s.lifecycle.CreateOrGet(r.Context(), harvest.CreateParams{
		Triple: harvest.Triple{
			LocationID: req.LocationID,
			CategoryID: req.CategoryID,
			DorkID:     req.DorkID,
		},
		CredentialID:      req.CredentialID,
		MaxAllowedResults: req.MaxAllowedResults,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	if created {
		s.submitRun(r, c.ID)
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, map[string]any{"combination": c, "created": created})
}

func (s *Server) executePage(w http.ResponseWriter, r *http.Request) {
	id, ok := s.combinationID(w, r)
	if !ok {
		return
	}
	if _, err := s.combos.GetCombination(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	// Provider-coded failures ride in the result body rather than as HTTP
	// errors so callers can distinguish rate limits from quota exhaustion.
	// A held execution lock is the one exception: that is a conflict.
	res := s.executor.ExecutePage(r.Context(), id)
	if res.ErrorCode == harvest.CodeAlreadyInProgress {
		s.writeJSON(w, http.StatusConflict, res)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) pauseCombination(w http.ResponseWriter, r *http.Request) {
	id, ok := s.combinationID(w, r)
	if !ok {
		return
	}
	c, err := s.lifecycle.Pause(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"combination": c})
}

func (s *Server) resumeCombination(w http.ResponseWriter, r *http.Request) {
	id, ok := s.combinationID(w, r)
	if !ok {
		return
	}
	c, err := s.lifecycle.Resume(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.submitRun(r, c.ID)
	s.writeJSON(w, http.StatusOK, map[string]any{"combination": c})
}

func (s *Server) resetCombination(w http.ResponseWriter, r *http.Request) {
	id, ok := s.combinationID(w, r)
	if !ok {
		return
	}
	c, err := s.lifecycle.Reset(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"combination": c})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.combinationID(w, r)
	if !ok {
		return
	}
	c, err := s.combos.GetCombination(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	progress := 0
	if c.MaxAllowedResults > 0 {
		progress = int(math.Round(float64(c.TotalFetched) / float64(c.MaxAllowedResults) * 100))
		if progress > 100 {
			progress = 100
		}
	}
	canFetchMore := !c.Status.Terminal() && c.TotalFetched < c.MaxAllowedResults

	s.writeJSON(w, http.StatusOK, statusResponse{
		Combination:  c,
		Progress:     progress,
		CanFetchMore: canFetchMore,
	})
}

func (s *Server) listLinks(w http.ResponseWriter, r *http.Request) {
	id, ok := s.combinationID(w, r)
	if !ok {
		return
	}
	if _, err := s.combos.GetCombination(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	links, err := s.links.ListLinks(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"count": len(links), "links": links})
}

func (s *Server) exportLinks(w http.ResponseWriter, r *http.Request) {
	id, ok := s.combinationID(w, r)
	if !ok {
		return
	}
	res, err := s.exporter.Export(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// submitRun enqueues a background run. Queue pressure is logged, not
// surfaced: the operator can always trigger pages synchronously.
func (s *Server) submitRun(r *http.Request, id uuid.UUID) {
	if s.runs == nil {
		return
	}
	queueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	err := s.runs.Submit(queueCtx, harvest.RunRequest{
		CombinationID: id,
		Attempt:       1,
		Submitted:     s.clock.Now().Unix(),
	})
	if err != nil {
		s.logger.Warn("submit background run",
			zap.String("combination_id", id.String()),
			zap.Error(err))
	}
}
