package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/nyashahama/clinical-risk-backend/internal/clinical"
	"github.com/nyashahama/clinical-risk-backend/internal/db"
	"github.com/nyashahama/clinical-risk-backend/internal/store"
)

type riskHistoryResponse struct {
	ID          string   `json:"id"`
	VisitID     string   `json:"visitId,omitempty"`
	RiskLevel   string   `json:"riskLevel"`
	RiskScore   int16    `json:"riskScore"`
	RiskFactors []string `json:"riskFactors"`
	Source      string   `json:"source"`
	Note        string   `json:"note,omitempty"`
	CreatedAt   string   `json:"createdAt"`
}

func toRiskHistoryResponse(h db.RiskHistory) riskHistoryResponse {
	out := riskHistoryResponse{
		ID:          h.ID.String(),
		RiskLevel:   h.RiskLevel,
		RiskScore:   h.RiskScore,
		RiskFactors: orEmpty(h.RiskFactors),
		Source:      string(h.Source),
		Note:        h.Note.String,
		CreatedAt:   formatTime(h.CreatedAt),
	}
	if h.VisitID.Valid {
		out.VisitID = h.VisitID.UUID.String()
	}
	return out
}

// ─── GET /api/patients/{patientID}/risk-history ──────────────────────────────

// handleListRiskHistory returns the patient's risk trend, newest first. Only
// ok-quality AI assessments and manual entries appear here.
func (s *Server) handleListRiskHistory(w http.ResponseWriter, r *http.Request) {
	patientID, ok := uuidParam(w, r, "patientID")
	if !ok {
		return
	}

	if _, err := s.q.GetPatientByID(r.Context(), patientID); errors.Is(err, sql.ErrNoRows) {
		respondErr(w, http.StatusNotFound, "patient not found")
		return
	} else if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("get patient: %w", err))
		return
	}

	rows, err := s.q.ListRiskHistory(r.Context(), db.ListRiskHistoryParams{
		PatientID: patientID,
		Limit:     limitParam(r, 50, 500),
	})
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("list risk history: %w", err))
		return
	}

	history := make([]riskHistoryResponse, len(rows))
	for i, h := range rows {
		history[i] = toRiskHistoryResponse(h)
	}
	respond(w, http.StatusOK, map[string]any{"history": history})
}

// ─── POST /api/patients/{patientID}/risk-history ─────────────────────────────

type manualRiskRequest struct {
	VisitID     string   `json:"visitId"`
	RiskLevel   string   `json:"riskLevel"`
	RiskScore   int      `json:"riskScore"`
	RiskFactors []string `json:"riskFactors"`
	Note        string   `json:"note"`
}

// handleRecordManualRisk stores a clinician's own risk judgement. Unlike the
// model output, manual input is validated strictly: an unknown level or an
// out-of-range score is a 400, not a silent correction.
func (s *Server) handleRecordManualRisk(w http.ResponseWriter, r *http.Request) {
	patientID, ok := uuidParam(w, r, "patientID")
	if !ok {
		return
	}

	var req manualRiskRequest
	if !decode(w, r, &req) {
		return
	}

	level := clinical.RiskLevel(strings.ToLower(strings.TrimSpace(req.RiskLevel)))
	if !level.Valid() {
		respondErr(w, http.StatusBadRequest, "riskLevel must be one of low, moderate, high, critical")
		return
	}
	if req.RiskScore < 0 || req.RiskScore > 100 {
		respondErr(w, http.StatusBadRequest, "riskScore must be between 0 and 100")
		return
	}
	var visitID uuid.NullUUID
	if req.VisitID != "" {
		id, err := uuid.Parse(req.VisitID)
		if err != nil {
			respondErr(w, http.StatusBadRequest, "invalid visitId")
			return
		}
		visitID = uuid.NullUUID{UUID: id, Valid: true}
	}

	row, err := s.store.RecordManualRisk(r.Context(), store.RecordManualRiskParams{
		PatientID: patientID,
		VisitID:   visitID,
		Level:     level,
		Score:     req.RiskScore,
		Factors:   cleanList(req.RiskFactors),
		Note:      strings.TrimSpace(req.Note),
	})
	if errors.Is(err, store.ErrNotFound) {
		respondErr(w, http.StatusNotFound, "patient or visit not found")
		return
	}
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("record manual risk: %w", err))
		return
	}

	respond(w, http.StatusCreated, toRiskHistoryResponse(row))
}
