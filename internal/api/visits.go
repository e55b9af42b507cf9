package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nyashahama/clinical-risk-backend/internal/clinical"
	"github.com/nyashahama/clinical-risk-backend/internal/db"
	"github.com/nyashahama/clinical-risk-backend/internal/notes"
	"github.com/nyashahama/clinical-risk-backend/internal/store"
	"github.com/nyashahama/clinical-risk-backend/internal/worker"
)

// ─── RESPONSE SHAPE ──────────────────────────────────────────────────────────

// visitResponse flattens db.Visit and decodes its JSONB columns.
type visitResponse struct {
	ID               string                   `json:"id"`
	PatientID        string                   `json:"patientId"`
	VisitDate        string                   `json:"visitDate"`
	ChiefComplaint   string                   `json:"chiefComplaint,omitempty"`
	Diagnosis        string                   `json:"diagnosis,omitempty"`
	Vitals           clinical.Vitals          `json:"vitals"`
	Summary          string                   `json:"summary,omitempty"`
	TreatmentPlan    string                   `json:"treatmentPlan,omitempty"`
	NoteTemplate     string                   `json:"noteTemplate,omitempty"`
	NoteSections     map[string]string        `json:"noteSections,omitempty"`
	Transcription    string                   `json:"transcription,omitempty"`
	StructuredData   *clinical.StructuredData `json:"structuredData,omitempty"`
	RiskAssessment   *clinical.RiskAssessment `json:"riskAssessment,omitempty"`
	AssessmentStatus string                   `json:"assessmentStatus"`
	AssessmentError  string                   `json:"assessmentError,omitempty"`
	AssessedAt       string                   `json:"assessedAt,omitempty"`
	CreatedAt        string                   `json:"createdAt"`
}

func toVisitResponse(v db.Visit) (visitResponse, error) {
	data, err := store.VisitData(v)
	if err != nil {
		return visitResponse{}, err
	}
	out := visitResponse{
		ID:               v.ID.String(),
		PatientID:        v.PatientID.String(),
		VisitDate:        formatTime(v.VisitDate),
		ChiefComplaint:   data.ChiefComplaint,
		Diagnosis:        data.Diagnosis,
		Vitals:           data.Vitals,
		Summary:          data.Summary,
		TreatmentPlan:    data.TreatmentPlan,
		NoteTemplate:     v.NoteTemplate.String,
		NoteSections:     data.NoteSections,
		Transcription:    data.Transcription,
		AssessmentStatus: string(v.AssessmentStatus),
		AssessmentError:  v.AssessmentError.String,
		CreatedAt:        formatTime(v.CreatedAt),
	}
	if v.AssessedAt.Valid {
		out.AssessedAt = formatTime(v.AssessedAt.Time)
	}

	if a, ok, err := store.Assessment(v); err != nil {
		return visitResponse{}, err
	} else if ok {
		out.RiskAssessment = &a
	}
	if sd, ok, err := store.Structured(v); err != nil {
		return visitResponse{}, err
	} else if ok {
		out.StructuredData = &sd
	}
	return out, nil
}

// ─── POST /api/patients/{patientID}/visits ───────────────────────────────────

type createVisitRequest struct {
	VisitDate      string            `json:"visitDate"` // RFC 3339 or YYYY-MM-DD; empty means now
	ChiefComplaint string            `json:"chiefComplaint"`
	Diagnosis      string            `json:"diagnosis"`
	Vitals         clinical.Vitals   `json:"vitals"`
	Summary        string            `json:"summary"`
	TreatmentPlan  string            `json:"treatmentPlan"`
	NoteTemplate   string            `json:"noteTemplate"`
	NoteSections   map[string]string `json:"noteSections"`
	Transcription  string            `json:"transcription"`
}

// handleCreateVisit records an encounter and hands it to the worker. The
// response returns immediately with assessmentStatus "pending"; clients poll
// GET /api/visits/{visitID} for the result.
func (s *Server) handleCreateVisit(w http.ResponseWriter, r *http.Request) {
	patientID, ok := uuidParam(w, r, "patientID")
	if !ok {
		return
	}

	var req createVisitRequest
	if !decode(w, r, &req) {
		return
	}

	visitDate, err := parseVisitDate(req.VisitDate)
	if err != nil {
		respondErr(w, http.StatusBadRequest, "visitDate must be RFC 3339 or YYYY-MM-DD")
		return
	}
	if req.NoteTemplate != "" {
		tpl, err := notes.ParseTemplate(req.NoteTemplate)
		if err != nil {
			respondErr(w, http.StatusBadRequest, err.Error())
			return
		}
		req.NoteTemplate = string(tpl)
	}

	visit, err := s.store.CreateVisit(r.Context(), store.CreateVisitParams{
		PatientID: patientID,
		VisitDate: visitDate,
		Visit: clinical.VisitData{
			ChiefComplaint: strings.TrimSpace(req.ChiefComplaint),
			Diagnosis:      strings.TrimSpace(req.Diagnosis),
			Vitals:         req.Vitals,
			Summary:        strings.TrimSpace(req.Summary),
			TreatmentPlan:  strings.TrimSpace(req.TreatmentPlan),
			NoteSections:   req.NoteSections,
			Transcription:  req.Transcription,
		},
		NoteTemplate: req.NoteTemplate,
	})
	if errors.Is(err, store.ErrNotFound) {
		respondErr(w, http.StatusNotFound, "patient not found")
		return
	}
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("create visit: %w", err))
		return
	}

	s.enqueue(r, visit)

	resp, err := toVisitResponse(visit)
	if err != nil {
		s.respondInternalErr(w, r, err)
		return
	}
	respond(w, http.StatusCreated, resp)
}

// ─── GET /api/patients/{patientID}/visits ────────────────────────────────────

// handleListVisits returns the patient's visits, newest first.
func (s *Server) handleListVisits(w http.ResponseWriter, r *http.Request) {
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

	rows, err := s.q.ListVisitsByPatient(r.Context(), db.ListVisitsByPatientParams{
		PatientID: patientID,
		Limit:     limitParam(r, 50, 200),
	})
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("list visits: %w", err))
		return
	}

	visits := make([]visitResponse, 0, len(rows))
	for _, v := range rows {
		resp, err := toVisitResponse(v)
		if err != nil {
			s.respondInternalErr(w, r, err)
			return
		}
		visits = append(visits, resp)
	}
	respond(w, http.StatusOK, map[string]any{"visits": visits})
}

// ─── GET /api/visits/{visitID} ───────────────────────────────────────────────

func (s *Server) handleGetVisit(w http.ResponseWriter, r *http.Request) {
	visitID, ok := uuidParam(w, r, "visitID")
	if !ok {
		return
	}

	visit, err := s.q.GetVisitByID(r.Context(), visitID)
	if errors.Is(err, sql.ErrNoRows) {
		respondErr(w, http.StatusNotFound, "visit not found")
		return
	}
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("get visit: %w", err))
		return
	}

	resp, err := toVisitResponse(visit)
	if err != nil {
		s.respondInternalErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, resp)
}

// ─── POST /api/visits/{visitID}/assess ───────────────────────────────────────

// handleAssessVisit runs the pipeline synchronously and replaces any stored
// assessment. A degraded result is still 200: the body carries
// assessmentQuality "degraded" and the manual-review recommendation.
func (s *Server) handleAssessVisit(w http.ResponseWriter, r *http.Request) {
	visitID, ok := uuidParam(w, r, "visitID")
	if !ok {
		return
	}

	in, err := s.store.LoadAssessmentInput(r.Context(), visitID)
	if errors.Is(err, store.ErrNotFound) {
		respondErr(w, http.StatusNotFound, "visit not found")
		return
	}
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("load assessment input: %w", err))
		return
	}

	assessment, structured := worker.Analyze(r.Context(), s.assessor, in)
	if assessment.Degraded() {
		s.logger.Warn("assess: degraded assessment", "visit_id", visitID, logField(r))
	}

	visit, err := s.store.PersistRiskAssessment(r.Context(), store.PersistRiskAssessmentParams{
		VisitID:       visitID,
		Assessment:    assessment,
		Structured:    structured,
		Reassess:      true,
		InputRevision: in.Visit.InputRevision,
	})
	if errors.Is(err, store.ErrNotFound) {
		respondErr(w, http.StatusNotFound, "visit not found")
		return
	}
	if errors.Is(err, store.ErrInputsChanged) {
		respondErr(w, http.StatusConflict, "visit note changed during assessment, retry")
		return
	}
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("persist assessment: %w", err))
		return
	}

	resp, err := toVisitResponse(visit)
	if err != nil {
		s.respondInternalErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, resp)
}

// ─── HELPERS ─────────────────────────────────────────────────────────────────

// enqueue hands the visit to the worker. A full queue is not an error for the
// caller: the visit is pending in the database and the poller will find it.
func (s *Server) enqueue(r *http.Request, visit db.Visit) {
	if err := s.worker.Enqueue(r.Context(), visit.ID); err != nil {
		s.logger.Warn("enqueue failed, poller will pick visit up",
			"visit_id", visit.ID,
			"error", err,
			logField(r),
		)
	}
}

func parseVisitDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", s)
}
