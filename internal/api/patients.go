package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/nyashahama/clinical-risk-backend/internal/db"
)

// ─── RESPONSE SHAPE ──────────────────────────────────────────────────────────

type patientResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Email       string   `json:"email,omitempty"`
	Age         *int32   `json:"age,omitempty"`
	Gender      string   `json:"gender,omitempty"`
	Diagnoses   []string `json:"diagnoses"`
	Medications []string `json:"medications"`
	Allergies   []string `json:"allergies"`
	RiskLevel   string   `json:"riskLevel,omitempty"`
	RiskScore   *int16   `json:"riskScore,omitempty"`
	CreatedAt   string   `json:"createdAt"`
	UpdatedAt   string   `json:"updatedAt"`
}

func toPatientResponse(p db.Patient) patientResponse {
	out := patientResponse{
		ID:          p.ID.String(),
		Name:        p.Name,
		Email:       p.Email.String,
		Gender:      p.Gender.String,
		Diagnoses:   orEmpty(p.Diagnoses),
		Medications: orEmpty(p.Medications),
		Allergies:   orEmpty(p.Allergies),
		RiskLevel:   p.RiskLevel.String,
		CreatedAt:   formatTime(p.CreatedAt),
		UpdatedAt:   formatTime(p.UpdatedAt),
	}
	if p.Age.Valid {
		out.Age = &p.Age.Int32
	}
	if p.RiskScore.Valid {
		out.RiskScore = &p.RiskScore.Int16
	}
	return out
}

// ─── POST /api/patients ──────────────────────────────────────────────────────

type createPatientRequest struct {
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Age         *int     `json:"age"`
	Gender      string   `json:"gender"`
	Diagnoses   []string `json:"diagnoses"`
	Medications []string `json:"medications"`
	Allergies   []string `json:"allergies"`
}

// handleCreatePatient registers a patient. Only the name is required.
func (s *Server) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	var req createPatientRequest
	if !decode(w, r, &req) {
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		respondErr(w, http.StatusBadRequest, "name is required")
		return
	}
	age := sql.NullInt32{}
	if req.Age != nil {
		if *req.Age < 0 || *req.Age > 150 {
			respondErr(w, http.StatusBadRequest, "age must be between 0 and 150")
			return
		}
		age = sql.NullInt32{Int32: int32(*req.Age), Valid: true}
	}

	patient, err := s.q.CreatePatient(r.Context(), db.CreatePatientParams{
		ID:          uuid.New(),
		Name:        name,
		Email:       nullString(strings.TrimSpace(req.Email)),
		Age:         age,
		Gender:      nullString(strings.TrimSpace(req.Gender)),
		Diagnoses:   cleanList(req.Diagnoses),
		Medications: cleanList(req.Medications),
		Allergies:   cleanList(req.Allergies),
	})
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("create patient: %w", err))
		return
	}

	respond(w, http.StatusCreated, toPatientResponse(patient))
}

// ─── GET /api/patients/{patientID} ───────────────────────────────────────────

func (s *Server) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	patientID, ok := uuidParam(w, r, "patientID")
	if !ok {
		return
	}

	patient, err := s.q.GetPatientByID(r.Context(), patientID)
	if errors.Is(err, sql.ErrNoRows) {
		respondErr(w, http.StatusNotFound, "patient not found")
		return
	}
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("get patient: %w", err))
		return
	}

	respond(w, http.StatusOK, toPatientResponse(patient))
}

// ─── HELPERS ─────────────────────────────────────────────────────────────────

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// cleanList trims entries and drops blanks.
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
