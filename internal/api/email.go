package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/nyashahama/clinical-risk-backend/internal/email"
	"github.com/nyashahama/clinical-risk-backend/internal/notes"
	"github.com/nyashahama/clinical-risk-backend/internal/store"
)

// ─── POST /api/email/send ────────────────────────────────────────────────────

// handleSendEmail relays a message the clinician has already written.
func (s *Server) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	var msg email.Message
	if !decode(w, r, &msg) {
		return
	}

	receipt, err := s.mailer.Send(r.Context(), msg)
	if errors.Is(err, email.ErrInvalidMessage) {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.respondUpstreamErr(w, r, "email send", err)
		return
	}

	respond(w, http.StatusOK, receipt)
}

// ─── POST /api/visits/{visitID}/summary-email ────────────────────────────────

type summaryEmailRequest struct {
	// To overrides the patient's stored address.
	To string `json:"to"`

	// DryRun returns the draft without sending it, so the clinician can
	// review the wording first.
	DryRun bool `json:"dryRun"`
}

type summaryEmailResponse struct {
	notes.EmailDraft
	To      string         `json:"to"`
	Receipt *email.Receipt `json:"receipt,omitempty"`
}

// handleSummaryEmail drafts a plain-language summary of the visit note and
// sends it to the patient.
func (s *Server) handleSummaryEmail(w http.ResponseWriter, r *http.Request) {
	visitID, ok := uuidParam(w, r, "visitID")
	if !ok {
		return
	}

	var req summaryEmailRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
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
	patient, err := s.q.GetPatientByID(r.Context(), visit.PatientID)
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("get patient: %w", err))
		return
	}

	data, err := store.VisitData(visit)
	if err != nil {
		s.respondInternalErr(w, r, err)
		return
	}
	if !hasContent(data.NoteSections) {
		respondErr(w, http.StatusUnprocessableEntity, "visit has no note to summarise")
		return
	}

	to := strings.TrimSpace(req.To)
	if to == "" {
		to = patient.Email.String
	}
	if to == "" && !req.DryRun {
		respondErr(w, http.StatusUnprocessableEntity, "patient has no email address")
		return
	}

	note := notes.Note{Template: notes.Template(visit.NoteTemplate.String), Sections: data.NoteSections}
	draft, err := s.notes.PatientSummary(r.Context(), note, patient.Name)
	if errors.Is(err, notes.ErrEmptyNote) {
		respondErr(w, http.StatusUnprocessableEntity, "visit has no note to summarise")
		return
	}
	if err != nil {
		s.respondUpstreamErr(w, r, "summary generation", err)
		return
	}

	resp := summaryEmailResponse{EmailDraft: draft, To: to}
	if req.DryRun {
		respond(w, http.StatusOK, resp)
		return
	}

	receipt, err := s.mailer.Send(r.Context(), email.Message{
		To:      to,
		ToName:  patient.Name,
		Subject: draft.Subject,
		Body:    draft.Body,
	})
	if err != nil {
		s.respondUpstreamErr(w, r, "email send", err)
		return
	}
	s.logger.Info("summary email sent",
		"visit_id", visit.ID,
		"message_id", receipt.MessageID,
		logField(r),
	)

	resp.Receipt = &receipt
	respond(w, http.StatusOK, resp)
}
