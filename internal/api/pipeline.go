package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/nyashahama/clinical-risk-backend/internal/notes"
	"github.com/nyashahama/clinical-risk-backend/internal/store"
)

// ─── POST /api/extract ───────────────────────────────────────────────────────

type extractRequest struct {
	NoteContent map[string]string `json:"noteContent"`
}

// handleExtract returns structured data for ad-hoc note content. Extraction
// never fails; a model problem yields the empty structure.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if !decode(w, r, &req) {
		return
	}
	if !hasContent(req.NoteContent) {
		respondErr(w, http.StatusBadRequest, "noteContent must contain at least one non-empty section")
		return
	}

	respond(w, http.StatusOK, s.assessor.ExtractStructuredData(r.Context(), req.NoteContent))
}

// ─── POST /api/notes ─────────────────────────────────────────────────────────

type generateNoteRequest struct {
	Transcription string `json:"transcription"`
	Template      string `json:"template"`

	// VisitID, when set, stores the note on the visit and queues a fresh
	// assessment.
	VisitID string `json:"visitId"`
}

type generateNoteResponse struct {
	notes.Note
	VisitID string `json:"visitId,omitempty"`
}

// handleGenerateNote turns a transcription into a structured note. Unlike the
// risk pipeline, a model failure is reported (502) so the recording flow can
// ask the clinician to retry.
func (s *Server) handleGenerateNote(w http.ResponseWriter, r *http.Request) {
	var req generateNoteRequest
	if !decode(w, r, &req) {
		return
	}

	tplName := req.Template
	if tplName == "" {
		tplName = string(notes.TemplateSOAP)
	}
	tpl, err := notes.ParseTemplate(tplName)
	if err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Transcription) == "" {
		respondErr(w, http.StatusBadRequest, "transcription is required")
		return
	}

	var visitID uuid.UUID
	if req.VisitID != "" {
		if visitID, err = uuid.Parse(req.VisitID); err != nil {
			respondErr(w, http.StatusBadRequest, "invalid visitId")
			return
		}
	}

	note, err := s.notes.Generate(r.Context(), req.Transcription, tpl)
	if errors.Is(err, notes.ErrEmptyTranscription) {
		respondErr(w, http.StatusBadRequest, "transcription is required")
		return
	}
	if err != nil {
		s.respondUpstreamErr(w, r, "note generation", err)
		return
	}

	resp := generateNoteResponse{Note: note}
	if visitID != uuid.Nil {
		visit, err := s.store.SaveVisitNote(r.Context(), visitID, string(note.Template), note.Sections)
		if errors.Is(err, store.ErrNotFound) {
			respondErr(w, http.StatusNotFound, "visit not found")
			return
		}
		if err != nil {
			s.respondInternalErr(w, r, fmt.Errorf("save visit note: %w", err))
			return
		}
		s.enqueue(r, visit)
		resp.VisitID = visit.ID.String()
	}

	respond(w, http.StatusOK, resp)
}

func hasContent(m map[string]string) bool {
	for _, v := range m {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}
