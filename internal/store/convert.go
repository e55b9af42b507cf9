package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nyashahama/clinical-risk-backend/internal/clinical"
	"github.com/nyashahama/clinical-risk-backend/internal/db"
	"github.com/sqlc-dev/pqtype"
)

// ─── ROW → PIPELINE INPUT ────────────────────────────────────────────────────

// PatientData converts a patient row into the pipeline's patient context.
func PatientData(p db.Patient) clinical.PatientData {
	out := clinical.PatientData{
		Name:        p.Name,
		Gender:      p.Gender.String,
		Diagnoses:   p.Diagnoses,
		Medications: p.Medications,
		Allergies:   p.Allergies,
	}
	if p.Age.Valid {
		age := int(p.Age.Int32)
		out.Age = &age
	}
	return out
}

// VisitData converts a visit row into the pipeline's visit context.
func VisitData(v db.Visit) (clinical.VisitData, error) {
	out := clinical.VisitData{
		VisitDate:      v.VisitDate.Format("2006-01-02"),
		ChiefComplaint: v.ChiefComplaint.String,
		Diagnosis:      v.Diagnosis.String,
		Summary:        v.Summary.String,
		TreatmentPlan:  v.TreatmentPlan.String,
		Transcription:  v.Transcription.String,
	}
	if err := decodeJSON(v.Vitals, &out.Vitals); err != nil {
		return clinical.VisitData{}, fmt.Errorf("store: decode vitals for visit %s: %w", v.ID, err)
	}
	if err := decodeJSON(v.NoteSections, &out.NoteSections); err != nil {
		return clinical.VisitData{}, fmt.Errorf("store: decode note sections for visit %s: %w", v.ID, err)
	}
	return out, nil
}

// ─── STORED OUTPUTS ──────────────────────────────────────────────────────────

// Assessment decodes the stored risk snapshot. ok is false when the visit has
// not been assessed yet.
func Assessment(v db.Visit) (a clinical.RiskAssessment, ok bool, err error) {
	if !v.RiskAssessment.Valid {
		return clinical.RiskAssessment{}, false, nil
	}
	if err := json.Unmarshal(v.RiskAssessment.RawMessage, &a); err != nil {
		return clinical.RiskAssessment{}, false, fmt.Errorf("store: decode assessment for visit %s: %w", v.ID, err)
	}
	return a, true, nil
}

// Structured decodes the stored extraction result.
func Structured(v db.Visit) (s clinical.StructuredData, ok bool, err error) {
	if !v.StructuredData.Valid {
		return clinical.StructuredData{}, false, nil
	}
	if err := json.Unmarshal(v.StructuredData.RawMessage, &s); err != nil {
		return clinical.StructuredData{}, false, fmt.Errorf("store: decode structured data for visit %s: %w", v.ID, err)
	}
	return s, true, nil
}

// ─── HELPERS ─────────────────────────────────────────────────────────────────

func decodeJSON(raw pqtype.NullRawMessage, dst any) error {
	if !raw.Valid || len(raw.RawMessage) == 0 {
		return nil
	}
	return json.Unmarshal(raw.RawMessage, dst)
}

// encodeJSON marshals v into a JSONB parameter. A nil v becomes SQL NULL.
func encodeJSON(v any) (pqtype.NullRawMessage, error) {
	if v == nil {
		return pqtype.NullRawMessage{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return pqtype.NullRawMessage{}, err
	}
	return pqtype.NullRawMessage{RawMessage: b, Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
