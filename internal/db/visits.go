package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const visitColumns = `id, patient_id, visit_date, chief_complaint, diagnosis, vitals, summary,
	treatment_plan, note_template, note_sections, transcription, structured_data,
	risk_assessment, risk_level, risk_score, assessment_quality, assessment_status,
	assessment_error, assessed_at, input_revision, created_at, updated_at`

func scanVisit(row rowScanner) (Visit, error) {
	var v Visit
	err := row.Scan(
		&v.ID,
		&v.PatientID,
		&v.VisitDate,
		&v.ChiefComplaint,
		&v.Diagnosis,
		&v.Vitals,
		&v.Summary,
		&v.TreatmentPlan,
		&v.NoteTemplate,
		&v.NoteSections,
		&v.Transcription,
		&v.StructuredData,
		&v.RiskAssessment,
		&v.RiskLevel,
		&v.RiskScore,
		&v.AssessmentQuality,
		&v.AssessmentStatus,
		&v.AssessmentError,
		&v.AssessedAt,
		&v.InputRevision,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	return v, err
}

func scanVisits(rows *sql.Rows, err error) ([]Visit, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ─── WRITES ──────────────────────────────────────────────────────────────────

const createVisit = `INSERT INTO visits (
	id, patient_id, visit_date, chief_complaint, diagnosis, vitals, summary,
	treatment_plan, note_template, note_sections, transcription
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING ` + visitColumns

type CreateVisitParams struct {
	ID             uuid.UUID
	PatientID      uuid.UUID
	VisitDate      time.Time
	ChiefComplaint sql.NullString
	Diagnosis      sql.NullString
	Vitals         pqtype.NullRawMessage
	Summary        sql.NullString
	TreatmentPlan  sql.NullString
	NoteTemplate   sql.NullString
	NoteSections   pqtype.NullRawMessage
	Transcription  sql.NullString
}

func (q *Queries) CreateVisit(ctx context.Context, arg CreateVisitParams) (Visit, error) {
	return scanVisit(q.db.QueryRowContext(ctx, createVisit,
		arg.ID,
		arg.PatientID,
		arg.VisitDate,
		arg.ChiefComplaint,
		arg.Diagnosis,
		arg.Vitals,
		arg.Summary,
		arg.TreatmentPlan,
		arg.NoteTemplate,
		arg.NoteSections,
		arg.Transcription,
	))
}

const setVisitProcessing = `UPDATE visits
SET assessment_status = 'processing', updated_at = now()
WHERE id = $1
RETURNING ` + visitColumns

func (q *Queries) SetVisitProcessing(ctx context.Context, id uuid.UUID) (Visit, error) {
	return scanVisit(q.db.QueryRowContext(ctx, setVisitProcessing, id))
}

// A new note invalidates the previous assessment, so the visit goes back to
// pending and the worker picks it up again. input_revision moves on so a job
// still holding the old inputs cannot finalize.
const setVisitNote = `UPDATE visits
SET note_template = $2, note_sections = $3, assessment_status = 'pending',
	assessment_error = NULL, input_revision = input_revision + 1, updated_at = now()
WHERE id = $1
RETURNING ` + visitColumns

type SetVisitNoteParams struct {
	ID           uuid.UUID
	NoteTemplate sql.NullString
	NoteSections pqtype.NullRawMessage
}

func (q *Queries) SetVisitNote(ctx context.Context, arg SetVisitNoteParams) (Visit, error) {
	return scanVisit(q.db.QueryRowContext(ctx, setVisitNote, arg.ID, arg.NoteTemplate, arg.NoteSections))
}

const finalizeVisitAssessment = `UPDATE visits
SET structured_data    = COALESCE($2, structured_data),
	risk_assessment    = $3,
	risk_level         = $4,
	risk_score         = $5,
	assessment_quality = $6,
	assessment_status  = 'done',
	assessment_error   = NULL,
	assessed_at        = now(),
	updated_at         = now()
WHERE id = $1
RETURNING ` + visitColumns

type FinalizeVisitAssessmentParams struct {
	ID                uuid.UUID
	StructuredData    pqtype.NullRawMessage // NULL keeps the stored value
	RiskAssessment    pqtype.NullRawMessage
	RiskLevel         string
	RiskScore         int16
	AssessmentQuality string
}

func (q *Queries) FinalizeVisitAssessment(ctx context.Context, arg FinalizeVisitAssessmentParams) (Visit, error) {
	return scanVisit(q.db.QueryRowContext(ctx, finalizeVisitAssessment,
		arg.ID,
		arg.StructuredData,
		arg.RiskAssessment,
		arg.RiskLevel,
		arg.RiskScore,
		arg.AssessmentQuality,
	))
}

const setVisitError = `UPDATE visits
SET assessment_status = 'error', assessment_error = $2, updated_at = now()
WHERE id = $1
RETURNING ` + visitColumns

type SetVisitErrorParams struct {
	ID              uuid.UUID
	AssessmentError sql.NullString
}

func (q *Queries) SetVisitError(ctx context.Context, arg SetVisitErrorParams) (Visit, error) {
	return scanVisit(q.db.QueryRowContext(ctx, setVisitError, arg.ID, arg.AssessmentError))
}

// ─── READS ───────────────────────────────────────────────────────────────────

const getVisitByID = `SELECT ` + visitColumns + ` FROM visits WHERE id = $1`

func (q *Queries) GetVisitByID(ctx context.Context, id uuid.UUID) (Visit, error) {
	return scanVisit(q.db.QueryRowContext(ctx, getVisitByID, id))
}

const listVisitsByPatient = `SELECT ` + visitColumns + `
FROM visits
WHERE patient_id = $1
ORDER BY visit_date DESC, created_at DESC
LIMIT $2`

type ListVisitsByPatientParams struct {
	PatientID uuid.UUID
	Limit     int32
}

func (q *Queries) ListVisitsByPatient(ctx context.Context, arg ListVisitsByPatientParams) ([]Visit, error) {
	return scanVisits(q.db.QueryContext(ctx, listVisitsByPatient, arg.PatientID, arg.Limit))
}

// listPreviousVisits returns the patient's visits that happened before the
// given one, most recent first.
const listPreviousVisits = `SELECT ` + visitColumns + `
FROM visits
WHERE patient_id = $1
  AND id <> $2
  AND visit_date <= $3
ORDER BY visit_date DESC, created_at DESC
LIMIT $4`

type ListPreviousVisitsParams struct {
	PatientID uuid.UUID
	ExcludeID uuid.UUID
	Before    time.Time
	Limit     int32
}

func (q *Queries) ListPreviousVisits(ctx context.Context, arg ListPreviousVisitsParams) ([]Visit, error) {
	return scanVisits(q.db.QueryContext(ctx, listPreviousVisits, arg.PatientID, arg.ExcludeID, arg.Before, arg.Limit))
}

const listPendingVisits = `SELECT ` + visitColumns + `
FROM visits
WHERE assessment_status IN ('pending', 'processing')
ORDER BY created_at
LIMIT $1`

func (q *Queries) ListPendingVisits(ctx context.Context, limit int32) ([]Visit, error) {
	return scanVisits(q.db.QueryContext(ctx, listPendingVisits, limit))
}
