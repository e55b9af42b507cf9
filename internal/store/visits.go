package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nyashahama/clinical-risk-backend/internal/clinical"
	"github.com/nyashahama/clinical-risk-backend/internal/db"
	"github.com/sqlc-dev/pqtype"
)

// ─── INPUT TYPES ─────────────────────────────────────────────────────────────

// CreateVisitParams is a new encounter as recorded by the clinician.
type CreateVisitParams struct {
	PatientID    uuid.UUID
	VisitDate    time.Time // zero means now
	Visit        clinical.VisitData
	NoteTemplate string
}

// PersistRiskAssessmentParams is everything the worker (or the synchronous
// assess handler) hands to the store once the pipeline has returned.
type PersistRiskAssessmentParams struct {
	VisitID    uuid.UUID
	Assessment clinical.RiskAssessment
	Structured *clinical.StructuredData // nil keeps whatever is stored

	// Reassess replaces a finished assessment instead of returning
	// ErrAlreadyAssessed.
	Reassess bool

	// InputRevision is the visit's input_revision when the pipeline inputs
	// were loaded. A newer revision on the row means the note changed while
	// the pipeline ran, and the write is refused with ErrInputsChanged.
	InputRevision int32
}

// AssessmentInput is the pipeline input for one visit: the visit itself, its
// patient and the most recent earlier visits, newest first.
type AssessmentInput struct {
	Visit    db.Visit
	Current  clinical.VisitData
	Patient  clinical.PatientData
	Previous []clinical.VisitData
}

// previousVisitLimit matches the number of earlier visits the prompt uses.
const previousVisitLimit = 3

// ─── METHODS ─────────────────────────────────────────────────────────────────

// CreateVisit checks the patient exists and inserts the visit in pending
// status so the worker will assess it.
func (s *Store) CreateVisit(ctx context.Context, p CreateVisitParams) (db.Visit, error) {
	vitals := pqtype.NullRawMessage{}
	if !p.Visit.Vitals.IsZero() {
		var err error
		if vitals, err = encodeJSON(p.Visit.Vitals); err != nil {
			return db.Visit{}, fmt.Errorf("CreateVisit: encode vitals: %w", err)
		}
	}
	sections, err := encodeSections(p.Visit.NoteSections)
	if err != nil {
		return db.Visit{}, fmt.Errorf("CreateVisit: encode note sections: %w", err)
	}

	visitDate := p.VisitDate
	if visitDate.IsZero() {
		visitDate = time.Now().UTC()
	}

	var visit db.Visit
	err = s.withTx(ctx, func(ctx context.Context, q db.Querier) error {
		if _, err := q.GetPatientByID(ctx, p.PatientID); err != nil {
			return notFound("CreateVisit: get patient", err)
		}

		created, err := q.CreateVisit(ctx, db.CreateVisitParams{
			ID:             uuid.New(),
			PatientID:      p.PatientID,
			VisitDate:      visitDate,
			ChiefComplaint: nullString(p.Visit.ChiefComplaint),
			Diagnosis:      nullString(p.Visit.Diagnosis),
			Vitals:         vitals,
			Summary:        nullString(p.Visit.Summary),
			TreatmentPlan:  nullString(p.Visit.TreatmentPlan),
			NoteTemplate:   nullString(p.NoteTemplate),
			NoteSections:   sections,
			Transcription:  nullString(p.Visit.Transcription),
		})
		if err != nil {
			return fmt.Errorf("CreateVisit: insert: %w", err)
		}
		visit = created
		return nil
	})
	if err != nil {
		return db.Visit{}, err
	}
	return visit, nil
}

// LoadAssessmentInput reads the visit, its patient and up to three earlier
// visits and converts them into pipeline input.
func (s *Store) LoadAssessmentInput(ctx context.Context, visitID uuid.UUID) (AssessmentInput, error) {
	visit, err := s.q.GetVisitByID(ctx, visitID)
	if err != nil {
		return AssessmentInput{}, notFound("LoadAssessmentInput: get visit", err)
	}
	patient, err := s.q.GetPatientByID(ctx, visit.PatientID)
	if err != nil {
		return AssessmentInput{}, notFound("LoadAssessmentInput: get patient", err)
	}
	prevRows, err := s.q.ListPreviousVisits(ctx, db.ListPreviousVisitsParams{
		PatientID: visit.PatientID,
		ExcludeID: visit.ID,
		Before:    visit.VisitDate,
		Limit:     previousVisitLimit,
	})
	if err != nil {
		return AssessmentInput{}, fmt.Errorf("LoadAssessmentInput: list previous visits: %w", err)
	}

	current, err := VisitData(visit)
	if err != nil {
		return AssessmentInput{}, err
	}
	previous := make([]clinical.VisitData, 0, len(prevRows))
	for _, row := range prevRows {
		vd, err := VisitData(row)
		if err != nil {
			return AssessmentInput{}, err
		}
		previous = append(previous, vd)
	}

	return AssessmentInput{
		Visit:    visit,
		Current:  current,
		Patient:  PatientData(patient),
		Previous: previous,
	}, nil
}

// PersistRiskAssessment atomically:
//
//  1. Checks the visit exists, has not already been assessed and still has
//     the inputs the pipeline saw.
//  2. Writes the risk snapshot (and structured data, when given) to the visit
//     and marks it done.
//  3. For an ok-quality assessment, appends an ai risk_history row and updates
//     the patient's current risk level.
//
// A degraded assessment is still stored on the visit so the UI can show that
// manual review is needed, but it never reaches risk_history or the patient.
func (s *Store) PersistRiskAssessment(ctx context.Context, p PersistRiskAssessmentParams) (db.Visit, error) {
	snapshot, err := encodeJSON(p.Assessment)
	if err != nil {
		return db.Visit{}, fmt.Errorf("PersistRiskAssessment: encode assessment: %w", err)
	}
	var structured pqtype.NullRawMessage
	if p.Structured != nil {
		if structured, err = encodeJSON(p.Structured); err != nil {
			return db.Visit{}, fmt.Errorf("PersistRiskAssessment: encode structured data: %w", err)
		}
	}

	quality := p.Assessment.Quality
	if quality == "" {
		quality = clinical.QualityOK
	}

	var visit db.Visit
	err = s.withTx(ctx, func(ctx context.Context, q db.Querier) error {
		existing, err := q.GetVisitByID(ctx, p.VisitID)
		if err != nil {
			return notFound("PersistRiskAssessment: get visit", err)
		}
		if existing.AssessmentStatus == db.AssessmentStatusDone && !p.Reassess {
			visit = existing
			return ErrAlreadyAssessed
		}
		if existing.InputRevision != p.InputRevision {
			visit = existing
			return ErrInputsChanged
		}

		updated, err := q.FinalizeVisitAssessment(ctx, db.FinalizeVisitAssessmentParams{
			ID:                p.VisitID,
			StructuredData:    structured,
			RiskAssessment:    snapshot,
			RiskLevel:         string(p.Assessment.RiskLevel),
			RiskScore:         int16(clinical.ClampScore(p.Assessment.RiskScore)),
			AssessmentQuality: string(quality),
		})
		if err != nil {
			return fmt.Errorf("PersistRiskAssessment: finalize visit: %w", err)
		}
		visit = updated

		if p.Assessment.Degraded() {
			return nil
		}

		if _, err := q.InsertRiskHistory(ctx, db.InsertRiskHistoryParams{
			ID:          uuid.New(),
			PatientID:   updated.PatientID,
			VisitID:     uuid.NullUUID{UUID: updated.ID, Valid: true},
			RiskLevel:   string(p.Assessment.RiskLevel),
			RiskScore:   int16(clinical.ClampScore(p.Assessment.RiskScore)),
			RiskFactors: p.Assessment.RiskFactors,
			Source:      db.RiskSourceAI,
			Note:        nullString(p.Assessment.Summary),
		}); err != nil {
			return fmt.Errorf("PersistRiskAssessment: insert risk history: %w", err)
		}

		if _, err := q.UpdatePatientRisk(ctx, db.UpdatePatientRiskParams{
			ID:        updated.PatientID,
			RiskLevel: string(p.Assessment.RiskLevel),
			RiskScore: int16(clinical.ClampScore(p.Assessment.RiskScore)),
		}); err != nil {
			return fmt.Errorf("PersistRiskAssessment: update patient risk: %w", err)
		}
		return nil
	})

	if errors.Is(err, ErrAlreadyAssessed) || errors.Is(err, ErrInputsChanged) {
		return visit, err
	}
	if err != nil {
		return db.Visit{}, err
	}
	return visit, nil
}

// SaveVisitNote stores a generated note on the visit. The visit goes back to
// pending so the worker re-assesses it against the new note.
func (s *Store) SaveVisitNote(ctx context.Context, visitID uuid.UUID, template string, sections map[string]string) (db.Visit, error) {
	encoded, err := encodeSections(sections)
	if err != nil {
		return db.Visit{}, fmt.Errorf("SaveVisitNote: encode sections: %w", err)
	}
	visit, err := s.q.SetVisitNote(ctx, db.SetVisitNoteParams{
		ID:           visitID,
		NoteTemplate: nullString(template),
		NoteSections: encoded,
	})
	if err != nil {
		return db.Visit{}, notFound("SaveVisitNote", err)
	}
	return visit, nil
}

// MarkVisitProcessing records that a worker has picked the visit up.
func (s *Store) MarkVisitProcessing(ctx context.Context, visitID uuid.UUID) (db.Visit, error) {
	visit, err := s.q.SetVisitProcessing(ctx, visitID)
	if err != nil {
		return db.Visit{}, notFound("MarkVisitProcessing", err)
	}
	return visit, nil
}

// MarkVisitFailed sets the visit status to error with a descriptive message.
// Called by the worker when persistence fails permanently (after exhausting
// retries). The pipeline itself never fails, so this only records storage or
// loading problems.
func (s *Store) MarkVisitFailed(ctx context.Context, visitID uuid.UUID, reason string) (db.Visit, error) {
	visit, err := s.q.SetVisitError(ctx, db.SetVisitErrorParams{
		ID:              visitID,
		AssessmentError: sql.NullString{String: reason, Valid: true},
	})
	if err != nil {
		return db.Visit{}, fmt.Errorf("MarkVisitFailed: %w", err)
	}
	return visit, nil
}

func encodeSections(sections map[string]string) (pqtype.NullRawMessage, error) {
	if len(sections) == 0 {
		return pqtype.NullRawMessage{}, nil
	}
	return encodeJSON(sections)
}
