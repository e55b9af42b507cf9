package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// AssessmentStatus tracks a visit through the background pipeline.
type AssessmentStatus string

const (
	AssessmentStatusPending    AssessmentStatus = "pending"
	AssessmentStatusProcessing AssessmentStatus = "processing"
	AssessmentStatusDone       AssessmentStatus = "done"
	AssessmentStatusError      AssessmentStatus = "error"
)

// RiskSource records who produced a risk_history row.
type RiskSource string

const (
	RiskSourceAI     RiskSource = "ai"
	RiskSourceManual RiskSource = "manual"
)

type Patient struct {
	ID          uuid.UUID
	Name        string
	Email       sql.NullString
	Age         sql.NullInt32
	Gender      sql.NullString
	Diagnoses   []string
	Medications []string
	Allergies   []string
	RiskLevel   sql.NullString
	RiskScore   sql.NullInt16
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Visit struct {
	ID                uuid.UUID
	PatientID         uuid.UUID
	VisitDate         time.Time
	ChiefComplaint    sql.NullString
	Diagnosis         sql.NullString
	Vitals            pqtype.NullRawMessage
	Summary           sql.NullString
	TreatmentPlan     sql.NullString
	NoteTemplate      sql.NullString
	NoteSections      pqtype.NullRawMessage
	Transcription     sql.NullString
	StructuredData    pqtype.NullRawMessage
	RiskAssessment    pqtype.NullRawMessage
	RiskLevel         sql.NullString
	RiskScore         sql.NullInt16
	AssessmentQuality sql.NullString
	AssessmentStatus  AssessmentStatus
	AssessmentError   sql.NullString
	AssessedAt        sql.NullTime
	InputRevision     int32
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type RiskHistory struct {
	ID          uuid.UUID
	PatientID   uuid.UUID
	VisitID     uuid.NullUUID
	RiskLevel   string
	RiskScore   int16
	RiskFactors []string
	Source      RiskSource
	Note        sql.NullString
	CreatedAt   time.Time
}
