package db

import (
	"context"

	"github.com/google/uuid"
)

// Querier is the full query surface. Handlers and the worker depend on this
// interface so tests can substitute an in-memory implementation.
type Querier interface {
	// patients
	CreatePatient(ctx context.Context, arg CreatePatientParams) (Patient, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (Patient, error)
	UpdatePatientRisk(ctx context.Context, arg UpdatePatientRiskParams) (Patient, error)

	// visits
	CreateVisit(ctx context.Context, arg CreateVisitParams) (Visit, error)
	GetVisitByID(ctx context.Context, id uuid.UUID) (Visit, error)
	ListVisitsByPatient(ctx context.Context, arg ListVisitsByPatientParams) ([]Visit, error)
	ListPreviousVisits(ctx context.Context, arg ListPreviousVisitsParams) ([]Visit, error)
	ListPendingVisits(ctx context.Context, limit int32) ([]Visit, error)
	SetVisitProcessing(ctx context.Context, id uuid.UUID) (Visit, error)
	SetVisitNote(ctx context.Context, arg SetVisitNoteParams) (Visit, error)
	FinalizeVisitAssessment(ctx context.Context, arg FinalizeVisitAssessmentParams) (Visit, error)
	SetVisitError(ctx context.Context, arg SetVisitErrorParams) (Visit, error)

	// risk history
	InsertRiskHistory(ctx context.Context, arg InsertRiskHistoryParams) (RiskHistory, error)
	ListRiskHistory(ctx context.Context, arg ListRiskHistoryParams) ([]RiskHistory, error)
}
