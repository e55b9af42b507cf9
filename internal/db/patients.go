package db

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const patientColumns = `id, name, email, age, gender, diagnoses, medications, allergies,
	risk_level, risk_score, created_at, updated_at`

func scanPatient(row rowScanner) (Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.Age,
		&p.Gender,
		pq.Array(&p.Diagnoses),
		pq.Array(&p.Medications),
		pq.Array(&p.Allergies),
		&p.RiskLevel,
		&p.RiskScore,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

const createPatient = `INSERT INTO patients (id, name, email, age, gender, diagnoses, medications, allergies)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + patientColumns

type CreatePatientParams struct {
	ID          uuid.UUID
	Name        string
	Email       sql.NullString
	Age         sql.NullInt32
	Gender      sql.NullString
	Diagnoses   []string
	Medications []string
	Allergies   []string
}

func (q *Queries) CreatePatient(ctx context.Context, arg CreatePatientParams) (Patient, error) {
	return scanPatient(q.db.QueryRowContext(ctx, createPatient,
		arg.ID,
		arg.Name,
		arg.Email,
		arg.Age,
		arg.Gender,
		pq.Array(nonNil(arg.Diagnoses)),
		pq.Array(nonNil(arg.Medications)),
		pq.Array(nonNil(arg.Allergies)),
	))
}

const getPatientByID = `SELECT ` + patientColumns + ` FROM patients WHERE id = $1`

func (q *Queries) GetPatientByID(ctx context.Context, id uuid.UUID) (Patient, error) {
	return scanPatient(q.db.QueryRowContext(ctx, getPatientByID, id))
}

const updatePatientRisk = `UPDATE patients
SET risk_level = $2, risk_score = $3, updated_at = now()
WHERE id = $1
RETURNING ` + patientColumns

type UpdatePatientRiskParams struct {
	ID        uuid.UUID
	RiskLevel string
	RiskScore int16
}

func (q *Queries) UpdatePatientRisk(ctx context.Context, arg UpdatePatientRiskParams) (Patient, error) {
	return scanPatient(q.db.QueryRowContext(ctx, updatePatientRisk, arg.ID, arg.RiskLevel, arg.RiskScore))
}

// nonNil turns a nil slice into an empty one so NOT NULL text[] columns get
// '{}' rather than NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
