package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const riskHistoryColumns = `id, patient_id, visit_id, risk_level, risk_score, risk_factors, source, note, created_at`

func scanRiskHistory(row rowScanner) (RiskHistory, error) {
	var h RiskHistory
	err := row.Scan(
		&h.ID,
		&h.PatientID,
		&h.VisitID,
		&h.RiskLevel,
		&h.RiskScore,
		pq.Array(&h.RiskFactors),
		&h.Source,
		&h.Note,
		&h.CreatedAt,
	)
	return h, err
}

const insertRiskHistory = `INSERT INTO risk_history (id, patient_id, visit_id, risk_level, risk_score, risk_factors, source, note)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + riskHistoryColumns

type InsertRiskHistoryParams struct {
	ID          uuid.UUID
	PatientID   uuid.UUID
	VisitID     uuid.NullUUID
	RiskLevel   string
	RiskScore   int16
	RiskFactors []string
	Source      RiskSource
	Note        sql.NullString
}

func (q *Queries) InsertRiskHistory(ctx context.Context, arg InsertRiskHistoryParams) (RiskHistory, error) {
	return scanRiskHistory(q.db.QueryRowContext(ctx, insertRiskHistory,
		arg.ID,
		arg.PatientID,
		arg.VisitID,
		arg.RiskLevel,
		arg.RiskScore,
		pq.Array(nonNil(arg.RiskFactors)),
		arg.Source,
		arg.Note,
	))
}

const listRiskHistory = `SELECT ` + riskHistoryColumns + `
FROM risk_history
WHERE patient_id = $1
ORDER BY created_at DESC
LIMIT $2`

type ListRiskHistoryParams struct {
	PatientID uuid.UUID
	Limit     int32
}

func (q *Queries) ListRiskHistory(ctx context.Context, arg ListRiskHistoryParams) ([]RiskHistory, error) {
	rows, err := q.db.QueryContext(ctx, listRiskHistory, arg.PatientID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RiskHistory
	for rows.Next() {
		h, err := scanRiskHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan risk history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
