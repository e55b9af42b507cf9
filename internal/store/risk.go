package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/nyashahama/clinical-risk-backend/internal/clinical"
	"github.com/nyashahama/clinical-risk-backend/internal/db"
)

// RecordManualRiskParams is a clinician's own risk judgement.
type RecordManualRiskParams struct {
	PatientID uuid.UUID
	VisitID   uuid.NullUUID
	Level     clinical.RiskLevel
	Score     int
	Factors   []string
	Note      string
}

// RecordManualRisk appends a manual risk_history row and makes it the
// patient's current risk level, in one transaction.
func (s *Store) RecordManualRisk(ctx context.Context, p RecordManualRiskParams) (db.RiskHistory, error) {
	if !p.Level.Valid() {
		return db.RiskHistory{}, fmt.Errorf("RecordManualRisk: unknown risk level %q", p.Level)
	}
	score := int16(clinical.ClampScore(p.Score))

	var row db.RiskHistory
	err := s.withTx(ctx, func(ctx context.Context, q db.Querier) error {
		if _, err := q.GetPatientByID(ctx, p.PatientID); err != nil {
			return notFound("RecordManualRisk: get patient", err)
		}
		if p.VisitID.Valid {
			v, err := q.GetVisitByID(ctx, p.VisitID.UUID)
			if err != nil {
				return notFound("RecordManualRisk: get visit", err)
			}
			if v.PatientID != p.PatientID {
				return ErrNotFound
			}
		}

		inserted, err := q.InsertRiskHistory(ctx, db.InsertRiskHistoryParams{
			ID:          uuid.New(),
			PatientID:   p.PatientID,
			VisitID:     p.VisitID,
			RiskLevel:   string(p.Level),
			RiskScore:   score,
			RiskFactors: p.Factors,
			Source:      db.RiskSourceManual,
			Note:        nullString(p.Note),
		})
		if err != nil {
			return fmt.Errorf("RecordManualRisk: insert: %w", err)
		}

		if _, err := q.UpdatePatientRisk(ctx, db.UpdatePatientRiskParams{
			ID:        p.PatientID,
			RiskLevel: string(p.Level),
			RiskScore: score,
		}); err != nil {
			return fmt.Errorf("RecordManualRisk: update patient: %w", err)
		}
		row = inserted
		return nil
	})
	if err != nil {
		return db.RiskHistory{}, err
	}
	return row, nil
}
