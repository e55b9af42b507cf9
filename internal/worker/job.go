package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/nyashahama/clinical-risk-backend/internal/clinical"
	"github.com/nyashahama/clinical-risk-backend/internal/db"
	"github.com/nyashahama/clinical-risk-backend/internal/risk"
	"github.com/nyashahama/clinical-risk-backend/internal/store"
	"golang.org/x/sync/errgroup"
)

// VisitStore is the slice of *store.Store the pipeline needs. Tests swap in
// an in-memory implementation.
type VisitStore interface {
	LoadAssessmentInput(ctx context.Context, visitID uuid.UUID) (store.AssessmentInput, error)
	MarkVisitProcessing(ctx context.Context, visitID uuid.UUID) (db.Visit, error)
	PersistRiskAssessment(ctx context.Context, p store.PersistRiskAssessmentParams) (db.Visit, error)
	MarkVisitFailed(ctx context.Context, visitID uuid.UUID, reason string) (db.Visit, error)
}

// Job holds the dependencies for the extract-and-assess pipeline.
type Job struct {
	store    VisitStore
	assessor risk.Assessor
	logger   *slog.Logger
}

// NewJob constructs a Job with all required dependencies.
func NewJob(st VisitStore, assessor risk.Assessor, logger *slog.Logger) *Job {
	return &Job{
		store:    st,
		assessor: assessor,
		logger:   logger,
	}
}

// Run executes the full pipeline for a single visit:
//
//  1. Load the visit, its patient and up to three earlier visits.
//  2. Mark the visit as processing.
//  3. Extract structured data and assess risk concurrently.
//  4. Persist everything atomically via store.PersistRiskAssessment.
//
// The pipeline steps never fail, so any error returned here comes from
// storage. The Runner retries it up to MaxRetries times before calling
// store.MarkVisitFailed.
func (j *Job) Run(ctx context.Context, visitID uuid.UUID) error {
	log := j.logger.With("visit_id", visitID)
	log.Info("job: starting")

	// ── 1. Load inputs ────────────────────────────────────────────────────────
	in, err := j.store.LoadAssessmentInput(ctx, visitID)
	if errors.Is(err, store.ErrNotFound) {
		// Visit deleted since it was enqueued. Nothing to retry.
		log.Warn("job: visit no longer exists, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("job: load input: %w", err)
	}
	if in.Visit.AssessmentStatus == db.AssessmentStatusDone {
		log.Debug("job: visit already assessed, skipping")
		return nil
	}

	log.Debug("job: loaded input", "previous_visits", len(in.Previous))

	// ── 2. Claim ──────────────────────────────────────────────────────────────
	if _, err := j.store.MarkVisitProcessing(ctx, visitID); err != nil {
		return fmt.Errorf("job: mark processing: %w", err)
	}

	// ── 3. Extract + assess ───────────────────────────────────────────────────
	assessment, structured := Analyze(ctx, j.assessor, in)

	if assessment.Degraded() {
		log.Warn("job: assessment degraded, storing fallback for manual review")
	}

	// ── 4. Persist ────────────────────────────────────────────────────────────
	visit, err := j.store.PersistRiskAssessment(ctx, store.PersistRiskAssessmentParams{
		VisitID:       visitID,
		Assessment:    assessment,
		Structured:    structured,
		InputRevision: in.Visit.InputRevision,
	})
	if errors.Is(err, store.ErrAlreadyAssessed) {
		log.Debug("job: visit assessed concurrently, keeping existing result")
		return nil
	}
	if errors.Is(err, store.ErrInputsChanged) {
		// The visit is pending again; the runner or poller re-queues it.
		log.Info("job: note changed during assessment, discarding stale result")
		return nil
	}
	if err != nil {
		return fmt.Errorf("job: persist assessment: %w", err)
	}

	log.Info("job: assessment persisted",
		"risk_level", visit.RiskLevel.String,
		"risk_score", visit.RiskScore.Int16,
		"quality", visit.AssessmentQuality.String,
	)
	return nil
}

// Analyze runs extraction and risk assessment side by side. Neither call can
// fail, so the group only exists to wait for both. Structured data is nil
// when the visit has nothing to extract from.
func Analyze(ctx context.Context, assessor risk.Assessor, in store.AssessmentInput) (clinical.RiskAssessment, *clinical.StructuredData) {
	var (
		assessment clinical.RiskAssessment
		structured *clinical.StructuredData
	)

	var g errgroup.Group
	g.Go(func() error {
		assessment = assessor.AnalyzeVisitRisk(ctx, in.Current, in.Patient, in.Previous)
		return nil
	})
	if content := NoteContent(in.Current); len(content) > 0 {
		g.Go(func() error {
			sd := assessor.ExtractStructuredData(ctx, content)
			structured = &sd
			return nil
		})
	}
	_ = g.Wait()

	return assessment, structured
}

// NoteContent picks what the extractor reads: the note sections when the
// visit has them, otherwise the raw transcription. Visits with neither skip
// extraction.
func NoteContent(v clinical.VisitData) map[string]string {
	if len(v.NoteSections) > 0 {
		return v.NoteSections
	}
	if t := strings.TrimSpace(v.Transcription); t != "" {
		return map[string]string{"transcription": t}
	}
	return nil
}
