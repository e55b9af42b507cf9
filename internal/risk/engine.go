// Package risk turns visit data into a normalized risk assessment and clinical
// notes into structured data. Both pipelines make exactly one model call and
// never fail outward: any error degrades to a conservative default that is
// marked as such.
//
// Dependency rule: risk imports ai, clinical and jsonscan only. It never
// imports store, api or worker; persistence is the caller's job.
package risk

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nyashahama/clinical-risk-backend/internal/ai"
	"github.com/nyashahama/clinical-risk-backend/internal/clinical"
	"github.com/nyashahama/clinical-risk-backend/internal/jsonscan"
)

// Model parameters for the two pipelines.
const (
	AssessTemperature  = 0.3
	AssessMaxTokens    = 1500
	ExtractTemperature = 0.1
	ExtractMaxTokens   = 2000
)

// Assessor is what the worker and HTTP layer depend on. *Engine and
// *CachedEngine both satisfy it.
type Assessor interface {
	AnalyzeVisitRisk(ctx context.Context, visit clinical.VisitData, patient clinical.PatientData, previous []clinical.VisitData) clinical.RiskAssessment
	ExtractStructuredData(ctx context.Context, noteContent map[string]string) clinical.StructuredData
}

// Engine runs the prompt → model → parse → normalize pipeline. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	gen    ai.Generator
	logger *slog.Logger
}

// NewEngine returns an Engine that sends prompts to gen.
func NewEngine(gen ai.Generator, logger *slog.Logger) *Engine {
	return &Engine{gen: gen, logger: logger}
}

// AnalyzeVisitRisk assesses one visit. It always returns a complete
// assessment; on any failure the result is clinical.FallbackAssessment and
// the cause is logged.
func (e *Engine) AnalyzeVisitRisk(
	ctx context.Context,
	visit clinical.VisitData,
	patient clinical.PatientData,
	previous []clinical.VisitData,
) (out clinical.RiskAssessment) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("risk: assessment panicked", "panic", fmt.Sprint(p))
			out = clinical.FallbackAssessment()
		}
	}()

	text, err := e.gen.GenerateText(ctx,
		[]ai.Message{{Role: ai.RoleUser, Content: BuildContext(visit, patient, previous)}},
		ai.Options{
			SystemPrompt: SystemPrompt,
			Temperature:  AssessTemperature,
			MaxTokens:    AssessMaxTokens,
		},
	)
	if err != nil {
		e.logger.Error("risk: model call failed", "error", err)
		return clinical.FallbackAssessment()
	}

	obj, err := jsonscan.Decode(text)
	if err != nil {
		e.logger.Error("risk: could not parse model response",
			"error", err,
			"response_chars", len(text),
		)
		return clinical.FallbackAssessment()
	}

	a := normalizeAssessment(obj)
	e.logger.Debug("risk: assessment complete",
		"risk_level", a.RiskLevel,
		"risk_score", a.RiskScore,
		"urgency", a.FollowUpUrgency,
	)
	return a
}
