// Package api implements the HTTP layer of the clinical risk backend.
// Handlers are methods on *Server. Each handler file is responsible for one
// resource group and only imports the dependencies it actually uses.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/nyashahama/clinical-risk-backend/internal/ai"
	"github.com/nyashahama/clinical-risk-backend/internal/db"
	"github.com/nyashahama/clinical-risk-backend/internal/email"
	"github.com/nyashahama/clinical-risk-backend/internal/notes"
	"github.com/nyashahama/clinical-risk-backend/internal/risk"
	"github.com/nyashahama/clinical-risk-backend/internal/store"
	"github.com/nyashahama/clinical-risk-backend/internal/worker"
)

// Config holds values read from environment variables at startup.
type Config struct {
	// APIKey is compared against the X-API-Key header on every /api route.
	// Empty disables the check (development only; config refuses it in
	// production).
	APIKey string

	// Env is "production", "staging", or "development".
	Env string
}

// Store is the set of multi-step writes the handlers need. *store.Store
// implements it; tests inject a stub.
type Store interface {
	CreateVisit(ctx context.Context, p store.CreateVisitParams) (db.Visit, error)
	LoadAssessmentInput(ctx context.Context, visitID uuid.UUID) (store.AssessmentInput, error)
	PersistRiskAssessment(ctx context.Context, p store.PersistRiskAssessmentParams) (db.Visit, error)
	RecordManualRisk(ctx context.Context, p store.RecordManualRiskParams) (db.RiskHistory, error)
	SaveVisitNote(ctx context.Context, visitID uuid.UUID, template string, sections map[string]string) (db.Visit, error)
}

// NoteWriter generates notes and patient summaries. *notes.Writer
// implements it.
type NoteWriter interface {
	Generate(ctx context.Context, transcription string, tpl notes.Template) (notes.Note, error)
	PatientSummary(ctx context.Context, note notes.Note, patientName string) (notes.EmailDraft, error)
}

// HealthCheck reports whether a backing service is reachable.
type HealthCheck func(ctx context.Context) error

// Deps are the Server's collaborators, grouped so NewServer stays readable.
type Deps struct {
	// Q handles all single-query reads. Injected directly, no repo wrapper.
	Q db.Querier

	// Store handles multi-step atomic writes.
	Store Store

	// Assessor runs the risk and extraction pipeline.
	Assessor risk.Assessor

	// Notes writes clinical notes and patient email drafts.
	Notes NoteWriter

	// Chat streams free-form completions for the assistant panel.
	Chat ai.Generator

	// Worker enqueues background assessments for new or re-noted visits.
	Worker worker.Enqueuer

	// Mailer relays email to patients.
	Mailer email.Sender

	// Health backs /healthz. Nil reports healthy.
	Health HealthCheck
}

// Server holds all shared dependencies. Each handler file attaches methods to
// this type and uses only the fields it needs.
type Server struct {
	q        db.Querier
	store    Store
	assessor risk.Assessor
	notes    NoteWriter
	chat     ai.Generator
	worker   worker.Enqueuer
	mailer   email.Sender
	health   HealthCheck

	cfg    Config
	logger *slog.Logger
}

// Timeouts per route group. Model-backed routes wait on one or two
// completions, so they get longer than plain CRUD.
const (
	crudTimeout   = 30 * time.Second
	aiTimeout     = 2 * time.Minute
	healthTimeout = 3 * time.Second
)

// NewServer constructs the Server and wires the chi router. The returned
// http.Handler is ready to pass to an http.Server.
func NewServer(deps Deps, cfg Config, logger *slog.Logger) http.Handler {
	s := &Server{
		q:        deps.Q,
		store:    deps.Store,
		assessor: deps.Assessor,
		notes:    deps.Notes,
		chat:     deps.Chat,
		worker:   deps.Worker,
		mailer:   deps.Mailer,
		health:   deps.Health,
		cfg:      cfg,
		logger:   logger,
	}

	return s.routes()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// ── Global middleware ─────────────────────────────────────────────────────
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggerMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	// ── Health ────────────────────────────────────────────────────────────────
	r.Get("/healthz", s.handleHealthz)

	// ── API ───────────────────────────────────────────────────────────────────
	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireAPIKey)

		// Records.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(crudTimeout))

			r.Post("/patients", s.handleCreatePatient)
			r.Get("/patients/{patientID}", s.handleGetPatient)
			r.Post("/patients/{patientID}/visits", s.handleCreateVisit)
			r.Get("/patients/{patientID}/visits", s.handleListVisits)
			r.Get("/patients/{patientID}/risk-history", s.handleListRiskHistory)
			r.Post("/patients/{patientID}/risk-history", s.handleRecordManualRisk)
			r.Get("/visits/{visitID}", s.handleGetVisit)
			r.Post("/email/send", s.handleSendEmail)
		})

		// Model-backed.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(aiTimeout))

			r.Post("/visits/{visitID}/assess", s.handleAssessVisit)
			r.Post("/visits/{visitID}/summary-email", s.handleSummaryEmail)
			r.Post("/extract", s.handleExtract)
			r.Post("/notes", s.handleGenerateNote)
		})

		// Streaming runs until the model finishes or the client hangs up.
		r.Post("/chat/stream", s.handleChatStream)
	})

	return r
}

// handleHealthz answers 200 when every backing service responds and 503
// otherwise. It is unauthenticated so load balancers can call it.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if err := s.health(ctx); err != nil {
		s.logger.Warn("health check failed", "error", err)
		respondErr(w, http.StatusServiceUnavailable, "unhealthy")
		return
	}
	w.WriteHeader(http.StatusOK)
}
