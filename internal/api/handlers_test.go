package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nyashahama/clinical-risk-backend/internal/ai"
	"github.com/nyashahama/clinical-risk-backend/internal/api"
	"github.com/nyashahama/clinical-risk-backend/internal/clinical"
	"github.com/nyashahama/clinical-risk-backend/internal/db"
	"github.com/nyashahama/clinical-risk-backend/internal/email"
	"github.com/nyashahama/clinical-risk-backend/internal/notes"
	"github.com/nyashahama/clinical-risk-backend/internal/store"
	"github.com/sqlc-dev/pqtype"
)

const testAPIKey = "test-key"

// ─── STUBS ────────────────────────────────────────────────────────────────────

// stubQuerier satisfies db.Querier with in-memory state.
type stubQuerier struct {
	db.Querier // embedded to panic on unimplemented methods

	mu       sync.Mutex
	patients map[uuid.UUID]db.Patient
	visits   map[uuid.UUID]db.Visit
	history  map[uuid.UUID][]db.RiskHistory

	createPatientErr error
}

func newStubQuerier() *stubQuerier {
	return &stubQuerier{
		patients: make(map[uuid.UUID]db.Patient),
		visits:   make(map[uuid.UUID]db.Visit),
		history:  make(map[uuid.UUID][]db.RiskHistory),
	}
}

func (q *stubQuerier) CreatePatient(_ context.Context, p db.CreatePatientParams) (db.Patient, error) {
	if q.createPatientErr != nil {
		return db.Patient{}, q.createPatientErr
	}
	row := db.Patient{
		ID:          p.ID,
		Name:        p.Name,
		Email:       p.Email,
		Age:         p.Age,
		Gender:      p.Gender,
		Diagnoses:   p.Diagnoses,
		Medications: p.Medications,
		Allergies:   p.Allergies,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	q.mu.Lock()
	q.patients[row.ID] = row
	q.mu.Unlock()
	return row, nil
}

func (q *stubQuerier) GetPatientByID(_ context.Context, id uuid.UUID) (db.Patient, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.patients[id]
	if !ok {
		return db.Patient{}, sql.ErrNoRows
	}
	return p, nil
}

func (q *stubQuerier) GetVisitByID(_ context.Context, id uuid.UUID) (db.Visit, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	v, ok := q.visits[id]
	if !ok {
		return db.Visit{}, sql.ErrNoRows
	}
	return v, nil
}

func (q *stubQuerier) ListVisitsByPatient(_ context.Context, p db.ListVisitsByPatientParams) ([]db.Visit, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []db.Visit
	for _, v := range q.visits {
		if v.PatientID == p.PatientID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (q *stubQuerier) ListRiskHistory(_ context.Context, p db.ListRiskHistoryParams) ([]db.RiskHistory, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.history[p.PatientID], nil
}

func (q *stubQuerier) addPatient(name, emailAddr string) db.Patient {
	p := db.Patient{
		ID:        uuid.New(),
		Name:      name,
		Email:     sql.NullString{String: emailAddr, Valid: emailAddr != ""},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	q.mu.Lock()
	q.patients[p.ID] = p
	q.mu.Unlock()
	return p
}

func (q *stubQuerier) addVisit(v db.Visit) db.Visit {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.AssessmentStatus == "" {
		v.AssessmentStatus = db.AssessmentStatusPending
	}
	v.VisitDate = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	v.CreatedAt = v.VisitDate
	q.mu.Lock()
	q.visits[v.ID] = v
	q.mu.Unlock()
	return v
}

// stubStore records the multi-step writes the handlers request.
type stubStore struct {
	q *stubQuerier

	createErr   error
	loadErr     error
	manualErr   error
	persistErr  error
	persisted   []store.PersistRiskAssessmentParams
	manual      []store.RecordManualRiskParams
	savedNotes  map[uuid.UUID]map[string]string
	lastCreated store.CreateVisitParams
}

func (s *stubStore) CreateVisit(ctx context.Context, p store.CreateVisitParams) (db.Visit, error) {
	if s.createErr != nil {
		return db.Visit{}, s.createErr
	}
	if _, err := s.q.GetPatientByID(ctx, p.PatientID); err != nil {
		return db.Visit{}, store.ErrNotFound
	}
	s.lastCreated = p
	v := db.Visit{
		PatientID:      p.PatientID,
		ChiefComplaint: sql.NullString{String: p.Visit.ChiefComplaint, Valid: p.Visit.ChiefComplaint != ""},
	}
	if !p.Visit.Vitals.IsZero() {
		b, _ := json.Marshal(p.Visit.Vitals)
		v.Vitals = pqtype.NullRawMessage{RawMessage: b, Valid: true}
	}
	return s.q.addVisit(v), nil
}

func (s *stubStore) LoadAssessmentInput(ctx context.Context, id uuid.UUID) (store.AssessmentInput, error) {
	if s.loadErr != nil {
		return store.AssessmentInput{}, s.loadErr
	}
	v, err := s.q.GetVisitByID(ctx, id)
	if err != nil {
		return store.AssessmentInput{}, store.ErrNotFound
	}
	current, _ := store.VisitData(v)
	return store.AssessmentInput{Visit: v, Current: current}, nil
}

func (s *stubStore) PersistRiskAssessment(ctx context.Context, p store.PersistRiskAssessmentParams) (db.Visit, error) {
	if s.persistErr != nil {
		return db.Visit{}, s.persistErr
	}
	s.persisted = append(s.persisted, p)
	v, err := s.q.GetVisitByID(ctx, p.VisitID)
	if err != nil {
		return db.Visit{}, store.ErrNotFound
	}
	b, _ := json.Marshal(p.Assessment)
	v.RiskAssessment = pqtype.NullRawMessage{RawMessage: b, Valid: true}
	v.AssessmentStatus = db.AssessmentStatusDone
	return s.q.addVisit(v), nil
}

func (s *stubStore) RecordManualRisk(ctx context.Context, p store.RecordManualRiskParams) (db.RiskHistory, error) {
	if s.manualErr != nil {
		return db.RiskHistory{}, s.manualErr
	}
	s.manual = append(s.manual, p)
	return db.RiskHistory{
		ID:          uuid.New(),
		PatientID:   p.PatientID,
		VisitID:     p.VisitID,
		RiskLevel:   string(p.Level),
		RiskScore:   int16(p.Score),
		RiskFactors: p.Factors,
		Source:      db.RiskSourceManual,
		CreatedAt:   time.Now(),
	}, nil
}

func (s *stubStore) SaveVisitNote(ctx context.Context, id uuid.UUID, tpl string, sections map[string]string) (db.Visit, error) {
	v, err := s.q.GetVisitByID(ctx, id)
	if err != nil {
		return db.Visit{}, store.ErrNotFound
	}
	if s.savedNotes == nil {
		s.savedNotes = map[uuid.UUID]map[string]string{}
	}
	s.savedNotes[id] = sections
	b, _ := json.Marshal(sections)
	v.NoteTemplate = sql.NullString{String: tpl, Valid: true}
	v.NoteSections = pqtype.NullRawMessage{RawMessage: b, Valid: true}
	v.AssessmentStatus = db.AssessmentStatusPending
	return s.q.addVisit(v), nil
}

type stubAssessor struct {
	assessment clinical.RiskAssessment
	structured clinical.StructuredData
	extracted  []map[string]string
}

func (a *stubAssessor) AnalyzeVisitRisk(context.Context, clinical.VisitData, clinical.PatientData, []clinical.VisitData) clinical.RiskAssessment {
	return a.assessment
}

func (a *stubAssessor) ExtractStructuredData(_ context.Context, content map[string]string) clinical.StructuredData {
	a.extracted = append(a.extracted, content)
	return a.structured
}

type stubNotes struct {
	note     notes.Note
	draft    notes.EmailDraft
	err      error
	draftErr error
}

func (n *stubNotes) Generate(_ context.Context, transcription string, tpl notes.Template) (notes.Note, error) {
	if n.err != nil {
		return notes.Note{}, n.err
	}
	note := n.note
	note.Template = tpl
	return note, nil
}

func (n *stubNotes) PatientSummary(context.Context, notes.Note, string) (notes.EmailDraft, error) {
	return n.draft, n.draftErr
}

type stubChat struct {
	ai.Generator
	chunks []string
	err    error
}

func (c *stubChat) StreamText(_ context.Context, _ []ai.Message, _ ai.Options, onChunk func(string)) error {
	for _, ch := range c.chunks {
		onChunk(ch)
	}
	return c.err
}

type stubWorker struct {
	mu       sync.Mutex
	enqueued []uuid.UUID
	err      error
}

func (w *stubWorker) Enqueue(_ context.Context, id uuid.UUID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enqueued = append(w.enqueued, id)
	return w.err
}

type stubMailer struct {
	sent []email.Message
	err  error
}

func (m *stubMailer) Send(_ context.Context, msg email.Message) (email.Receipt, error) {
	if err := msg.Validate(); err != nil {
		return email.Receipt{}, err
	}
	if m.err != nil {
		return email.Receipt{}, m.err
	}
	m.sent = append(m.sent, msg)
	return email.Receipt{MessageID: "msg_1", Status: "sent"}, nil
}

// ─── TEST HARNESS ─────────────────────────────────────────────────────────────

type testDeps struct {
	q        *stubQuerier
	store    *stubStore
	assessor *stubAssessor
	notes    *stubNotes
	chat     *stubChat
	worker   *stubWorker
	mailer   *stubMailer
	handler  http.Handler
}

func newTestServer(t *testing.T, cfgOverrides ...func(*api.Config)) *testDeps {
	t.Helper()

	q := newStubQuerier()
	deps := &testDeps{
		q:     q,
		store: &stubStore{q: q},
		assessor: &stubAssessor{
			assessment: clinical.RiskAssessment{
				RiskLevel:       clinical.RiskModerate,
				RiskScore:       40,
				RiskFactors:     []string{"smoker"},
				Concerns:        []string{},
				Recommendations: []string{},
				FollowUpUrgency: clinical.UrgencySoon,
				Quality:         clinical.QualityOK,
			},
			structured: clinical.EmptyStructuredData(),
		},
		notes:  &stubNotes{},
		chat:   &stubChat{},
		worker: &stubWorker{},
		mailer: &stubMailer{},
	}

	cfg := api.Config{Env: "development", APIKey: testAPIKey}
	for _, fn := range cfgOverrides {
		fn(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps.handler = api.NewServer(api.Deps{
		Q:        q,
		Store:    deps.store,
		Assessor: deps.assessor,
		Notes:    deps.notes,
		Chat:     deps.chat,
		Worker:   deps.worker,
		Mailer:   deps.mailer,
	}, cfg, logger)
	return deps
}

func authed() map[string]string {
	return map[string]string{"X-API-Key": testAPIKey}
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		if s, ok := body.(string); ok {
			bodyReader = strings.NewReader(s)
		} else {
			b, err := json.Marshal(body)
			if err != nil {
				t.Fatalf("marshal body: %v", err)
			}
			bodyReader = bytes.NewReader(b)
		}
	}
	req := httptest.NewRequest(method, path, bodyReader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(dst); err != nil {
		t.Fatalf("decode response body: %v (raw: %s)", err, rr.Body.String())
	}
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}

// ─── HEALTH + AUTH ────────────────────────────────────────────────────────────

func TestHealthz_NoAuthRequired(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodGet, "/healthz", nil, nil)
	expectStatus(t, rr, http.StatusOK)
}

func newHealthServer(check api.HealthCheck) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return api.NewServer(api.Deps{Q: newStubQuerier(), Health: check}, api.Config{APIKey: testAPIKey}, logger)
}

func TestHealthz_DependencyUpReturns200(t *testing.T) {
	calls := 0
	h := newHealthServer(func(ctx context.Context) error {
		calls++
		if _, ok := ctx.Deadline(); !ok {
			t.Error("health check must run under a deadline")
		}
		return nil
	})
	rr := doRequest(t, h, http.MethodGet, "/healthz", nil, nil)
	expectStatus(t, rr, http.StatusOK)
	if calls != 1 {
		t.Errorf("health check calls: got %d, want 1", calls)
	}
}

func TestHealthz_DependencyDownReturns503(t *testing.T) {
	h := newHealthServer(func(context.Context) error { return errors.New("redis: connection refused") })
	rr := doRequest(t, h, http.MethodGet, "/healthz", nil, nil)
	expectStatus(t, rr, http.StatusServiceUnavailable)
	if strings.Contains(rr.Body.String(), "connection refused") {
		t.Errorf("body must not leak the cause: %s", rr.Body.String())
	}
}

func TestAPIKey_MissingReturns401(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodGet, "/api/patients/"+uuid.NewString(), nil, nil)
	expectStatus(t, rr, http.StatusUnauthorized)
}

func TestAPIKey_WrongReturns401(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodGet, "/api/patients/"+uuid.NewString(), nil,
		map[string]string{"X-API-Key": "nope"})
	expectStatus(t, rr, http.StatusUnauthorized)
}

func TestAPIKey_EmptyConfigDisablesCheck(t *testing.T) {
	deps := newTestServer(t, func(c *api.Config) { c.APIKey = "" })
	rr := doRequest(t, deps.handler, http.MethodGet, "/api/patients/"+uuid.NewString(), nil, nil)
	expectStatus(t, rr, http.StatusNotFound)
}

func TestCORS_PreflightReturns204(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodOptions, "/api/patients", nil,
		map[string]string{"Origin": "http://localhost:3000"})
	expectStatus(t, rr, http.StatusNoContent)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow origin: %q", got)
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Headers"), "X-API-Key") {
		t.Error("X-API-Key must be an allowed header")
	}
}

// ─── PATIENTS ─────────────────────────────────────────────────────────────────

func TestCreatePatient_Returns201(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodPost, "/api/patients", map[string]any{
		"name":      "  Ada Lovelace ",
		"age":       36,
		"diagnoses": []string{"asthma", " ", ""},
	}, authed())
	expectStatus(t, rr, http.StatusCreated)

	var body map[string]any
	decodeJSON(t, rr, &body)
	if body["name"] != "Ada Lovelace" {
		t.Errorf("name: %v", body["name"])
	}
	if d, _ := body["diagnoses"].([]any); len(d) != 1 {
		t.Errorf("blank diagnoses must be dropped: %v", body["diagnoses"])
	}
	if a, _ := body["allergies"].([]any); a == nil {
		t.Error("allergies must be [] not null")
	}
}

func TestCreatePatient_Validation(t *testing.T) {
	deps := newTestServer(t)
	cases := map[string]any{
		"missing name":  map[string]any{"age": 40},
		"bad age":       map[string]any{"name": "X", "age": 200},
		"unknown field": map[string]any{"name": "X", "ssn": "123"},
		"malformed":     "{not json",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr := doRequest(t, deps.handler, http.MethodPost, "/api/patients", body, authed())
			expectStatus(t, rr, http.StatusBadRequest)
		})
	}
}

func TestCreatePatient_DBErrorReturns500(t *testing.T) {
	deps := newTestServer(t)
	deps.q.createPatientErr = errors.New("connection refused")
	rr := doRequest(t, deps.handler, http.MethodPost, "/api/patients", map[string]any{"name": "X"}, authed())
	expectStatus(t, rr, http.StatusInternalServerError)
	if strings.Contains(rr.Body.String(), "connection refused") {
		t.Error("internal error details must not leak")
	}
}

func TestGetPatient(t *testing.T) {
	deps := newTestServer(t)
	p := deps.q.addPatient("Grace", "grace@example.com")

	rr := doRequest(t, deps.handler, http.MethodGet, "/api/patients/"+p.ID.String(), nil, authed())
	expectStatus(t, rr, http.StatusOK)

	rr = doRequest(t, deps.handler, http.MethodGet, "/api/patients/"+uuid.NewString(), nil, authed())
	expectStatus(t, rr, http.StatusNotFound)

	rr = doRequest(t, deps.handler, http.MethodGet, "/api/patients/not-a-uuid", nil, authed())
	expectStatus(t, rr, http.StatusBadRequest)
}

// ─── VISITS ───────────────────────────────────────────────────────────────────

func TestCreateVisit_EnqueuesAssessment(t *testing.T) {
	deps := newTestServer(t)
	p := deps.q.addPatient("Grace", "")

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/patients/"+p.ID.String()+"/visits", map[string]any{
		"visitDate":      "2026-05-01",
		"chiefComplaint": "chest pain",
		"vitals":         map[string]any{"bloodPressure": "150/95", "heartRate": 102},
		"noteTemplate":   "SOAP",
	}, authed())
	expectStatus(t, rr, http.StatusCreated)

	var body map[string]any
	decodeJSON(t, rr, &body)
	if body["assessmentStatus"] != "pending" {
		t.Errorf("status: %v", body["assessmentStatus"])
	}
	if len(deps.worker.enqueued) != 1 || deps.worker.enqueued[0].String() != body["id"] {
		t.Errorf("enqueued: %v", deps.worker.enqueued)
	}
	if deps.store.lastCreated.NoteTemplate != "soap" {
		t.Errorf("template must be normalised, got %q", deps.store.lastCreated.NoteTemplate)
	}
	if deps.store.lastCreated.VisitDate.Day() != 1 {
		t.Errorf("visit date: %v", deps.store.lastCreated.VisitDate)
	}
}

func TestCreateVisit_QueueFullStillReturns201(t *testing.T) {
	deps := newTestServer(t)
	deps.worker.err = errors.New("queue full")
	p := deps.q.addPatient("Grace", "")

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/patients/"+p.ID.String()+"/visits",
		map[string]any{"chiefComplaint": "cough"}, authed())
	expectStatus(t, rr, http.StatusCreated)
}

func TestCreateVisit_Errors(t *testing.T) {
	deps := newTestServer(t)
	p := deps.q.addPatient("Grace", "")

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/patients/"+uuid.NewString()+"/visits",
		map[string]any{}, authed())
	expectStatus(t, rr, http.StatusNotFound)

	rr = doRequest(t, deps.handler, http.MethodPost, "/api/patients/"+p.ID.String()+"/visits",
		map[string]any{"visitDate": "yesterday"}, authed())
	expectStatus(t, rr, http.StatusBadRequest)

	rr = doRequest(t, deps.handler, http.MethodPost, "/api/patients/"+p.ID.String()+"/visits",
		map[string]any{"noteTemplate": "haiku"}, authed())
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestGetVisit_DecodesStoredAssessment(t *testing.T) {
	deps := newTestServer(t)
	p := deps.q.addPatient("Grace", "")
	snapshot, _ := json.Marshal(clinical.FallbackAssessment())
	v := deps.q.addVisit(db.Visit{
		PatientID:        p.ID,
		RiskAssessment:   pqtype.NullRawMessage{RawMessage: snapshot, Valid: true},
		AssessmentStatus: db.AssessmentStatusDone,
	})

	rr := doRequest(t, deps.handler, http.MethodGet, "/api/visits/"+v.ID.String(), nil, authed())
	expectStatus(t, rr, http.StatusOK)

	var body struct {
		RiskAssessment *clinical.RiskAssessment `json:"riskAssessment"`
		StructuredData *clinical.StructuredData `json:"structuredData"`
	}
	decodeJSON(t, rr, &body)
	if body.RiskAssessment == nil || !body.RiskAssessment.Degraded() {
		t.Fatalf("assessment: %+v", body.RiskAssessment)
	}
	if body.StructuredData != nil {
		t.Error("structuredData must be omitted when not extracted")
	}
}

func TestListVisits(t *testing.T) {
	deps := newTestServer(t)
	p := deps.q.addPatient("Grace", "")
	deps.q.addVisit(db.Visit{PatientID: p.ID})
	deps.q.addVisit(db.Visit{PatientID: p.ID})

	rr := doRequest(t, deps.handler, http.MethodGet, "/api/patients/"+p.ID.String()+"/visits", nil, authed())
	expectStatus(t, rr, http.StatusOK)
	var body struct {
		Visits []map[string]any `json:"visits"`
	}
	decodeJSON(t, rr, &body)
	if len(body.Visits) != 2 {
		t.Errorf("visits: %d", len(body.Visits))
	}
}

func TestAssessVisit_PersistsWithReassess(t *testing.T) {
	deps := newTestServer(t)
	p := deps.q.addPatient("Grace", "")
	sections, _ := json.Marshal(map[string]string{"assessment": "COPD exacerbation"})
	v := deps.q.addVisit(db.Visit{
		PatientID:    p.ID,
		NoteSections: pqtype.NullRawMessage{RawMessage: sections, Valid: true},
	})

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/visits/"+v.ID.String()+"/assess", nil, authed())
	expectStatus(t, rr, http.StatusOK)

	if len(deps.store.persisted) != 1 {
		t.Fatalf("persisted: %d", len(deps.store.persisted))
	}
	got := deps.store.persisted[0]
	if !got.Reassess || got.Structured == nil {
		t.Errorf("persist params: %+v", got)
	}
	if len(deps.assessor.extracted) != 1 {
		t.Errorf("extraction calls: %d", len(deps.assessor.extracted))
	}

	var body struct {
		AssessmentStatus string                   `json:"assessmentStatus"`
		RiskAssessment   *clinical.RiskAssessment `json:"riskAssessment"`
	}
	decodeJSON(t, rr, &body)
	if body.AssessmentStatus != "done" || body.RiskAssessment.RiskLevel != clinical.RiskModerate {
		t.Errorf("body: %+v", body)
	}
}

func TestAssessVisit_DegradedIsStill200(t *testing.T) {
	deps := newTestServer(t)
	deps.assessor.assessment = clinical.FallbackAssessment()
	p := deps.q.addPatient("Grace", "")
	v := deps.q.addVisit(db.Visit{PatientID: p.ID})

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/visits/"+v.ID.String()+"/assess", nil, authed())
	expectStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), `"assessmentQuality":"degraded"`) {
		t.Errorf("body must carry degraded quality: %s", rr.Body.String())
	}
}

func TestAssessVisit_UnknownVisitReturns404(t *testing.T) {
	deps := newTestServer(t)
	rr := doRequest(t, deps.handler, http.MethodPost, "/api/visits/"+uuid.NewString()+"/assess", nil, authed())
	expectStatus(t, rr, http.StatusNotFound)
}

func TestAssessVisit_NoteChangedReturns409(t *testing.T) {
	deps := newTestServer(t)
	deps.store.persistErr = store.ErrInputsChanged
	p := deps.q.addPatient("Grace", "")
	v := deps.q.addVisit(db.Visit{PatientID: p.ID, InputRevision: 4})

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/visits/"+v.ID.String()+"/assess", nil, authed())
	expectStatus(t, rr, http.StatusConflict)
}

func TestAssessVisit_PassesInputRevision(t *testing.T) {
	deps := newTestServer(t)
	p := deps.q.addPatient("Grace", "")
	v := deps.q.addVisit(db.Visit{PatientID: p.ID, InputRevision: 4})

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/visits/"+v.ID.String()+"/assess", nil, authed())
	expectStatus(t, rr, http.StatusOK)
	if len(deps.store.persisted) != 1 || deps.store.persisted[0].InputRevision != 4 {
		t.Fatalf("persisted: %+v", deps.store.persisted)
	}
}

// ─── RISK HISTORY ─────────────────────────────────────────────────────────────

func TestListRiskHistory(t *testing.T) {
	deps := newTestServer(t)
	p := deps.q.addPatient("Grace", "")
	deps.q.history[p.ID] = []db.RiskHistory{{
		ID: uuid.New(), PatientID: p.ID, RiskLevel: "high", RiskScore: 70, Source: db.RiskSourceAI,
	}}

	rr := doRequest(t, deps.handler, http.MethodGet, "/api/patients/"+p.ID.String()+"/risk-history", nil, authed())
	expectStatus(t, rr, http.StatusOK)
	var body struct {
		History []map[string]any `json:"history"`
	}
	decodeJSON(t, rr, &body)
	if len(body.History) != 1 || body.History[0]["source"] != "ai" {
		t.Errorf("history: %+v", body.History)
	}

	rr = doRequest(t, deps.handler, http.MethodGet, "/api/patients/"+uuid.NewString()+"/risk-history", nil, authed())
	expectStatus(t, rr, http.StatusNotFound)
}

func TestRecordManualRisk(t *testing.T) {
	deps := newTestServer(t)
	p := deps.q.addPatient("Grace", "")
	path := "/api/patients/" + p.ID.String() + "/risk-history"

	rr := doRequest(t, deps.handler, http.MethodPost, path, map[string]any{
		"riskLevel": "HIGH", "riskScore": 72, "riskFactors": []string{"falls"},
	}, authed())
	expectStatus(t, rr, http.StatusCreated)
	if len(deps.store.manual) != 1 || deps.store.manual[0].Level != clinical.RiskHigh {
		t.Errorf("manual: %+v", deps.store.manual)
	}

	for name, body := range map[string]any{
		"unknown level":  map[string]any{"riskLevel": "severe", "riskScore": 50},
		"score too high": map[string]any{"riskLevel": "low", "riskScore": 101},
		"negative score": map[string]any{"riskLevel": "low", "riskScore": -1},
		"bad visit id":   map[string]any{"riskLevel": "low", "riskScore": 1, "visitId": "x"},
	} {
		t.Run(name, func(t *testing.T) {
			rr := doRequest(t, deps.handler, http.MethodPost, path, body, authed())
			expectStatus(t, rr, http.StatusBadRequest)
		})
	}

	deps.store.manualErr = store.ErrNotFound
	rr = doRequest(t, deps.handler, http.MethodPost, path, map[string]any{"riskLevel": "low", "riskScore": 1}, authed())
	expectStatus(t, rr, http.StatusNotFound)
}

// ─── EXTRACT + NOTES ──────────────────────────────────────────────────────────

func TestExtract(t *testing.T) {
	deps := newTestServer(t)

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/extract",
		map[string]any{"noteContent": map[string]string{"objective": "BP 190/120"}}, authed())
	expectStatus(t, rr, http.StatusOK)
	if got := strings.TrimSpace(rr.Body.String()); got != `{"vitals":{},"clinicalInfo":{},"symptoms":[]}` {
		t.Errorf("body: %s", got)
	}

	rr = doRequest(t, deps.handler, http.MethodPost, "/api/extract",
		map[string]any{"noteContent": map[string]string{"objective": "  "}}, authed())
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestGenerateNote(t *testing.T) {
	deps := newTestServer(t)
	deps.notes.note = notes.Note{Sections: map[string]string{"subjective": "cough", "objective": "", "assessment": "", "plan": ""}}

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/notes",
		map[string]any{"transcription": "patient has a cough"}, authed())
	expectStatus(t, rr, http.StatusOK)
	var body struct {
		Template string            `json:"template"`
		Sections map[string]string `json:"sections"`
		VisitID  string            `json:"visitId"`
	}
	decodeJSON(t, rr, &body)
	if body.Template != "soap" || body.Sections["subjective"] != "cough" || body.VisitID != "" {
		t.Errorf("body: %+v", body)
	}
	if len(deps.worker.enqueued) != 0 {
		t.Error("no visit, nothing to enqueue")
	}
}

func TestGenerateNote_SavesToVisitAndEnqueues(t *testing.T) {
	deps := newTestServer(t)
	deps.notes.note = notes.Note{Sections: map[string]string{"progress": "improving"}}
	p := deps.q.addPatient("Grace", "")
	v := deps.q.addVisit(db.Visit{PatientID: p.ID, AssessmentStatus: db.AssessmentStatusDone})

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/notes", map[string]any{
		"transcription": "doing better", "template": "progress", "visitId": v.ID.String(),
	}, authed())
	expectStatus(t, rr, http.StatusOK)

	if deps.store.savedNotes[v.ID]["progress"] != "improving" {
		t.Errorf("saved notes: %+v", deps.store.savedNotes)
	}
	if len(deps.worker.enqueued) != 1 || deps.worker.enqueued[0] != v.ID {
		t.Errorf("enqueued: %v", deps.worker.enqueued)
	}
}

func TestGenerateNote_Errors(t *testing.T) {
	deps := newTestServer(t)

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/notes",
		map[string]any{"transcription": "x", "template": "limerick"}, authed())
	expectStatus(t, rr, http.StatusBadRequest)

	rr = doRequest(t, deps.handler, http.MethodPost, "/api/notes",
		map[string]any{"transcription": "   "}, authed())
	expectStatus(t, rr, http.StatusBadRequest)

	rr = doRequest(t, deps.handler, http.MethodPost, "/api/notes",
		map[string]any{"transcription": "x", "visitId": uuid.NewString()}, authed())
	expectStatus(t, rr, http.StatusNotFound)

	deps.notes.err = errors.New("model timeout")
	rr = doRequest(t, deps.handler, http.MethodPost, "/api/notes",
		map[string]any{"transcription": "x"}, authed())
	expectStatus(t, rr, http.StatusBadGateway)
}

// ─── CHAT STREAM ──────────────────────────────────────────────────────────────

func TestChatStream_RelaysChunksInOrder(t *testing.T) {
	deps := newTestServer(t)
	deps.chat.chunks = []string{"Hel", "lo", "!"}

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/chat/stream", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}, authed())
	expectStatus(t, rr, http.StatusOK)

	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type: %q", ct)
	}
	want := "data: {\"text\":\"Hel\"}\n\n" +
		"data: {\"text\":\"lo\"}\n\n" +
		"data: {\"text\":\"!\"}\n\n" +
		"event: done\ndata: {\"chunks\":3}\n\n"
	if got := rr.Body.String(); got != want {
		t.Errorf("stream:\n got %q\nwant %q", got, want)
	}
}

func TestChatStream_ErrorEvent(t *testing.T) {
	deps := newTestServer(t)
	deps.chat.chunks = []string{"partial"}
	deps.chat.err = errors.New("upstream closed")

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/chat/stream", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}, authed())
	expectStatus(t, rr, http.StatusOK)
	body := rr.Body.String()
	if !strings.Contains(body, "event: error\n") || strings.Contains(body, "upstream closed") {
		t.Errorf("stream: %q", body)
	}
}

func TestChatStream_Validation(t *testing.T) {
	deps := newTestServer(t)
	for name, body := range map[string]any{
		"no messages":   map[string]any{"messages": []any{}},
		"bad role":      map[string]any{"messages": []map[string]string{{"role": "tool", "content": "x"}}},
		"empty content": map[string]any{"messages": []map[string]string{{"role": "user", "content": ""}}},
		"huge tokens":   map[string]any{"messages": []map[string]string{{"role": "user", "content": "x"}}, "maxTokens": 100000},
	} {
		t.Run(name, func(t *testing.T) {
			rr := doRequest(t, deps.handler, http.MethodPost, "/api/chat/stream", body, authed())
			expectStatus(t, rr, http.StatusBadRequest)
		})
	}
}

// ─── EMAIL ────────────────────────────────────────────────────────────────────

func TestSendEmail(t *testing.T) {
	deps := newTestServer(t)

	rr := doRequest(t, deps.handler, http.MethodPost, "/api/email/send", map[string]any{
		"to": "pat@example.com", "subject": "Hi", "body": "Your results are normal.",
	}, authed())
	expectStatus(t, rr, http.StatusOK)
	var receipt email.Receipt
	decodeJSON(t, rr, &receipt)
	if receipt.MessageID != "msg_1" || receipt.Status != "sent" {
		t.Errorf("receipt: %+v", receipt)
	}

	rr = doRequest(t, deps.handler, http.MethodPost, "/api/email/send",
		map[string]any{"subject": "Hi"}, authed())
	expectStatus(t, rr, http.StatusBadRequest)

	deps.mailer.err = errors.New("relay down")
	rr = doRequest(t, deps.handler, http.MethodPost, "/api/email/send", map[string]any{
		"to": "pat@example.com", "subject": "Hi", "body": "x",
	}, authed())
	expectStatus(t, rr, http.StatusBadGateway)
}

func TestSummaryEmail(t *testing.T) {
	deps := newTestServer(t)
	deps.notes.draft = notes.EmailDraft{Subject: "Your visit", Body: "You are doing well."}
	p := deps.q.addPatient("Grace", "grace@example.com")
	sections, _ := json.Marshal(map[string]string{"plan": "rest and fluids"})
	v := deps.q.addVisit(db.Visit{
		PatientID:    p.ID,
		NoteTemplate: sql.NullString{String: "soap", Valid: true},
		NoteSections: pqtype.NullRawMessage{RawMessage: sections, Valid: true},
	})
	path := "/api/visits/" + v.ID.String() + "/summary-email"

	rr := doRequest(t, deps.handler, http.MethodPost, path, map[string]any{"dryRun": true}, authed())
	expectStatus(t, rr, http.StatusOK)
	if len(deps.mailer.sent) != 0 {
		t.Fatal("dry run must not send")
	}

	rr = doRequest(t, deps.handler, http.MethodPost, path, nil, authed())
	expectStatus(t, rr, http.StatusOK)
	if len(deps.mailer.sent) != 1 {
		t.Fatalf("sent: %d", len(deps.mailer.sent))
	}
	sent := deps.mailer.sent[0]
	if sent.To != "grace@example.com" || sent.Subject != "Your visit" || sent.ToName != "Grace" {
		t.Errorf("sent: %+v", sent)
	}
}

func TestSummaryEmail_Unprocessable(t *testing.T) {
	deps := newTestServer(t)
	noEmail := deps.q.addPatient("Grace", "")
	sections, _ := json.Marshal(map[string]string{"plan": "rest"})

	noNote := deps.q.addVisit(db.Visit{PatientID: noEmail.ID})
	rr := doRequest(t, deps.handler, http.MethodPost, "/api/visits/"+noNote.ID.String()+"/summary-email", nil, authed())
	expectStatus(t, rr, http.StatusUnprocessableEntity)

	withNote := deps.q.addVisit(db.Visit{
		PatientID:    noEmail.ID,
		NoteSections: pqtype.NullRawMessage{RawMessage: sections, Valid: true},
	})
	rr = doRequest(t, deps.handler, http.MethodPost, "/api/visits/"+withNote.ID.String()+"/summary-email", nil, authed())
	expectStatus(t, rr, http.StatusUnprocessableEntity)

	rr = doRequest(t, deps.handler, http.MethodPost, "/api/visits/"+uuid.NewString()+"/summary-email", nil, authed())
	expectStatus(t, rr, http.StatusNotFound)
}
