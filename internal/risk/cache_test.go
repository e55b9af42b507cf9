package risk_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyashahama/clinical-risk-backend/internal/clinical"
	"github.com/nyashahama/clinical-risk-backend/internal/risk"
)

// memCache is an in-process risk.Cache.
type memCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	ttls   map[string]time.Duration
	getErr error
	sets   int
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

// countingAssessor counts calls and can block until released.
type countingAssessor struct {
	calls   atomic.Int32
	result  clinical.RiskAssessment
	release chan struct{}
}

func (c *countingAssessor) AnalyzeVisitRisk(context.Context, clinical.VisitData, clinical.PatientData, []clinical.VisitData) clinical.RiskAssessment {
	c.calls.Add(1)
	if c.release != nil {
		<-c.release
	}
	return c.result
}

func (c *countingAssessor) ExtractStructuredData(context.Context, map[string]string) clinical.StructuredData {
	return clinical.EmptyStructuredData()
}

func okAssessment() clinical.RiskAssessment {
	return clinical.RiskAssessment{
		RiskLevel:       clinical.RiskHigh,
		RiskScore:       60,
		RiskFactors:     []string{"smoker"},
		Concerns:        []string{},
		Recommendations: []string{"Quit smoking"},
		FollowUpUrgency: clinical.UrgencySoon,
		Quality:         clinical.QualityOK,
	}
}

var (
	cacheVisit   = clinical.VisitData{ChiefComplaint: "cough", NoteSections: map[string]string{"b": "2", "a": "1"}}
	cachePatient = clinical.PatientData{Name: "P"}
)

func TestCachedEngine_SecondCallServedFromCache(t *testing.T) {
	next := &countingAssessor{result: okAssessment()}
	mc := newMemCache()
	c := risk.NewCachedEngine(next, mc, time.Hour, discardLogger())

	first := c.AnalyzeVisitRisk(context.Background(), cacheVisit, cachePatient, nil)
	second := c.AnalyzeVisitRisk(context.Background(), cacheVisit, cachePatient, nil)

	assert.Equal(t, int32(1), next.calls.Load())
	assert.Equal(t, first, second)
	assert.Equal(t, okAssessment(), second)

	key, err := risk.AssessmentKey(cacheVisit, cachePatient, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mc.ttls[key])
}

func TestCachedEngine_DegradedResultsNeverCached(t *testing.T) {
	next := &countingAssessor{result: clinical.FallbackAssessment()}
	mc := newMemCache()
	c := risk.NewCachedEngine(next, mc, time.Hour, discardLogger())

	c.AnalyzeVisitRisk(context.Background(), cacheVisit, cachePatient, nil)
	got := c.AnalyzeVisitRisk(context.Background(), cacheVisit, cachePatient, nil)

	assert.Equal(t, int32(2), next.calls.Load())
	assert.Equal(t, 0, mc.sets)
	assert.True(t, got.Degraded())
}

func TestCachedEngine_CacheErrorFallsThrough(t *testing.T) {
	next := &countingAssessor{result: okAssessment()}
	mc := newMemCache()
	mc.getErr = errors.New("redis down")
	c := risk.NewCachedEngine(next, mc, time.Hour, discardLogger())

	got := c.AnalyzeVisitRisk(context.Background(), cacheVisit, cachePatient, nil)
	assert.Equal(t, okAssessment(), got)
	assert.Equal(t, int32(1), next.calls.Load())
}

func TestCachedEngine_ConcurrentIdenticalCallsCoalesce(t *testing.T) {
	next := &countingAssessor{result: okAssessment(), release: make(chan struct{})}
	c := risk.NewCachedEngine(next, newMemCache(), time.Hour, discardLogger())

	const n = 8
	var wg sync.WaitGroup
	results := make([]clinical.RiskAssessment, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.AnalyzeVisitRisk(context.Background(), cacheVisit, cachePatient, nil)
		}()
	}

	// Let every goroutine reach the engine or the singleflight wait.
	require.Eventually(t, func() bool { return next.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(next.release)
	wg.Wait()

	assert.Equal(t, int32(1), next.calls.Load())
	for _, r := range results {
		assert.Equal(t, okAssessment(), r)
	}
}

// ctxAssessor answers ok once released, or degrades if its context ends first.
type ctxAssessor struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (c *ctxAssessor) AnalyzeVisitRisk(ctx context.Context, _ clinical.VisitData, _ clinical.PatientData, _ []clinical.VisitData) clinical.RiskAssessment {
	c.calls.Add(1)
	c.started <- struct{}{}
	select {
	case <-c.release:
		return okAssessment()
	case <-ctx.Done():
		return clinical.FallbackAssessment()
	}
}

func (c *ctxAssessor) ExtractStructuredData(context.Context, map[string]string) clinical.StructuredData {
	return clinical.EmptyStructuredData()
}

func TestCachedEngine_FirstCallerCancelDoesNotDegradeOthers(t *testing.T) {
	next := &ctxAssessor{started: make(chan struct{}, 1), release: make(chan struct{})}
	mc := newMemCache()
	c := risk.NewCachedEngine(next, mc, time.Hour, discardLogger())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	first := make(chan clinical.RiskAssessment, 1)
	go func() { first <- c.AnalyzeVisitRisk(firstCtx, cacheVisit, cachePatient, nil) }()

	select {
	case <-next.started:
	case <-time.After(2 * time.Second):
		t.Fatal("engine never called")
	}

	second := make(chan clinical.RiskAssessment, 1)
	go func() { second <- c.AnalyzeVisitRisk(context.Background(), cacheVisit, cachePatient, nil) }()
	time.Sleep(20 * time.Millisecond)

	// The first caller leaves; it gets a degraded answer without waiting.
	cancelFirst()
	select {
	case got := <-first:
		assert.True(t, got.Degraded())
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller still waiting")
	}

	close(next.release)
	select {
	case got := <-second:
		assert.False(t, got.Degraded())
		assert.Equal(t, okAssessment(), got)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never answered")
	}

	assert.Equal(t, int32(1), next.calls.Load())
	mc.mu.Lock()
	assert.Equal(t, 1, mc.sets)
	mc.mu.Unlock()
}

func TestAssessmentKey(t *testing.T) {
	base, err := risk.AssessmentKey(cacheVisit, cachePatient, nil)
	require.NoError(t, err)

	same, _ := risk.AssessmentKey(
		clinical.VisitData{ChiefComplaint: "cough", NoteSections: map[string]string{"a": "1", "b": "2"}},
		clinical.PatientData{Name: "P"}, nil)
	assert.Equal(t, base, same, "map order must not change the key")

	other, _ := risk.AssessmentKey(clinical.VisitData{ChiefComplaint: "fever"}, cachePatient, nil)
	assert.NotEqual(t, base, other)

	prev := []clinical.VisitData{{Summary: "1"}, {Summary: "2"}, {Summary: "3"}}
	three, _ := risk.AssessmentKey(cacheVisit, cachePatient, prev)
	five, _ := risk.AssessmentKey(cacheVisit, cachePatient, append(prev, clinical.VisitData{Summary: "4"}, clinical.VisitData{Summary: "5"}))
	assert.Equal(t, three, five, "visits beyond the prompt window do not affect the key")
	assert.NotEqual(t, base, three)
}
