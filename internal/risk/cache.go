package risk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nyashahama/clinical-risk-backend/internal/clinical"
)

// Cache is the byte store CachedEngine memoizes into. internal/cache provides
// the Redis implementation; a miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// sharedCallTimeout bounds a coalesced model call, which no longer follows
// any one caller's deadline.
const sharedCallTimeout = 2 * time.Minute

// CachedEngine memoizes risk assessments by the content of their inputs.
// Identical concurrent requests share one model call. Only ok-quality results
// are stored, so a transient failure is never replayed from cache.
// Extraction is passed through uncached.
type CachedEngine struct {
	next   Assessor
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger

	group singleflight.Group
}

// NewCachedEngine wraps next with a content-addressed cache.
func NewCachedEngine(next Assessor, cache Cache, ttl time.Duration, logger *slog.Logger) *CachedEngine {
	return &CachedEngine{next: next, cache: cache, ttl: ttl, logger: logger}
}

// AssessmentKey is the cache key for one assessment request: a SHA-256 over
// the canonical JSON of the inputs. Only the visits the prompt would see are
// hashed, so a longer history with the same three most recent visits hits the
// same entry.
func AssessmentKey(visit clinical.VisitData, patient clinical.PatientData, previous []clinical.VisitData) (string, error) {
	if len(previous) > MaxPreviousVisits {
		previous = previous[:MaxPreviousVisits]
	}
	// encoding/json sorts map keys, which makes NoteSections deterministic.
	b, err := json.Marshal(struct {
		Patient  clinical.PatientData  `json:"patient"`
		Visit    clinical.VisitData    `json:"visit"`
		Previous []clinical.VisitData `json:"previous"`
	}{patient, visit, previous})
	if err != nil {
		return "", fmt.Errorf("risk: marshal cache key: %w", err)
	}
	sum := sha256.Sum256(b)
	return "risk:assessment:" + hex.EncodeToString(sum[:]), nil
}

// AnalyzeVisitRisk returns a cached assessment when one exists, otherwise
// runs the wrapped engine. Cache failures are logged and bypassed.
func (c *CachedEngine) AnalyzeVisitRisk(
	ctx context.Context,
	visit clinical.VisitData,
	patient clinical.PatientData,
	previous []clinical.VisitData,
) clinical.RiskAssessment {
	key, err := AssessmentKey(visit, patient, previous)
	if err != nil {
		c.logger.Warn("risk: cache key failed, calling engine directly", "error", err)
		return c.next.AnalyzeVisitRisk(ctx, visit, patient, previous)
	}

	if a, ok := c.lookup(ctx, key); ok {
		return a
	}

	// The shared call outlives any single caller: one caller giving up must
	// not degrade the answer the others are waiting on.
	ch := c.group.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedCallTimeout)
		defer cancel()
		a := c.next.AnalyzeVisitRisk(shared, visit, patient, previous)
		if !a.Degraded() {
			c.store(shared, key, a)
		}
		return a, nil
	})
	select {
	case res := <-ch:
		return cloneAssessment(res.Val.(clinical.RiskAssessment))
	case <-ctx.Done():
		c.logger.Warn("risk: caller gave up waiting for assessment", "error", ctx.Err())
		return clinical.FallbackAssessment()
	}
}

// ExtractStructuredData delegates to the wrapped engine.
func (c *CachedEngine) ExtractStructuredData(ctx context.Context, noteContent map[string]string) clinical.StructuredData {
	return c.next.ExtractStructuredData(ctx, noteContent)
}

func (c *CachedEngine) lookup(ctx context.Context, key string) (clinical.RiskAssessment, bool) {
	raw, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("risk: cache get failed", "error", err)
		return clinical.RiskAssessment{}, false
	}
	if !ok {
		return clinical.RiskAssessment{}, false
	}

	var a clinical.RiskAssessment
	if err := json.Unmarshal(raw, &a); err != nil {
		c.logger.Warn("risk: cached entry unreadable, ignoring", "error", err)
		return clinical.RiskAssessment{}, false
	}
	// Only ok results are ever written.
	if a.Quality != clinical.QualityOK {
		return clinical.RiskAssessment{}, false
	}
	c.logger.Debug("risk: cache hit", "key", key)
	return a, true
}

func (c *CachedEngine) store(ctx context.Context, key string, a clinical.RiskAssessment) {
	raw, err := json.Marshal(a)
	if err != nil {
		c.logger.Warn("risk: marshal for cache failed", "error", err)
		return
	}
	if err := c.cache.Set(ctx, key, raw, c.ttl); err != nil {
		c.logger.Warn("risk: cache set failed", "error", err)
	}
}

// cloneAssessment copies the slices so callers sharing one singleflight
// result cannot see each other's mutations.
func cloneAssessment(a clinical.RiskAssessment) clinical.RiskAssessment {
	a.RiskFactors = slices.Clone(a.RiskFactors)
	a.Concerns = slices.Clone(a.Concerns)
	a.Recommendations = slices.Clone(a.Recommendations)
	return a
}
