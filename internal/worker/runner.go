// Package worker contains the background pipeline that extracts structured
// data from a visit, assesses its risk and persists the result. It is
// decoupled from the HTTP layer: the api package holds a worker.Enqueuer
// interface and calls Enqueue. It never imports the concrete Runner or Job.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nyashahama/clinical-risk-backend/internal/db"
)

// ─── ENQUEUER INTERFACE ───────────────────────────────────────────────────────

// Enqueuer is the narrow interface the api package uses to hand off a visit
// after it is recorded or its note changes. Keeping it here (not in api/)
// means api/ does not need to import the Runner.
//
// The concrete implementation is *Runner. In tests, any struct with an Enqueue
// method satisfies the interface.
type Enqueuer interface {
	Enqueue(ctx context.Context, visitID uuid.UUID) error
}

// Processor runs the pipeline for one visit. *Job is the production
// implementation.
type Processor interface {
	Run(ctx context.Context, visitID uuid.UUID) error
}

// PendingLister finds visits that still need an assessment. db.Querier
// satisfies it.
type PendingLister interface {
	ListPendingVisits(ctx context.Context, limit int32) ([]db.Visit, error)
}

// FailureMarker records a permanent failure. *store.Store satisfies it.
type FailureMarker interface {
	MarkVisitFailed(ctx context.Context, visitID uuid.UUID, reason string) (db.Visit, error)
}

// ─── RUNNER ───────────────────────────────────────────────────────────────────

// RunnerConfig holds tuning parameters for the Runner. Zero fields fall back
// to DefaultRunnerConfig().
type RunnerConfig struct {
	// Workers is the number of concurrent job goroutines. Default: 3.
	Workers int

	// PollInterval is how often the fallback poller checks ListPendingVisits
	// for visits missed by the in-process channel (e.g. after a restart).
	// Default: 30s.
	PollInterval time.Duration

	// JobTimeout is the per-job context deadline. It covers two model calls
	// running side by side. Default: 3 minutes.
	JobTimeout time.Duration

	// MaxRetries is the number of attempts before the visit is marked as
	// permanently failed. Default: 3.
	MaxRetries int

	// BaseBackoff is the first retry delay; it doubles per attempt.
	// Default: 2s.
	BaseBackoff time.Duration
}

// DefaultRunnerConfig returns safe production defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Workers:      3,
		PollInterval: 30 * time.Second,
		JobTimeout:   3 * time.Minute,
		MaxRetries:   3,
		BaseBackoff:  2 * time.Second,
	}
}

// Runner manages a pool of worker goroutines. It accepts visits via an
// in-process channel (fast path, used for new visits) and also polls the
// database to pick up visits that were in flight when the process last
// restarted (recovery path).
type Runner struct {
	job     Processor
	failed  FailureMarker
	pending PendingLister
	cfg     RunnerConfig
	logger  *slog.Logger

	queue chan uuid.UUID
	wg    sync.WaitGroup

	// inflight holds visit IDs that are queued or running, so the poller does
	// not hand the same visit to two workers. A true value means Enqueue was
	// called again meanwhile and the visit runs once more after release.
	mu       sync.Mutex
	inflight map[uuid.UUID]bool
}

// NewRunner constructs a Runner. Call Start() to begin processing.
func NewRunner(
	job Processor,
	failed FailureMarker,
	pending PendingLister,
	cfg RunnerConfig,
	logger *slog.Logger,
) *Runner {
	def := DefaultRunnerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}

	return &Runner{
		job:     job,
		failed:  failed,
		pending: pending,
		cfg:     cfg,
		logger:  logger,
		// Buffer = Workers*2 so Enqueue never blocks under normal load.
		queue:    make(chan uuid.UUID, cfg.Workers*2),
		inflight: make(map[uuid.UUID]bool),
	}
}

// ErrQueueFull is returned by Enqueue when the channel buffer is full. The
// visit stays pending in the database and the poller picks it up later.
var ErrQueueFull = errors.New("worker: queue is full, visit will be picked up by poller")

// Enqueue pushes a visitID onto the in-process channel. It never blocks the
// HTTP response. Enqueueing a visit that is already queued or running does
// not queue it twice; the visit is run again once the current run finishes,
// so inputs saved in the meantime are assessed.
func (r *Runner) Enqueue(_ context.Context, visitID uuid.UUID) error {
	if !r.claim(visitID, true) {
		r.logger.Debug("worker: visit in flight, re-run scheduled", "visit_id", visitID)
		return nil
	}
	return r.push(visitID)
}

func (r *Runner) push(visitID uuid.UUID) error {
	select {
	case r.queue <- visitID:
		r.logger.Info("worker: enqueued visit", "visit_id", visitID)
		return nil
	default:
		r.release(visitID)
		return ErrQueueFull
	}
}

// Start launches the worker pool and the fallback poller. It blocks until ctx
// is cancelled. Call it in a goroutine from main:
//
//	go runner.Start(ctx)
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("worker: starting", "workers", r.cfg.Workers, "poll_interval", r.cfg.PollInterval)

	for i := range r.cfg.Workers {
		r.wg.Add(1)
		go r.work(ctx, i)
	}

	r.wg.Add(1)
	go r.poll(ctx)

	r.wg.Wait()
	r.logger.Info("worker: stopped")
}

// work is the inner loop for each worker goroutine.
func (r *Runner) work(ctx context.Context, id int) {
	defer r.wg.Done()
	log := r.logger.With("worker_id", id)
	log.Info("worker: goroutine started")

	for {
		select {
		case <-ctx.Done():
			log.Info("worker: goroutine stopping")
			return
		case visitID := <-r.queue:
			r.runWithRetry(ctx, visitID, log)
			if r.finish(visitID) {
				if err := r.push(visitID); err != nil {
					log.Warn("worker: re-run not queued, poller will pick visit up",
						"visit_id", visitID,
						"error", err,
					)
				}
			}
		}
	}
}

// poll queries the database on PollInterval for pending/processing visits
// that were not delivered via the channel.
func (r *Runner) poll(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	// Run once immediately on startup to pick up anything from before restart.
	r.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce(ctx)
		}
	}
}

func (r *Runner) pollOnce(ctx context.Context) {
	visits, err := r.pending.ListPendingVisits(ctx, int32(cap(r.queue)))
	if err != nil {
		r.logger.Error("worker: poll failed", "error", err)
		return
	}
	for _, v := range visits {
		if !r.claim(v.ID, false) {
			continue
		}
		select {
		case r.queue <- v.ID:
			r.logger.Debug("worker: poller enqueued visit", "visit_id", v.ID)
		default:
			// Queue full, next poll cycle will retry.
			r.release(v.ID)
			return
		}
	}
}

// runWithRetry executes the job up to MaxRetries times. After exhausting
// retries it calls MarkVisitFailed so the visit is not picked up again.
func (r *Runner) runWithRetry(ctx context.Context, visitID uuid.UUID, log *slog.Logger) {
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxRetries; attempt++ {
		jobCtx, cancel := context.WithTimeout(ctx, r.cfg.JobTimeout)
		lastErr = r.job.Run(jobCtx, visitID)
		cancel()

		if lastErr == nil {
			log.Info("worker: job completed", "visit_id", visitID, "attempt", attempt)
			return
		}

		log.Warn("worker: job attempt failed",
			"visit_id", visitID,
			"attempt", attempt,
			"max", r.cfg.MaxRetries,
			"error", lastErr,
		)

		if attempt < r.cfg.MaxRetries {
			// Exponential back-off: base, 2*base, 4*base …
			backoff := r.cfg.BaseBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
	}

	log.Error("worker: job permanently failed", "visit_id", visitID, "error", lastErr)
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := r.failed.MarkVisitFailed(failCtx, visitID, lastErr.Error()); err != nil {
		log.Error("worker: failed to mark visit as failed", "visit_id", visitID, "error", err)
	}
}

// claim marks id as in flight. If it already is, claim returns false and,
// when rerun is set, flags the visit to run again after the current run.
func (r *Runner) claim(id uuid.UUID, rerun bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inflight[id]; ok {
		if rerun {
			r.inflight[id] = true
		}
		return false
	}
	r.inflight[id] = false
	return true
}

// finish ends a run. It returns true, keeping the claim, when a re-run was
// requested while the visit was in flight.
func (r *Runner) finish(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight[id] {
		r.inflight[id] = false
		return true
	}
	delete(r.inflight, id)
	return false
}

func (r *Runner) release(id uuid.UUID) {
	r.mu.Lock()
	delete(r.inflight, id)
	r.mu.Unlock()
}
