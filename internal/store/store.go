// Package store wraps db.Querier with transaction support and groups the
// multi-step write operations that must execute atomically.
//
// Single-query reads (GetPatientByID, ListVisitsByPatient, etc.) should be
// called directly on db.Querier in handlers. There is no value in proxying
// them through this package.
//
// Dependency rule: store imports db and clinical only. It never imports api,
// worker, risk, ai or email.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nyashahama/clinical-risk-backend/internal/db"
)

// ─── ERRORS ──────────────────────────────────────────────────────────────────

// ErrNotFound is returned when a patient or visit referenced by a write does
// not exist. Handlers map it to 404.
var ErrNotFound = errors.New("store: not found")

// ErrAlreadyAssessed is returned by PersistRiskAssessment when the visit
// already has a finished assessment and the caller did not ask to replace it.
// The worker treats this as idempotent success.
var ErrAlreadyAssessed = errors.New("store: visit already assessed")

// ErrInputsChanged is returned by PersistRiskAssessment when the visit's note
// was replaced after the pipeline loaded it. The visit is pending again and
// will be re-assessed against the new note.
var ErrInputsChanged = errors.New("store: visit inputs changed during assessment")

// ─── STORE ───────────────────────────────────────────────────────────────────

// Store holds a *sql.DB for starting transactions and a db.Querier for
// executing queries outside of transactions. The operation files (visits.go,
// risk.go) attach methods to this type.
type Store struct {
	// pool is the raw connection pool, used to begin transactions and migrate.
	pool *sql.DB

	// q is the Querier used for non-transactional calls. Handlers that hold a
	// *Store can also access it directly via store.Q() for single-query reads.
	q db.Querier
}

// New creates a Store from a live connection pool. The pool must already be
// open and verified (e.g. via db.PingContext) before calling New.
func New(pool *sql.DB, q db.Querier) *Store {
	return &Store{pool: pool, q: q}
}

// Q exposes the underlying Querier so callers (handlers, worker) can run
// single-query reads without going through a store method.
//
//	visit, err := s.Q().GetVisitByID(ctx, id)
func (s *Store) Q() db.Querier {
	return s.q
}

// Migrate applies the embedded schema.
func (s *Store) Migrate(ctx context.Context) error {
	return db.Migrate(ctx, s.pool)
}

// txQuerier is a function that receives a transactional Querier and returns an
// error. Returning a non-nil error causes withTx to roll back automatically.
type txQuerier func(ctx context.Context, q db.Querier) error

// withTx begins a transaction, passes a Querier scoped to that transaction to
// fn, and commits on success or rolls back on any error (including panics).
//
// Serializable isolation is used because the assessment writes read the
// visit's status before deciding whether to overwrite it.
func (s *Store) withTx(ctx context.Context, fn txQuerier) error {
	tx, err := s.pool.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}

	// Roll back on panic so the connection is never left in a broken state.
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, db.New(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("store: fn error: %w; rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}

// notFound maps sql.ErrNoRows to ErrNotFound and wraps everything else.
func notFound(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
