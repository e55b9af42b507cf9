// Package db is the query layer: row types, one method per SQL statement and
// the embedded schema. It has no business logic; multi-step writes live in
// internal/store.
package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var Schema string

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries runs every statement against a DBTX.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries bound to tx.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Migrate applies Schema. Every statement is idempotent, so it is safe to run
// on each start.
func Migrate(ctx context.Context, conn DBTX) error {
	if _, err := conn.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}
	return nil
}

// rowScanner is the common subset of *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

var _ Querier = (*Queries)(nil)
