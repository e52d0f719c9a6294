// Package storage is the transactional persistence gateway. All SQL
// lives here; callers speak in domain types and the package's error
// taxonomy (ErrNotFound, ErrConflict, ErrTransient).
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/eventstreamhq/engine/internal/pkg/logger"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Functions that must run inside a caller-owned transaction take a
// Querier instead of reaching for the pool.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store wraps the database pool with the typed operations of the
// persistence gateway.
type Store struct {
	db *sql.DB
}

// New creates a Store over an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying pool for components that compile their own
// queries (the segment evaluator).
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a transaction, committing on nil and rolling
// back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("tx rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", classify(err))
	}
	return nil
}

// maxRetries bounds transient-error retries per operation.
const maxRetries = 3

// Retry runs op up to maxRetries times, backing off between attempts,
// as long as the failure classifies as transient.
func Retry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err = op(); err == nil || !IsTransient(err) {
			return err
		}
		delay := time.Duration(attempt+1) * 100 * time.Millisecond
		logger.Warn("retrying transient storage error", "attempt", attempt+1, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
