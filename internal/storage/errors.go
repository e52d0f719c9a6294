package storage

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a uniqueness constraint is violated.
	ErrConflict = errors.New("conflict")
	// ErrTransient is returned for deadlocks and serialization
	// failures; callers retry with backoff.
	ErrTransient = errors.New("transient storage error")
)

// classify maps driver errors onto the storage error taxonomy so
// callers never inspect pq codes themselves.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return ErrConflict
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return ErrTransient
		}
	}
	return err
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(classify(err), ErrTransient)
}
