// Package segments compiles segment predicate trees into user
// selection queries and streams the matching recipients.
package segments

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/eventstreamhq/engine/internal/domain"
)

const userColumns = "u.id, u.phone_e164, u.attributes, u.consent_state, u.created_at, u.updated_at"

// Evaluator resolves campaign audiences against the user table.
type Evaluator struct {
	db *sql.DB
}

// NewEvaluator creates an Evaluator over the given database handle.
func NewEvaluator(db *sql.DB) *Evaluator {
	return &Evaluator{db: db}
}

// Stream opens a cursor over the users matching the predicate. A nil
// predicate selects the default audience (all OPT_IN users), further
// restricted to subscribers of topic when that topic has any
// subscriptions at all. Rows are fetched lazily; the recipient set is
// never materialized in memory.
func (e *Evaluator) Stream(ctx context.Context, pred *Predicate, topic string) (*Cursor, error) {
	clause, args, err := Compile(pred)
	if err != nil {
		return nil, err
	}

	if pred == nil && topic != "" {
		restrict, err := e.topicHasSubscribers(ctx, topic)
		if err != nil {
			return nil, err
		}
		if restrict {
			args = append(args, topic)
			clause += fmt.Sprintf(
				" AND EXISTS (SELECT 1 FROM subscriptions s WHERE s.user_id = u.id AND s.topic = $%d)",
				len(args))
		}
	}

	query := fmt.Sprintf("SELECT %s FROM users u WHERE %s ORDER BY u.phone_e164", userColumns, clause)
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("segment query: %w", err)
	}
	return &Cursor{rows: rows}, nil
}

// Count returns the audience size without streaming it. Used by the
// dry-run path for reporting.
func (e *Evaluator) Count(ctx context.Context, pred *Predicate) (int, error) {
	clause, args, err := Compile(pred)
	if err != nil {
		return 0, err
	}
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM users u WHERE %s", clause)
	if err := e.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("segment count: %w", err)
	}
	return n, nil
}

func (e *Evaluator) topicHasSubscribers(ctx context.Context, topic string) (bool, error) {
	var exists bool
	err := e.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM subscriptions WHERE topic = $1)", topic).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("subscription check: %w", err)
	}
	return exists, nil
}

// Cursor iterates a recipient stream row by row.
type Cursor struct {
	rows *sql.Rows
	cur  domain.User
	err  error
}

// Next advances to the next recipient. Returns false at the end of the
// stream or on error; check Err afterwards.
func (c *Cursor) Next() bool {
	if !c.rows.Next() {
		return false
	}
	var attrs []byte
	u := domain.User{}
	if err := c.rows.Scan(&u.ID, &u.PhoneE164, &attrs, &u.ConsentState, &u.CreatedAt, &u.UpdatedAt); err != nil {
		c.err = err
		return false
	}
	u.Attributes = map[string]string{}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &u.Attributes); err != nil {
			c.err = fmt.Errorf("decode attributes for %s: %w", u.ID, err)
			return false
		}
	}
	c.cur = u
	return true
}

// User returns the recipient positioned by the last Next call.
func (c *Cursor) User() *domain.User {
	return &c.cur
}

// Err returns the first error hit while iterating.
func (c *Cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

// Close releases the underlying rows.
func (c *Cursor) Close() error {
	return c.rows.Close()
}
