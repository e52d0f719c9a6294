package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/eventstreamhq/engine/internal/domain"
)

// UpsertUser inserts or merges a user keyed by normalized phone.
// Attributes merge key-wise with new keys overriding; consent is
// applied unless the stored state is STOP and the write does not come
// from the consent engine (STOP is sticky against bulk re-imports).
func UpsertUser(ctx context.Context, q Querier, phone string, attrs map[string]string, consent domain.ConsentState, viaConsentEngine bool) (*domain.User, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	attrJSON, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}

	row := q.QueryRowContext(ctx, `
		INSERT INTO users (id, phone_e164, attributes, consent_state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (phone_e164) DO UPDATE SET
			attributes = users.attributes || EXCLUDED.attributes,
			consent_state = CASE
				WHEN users.consent_state = 'STOP' AND NOT $5 THEN users.consent_state
				ELSE EXCLUDED.consent_state
			END,
			updated_at = NOW()
		RETURNING id, phone_e164, attributes, consent_state, created_at, updated_at`,
		uuid.NewString(), phone, attrJSON, string(consent), viaConsentEngine)

	u, err := scanUser(row)
	if err != nil {
		return nil, classify(err)
	}
	return u, nil
}

// UpsertUser merges a user through the pool outside any transaction.
func (s *Store) UpsertUser(ctx context.Context, phone string, attrs map[string]string, consent domain.ConsentState, viaConsentEngine bool) (*domain.User, error) {
	return UpsertUser(ctx, s.db, phone, attrs, consent, viaConsentEngine)
}

// GetUserByPhone looks a user up by normalized phone.
func (s *Store) GetUserByPhone(ctx context.Context, phone string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, phone_e164, attributes, consent_state, created_at, updated_at
		FROM users WHERE phone_e164 = $1`, phone)
	u, err := scanUser(row)
	if err != nil {
		return nil, classify(err)
	}
	return u, nil
}

// GetUserByPhoneForUpdate reads a user inside a caller-owned
// transaction, taking the row lock so concurrent inbound requests for
// the same user serialize on the consent update.
func GetUserByPhoneForUpdate(ctx context.Context, q Querier, phone string) (*domain.User, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, phone_e164, attributes, consent_state, created_at, updated_at
		FROM users WHERE phone_e164 = $1 FOR UPDATE`, phone)
	u, err := scanUser(row)
	if err != nil {
		return nil, classify(err)
	}
	return u, nil
}

// CountUsersByConsent returns the number of users in the given state.
func (s *Store) CountUsersByConsent(ctx context.Context, state domain.ConsentState) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE consent_state = $1", string(state)).Scan(&n)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// Subscribe adds a user to a topic; duplicate subscriptions are no-ops.
func (s *Store) Subscribe(ctx context.Context, userID, topic string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, user_id, topic, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, topic) DO NOTHING`,
		uuid.NewString(), userID, topic)
	return classify(err)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u     domain.User
		attrs []byte
	)
	if err := row.Scan(&u.ID, &u.PhoneE164, &attrs, &u.ConsentState, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Attributes = map[string]string{}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &u.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
	}
	return &u, nil
}
