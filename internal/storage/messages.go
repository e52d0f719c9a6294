package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/eventstreamhq/engine/internal/domain"
)

const messageColumns = `id, campaign_id, recipient_phone, template_id, content, channel,
	status, provider_sid, error_code, error_message, created_at, sent_at, delivered_at`

// CreateMessageIfAbsent is the idempotency primitive for campaign
// replays: the unique index on (campaign_id, recipient_phone) makes
// the second insert a no-op, and created=false tells the orchestrator
// to count a duplicate instead of dispatching twice.
func (s *Store) CreateMessageIfAbsent(ctx context.Context, m *domain.Message) (*domain.Message, bool, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, campaign_id, recipient_phone, template_id, content, channel, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (campaign_id, recipient_phone) DO NOTHING
		RETURNING `+messageColumns,
		m.ID, m.CampaignID, m.RecipientPhone, m.TemplateID, m.Content, m.Channel, string(domain.MessageQueued))

	created, err := scanMessage(row)
	if err == nil {
		return created, true, nil
	}
	if classify(err) != ErrNotFound {
		return nil, false, classify(err)
	}

	existing := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE campaign_id = $1 AND recipient_phone = $2`,
		m.CampaignID, m.RecipientPhone)
	prev, err := scanMessage(existing)
	if err != nil {
		return nil, false, classify(err)
	}
	return prev, false, nil
}

// MarkMessageSent records a successful dispatch. The status guard
// keeps a slow dispatch from clobbering a receipt that already moved
// the message further along.
func (s *Store) MarkMessageSent(ctx context.Context, id, providerSID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET status = 'SENT', provider_sid = $2, sent_at = NOW()
		WHERE id = $1 AND status IN ('QUEUED', 'SENDING')`,
		id, providerSID)
	if err != nil {
		return classify(err)
	}
	return requireRow(res)
}

// MarkMessageFailed records a dispatch failure with the provider's
// error taxonomy.
func (s *Store) MarkMessageFailed(ctx context.Context, id, errorCode, errorMessage string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET status = 'FAILED', error_code = $2, error_message = $3
		WHERE id = $1 AND status IN ('QUEUED', 'SENDING')`,
		id, errorCode, errorMessage)
	if err != nil {
		return classify(err)
	}
	return requireRow(res)
}

// GetMessageByProviderSID loads a message by its provider id, locking
// the row when q is a transaction so concurrent receipts for the same
// message serialize.
func GetMessageByProviderSID(ctx context.Context, q Querier, providerSID string) (*domain.Message, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE provider_sid = $1 FOR UPDATE`, providerSID)
	m, err := scanMessage(row)
	if err != nil {
		return nil, classify(err)
	}
	return m, nil
}

// ApplyMessageState writes a reconciled state change. Timestamps are
// back-filled once: a late "sent" receipt may still stamp sent_at on a
// DELIVERED row without touching its status.
func ApplyMessageState(ctx context.Context, q Querier, id string, status domain.MessageStatus, errorCode *string, sentAt, deliveredAt *time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE messages SET
			status = $2,
			error_code = COALESCE($3, error_code),
			sent_at = COALESCE(sent_at, $4),
			delivered_at = COALESCE(delivered_at, $5)
		WHERE id = $1`,
		id, string(status), errorCode, sentAt, deliveredAt)
	return classify(err)
}

// BackfillMessageTimestamps stamps sent_at/delivered_at when a receipt
// arrives out of order and the status itself must not move.
func BackfillMessageTimestamps(ctx context.Context, q Querier, id string, sentAt, deliveredAt *time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE messages SET
			sent_at = COALESCE(sent_at, $2),
			delivered_at = COALESCE(delivered_at, $3)
		WHERE id = $1`,
		id, sentAt, deliveredAt)
	return classify(err)
}

// ListStaleSentMessages returns messages stuck in SENT with no
// receipt movement since the cutoff. The reconciliation sweep asks the
// gateway directly about these.
func (s *Store) ListStaleSentMessages(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE status = 'SENT' AND provider_sid IS NOT NULL AND sent_at < $1
		ORDER BY sent_at
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountMessagesByCampaign aggregates message counts per status.
func (s *Store) CountMessagesByCampaign(ctx context.Context, campaignID string) (map[domain.MessageStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM messages
		WHERE campaign_id = $1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	counts := make(map[domain.MessageStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.MessageStatus(status)] = n
	}
	return counts, rows.Err()
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var m domain.Message
	err := row.Scan(&m.ID, &m.CampaignID, &m.RecipientPhone, &m.TemplateID, &m.Content, &m.Channel,
		&m.Status, &m.ProviderSID, &m.ErrorCode, &m.ErrorMessage, &m.CreatedAt, &m.SentAt, &m.DeliveredAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func requireRow(res interface{ RowsAffected() (int64, error) }) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
