package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/eventstreamhq/engine/internal/domain"
)

// InsertInboundEvent persists the raw inbound row. Rows are immutable
// once written.
func InsertInboundEvent(ctx context.Context, q Querier, ev *domain.InboundEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO inbound_events (id, user_id, from_phone, channel, body, provider_sid, country, raw_payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
		ev.ID, ev.UserID, ev.FromPhone, ev.Channel, ev.Body, ev.ProviderSID, ev.Country, ev.RawPayload)
	return classify(err)
}

// LinkInboundEventUser attaches the upserted user to the event row
// within the same transaction.
func LinkInboundEventUser(ctx context.Context, q Querier, eventID, userID string) error {
	_, err := q.ExecContext(ctx,
		"UPDATE inbound_events SET user_id = $2 WHERE id = $1", eventID, userID)
	return classify(err)
}

// InsertDeliveryReceipt persists the raw status-callback row.
func InsertDeliveryReceipt(ctx context.Context, q Querier, r *domain.DeliveryReceipt) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO delivery_receipts (id, provider_sid, status, error_code, raw_payload, reconciled, received_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, NOW())`,
		r.ID, r.ProviderSID, r.Status, r.ErrorCode, r.RawPayload)
	return classify(err)
}

// MarkReceiptReconciled flags a receipt as joined to its message.
func MarkReceiptReconciled(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx,
		"UPDATE delivery_receipts SET reconciled = TRUE WHERE id = $1", id)
	return classify(err)
}

// ListUnreconciledReceipts returns orphaned receipts for the periodic
// sweep, oldest first.
func (s *Store) ListUnreconciledReceipts(ctx context.Context, limit int) ([]*domain.DeliveryReceipt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, provider_sid, status, error_code, raw_payload, reconciled, received_at
		FROM delivery_receipts
		WHERE reconciled = FALSE
		ORDER BY received_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*domain.DeliveryReceipt
	for rows.Next() {
		var r domain.DeliveryReceipt
		if err := rows.Scan(&r.ID, &r.ProviderSID, &r.Status, &r.ErrorCode, &r.RawPayload, &r.Reconciled, &r.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ListRecentInbound returns the newest inbound events for monitoring.
func (s *Store) ListRecentInbound(ctx context.Context, limit int) ([]*domain.InboundEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, from_phone, channel, body, provider_sid, country, raw_payload, received_at
		FROM inbound_events
		ORDER BY received_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*domain.InboundEvent
	for rows.Next() {
		var ev domain.InboundEvent
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.FromPhone, &ev.Channel, &ev.Body, &ev.ProviderSID, &ev.Country, &ev.RawPayload, &ev.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}
