// Package reconcile joins delivery receipts to messages by provider
// id and advances the per-message state machine. Transitions only ever
// move forward; out-of-order receipts are recorded but never regress
// a message.
package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/eventstreamhq/engine/internal/domain"
	"github.com/eventstreamhq/engine/internal/pkg/logger"
	"github.com/eventstreamhq/engine/internal/provider"
	"github.com/eventstreamhq/engine/internal/storage"
)

// receiptStatuses maps the gateway's status vocabulary onto the
// message state machine. "queued" reads as SENDING: the gateway has
// the message, so it is past our QUEUED.
var receiptStatuses = map[string]domain.MessageStatus{
	"queued":      domain.MessageSending,
	"sending":     domain.MessageSending,
	"sent":        domain.MessageSent,
	"delivered":   domain.MessageDelivered,
	"read":        domain.MessageRead,
	"failed":      domain.MessageFailed,
	"undelivered": domain.MessageUndelivered,
}

// MapStatus translates a receipt status string; ok is false for
// vocabulary the engine does not know.
func MapStatus(status string) (domain.MessageStatus, bool) {
	s, ok := receiptStatuses[status]
	return s, ok
}

// Reconciler advances message state from receipts, synchronously after
// each status webhook and periodically for orphans.
type Reconciler struct {
	store  *storage.Store
	sender provider.Sender
}

// New creates a Reconciler. sender may be nil; the stale-message
// repair path is then skipped.
func New(store *storage.Store, sender provider.Sender) *Reconciler {
	return &Reconciler{store: store, sender: sender}
}

// Apply reconciles one receipt. A receipt whose provider id matches no
// message is left unreconciled for a later sweep (storage.ErrNotFound
// is returned so callers can tell). Replays are no-ops: the transition
// check refuses to regress, and the receipt is simply re-flagged.
func (r *Reconciler) Apply(ctx context.Context, receipt *domain.DeliveryReceipt) error {
	target, known := MapStatus(receipt.Status)
	if !known {
		logger.Warn("unknown receipt status", "provider_sid", receipt.ProviderSID, "status", receipt.Status)
		// Flag it anyway: re-sweeping an unknown vocabulary entry
		// will never succeed.
		return r.store.WithTx(ctx, func(tx *sql.Tx) error {
			return storage.MarkReceiptReconciled(ctx, tx, receipt.ID)
		})
	}

	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		msg, err := storage.GetMessageByProviderSID(ctx, tx, receipt.ProviderSID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("receipt %s: %w", receipt.ID, storage.ErrNotFound)
			}
			return err
		}

		receivedAt := receipt.ReceivedAt
		if receivedAt.IsZero() {
			receivedAt = time.Now().UTC()
		}
		sentAt, deliveredAt := stamps(target, receivedAt)

		if msg.Status.Advances(target) {
			var errorCode *string
			if receipt.ErrorCode != nil {
				code := strconv.Itoa(*receipt.ErrorCode)
				errorCode = &code
			}
			if err := storage.ApplyMessageState(ctx, tx, msg.ID, target, errorCode, sentAt, deliveredAt); err != nil {
				return err
			}
		} else if sentAt != nil || deliveredAt != nil {
			// Late receipt for ground already covered: keep the
			// status, back-fill the timestamp once.
			if err := storage.BackfillMessageTimestamps(ctx, tx, msg.ID, sentAt, deliveredAt); err != nil {
				return err
			}
		}
		return storage.MarkReceiptReconciled(ctx, tx, receipt.ID)
	})
}

// stamps picks which timestamps a transition may back-fill.
func stamps(target domain.MessageStatus, at time.Time) (sentAt, deliveredAt *time.Time) {
	switch target {
	case domain.MessageSent:
		return &at, nil
	case domain.MessageDelivered, domain.MessageRead:
		return nil, &at
	}
	return nil, nil
}

// SweepReceipts retries unreconciled receipts, oldest first. Receipts
// whose message has since been materialized get matched; the rest stay
// for the next sweep.
func (r *Reconciler) SweepReceipts(ctx context.Context, limit int) (matched int, err error) {
	receipts, err := r.store.ListUnreconciledReceipts(ctx, limit)
	if err != nil {
		return 0, err
	}
	for _, receipt := range receipts {
		if err := r.Apply(ctx, receipt); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			logger.Error("receipt sweep failed", "receipt_id", receipt.ID, "error", err)
			continue
		}
		matched++
	}
	return matched, nil
}

// RepairStaleSent asks the gateway about messages stuck in SENT past
// the cutoff and applies whatever status it reports. Covers receipts
// the provider never delivered to the status webhook.
func (r *Reconciler) RepairStaleSent(ctx context.Context, cutoff time.Time, limit int) (repaired int, err error) {
	if r.sender == nil {
		return 0, nil
	}
	stale, err := r.store.ListStaleSentMessages(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}
	for _, msg := range stale {
		if msg.ProviderSID == nil {
			continue
		}
		status, err := r.sender.FetchStatus(ctx, *msg.ProviderSID)
		if err != nil {
			logger.Warn("status fetch failed", "provider_sid", *msg.ProviderSID, "error", err)
			continue
		}
		receipt := &domain.DeliveryReceipt{
			ProviderSID: status.ProviderSID,
			Status:      status.Status,
			ErrorCode:   status.ErrorCode,
			RawPayload:  []byte(fmt.Sprintf(`{"source":"status_fetch","sid":%q,"status":%q}`, status.ProviderSID, status.Status)),
		}
		if err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
			return storage.InsertDeliveryReceipt(ctx, tx, receipt)
		}); err != nil {
			logger.Error("persist fetched status failed", "provider_sid", *msg.ProviderSID, "error", err)
			continue
		}
		if err := r.Apply(ctx, receipt); err != nil {
			logger.Error("apply fetched status failed", "provider_sid", *msg.ProviderSID, "error", err)
			continue
		}
		repaired++
	}
	return repaired, nil
}
