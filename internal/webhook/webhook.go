// Package webhook ingests provider callbacks. Both endpoints share one
// durability contract: the raw row is committed before the provider is
// acknowledged, and the provider is acknowledged with 200 even when
// processing fails, because its retries are not idempotent.
package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/eventstreamhq/engine/internal/consent"
	"github.com/eventstreamhq/engine/internal/domain"
	"github.com/eventstreamhq/engine/internal/phone"
	"github.com/eventstreamhq/engine/internal/pkg/httputil"
	"github.com/eventstreamhq/engine/internal/pkg/logger"
	"github.com/eventstreamhq/engine/internal/reconcile"
	"github.com/eventstreamhq/engine/internal/storage"
)

// emptyAck is the provider-native acknowledgement for inbound posts.
const emptyAck = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// Ingestor handles the inbound and status webhook endpoints.
type Ingestor struct {
	store      *storage.Store
	reconciler *reconcile.Reconciler
}

// NewIngestor creates an Ingestor.
func NewIngestor(store *storage.Store, reconciler *reconcile.Reconciler) *Ingestor {
	return &Ingestor{store: store, reconciler: reconciler}
}

// HandleInbound processes an inbound message callback: normalize the
// sender, persist the raw event, enrich and consent-update the user,
// all in one transaction, then acknowledge.
func (i *Ingestor) HandleInbound(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		logger.Warn("inbound webhook: malformed form", "error", err)
		httputil.XML(w, emptyAck)
		return
	}

	from := r.PostFormValue("From")
	channel, e164, err := phone.NormalizeAddress(from)
	if err != nil {
		// Unparseable sender: acknowledge so the provider does not
		// retry, drop the payload.
		logger.Warn("inbound webhook: unnormalizable sender", "from", from)
		httputil.XML(w, emptyAck)
		return
	}

	body := r.PostFormValue("Body")
	normalized := consent.Normalize(body)
	intent := consent.DetectIntent(normalized)
	raw, _ := json.Marshal(flattenForm(r.PostForm))

	event := &domain.InboundEvent{
		FromPhone:   e164,
		Channel:     channel,
		Body:        normalized,
		ProviderSID: r.PostFormValue("MessageSid"),
		Country:     phone.Country(e164),
		RawPayload:  raw,
	}

	err = i.store.WithTx(r.Context(), func(tx *sql.Tx) error {
		if err := storage.InsertInboundEvent(r.Context(), tx, event); err != nil {
			return err
		}
		user, err := i.upsertSender(r.Context(), tx, e164, intent, r.PostForm)
		if err != nil {
			return err
		}
		return storage.LinkInboundEventUser(r.Context(), tx, event.ID, user.ID)
	})
	if err != nil {
		// Deliberate trade: the raw payload is lost, but a 5xx here
		// would trigger a non-idempotent retry storm.
		logger.Error("inbound webhook: ingest failed", "from", e164, "error", err)
	} else if intent == consent.IntentStop {
		logger.Info("inbound stop processed", "phone", e164, "channel", channel)
	}

	httputil.XML(w, emptyAck)
}

// upsertSender merges the sender user row: attribute enrichment from
// provider extras, plus the consent transition for STOP/START bodies.
// The row lock from the read serializes concurrent inbound requests.
func (i *Ingestor) upsertSender(ctx context.Context, tx *sql.Tx, e164 string, intent consent.Intent, form map[string][]string) (*domain.User, error) {
	current := domain.ConsentOptIn
	existing, err := storage.GetUserByPhoneForUpdate(ctx, tx, e164)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		current = existing.ConsentState
	}
	next, _ := consent.NextState(current, intent)

	attrs := map[string]string{
		"last_message_at": nowRFC3339(),
	}
	if v := formValue(form, "ProfileName"); v != "" {
		attrs["profile_name"] = v
	}
	if v := formValue(form, "WaId"); v != "" {
		attrs["wa_id"] = v
	}
	return storage.UpsertUser(ctx, tx, e164, attrs, next, true)
}

// HandleStatus persists a delivery receipt and acknowledges, then
// reconciles synchronously. Reconciliation failure never affects the
// acknowledgement; orphans wait for the sweep.
func (i *Ingestor) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		logger.Warn("status webhook: malformed form", "error", err)
		httputil.OK(w, map[string]string{"status": "received"})
		return
	}

	raw, _ := json.Marshal(flattenForm(r.PostForm))
	receipt := &domain.DeliveryReceipt{
		ProviderSID: r.PostFormValue("MessageSid"),
		Status:      r.PostFormValue("MessageStatus"),
		RawPayload:  raw,
	}
	if v := r.PostFormValue("ErrorCode"); v != "" {
		if code, err := strconv.Atoi(v); err == nil {
			receipt.ErrorCode = &code
		}
	}

	err := i.store.WithTx(r.Context(), func(tx *sql.Tx) error {
		return storage.InsertDeliveryReceipt(r.Context(), tx, receipt)
	})
	if err != nil {
		logger.Error("status webhook: persist failed", "provider_sid", receipt.ProviderSID, "error", err)
		httputil.OK(w, map[string]string{"status": "received"})
		return
	}

	httputil.OK(w, map[string]string{"status": "received"})

	if i.reconciler != nil {
		if err := i.reconciler.Apply(context.WithoutCancel(r.Context()), receipt); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				logger.Debug("status webhook: orphan receipt", "provider_sid", receipt.ProviderSID)
			} else {
				logger.Error("status webhook: reconcile failed", "provider_sid", receipt.ProviderSID, "error", err)
			}
		}
	}
}

func flattenForm(form map[string][]string) map[string]string {
	flat := make(map[string]string, len(form))
	for k, vs := range form {
		if len(vs) > 0 {
			flat[k] = vs[0]
		}
	}
	return flat
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func formValue(form map[string][]string, key string) string {
	if vs := form[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}
