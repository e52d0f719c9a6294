package domain

import (
	"time"
)

// InboundEvent is the immutable audit row for a message received from
// the provider. Raw payload is kept verbatim; normalized fields sit
// alongside for querying.
type InboundEvent struct {
	ID          string    `json:"id" db:"id"`
	UserID      *string   `json:"user_id" db:"user_id"`
	FromPhone   string    `json:"from_phone" db:"from_phone"`
	Channel     string    `json:"channel" db:"channel"`
	Body        string    `json:"body" db:"body"`
	ProviderSID string    `json:"provider_sid" db:"provider_sid"`
	Country     string    `json:"country" db:"country"`
	RawPayload  []byte    `json:"raw_payload" db:"raw_payload"`
	ReceivedAt  time.Time `json:"received_at" db:"received_at"`
}

// DeliveryReceipt is the immutable audit row for a status callback.
// Reconciliation joins it to a Message through provider_sid.
type DeliveryReceipt struct {
	ID          string    `json:"id" db:"id"`
	ProviderSID string    `json:"provider_sid" db:"provider_sid"`
	Status      string    `json:"status" db:"status"`
	ErrorCode   *int      `json:"error_code" db:"error_code"`
	RawPayload  []byte    `json:"raw_payload" db:"raw_payload"`
	Reconciled  bool      `json:"reconciled" db:"reconciled"`
	ReceivedAt  time.Time `json:"received_at" db:"received_at"`
}
