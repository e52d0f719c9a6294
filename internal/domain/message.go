package domain

import (
	"time"
)

// MessageStatus enumerates the per-message delivery state machine.
type MessageStatus string

const (
	MessageQueued      MessageStatus = "QUEUED"
	MessageSending     MessageStatus = "SENDING"
	MessageSent        MessageStatus = "SENT"
	MessageDelivered   MessageStatus = "DELIVERED"
	MessageRead        MessageStatus = "READ"
	MessageFailed      MessageStatus = "FAILED"
	MessageUndelivered MessageStatus = "UNDELIVERED"
)

// messageRank orders the happy-path states. Terminal failure states
// carry no rank; they absorb from any non-terminal state instead.
var messageRank = map[MessageStatus]int{
	MessageQueued:    0,
	MessageSending:   1,
	MessageSent:      2,
	MessageDelivered: 3,
	MessageRead:      4,
}

// Rank returns the position of s on the QUEUED → READ path, or -1 for
// the absorbing failure states.
func (s MessageStatus) Rank() int {
	if r, ok := messageRank[s]; ok {
		return r
	}
	return -1
}

// IsTerminal reports whether s admits no further transitions.
func (s MessageStatus) IsTerminal() bool {
	switch s {
	case MessageDelivered, MessageRead, MessageFailed, MessageUndelivered:
		return true
	}
	return false
}

// Advances reports whether moving from s to next is a legal,
// forward-only transition: either strictly up the delivery path, or
// into FAILED/UNDELIVERED from a non-terminal state.
func (s MessageStatus) Advances(next MessageStatus) bool {
	if next == MessageFailed || next == MessageUndelivered {
		return !s.IsTerminal()
	}
	return next.Rank() > s.Rank()
}

// Message is one rendered dispatch to one recipient. At most one exists
// per (campaign, recipient); provider_sid is unique when set.
type Message struct {
	ID             string        `json:"id" db:"id"`
	CampaignID     string        `json:"campaign_id" db:"campaign_id"`
	RecipientPhone string        `json:"recipient_phone" db:"recipient_phone"`
	TemplateID     string        `json:"template_id" db:"template_id"`
	Content        string        `json:"content" db:"content"`
	Channel        string        `json:"channel" db:"channel"`
	Status         MessageStatus `json:"status" db:"status"`
	ProviderSID    *string       `json:"provider_sid" db:"provider_sid"`
	ErrorCode      *string       `json:"error_code" db:"error_code"`
	ErrorMessage   *string       `json:"error_message" db:"error_message"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	SentAt         *time.Time    `json:"sent_at" db:"sent_at"`
	DeliveredAt    *time.Time    `json:"delivered_at" db:"delivered_at"`
}
