package domain

import (
	"time"
)

// ConsentState enumerates a user's messaging consent.
type ConsentState string

const (
	ConsentOptIn  ConsentState = "OPT_IN"
	ConsentOptOut ConsentState = "OPT_OUT"
	ConsentStop   ConsentState = "STOP"
)

// Valid reports whether s is a known consent state.
func (s ConsentState) Valid() bool {
	switch s {
	case ConsentOptIn, ConsentOptOut, ConsentStop:
		return true
	}
	return false
}

// User is a phone-addressed recipient. Identity is the normalized E.164
// phone; upserts against the same phone merge rather than duplicate.
type User struct {
	ID           string            `json:"id" db:"id"`
	PhoneE164    string            `json:"phone_e164" db:"phone_e164"`
	Attributes   map[string]string `json:"attributes" db:"attributes"`
	ConsentState ConsentState      `json:"consent_state" db:"consent_state"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at" db:"updated_at"`
}

// Subscription links a user to a campaign topic.
type Subscription struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Topic     string    `json:"topic" db:"topic"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
