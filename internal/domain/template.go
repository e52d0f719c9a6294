package domain

import (
	"time"
)

// Template is parameterized message content. Placeholders use the
// {name} form and are substituted from the recipient's attribute map.
type Template struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Channel   string    `json:"channel" db:"channel"`
	Locale    string    `json:"locale" db:"locale"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Segment is a named predicate over the user table. The predicate tree
// is stored as JSON and compiled to SQL at evaluation time.
type Segment struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	PredicateJSON []byte    `json:"predicate" db:"predicate"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
