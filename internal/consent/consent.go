// Package consent classifies inbound message bodies into opt-out and
// opt-in intents and computes the resulting consent transition.
package consent

import (
	"strings"

	"github.com/eventstreamhq/engine/internal/domain"
)

// Intent is the compliance meaning of an inbound body.
type Intent int

const (
	IntentNone Intent = iota
	IntentStop
	IntentStart
)

var stopKeywords = map[string]bool{
	"stop":        true,
	"stopall":     true,
	"unsubscribe": true,
	"cancel":      true,
	"end":         true,
	"quit":        true,
	"opt-out":     true,
}

var startKeywords = map[string]bool{
	"start":     true,
	"subscribe": true,
	"join":      true,
	"yes":       true,
	"unstop":    true,
}

// Normalize lowercases, trims, and collapses internal whitespace so
// keyword matching sees a canonical body.
func Normalize(body string) string {
	return strings.Join(strings.Fields(strings.ToLower(body)), " ")
}

// DetectIntent classifies an already-normalized body. Only exact
// keyword matches count; "please stop" is not a STOP command.
func DetectIntent(normalized string) Intent {
	switch {
	case stopKeywords[normalized]:
		return IntentStop
	case startKeywords[normalized]:
		return IntentStart
	}
	return IntentNone
}

// NextState computes the consent transition for an intent.
//
// STOP always wins. START undoes only a prior STOP; a user the
// operator marked OPT_OUT stays OPT_OUT until the operator flips them
// back. changed is false when the intent leaves the state untouched.
func NextState(current domain.ConsentState, intent Intent) (next domain.ConsentState, changed bool) {
	switch intent {
	case IntentStop:
		return domain.ConsentStop, current != domain.ConsentStop
	case IntentStart:
		if current == domain.ConsentStop {
			return domain.ConsentOptIn, true
		}
	}
	return current, false
}
