package consent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eventstreamhq/engine/internal/domain"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "stop", Normalize("  STOP  "))
	assert.Equal(t, "please stop now", Normalize("Please   STOP\t\nnow"))
	assert.Equal(t, "", Normalize("   "))
}

func TestDetectIntent(t *testing.T) {
	tests := []struct {
		body string
		want Intent
	}{
		{"stop", IntentStop},
		{"stopall", IntentStop},
		{"unsubscribe", IntentStop},
		{"cancel", IntentStop},
		{"end", IntentStop},
		{"quit", IntentStop},
		{"opt-out", IntentStop},
		{"start", IntentStart},
		{"subscribe", IntentStart},
		{"join", IntentStart},
		{"yes", IntentStart},
		{"unstop", IntentStart},
		{"hello", IntentNone},
		{"please stop", IntentNone},
		{"stop it", IntentNone},
		{"", IntentNone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectIntent(tt.body), tt.body)
	}
}

func TestNextState(t *testing.T) {
	// STOP from any state lands on STOP.
	for _, cur := range []domain.ConsentState{domain.ConsentOptIn, domain.ConsentOptOut, domain.ConsentStop} {
		next, changed := NextState(cur, IntentStop)
		assert.Equal(t, domain.ConsentStop, next)
		assert.Equal(t, cur != domain.ConsentStop, changed)
	}

	// START only undoes a prior STOP.
	next, changed := NextState(domain.ConsentStop, IntentStart)
	assert.Equal(t, domain.ConsentOptIn, next)
	assert.True(t, changed)

	next, changed = NextState(domain.ConsentOptOut, IntentStart)
	assert.Equal(t, domain.ConsentOptOut, next)
	assert.False(t, changed)

	next, changed = NextState(domain.ConsentOptIn, IntentStart)
	assert.Equal(t, domain.ConsentOptIn, next)
	assert.False(t, changed)

	// No intent is always a no-op.
	next, changed = NextState(domain.ConsentOptIn, IntentNone)
	assert.Equal(t, domain.ConsentOptIn, next)
	assert.False(t, changed)
}
