package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCampaignTransitions(t *testing.T) {
	allowed := [][2]CampaignStatus{
		{CampaignDraft, CampaignReady},
		{CampaignReady, CampaignRunning},
		{CampaignRunning, CampaignCompleted},
		{CampaignRunning, CampaignPaused},
		{CampaignRunning, CampaignFailed},
		{CampaignPaused, CampaignRunning},
		{CampaignPaused, CampaignFailed},
		{CampaignFailed, CampaignReady},
	}
	for _, edge := range allowed {
		assert.True(t, CanTransition(edge[0], edge[1]), "%s -> %s", edge[0], edge[1])
	}

	denied := [][2]CampaignStatus{
		{CampaignDraft, CampaignRunning},
		{CampaignReady, CampaignCompleted},
		{CampaignCompleted, CampaignRunning},
		{CampaignCompleted, CampaignReady},
		{CampaignFailed, CampaignRunning},
		{CampaignPaused, CampaignCompleted},
		{CampaignRunning, CampaignDraft},
	}
	for _, edge := range denied {
		assert.False(t, CanTransition(edge[0], edge[1]), "%s -> %s", edge[0], edge[1])
	}
}

func TestMessageStatusAdvances(t *testing.T) {
	assert.True(t, MessageQueued.Advances(MessageSending))
	assert.True(t, MessageQueued.Advances(MessageSent))
	assert.True(t, MessageSending.Advances(MessageDelivered))
	assert.True(t, MessageDelivered.Advances(MessageRead))

	// Never regress.
	assert.False(t, MessageSent.Advances(MessageSending))
	assert.False(t, MessageDelivered.Advances(MessageSent))
	assert.False(t, MessageRead.Advances(MessageDelivered))
	assert.False(t, MessageSent.Advances(MessageSent))

	// Failure states absorb from non-terminal states only.
	assert.True(t, MessageQueued.Advances(MessageFailed))
	assert.True(t, MessageSent.Advances(MessageUndelivered))
	assert.False(t, MessageDelivered.Advances(MessageFailed))
	assert.False(t, MessageRead.Advances(MessageUndelivered))
	assert.False(t, MessageFailed.Advances(MessageUndelivered))
}

func TestConsentStateValid(t *testing.T) {
	assert.True(t, ConsentOptIn.Valid())
	assert.True(t, ConsentOptOut.Valid())
	assert.True(t, ConsentStop.Valid())
	assert.False(t, ConsentState("MAYBE").Valid())
}
