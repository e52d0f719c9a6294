// Package provider adapts the engine to the upstream messaging
// gateway. It is the only package that performs network I/O to the
// provider; everything else sees SendResult/StatusResult values.
package provider

import (
	"context"
)

// Synthetic error codes for failures the gateway never reported.
const (
	ErrCodeTimeout     = "TIMEOUT"
	ErrCodeTransport   = "TRANSPORT"
	ErrCodeUnsupported = "UNSUPPORTED_CHANNEL"
)

// SendResult is the outcome of one dispatch attempt. Gateway-side
// rejections come back as Success=false with an error code, not as a
// Go error; adapters never throw across the boundary for anything the
// pipeline should record on the message.
type SendResult struct {
	Success      bool
	ProviderSID  string
	Status       string
	ErrorCode    string
	ErrorMessage string
}

// StatusResult is the gateway's current view of a submitted message.
type StatusResult struct {
	ProviderSID string
	Status      string
	ErrorCode   *int
}

// Sender is the narrow adapter interface the orchestrator and
// reconciler depend on.
type Sender interface {
	// Send dispatches content to an E.164 phone over the given channel.
	Send(ctx context.Context, to, content, channel string) (*SendResult, error)
	// FetchStatus asks the gateway for the current status of a
	// previously submitted message.
	FetchStatus(ctx context.Context, providerSID string) (*StatusResult, error)
}

// formatDestination applies the gateway's channel prefix convention.
// Chat channels are prefixed; plain SMS addresses go bare.
func formatDestination(channel, phone string) string {
	switch channel {
	case "whatsapp", "messenger":
		return channel + ":" + phone
	}
	return phone
}
