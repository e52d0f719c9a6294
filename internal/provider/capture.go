package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/eventstreamhq/engine/internal/pkg/logger"
)

// CaptureSender records sends in memory for tests. Results can be
// scripted per destination.
type CaptureSender struct {
	mu       sync.Mutex
	Calls    []CaptureCall
	statuses map[string]StatusResult
	// FailWith, when set, is returned (Success=false) for every send.
	FailWith *SendResult
}

// CaptureCall records a single Send invocation.
type CaptureCall struct {
	To      string
	Content string
	Channel string
}

// NewCaptureSender creates an empty CaptureSender.
func NewCaptureSender() *CaptureSender {
	return &CaptureSender{statuses: make(map[string]StatusResult)}
}

// Send records the call and fabricates an ascending provider sid.
func (c *CaptureSender) Send(_ context.Context, to, content, channel string) (*SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, CaptureCall{To: to, Content: content, Channel: channel})
	if c.FailWith != nil {
		res := *c.FailWith
		return &res, nil
	}
	return &SendResult{
		Success:     true,
		ProviderSID: fmt.Sprintf("SM%04d", len(c.Calls)),
		Status:      "queued",
	}, nil
}

// SetStatus scripts the response for a later FetchStatus call.
func (c *CaptureSender) SetStatus(providerSID, status string, errorCode *int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[providerSID] = StatusResult{ProviderSID: providerSID, Status: status, ErrorCode: errorCode}
}

// FetchStatus returns a scripted status, if any.
func (c *CaptureSender) FetchStatus(_ context.Context, providerSID string) (*StatusResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if res, ok := c.statuses[providerSID]; ok {
		return &res, nil
	}
	return nil, fmt.Errorf("capture: no status for %s", providerSID)
}

// Reset clears all recorded calls.
func (c *CaptureSender) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = nil
}

// LogSender logs instead of dispatching. The default provider in dev
// environments, where no gateway credentials exist.
type LogSender struct {
	mu   sync.Mutex
	next int
}

// Send logs the dispatch and succeeds with a fabricated sid.
func (l *LogSender) Send(_ context.Context, to, content, channel string) (*SendResult, error) {
	l.mu.Lock()
	l.next++
	sid := fmt.Sprintf("LOG%06d", l.next)
	l.mu.Unlock()
	logger.Info("log sender dispatch", "to", to, "channel", channel, "chars", len(content), "provider_sid", sid)
	return &SendResult{Success: true, ProviderSID: sid, Status: "sent"}, nil
}

// FetchStatus reports every logged message as delivered.
func (l *LogSender) FetchStatus(_ context.Context, providerSID string) (*StatusResult, error) {
	return &StatusResult{ProviderSID: providerSID, Status: "delivered"}, nil
}
