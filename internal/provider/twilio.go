package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/eventstreamhq/engine/internal/pkg/httpretry"
)

const twilioDefaultBaseURL = "https://api.twilio.com"

// TwilioSender speaks the Twilio REST wire contract: form-encoded POST
// for sends, JSON GET for status fetches.
type TwilioSender struct {
	accountSID     string
	authToken      string
	fromNumber     string
	baseURL        string
	statusCallback string
	sendClient     *http.Client
	statusClient   httpretry.HTTPDoer
}

// NewTwilioSender creates a TwilioSender. An empty baseURL selects the
// production API; tests pass an httptest server URL. timeout bounds
// each send call.
func NewTwilioSender(accountSID, authToken, fromNumber, baseURL, statusCallback string, timeout time.Duration) *TwilioSender {
	if baseURL == "" {
		baseURL = twilioDefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TwilioSender{
		accountSID:     accountSID,
		authToken:      authToken,
		fromNumber:     fromNumber,
		baseURL:        baseURL,
		statusCallback: statusCallback,
		sendClient:     &http.Client{Timeout: timeout},
		// Status fetches are read-only, so retrying 429/5xx is safe.
		// Sends are never retried here: a FAILED message with an error
		// code is the pipeline's retry surface.
		statusClient: httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 3),
	}
}

// Send submits one message. Gateway rejections (4xx/5xx with a Twilio
// error body) map to SendResult with Success=false; only broken
// plumbing (malformed URL, unreadable response) is a Go error.
func (s *TwilioSender) Send(ctx context.Context, to, content, channel string) (*SendResult, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)

	form := url.Values{}
	form.Set("To", formatDestination(channel, to))
	form.Set("From", formatDestination(channel, s.fromNumber))
	form.Set("Body", content)
	if s.statusCallback != "" {
		form.Set("StatusCallback", s.statusCallback)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("twilio: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.accountSID, s.authToken)

	resp, err := s.sendClient.Do(req)
	if err != nil {
		code := ErrCodeTransport
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) || isClientTimeout(err) {
			code = ErrCodeTimeout
		}
		return &SendResult{Success: false, ErrorCode: code, ErrorMessage: err.Error()}, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("twilio: read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var errResp struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		result := &SendResult{
			Success:      false,
			ErrorCode:    strconv.Itoa(resp.StatusCode),
			ErrorMessage: strings.TrimSpace(string(respBody)),
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Message != "" {
			result.ErrorCode = strconv.Itoa(errResp.Code)
			result.ErrorMessage = errResp.Message
		}
		return result, nil
	}

	var parsed struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("twilio: parse response: %w", err)
	}
	return &SendResult{Success: true, ProviderSID: parsed.SID, Status: parsed.Status}, nil
}

// FetchStatus reads the gateway's current status for a message.
func (s *TwilioSender) FetchStatus(ctx context.Context, providerSID string) (*StatusResult, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages/%s.json", s.baseURL, s.accountSID, providerSID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("twilio: build status request: %w", err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)

	resp, err := s.statusClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twilio: fetch status: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("twilio: read status response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("twilio: status fetch returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed struct {
		SID       string `json:"sid"`
		Status    string `json:"status"`
		ErrorCode *int   `json:"error_code"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("twilio: parse status response: %w", err)
	}
	return &StatusResult{ProviderSID: parsed.SID, Status: parsed.Status, ErrorCode: parsed.ErrorCode}, nil
}

func isClientTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
