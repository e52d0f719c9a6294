package provider

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SNSPublisher is the slice of the SNS client the sender needs; tests
// substitute a fake.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSender publishes plain SMS through AWS SNS. SNS has no chat
// channels and no status-fetch API, so whatsapp/messenger sends are
// rejected with UNSUPPORTED_CHANNEL and FetchStatus is a hard error.
type SNSSender struct {
	client SNSPublisher
}

// NewSNSSender builds an SNSSender from the default AWS credential
// chain in the given region.
func NewSNSSender(ctx context.Context, region string) (*SNSSender, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &SNSSender{client: sns.NewFromConfig(cfg)}, nil
}

// NewSNSSenderWithClient wires a pre-built publisher, for tests.
func NewSNSSenderWithClient(client SNSPublisher) *SNSSender {
	return &SNSSender{client: client}
}

// Send publishes the content as an SMS.
func (s *SNSSender) Send(ctx context.Context, to, content, channel string) (*SendResult, error) {
	if channel != "sms" {
		return &SendResult{
			Success:      false,
			ErrorCode:    ErrCodeUnsupported,
			ErrorMessage: fmt.Sprintf("sns cannot deliver channel %q", channel),
		}, nil
	}
	out, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: &to,
		Message:     &content,
	})
	if err != nil {
		return &SendResult{Success: false, ErrorCode: ErrCodeTransport, ErrorMessage: err.Error()}, nil
	}
	result := &SendResult{Success: true, Status: "sent"}
	if out.MessageId != nil {
		result.ProviderSID = *out.MessageId
	}
	return result, nil
}

// FetchStatus is unsupported: SNS offers no per-message status API.
func (s *SNSSender) FetchStatus(ctx context.Context, providerSID string) (*StatusResult, error) {
	return nil, fmt.Errorf("sns: per-message status fetch not supported")
}
