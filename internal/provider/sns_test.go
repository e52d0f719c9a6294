package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	lastInput *sns.PublishInput
	out       *sns.PublishOutput
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.lastInput = params
	return f.out, f.err
}

func TestSNSSend(t *testing.T) {
	id := "msg-123"
	fake := &fakePublisher{out: &sns.PublishOutput{MessageId: &id}}
	s := NewSNSSenderWithClient(fake)

	res, err := s.Send(context.Background(), "+14155550001", "hello", "sms")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "msg-123", res.ProviderSID)
	require.NotNil(t, fake.lastInput)
	assert.Equal(t, "+14155550001", *fake.lastInput.PhoneNumber)
	assert.Equal(t, "hello", *fake.lastInput.Message)
}

func TestSNSSendRejectsChatChannels(t *testing.T) {
	s := NewSNSSenderWithClient(&fakePublisher{})
	res, err := s.Send(context.Background(), "+14155550001", "hello", "whatsapp")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ErrCodeUnsupported, res.ErrorCode)
}

func TestSNSSendPublishErrorBecomesResult(t *testing.T) {
	s := NewSNSSenderWithClient(&fakePublisher{err: errors.New("throttled")})
	res, err := s.Send(context.Background(), "+14155550001", "hello", "sms")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ErrCodeTransport, res.ErrorCode)
}

func TestSNSFetchStatusUnsupported(t *testing.T) {
	s := NewSNSSenderWithClient(&fakePublisher{})
	_, err := s.FetchStatus(context.Background(), "msg-123")
	assert.Error(t, err)
}
