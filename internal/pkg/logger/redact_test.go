package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactPhone(t *testing.T) {
	assert.Equal(t, "+14*******01", RedactPhone("+14155550001"))
	assert.Equal(t, "+44********56", RedactPhone("+447911123456"))
	assert.Equal(t, "****", RedactPhone("+12"))
	assert.Equal(t, "****", RedactPhone(""))
}

func TestRedactPIIValue(t *testing.T) {
	assert.Equal(t, "+14*******01", redactPIIValue("phone_e164", "+14155550001"))
	assert.Equal(t, "+14*******01", redactPIIValue("From", "+14155550001"))
	assert.Equal(t, "sent to +14*******01 ok", redactPIIValue("detail", "sent to +14155550001 ok"))
	assert.Equal(t, "campaign-42", redactPIIValue("campaign_id", "campaign-42"))
}
