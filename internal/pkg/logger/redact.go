package logger

import "strings"

// RedactPhone masks a phone number for safe logging.
// "+14155550001" → "+14*******01"
// Strings too short to be a phone are fully masked.
func RedactPhone(phone string) string {
	if len(phone) < 6 {
		return "****"
	}
	return phone[:3] + strings.Repeat("*", len(phone)-5) + phone[len(phone)-2:]
}
