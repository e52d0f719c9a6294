package phone

import (
	"errors"
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// ErrInvalidPhone is returned when a raw address cannot be normalized
// to E.164.
var ErrInvalidPhone = errors.New("invalid phone number")

// e164Pattern is the identity contract for stored phones: '+' followed
// by a leading non-zero digit and up to 14 more digits.
var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// channelPrefixes maps provider address prefixes to channel tags.
var channelPrefixes = []string{"whatsapp", "sms", "messenger", "voice"}

// DefaultChannel is assumed when the provider address carries no prefix.
const DefaultChannel = "sms"

// ExtractChannel splits a provider address like "whatsapp:+14155550001"
// into its channel tag and bare address. Addresses without a known
// prefix default to sms.
func ExtractChannel(raw string) (channel, address string) {
	if idx := strings.Index(raw, ":"); idx > 0 {
		prefix := strings.ToLower(raw[:idx])
		for _, known := range channelPrefixes {
			if prefix == known {
				return known, raw[idx+1:]
			}
		}
	}
	return DefaultChannel, raw
}

// Normalize strips whitespace and formatting from a bare address and
// validates it against the E.164 contract. A missing '+' on an
// otherwise digit-only address is tolerated and prepended.
func Normalize(address string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(address) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && b.Len() == 0:
			b.WriteRune(r)
		case r == ' ', r == '-', r == '(', r == ')', r == '.':
			// formatting, drop
		default:
			return "", ErrInvalidPhone
		}
	}
	candidate := b.String()
	if candidate != "" && candidate[0] != '+' {
		candidate = "+" + candidate
	}
	if !e164Pattern.MatchString(candidate) {
		return "", ErrInvalidPhone
	}
	return candidate, nil
}

// NormalizeAddress extracts the channel tag and normalizes the
// remaining address in one step.
func NormalizeAddress(raw string) (channel, e164 string, err error) {
	channel, address := ExtractChannel(raw)
	e164, err = Normalize(address)
	return channel, e164, err
}

// IsE164 reports whether s already satisfies the stored-phone contract.
func IsE164(s string) bool {
	return e164Pattern.MatchString(s)
}

// Country returns the ISO 3166-1 alpha-2 region for an E.164 phone,
// or "" when the number does not map to a region. Used for tagging
// inbound traffic; it never gates normalization.
func Country(e164 string) string {
	num, err := phonenumbers.Parse(e164, "")
	if err != nil {
		return ""
	}
	return phonenumbers.GetRegionCodeForNumber(num)
}

// Mask hides the middle digits of a phone for operator-facing output,
// keeping the country code and last two digits.
func Mask(e164 string) string {
	if len(e164) < 6 {
		return "****"
	}
	return e164[:3] + strings.Repeat("*", len(e164)-5) + e164[len(e164)-2:]
}
