// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const defaultRegion = "MX"

// NormalizeE164 formats a phone number to E.164. If parsing fails, it returns the trimmed input.
func NormalizeE164(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}

	number, err := phonenumbers.Parse(trimmed, defaultRegion)
	if err != nil {
		return trimmed
	}

	if !phonenumbers.IsValidNumber(number) {
		return trimmed
	}

	return phonenumbers.Format(number, phonenumbers.E164)
}

// FromJID extracts the phone number from a WhatsApp JID
// (e.g. "5215512345678@s.whatsapp.net") and normalizes it to E.164.
func FromJID(jid string) string {
	local := jid
	if at := strings.IndexByte(jid, '@'); at >= 0 {
		local = jid[:at]
	}
	// Device suffixes look like "5215512345678:12".
	if colon := strings.IndexByte(local, ':'); colon >= 0 {
		local = local[:colon]
	}
	if local == "" {
		return ""
	}
	if !strings.HasPrefix(local, "+") {
		local = "+" + local
	}
	return NormalizeE164(local)
}

// IsGroupJID reports whether the JID addresses a group chat.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, "@g.us")
}

// IsBroadcastJID reports whether the JID addresses a broadcast list or status.
func IsBroadcastJID(jid string) bool {
	return strings.HasSuffix(jid, "@broadcast") || strings.Contains(jid, "status@")
}
