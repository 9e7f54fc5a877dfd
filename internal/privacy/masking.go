package privacy

import (
	"net/url"
	"strings"
)

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+1234567890" -> "+******7890"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}
	if strings.HasPrefix(phone, "+") {
		return "+" + maskString(phone[1:], 4)
	}
	return maskString(phone, 4)
}

// MaskJID masks the user part of a protocol address, dropping any device
// suffix. Example: "1234567890:12@s.whatsapp.net" -> "******7890@s.whatsapp.net"
func MaskJID(jid string) string {
	if jid == "" {
		return ""
	}

	user, server, found := strings.Cut(jid, "@")
	if !found {
		return maskString(jid, 4)
	}
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	// Broadcast and group addresses carry no personal number.
	if server == "broadcast" {
		return jid
	}
	return maskString(user, 4) + "@" + server
}

// MaskMessageID keeps the last 4 characters of a message id.
func MaskMessageID(messageID string) string {
	return maskString(messageID, 4)
}

// MaskURL drops credentials, query and fragment from a webhook URL.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return maskString(raw, 8)
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			masked[k] = v
			continue
		}
		switch k {
		case "phone", "phone_number", "pairing_phone":
			masked[k] = MaskPhoneNumber(s)
		case "jid", "remote_jid", "chat_id", "to", "from":
			masked[k] = MaskJID(s)
		case "message_id", "messageId":
			masked[k] = MaskMessageID(s)
		case "url", "webhook_url":
			masked[k] = MaskURL(s)
		default:
			masked[k] = v
		}
	}
	return masked
}
