// Package masking redacts gateway credentials and customer contact details
// before they are written to the audit trail.
package masking

import "strings"

const maskToken = "****"

var sensitiveKeys = map[string]struct{}{
	"signature":      {},
	"hash":           {},
	"client_secret":  {},
	"gateway_secret": {},
	"key_secret":     {},
	"merchant_salt":  {},
	"card_number":    {},
}

var contactKeys = map[string]struct{}{
	"email":          {},
	"customer_email": {},
	"phone":          {},
}

// IsSensitiveKey reports whether values stored under key must never be
// persisted in clear.
func IsSensitiveKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if _, ok := sensitiveKeys[key]; ok {
		return true
	}
	return strings.HasSuffix(key, "_secret") || strings.HasSuffix(key, "_signature") || strings.HasSuffix(key, "_token")
}

// MaskSecret keeps the key prefix (whsec_, rzp_live_) and the last four
// characters.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, remainder := splitPrefix(trimmed)
	if len(remainder) <= 4 {
		return prefix + maskToken
	}

	return prefix + maskToken + remainder[len(remainder)-4:]
}

// MaskContact keeps the first character of an email local part and its
// domain, or the last four digits of a phone number.
func MaskContact(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if at := strings.LastIndex(trimmed, "@"); at > 0 {
		return trimmed[:1] + maskToken + trimmed[at:]
	}
	if len(trimmed) <= 4 {
		return maskToken
	}
	return maskToken + trimmed[len(trimmed)-4:]
}

// MaskMetadata copies audit metadata, masking sensitive and contact values
// at any depth. Empty keys are dropped.
func MaskMetadata(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		masked[trimmedKey] = maskValue(trimmedKey, value)
	}

	if len(masked) == 0 {
		return nil
	}
	return masked
}

func maskValue(key string, value any) any {
	switch cast := value.(type) {
	case string:
		if IsSensitiveKey(key) {
			return MaskSecret(cast)
		}
		if _, ok := contactKeys[strings.ToLower(key)]; ok {
			return MaskContact(cast)
		}
		return cast
	case map[string]any:
		return MaskMetadata(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue(key, item))
		}
		return out
	default:
		return value
	}
}

func splitPrefix(value string) (string, string) {
	lastUnderscore := strings.LastIndex(value, "_")
	if lastUnderscore == -1 || lastUnderscore == len(value)-1 {
		return "", value
	}
	return value[:lastUnderscore+1], value[lastUnderscore+1:]
}
