package logger

import (
	"log/slog"
	"strings"

	"github.com/norpie/constellation/pkg/admission"
)

const redacted = "[redacted]"

// secretPrefixes mark values that are secrets regardless of their key.
var secretPrefixes = []string{
	admission.TokenPrefix,
	admission.PSKPrefix,
}

// secretKeys are attribute keys whose values are never logged. A key also
// matches when it ends in "_" plus one of these.
var secretKeys = []string{
	"psk",
	"passphrase",
	"token",
	"secret",
	"authorization",
	"gossip_key",
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}
	v := a.Value.String()
	if v == "" {
		return a
	}
	if masked, ok := maskPrefixed(v); ok {
		return slog.String(a.Key, masked)
	}
	if IsSecretKey(a.Key) || strings.HasPrefix(v, "Bearer ") {
		return slog.String(a.Key, redacted)
	}
	return a
}

// maskPrefixed keeps a known secret prefix and the last four characters.
func maskPrefixed(v string) (string, bool) {
	for _, p := range secretPrefixes {
		body, ok := strings.CutPrefix(v, p)
		if !ok {
			continue
		}
		if len(body) <= 8 {
			return p + "****", true
		}
		return p + "****" + body[len(body)-4:], true
	}
	return "", false
}

// IsSecretKey reports whether values logged under key are redacted.
func IsSecretKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range secretKeys {
		if k == s || strings.HasSuffix(k, "_"+s) {
			return true
		}
	}
	return false
}

// Redact masks v the way the log handler would if v were logged under key.
func Redact(key, v string) string {
	return redactAttr(nil, slog.String(key, v)).Value.String()
}
