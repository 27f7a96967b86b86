package config

import "strings"

// Sanitize returns a copy of cfg with secrets masked, for logging and
// `meshd config`.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	out := *cfg
	out.Admission.PSK = maskSecret(cfg.Admission.PSK)
	out.Admission.Passphrase = maskSecret(cfg.Admission.Passphrase)
	out.Admin.Token = maskSecret(cfg.Admin.Token)
	out.Listen = append([]ListenerConfig(nil), cfg.Listen...)
	return &out
}

func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "****"
	default:
		return s[:4] + strings.Repeat("*", len(s)-6) + s[len(s)-2:]
	}
}
