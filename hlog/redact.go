package hlog

import (
	"fmt"
	"strings"
)

// sensitive keys are matched case-insensitively
var sensitive = map[string]func(string) string{
	"password":              HidePassword,
	"email":                 HideEmail,
	"customerid":            HideSerial,
	"customeremail":         HideEmail,
	"deviceserialnumber":    HideSerial,
	"serialnumber":          HideSerial,
	"destinationuserid":     HideSerial,
	"deviceownercustomerid": HideSerial,
}

// HidePassword never shows any character of the secret, only its length.
func HidePassword(s string) string {
	return fmt.Sprintf("REDACTED %d CHARS", len(s))
}

// HideEmail keeps the first character of the local part and the domain.
func HideEmail(s string) string {
	at := strings.LastIndex(s, "@")
	if at <= 0 {
		return HideSerial(s)
	}
	return s[:1] + strings.Repeat("*", at-1) + s[at:]
}

// HideSerial keeps the last four characters.
func HideSerial(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

// Redact returns a copy of v with sensitive values hidden. Maps and slices
// are walked recursively; other values are returned unchanged.
func Redact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			if hide, ok := sensitive[strings.ToLower(k)]; ok {
				if s, ok := e.(string); ok {
					out[k] = hide(s)
					continue
				}
			}
			out[k] = Redact(e)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, e := range t {
			if hide, ok := sensitive[strings.ToLower(k)]; ok {
				out[k] = hide(e)
			} else {
				out[k] = e
			}
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Redact(e)
		}
		return out
	default:
		return v
	}
}
