package logger

import (
	"net/url"
	"regexp"
	"strings"
)

// SensitiveDataPatterns matches credentials that must not reach log output
var SensitiveDataPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`),
	regexp.MustCompile(`(?i)((api|access|auth|token|secret|key|passw(or)?d)[0-9a-z\-_\.]*[\s:=]+)([^;,\s]{5,})`),
}

// SensitiveKeywords mark field keys whose string values are redacted
var SensitiveKeywords = []string{
	"password", "passwd", "secret", "credential", "token", "api_key", "apikey", "authorization",
}

// RedactSensitiveData replaces credentials in free text with "[REDACTED]"
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for _, pattern := range SensitiveDataPatterns {
		input = pattern.ReplaceAllString(input, "$1[REDACTED]")
	}
	return input
}

// RedactURL strips user info from a broker or endpoint URL
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.User("[REDACTED]")
	return u.String()
}

// RedactSensitiveFields returns a copy of fields with sensitive string values redacted
func RedactSensitiveFields(fields []Field) []Field {
	result := make([]Field, len(fields))
	for i := range fields {
		result[i] = redactField(fields[i])
	}
	return result
}

// redactField blanks string values under sensitive keys and scrubs
// credentials out of error text
func redactField(f Field) Field {
	value, ok := f.Value.(string)
	if !ok || value == "" {
		return f
	}
	if f.Key == errorKey {
		f.Value = RedactSensitiveData(value)
		return f
	}
	keyLower := strings.ToLower(f.Key)
	for _, sensitiveKey := range SensitiveKeywords {
		if strings.Contains(keyLower, sensitiveKey) {
			f.Value = "[REDACTED]"
			break
		}
	}
	return f
}
