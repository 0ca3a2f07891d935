package validation

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode"
)

// NormalizeEmail trims and lower-cases an address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone strips every non-digit and drops a leading 7 or 8 country
// prefix from 11-digit numbers, so "+7 (999) 123-45-67" becomes "9991234567".
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && (digits[0] == '7' || digits[0] == '8') {
		digits = digits[1:]
	}
	return digits
}

// NormalizeName trims surrounding whitespace and collapses inner runs
func NormalizeName(name string) string {
	return strings.Join(strings.FieldsFunc(name, unicode.IsSpace), " ")
}

// IsJSONObject reports whether raw is a JSON object. null counts as absent
// and is rejected.
func IsJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return json.Valid(trimmed)
}
