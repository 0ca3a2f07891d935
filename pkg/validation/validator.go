package validation

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Issue codes
const (
	CodeInvalidString = "invalid_string"
	CodeTooSmall      = "too_small"
	CodeInvalidType   = "invalid_type"
	CodeCustom        = "custom"
)

// Issue describes one invalid field. Path addresses the field inside the
// request body, e.g. ["interests", "2"].
type Issue struct {
	Code    string   `json:"code"`
	Path    []string `json:"path"`
	Message string   `json:"message"`
}

// Issues is the details payload of a validation failure
type Issues []Issue

// Fields returns the distinct top-level field names that failed
func (is Issues) Fields() []string {
	seen := make(map[string]bool, len(is))
	var out []string
	for _, issue := range is {
		if len(issue.Path) == 0 || seen[issue.Path[0]] {
			continue
		}
		seen[issue.Path[0]] = true
		out = append(out, issue.Path[0])
	}
	return out
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)

// Validator collects issues across several checks
type Validator struct {
	issues Issues
}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// Add records an issue for field
func (v *Validator) Add(code, message string, path ...string) *Validator {
	v.issues = append(v.issues, Issue{Code: code, Path: path, Message: message})
	return v
}

// Valid reports whether no issue was recorded
func (v *Validator) Valid() bool {
	return len(v.issues) == 0
}

// Issues returns the recorded issues
func (v *Validator) Issues() Issues {
	return v.issues
}

// Required checks that value is non-empty
func (v *Validator) Required(field, value, message string) *Validator {
	if value == "" {
		v.Add(CodeTooSmall, message, field)
	}
	return v
}

// MinLength checks that value has at least min characters
func (v *Validator) MinLength(field, value string, min int, message string) *Validator {
	if utf8.RuneCountInString(value) < min {
		v.Add(CodeTooSmall, message, field)
	}
	return v
}

// Email checks the address format
func (v *Validator) Email(field, value string) *Validator {
	if !IsEmail(value) {
		v.Add(CodeInvalidString, MsgInvalidEmail, field)
	}
	return v
}

// Phone normalizes value and checks it has exactly ten digits. It returns
// the normalized phone.
func (v *Validator) Phone(field, value string) string {
	phone := NormalizePhone(value)
	if !IsPhone(phone) {
		v.Add(CodeInvalidString, MsgInvalidPhone, field)
	}
	return phone
}

// Strings checks that every element of values is non-empty after trimming
func (v *Validator) Strings(field string, values []string, message string) *Validator {
	for i, s := range values {
		if strings.TrimSpace(s) == "" {
			v.Add(CodeTooSmall, message, field, strconv.Itoa(i))
		}
	}
	return v
}

// IsEmail reports whether s looks like an email address
func IsEmail(s string) bool {
	if len(s) > 254 {
		return false
	}
	return emailRegex.MatchString(s)
}

// IsPhone reports whether s is exactly ten ASCII digits
func IsPhone(s string) bool {
	if len(s) != 10 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
