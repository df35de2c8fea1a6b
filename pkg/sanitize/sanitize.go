// Package sanitize cleans console input before it is sent to the admin API.
//
// The Sanitizer interface is the contract the console depends on; Policy is
// the default implementation backed by a bluemonday strict policy.
package sanitize

import (
	"fmt"
	"html"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

type Sanitizer interface {
	// CleanInput strips markup, script-bearing protocols, inline event
	// handlers and control characters from a single form value.
	CleanInput(value string) string
	// ValidateNoXSS reports whether value is free of common XSS vectors.
	ValidateNoXSS(value string) bool
}

var (
	scriptProtocolPattern = regexp.MustCompile(`(?i)(javascript|vbscript|data):`)
	eventHandlerPattern   = regexp.MustCompile(`(?i)on\w+=`)
	controlCharPattern    = regexp.MustCompile(`[\x{0000}-\x{001F}\x{007F}-\x{009F}]`)

	xssPatterns = []*regexp.Regexp{
		regexp.MustCompile(`<[^>]*>`),
		regexp.MustCompile(`(?i)javascript:`),
		regexp.MustCompile(`(?i)data:`),
		regexp.MustCompile(`(?i)on\w+=`),
		regexp.MustCompile(`&#`),
		regexp.MustCompile(`\\`),
		regexp.MustCompile(`%[0-9A-F]{2}`),
	}
)

type Policy struct {
	strict *bluemonday.Policy
}

var _ Sanitizer = (*Policy)(nil)

func NewPolicy() *Policy {
	return &Policy{strict: bluemonday.StrictPolicy()}
}

func (p *Policy) CleanInput(value string) string {
	cleaned := strings.TrimSpace(value)
	// bluemonday entity-encodes what it keeps; decode so plain text such
	// as "a&b" survives unchanged.
	cleaned = html.UnescapeString(p.strict.Sanitize(cleaned))
	cleaned = strings.NewReplacer("<", "", ">", "").Replace(cleaned)
	cleaned = scriptProtocolPattern.ReplaceAllString(cleaned, "")
	cleaned = eventHandlerPattern.ReplaceAllString(cleaned, "")
	cleaned = strings.ReplaceAll(cleaned, "&#", "&amp;#")
	cleaned = controlCharPattern.ReplaceAllString(cleaned, "")
	return cleaned
}

func (p *Policy) ValidateNoXSS(value string) bool {
	for _, pattern := range xssPatterns {
		if pattern.MatchString(value) {
			return false
		}
	}
	return true
}

// CleanFields applies CleanInput to every string value of fields. Other
// values pass through untouched.
func CleanFields(s Sanitizer, fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}

	cleaned := make(map[string]any, len(fields))
	for key, value := range fields {
		if text, ok := value.(string); ok {
			cleaned[key] = s.CleanInput(text)
			continue
		}
		cleaned[key] = value
	}
	return cleaned
}

// ValidateFields returns an error naming the first string field, in key
// order, that fails ValidateNoXSS.
func ValidateFields(s Sanitizer, fields map[string]any) error {
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		text, ok := fields[key].(string)
		if !ok {
			continue
		}
		if !s.ValidateNoXSS(text) {
			return fmt.Errorf("field %q contains unsafe content", key)
		}
	}
	return nil
}
