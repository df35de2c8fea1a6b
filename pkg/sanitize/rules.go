package sanitize

import (
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Rules describes form field validation. Message, when set, replaces the
// default text for the required, pattern and email checks.
type Rules struct {
	Required  bool
	MinLength int
	MaxLength int
	Pattern   *regexp.Regexp
	Email     bool
	Message   string
}

// Validate checks value against r and returns the first failure.
func (r Rules) Validate(value string) error {
	length := utf8.RuneCountInString(value)

	if r.Required && value == "" {
		return r.failure("this field is required")
	}
	if r.MinLength > 0 && length < r.MinLength {
		return fmt.Errorf("must be at least %d characters", r.MinLength)
	}
	if r.MaxLength > 0 && length > r.MaxLength {
		return fmt.Errorf("must be at most %d characters", r.MaxLength)
	}
	if r.Pattern != nil && !r.Pattern.MatchString(value) {
		return r.failure("invalid format")
	}
	if r.Email && !emailPattern.MatchString(value) {
		return r.failure("enter a valid email address")
	}
	return nil
}

func (r Rules) failure(fallback string) error {
	if r.Message != "" {
		return errors.New(r.Message)
	}
	return errors.New(fallback)
}
