// Package lead validates intake-form submissions and runs the research,
// qualification and outreach-drafting workflow for each lead.
package lead

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/lead-intake/internal/model"
)

var phonePattern = regexp.MustCompile(`^[\d\s\-+()]+$`)

// FieldError describes one invalid form field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every invalid field of a submission.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return "invalid lead: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// Normalize trims surrounding whitespace from every field.
func Normalize(l model.Lead) model.Lead {
	return model.Lead{
		Email:   strings.TrimSpace(l.Email),
		Name:    strings.TrimSpace(l.Name),
		Phone:   strings.TrimSpace(l.Phone),
		Company: strings.TrimSpace(l.Company),
		Message: strings.TrimSpace(l.Message),
	}
}

// Validate checks a normalized lead against the intake form rules. It
// returns a *ValidationError or nil.
func Validate(l model.Lead) error {
	verr := &ValidationError{}

	if addr, err := mail.ParseAddress(l.Email); err != nil || addr.Address != l.Email {
		verr.add("email", "Please enter a valid email address.")
	}

	switch n := utf8.RuneCountInString(l.Name); {
	case n < 2:
		verr.add("name", "Name is required")
	case n > 50:
		verr.add("name", "Name must be at most 50 characters.")
	}

	if l.Phone != "" {
		if !phonePattern.MatchString(l.Phone) {
			verr.add("phone", "Please enter a valid phone number.")
		} else if len(l.Phone) < 10 {
			verr.add("phone", "Phone number must be at least 10 digits.")
		}
	}

	switch n := utf8.RuneCountInString(l.Message); {
	case n < 10:
		verr.add("message", "Message is required")
	case n > 500:
		verr.add("message", "Message must be less than 500 characters.")
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}
