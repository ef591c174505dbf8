// Package validate collects field-level input problems before a request
// reaches the workflow layer.
package validate

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"spoolhub/pkg/domain"
)

// FieldError is one offending field and a human-readable message.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors is a list of field problems. It is an error when non-empty.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return strings.Join(parts, "; ")
}

// Fields lists the offending field names in order, without duplicates.
func (e Errors) Fields() []string {
	seen := make(map[string]struct{}, len(e))
	out := make([]string, 0, len(e))
	for _, fe := range e {
		if _, ok := seen[fe.Field]; ok {
			continue
		}
		seen[fe.Field] = struct{}{}
		out = append(out, fe.Field)
	}
	return out
}

// Messages lists every message in order.
func (e Errors) Messages() []string {
	out := make([]string, 0, len(e))
	for _, fe := range e {
		out = append(out, fe.Message)
	}
	return out
}

// AsDomain converts the list into an InvalidInput error, or nil when empty.
func (e Errors) AsDomain() error {
	if len(e) == 0 {
		return nil
	}
	return domain.InvalidInput(strings.Join(e.Messages(), ", "), e.Fields()...)
}

var colorHexRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Checker accumulates problems; the zero value is ready to use.
type Checker struct {
	errs Errors
}

func (c *Checker) Add(field, format string, args ...any) {
	c.errs = append(c.errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (c *Checker) Errors() Errors { return c.errs }

// Err returns the accumulated problems as an InvalidInput error.
func (c *Checker) Err() error { return c.errs.AsDomain() }

func (c *Checker) Required(field, value string) bool {
	if strings.TrimSpace(value) == "" {
		c.Add(field, "%s should not be empty", field)
		return false
	}
	return true
}

func (c *Checker) MaxLen(field, value string, max int) {
	if utf8.RuneCountInString(value) > max {
		c.Add(field, "%s must be shorter than or equal to %d characters", field, max)
	}
}

func (c *Checker) LenBetween(field, value string, min, max int) {
	n := utf8.RuneCountInString(value)
	if n < min || n > max {
		c.Add(field, "%s must be between %d and %d characters", field, min, max)
	}
}

func (c *Checker) Email(field, value string) {
	if !c.Required(field, value) {
		return
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		c.Add(field, "%s must be an email", field)
	}
}

func (c *Checker) URL(field, value string) {
	if value == "" {
		return
	}
	u, err := url.ParseRequestURI(value)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		c.Add(field, "%s must be a URL address", field)
	}
}

func (c *Checker) ColorHex(field, value string) {
	if value != "" && !colorHexRe.MatchString(value) {
		c.Add(field, "%s must be a hexadecimal color", field)
	}
}

func (c *Checker) NonNegative(field string, value float64) {
	if value < 0 {
		c.Add(field, "%s must not be less than 0", field)
	}
}

func (c *Checker) Positive(field string, value float64) {
	if value <= 0 {
		c.Add(field, "%s must be a positive number", field)
	}
}

func (c *Checker) IntBetween(field string, value, min, max int) {
	if value < min || value > max {
		c.Add(field, "%s must be between %d and %d", field, min, max)
	}
}

// Check runs fn against a fresh Checker and returns its error.
func Check(fn func(*Checker)) error {
	var c Checker
	fn(&c)
	return c.Err()
}
