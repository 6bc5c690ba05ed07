package model

import (
	"fmt"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ValidateRecord checks a CanonicalRecord before it is written.
// It returns a *ValidationError if any rules fail, or nil if the record is valid.
func ValidateRecord(r *CanonicalRecord) error {
	var ve ValidationError

	if strings.TrimSpace(r.NaturalKey) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "natural_key", Message: "is required"})
	}

	title := strings.TrimSpace(r.Title)
	if title == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "title", Message: "is required"})
	} else if len([]rune(title)) > 500 {
		ve.Errors = append(ve.Errors, FieldError{Field: "title", Message: "must be 500 characters or fewer"})
	}

	if !r.Kind.IsValid() {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "kind",
			Message: fmt.Sprintf("invalid value %q", r.Kind),
		})
	}

	// Category: closed taxonomy.
	if !r.Category.IsValid() {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "category",
			Message: fmt.Sprintf("invalid value %q", r.Category),
		})
	}

	if r.Kind.Dated() && r.DateStart == nil {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "date_start",
			Message: fmt.Sprintf("is required for kind %s", r.Kind),
		})
	}

	if r.SourceName == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "source_name", Message: "is required"})
	}
	if r.SourceURL == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "source_url", Message: "is required"})
	}

	// A price is either unknown (nil) or displayable; never an empty string.
	if r.PriceDisplay != nil && strings.TrimSpace(*r.PriceDisplay) == "" {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "price_display",
			Message: "must be nil when the price is unknown",
		})
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}
