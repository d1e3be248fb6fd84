package errs

import (
	"fmt"
	"strings"
)

// FieldViolation describes one rejected command field.
type FieldViolation struct {
	Field   string
	Message string
}

// ValidationError lists every violated field of a command, not only the first.
type ValidationError struct {
	Violations []FieldViolation
}

// Add records a violation for field.
func (e *ValidationError) Add(field, msg string) {
	e.Violations = append(e.Violations, FieldViolation{Field: field, Message: msg})
}

// Fields returns the names of violated fields in the order they were recorded.
func (e *ValidationError) Fields() []string {
	out := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		out = append(out, v.Field)
	}
	return out
}

// Has reports whether field is among the violations.
func (e *ValidationError) Has(field string) bool {
	for _, v := range e.Violations {
		if v.Field == field {
			return true
		}
	}
	return false
}

// OrNil returns e when it carries violations and nil otherwise.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Violations) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Message)
	}
	return "validation: " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// TenantMismatchError reports a command whose tenant differs from the aggregate's owner.
type TenantMismatchError struct {
	AggregateID string
	Expected    string // owner of the aggregate
	Actual      string // tenant of the unit of work
}

func (e *TenantMismatchError) Error() string {
	return fmt.Sprintf("tenant mismatch on %s", e.AggregateID)
}

// Is makes errors.Is(err, ErrTenantMismatch) hold.
func (e *TenantMismatchError) Is(target error) bool { return target == ErrTenantMismatch }

// ProjectionGapError is recorded when a sink observes missing predecessor events.
type ProjectionGapError struct {
	Sink        string
	TenantID    string
	AggregateID string
	Watermark   int64
	Seq         int64
}

func (e *ProjectionGapError) Error() string {
	return fmt.Sprintf("projection gap in %s for %s: watermark=%d seq=%d", e.Sink, e.AggregateID, e.Watermark, e.Seq)
}

// Is makes errors.Is(err, ErrProjectionGap) hold.
func (e *ProjectionGapError) Is(target error) bool { return target == ErrProjectionGap }
