// Package query holds the sink-independent parts of read requests: a small
// predicate variant, page normalization and page metadata.
package query

import (
	"strings"

	"github.com/and161185/lotus-core/internal/model"
)

// Projection columns that predicates and sorting may reference.
const (
	FieldID               = "id"
	FieldTenant           = "tenant_id"
	FieldUsername         = "username"
	FieldName             = "name"
	FieldSurname          = "surname"
	FieldEmail            = "email"
	FieldFaculty          = "faculty"
	FieldDepartment       = "department"
	FieldInternshipStatus = "internship_status"
	FieldCreatedAt        = "created_at"
	FieldUpdatedAt        = "updated_at"
)

type kind uint8

const (
	kindEq kind = iota + 1
	kindAnd
)

// Predicate is either an equality test on one field or a conjunction.
// The zero value matches everything.
type Predicate struct {
	kind  kind
	field string
	value string
	all   []Predicate
}

// Eq matches records whose field equals value exactly.
func Eq(field, value string) Predicate {
	return Predicate{kind: kindEq, field: field, value: value}
}

// And matches records satisfying every pred.
func And(preds ...Predicate) Predicate {
	return Predicate{kind: kindAnd, all: preds}
}

// Terms flattens p into its equality terms, in declaration order.
func (p Predicate) Terms() []Predicate {
	switch p.kind {
	case kindEq:
		return []Predicate{p}
	case kindAnd:
		var out []Predicate
		for _, q := range p.all {
			out = append(out, q.Terms()...)
		}
		return out
	default:
		return nil
	}
}

// Field returns the column of an equality term.
func (p Predicate) Field() string { return p.field }

// Value returns the operand of an equality term.
func (p Predicate) Value() string { return p.value }

// Match evaluates p against r in memory.
func (p Predicate) Match(r model.ProjectionRecord) bool {
	for _, t := range p.Terms() {
		if FieldValue(r, t.field) != t.value {
			return false
		}
	}
	return true
}

// FromFilter builds the tenant-scoped conjunction of the filter's non-empty fields.
func FromFilter(tenantID string, f model.Filter) Predicate {
	preds := []Predicate{Eq(FieldTenant, tenantID)}
	if v := strings.TrimSpace(f.Faculty); v != "" {
		preds = append(preds, Eq(FieldFaculty, v))
	}
	if v := strings.TrimSpace(f.Department); v != "" {
		preds = append(preds, Eq(FieldDepartment, v))
	}
	if v := strings.TrimSpace(f.InternshipStatus); v != "" {
		preds = append(preds, Eq(FieldInternshipStatus, v))
	}
	return And(preds...)
}

// FieldValue returns the string form of a record column; unknown columns are empty.
func FieldValue(r model.ProjectionRecord, field string) string {
	switch field {
	case FieldID:
		return r.ID
	case FieldTenant:
		return r.TenantID
	case FieldUsername:
		return r.Username
	case FieldName:
		return r.Name
	case FieldSurname:
		return r.Surname
	case FieldEmail:
		return r.Email
	case FieldFaculty:
		return r.Faculty
	case FieldDepartment:
		return r.Department
	case FieldInternshipStatus:
		return r.InternshipStatus
	default:
		return ""
	}
}

// Filterable reports whether field names a record column a predicate may test.
func Filterable(field string) bool {
	switch field {
	case FieldID, FieldTenant, FieldUsername, FieldName, FieldSurname, FieldEmail,
		FieldFaculty, FieldDepartment, FieldInternshipStatus:
		return true
	default:
		return false
	}
}
