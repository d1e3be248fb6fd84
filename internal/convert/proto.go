// Package convert maps wire messages of the admin service to domain types.
// Messages are google.protobuf.Struct values keyed by snake_case field names.
package convert

import (
	"math"
	"strings"
	"time"

	"github.com/and161185/lotus-core/internal/errs"
	"github.com/and161185/lotus-core/internal/model"
	"github.com/and161185/lotus-core/internal/query"
	"google.golang.org/protobuf/types/known/structpb"
)

// Wire field names.
const (
	FieldID               = "id"
	FieldIdempotencyKey   = "idempotency_key"
	FieldUsername         = "username"
	FieldPassword         = "password"
	FieldName             = "name"
	FieldSurname          = "surname"
	FieldEmail            = "email"
	FieldFaculty          = "faculty"
	FieldDepartment       = "department"
	FieldInternshipStatus = "internship_status"
	FieldPage             = "page"
	FieldSize             = "size"
	FieldSortBy           = "sort_by"
	FieldDirection        = "direction"
	FieldText             = "text"
	FieldPrefix           = "prefix"
	FieldLimit            = "limit"
)

// --- helpers ---

func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// reader collects type violations while reading optional fields.
type reader struct {
	fields map[string]*structpb.Value
	v      errs.ValidationError
}

func newReader(in *structpb.Struct) *reader {
	return &reader{fields: in.GetFields()}
}

func (r *reader) str(name string) *string {
	val, ok := r.fields[name]
	if !ok {
		return nil
	}
	if _, isNull := val.GetKind().(*structpb.Value_NullValue); isNull {
		return nil
	}
	s, ok := val.GetKind().(*structpb.Value_StringValue)
	if !ok {
		r.v.Add(name, "must be a string")
		return nil
	}
	out := s.StringValue
	return &out
}

func (r *reader) text(name string) string {
	if p := r.str(name); p != nil {
		return *p
	}
	return ""
}

func (r *reader) integer(name string) int {
	val, ok := r.fields[name]
	if !ok {
		return 0
	}
	n, ok := val.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) || math.Abs(n.NumberValue) > math.MaxInt32 {
		r.v.Add(name, "must be an integer")
		return 0
	}
	return int(n.NumberValue)
}

func (r *reader) err() error { return r.v.OrNil() }

// --- commands (client -> server) ---

// CommandFromStruct builds a command of the given kind. Absent or null
// fields stay nil so updates remain partial.
func CommandFromStruct(kind model.CommandKind, in *structpb.Struct) (model.Command, error) {
	r := newReader(in)
	cmd := model.Command{
		Kind:           kind,
		StudentID:      r.text(FieldID),
		IdempotencyKey: r.text(FieldIdempotencyKey),
		Fields: model.ProfilePatch{
			Username:         r.str(FieldUsername),
			Password:         r.str(FieldPassword),
			Name:             r.str(FieldName),
			Surname:          r.str(FieldSurname),
			Email:            r.str(FieldEmail),
			Faculty:          r.str(FieldFaculty),
			Department:       r.str(FieldDepartment),
			InternshipStatus: r.str(FieldInternshipStatus),
		},
	}
	return cmd, r.err()
}

// IDFromStruct reads the mandatory id field.
func IDFromStruct(in *structpb.Struct) (string, error) {
	r := newReader(in)
	id := strings.TrimSpace(r.text(FieldID))
	if id == "" && !r.v.Has(FieldID) {
		r.v.Add(FieldID, "must not be blank")
	}
	return id, r.err()
}

func pageFrom(r *reader) model.PageRequest {
	return model.PageRequest{
		Page:      r.integer(FieldPage),
		Size:      r.integer(FieldSize),
		SortBy:    r.text(FieldSortBy),
		Direction: model.Direction(r.text(FieldDirection)),
	}
}

// ListRequestFromStruct reads the equality filter and paging of a list call.
func ListRequestFromStruct(in *structpb.Struct) (model.Filter, model.PageRequest, error) {
	r := newReader(in)
	f := model.Filter{
		Faculty:          r.text(FieldFaculty),
		Department:       r.text(FieldDepartment),
		InternshipStatus: r.text(FieldInternshipStatus),
	}
	return f, pageFrom(r), r.err()
}

// SearchRequestFromStruct reads free text and paging of a search call.
func SearchRequestFromStruct(in *structpb.Struct) (string, model.PageRequest, error) {
	r := newReader(in)
	return r.text(FieldText), pageFrom(r), r.err()
}

// SuggestRequestFromStruct reads the prefix and limit of a suggest call.
func SuggestRequestFromStruct(in *structpb.Struct) (string, int, error) {
	r := newReader(in)
	return r.text(FieldPrefix), r.integer(FieldLimit), r.err()
}

// --- results (server -> client) ---

func recordMap(rec model.ProjectionRecord) map[string]any {
	return map[string]any{
		FieldID:               rec.ID,
		"tenant_id":           rec.TenantID,
		FieldUsername:         rec.Username,
		FieldName:             rec.Name,
		FieldSurname:          rec.Surname,
		"full_name":           rec.FullName(),
		FieldEmail:            rec.Email,
		FieldFaculty:          rec.Faculty,
		FieldDepartment:       rec.Department,
		FieldInternshipStatus: rec.InternshipStatus,
		"version":             rec.LastAppliedSeq,
		"created_at":          ts(rec.CreatedAt),
		"updated_at":          ts(rec.UpdatedAt),
	}
}

func recordList(recs []model.ProjectionRecord) []any {
	out := make([]any, 0, len(recs))
	for _, r := range recs {
		out = append(out, recordMap(r))
	}
	return out
}

// RecordToStruct renders one student.
func RecordToStruct(rec model.ProjectionRecord) (*structpb.Struct, error) {
	return structpb.NewStruct(recordMap(rec))
}

// PageToStruct renders a page with its metadata.
func PageToStruct(page model.Page[model.ProjectionRecord]) (*structpb.Struct, error) {
	p := query.MapPage(page, func(r model.ProjectionRecord) any { return recordMap(r) })
	return structpb.NewStruct(map[string]any{
		"content":        p.Content,
		FieldPage:        p.Page,
		FieldSize:        p.Size,
		"total_elements": p.TotalElements,
		"total_pages":    p.TotalPages,
		"first":          p.First,
		"last":           p.Last,
		"empty":          p.Empty,
		"has_next":       p.HasNext,
		"has_previous":   p.HasPrevious,
	})
}

// RecordsToStruct renders a bare list under "content".
func RecordsToStruct(recs []model.ProjectionRecord) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"content": recordList(recs)})
}

// DispatchResultToStruct renders the outcome of a command without event payloads.
func DispatchResultToStruct(res model.DispatchResult) (*structpb.Struct, error) {
	events := make([]any, 0, len(res.Events))
	for _, ev := range res.Events {
		events = append(events, map[string]any{
			FieldID:     ev.ID,
			"type":      string(ev.Type),
			"seq":       ev.Seq,
			"timestamp": ts(ev.Timestamp),
		})
	}
	return structpb.NewStruct(map[string]any{
		FieldID:   res.AggregateID,
		"version": res.Version,
		"events":  events,
	})
}
