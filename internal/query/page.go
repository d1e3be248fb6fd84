package query

import (
	"strings"

	"github.com/and161185/lotus-core/internal/model"
)

// Paging limits.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	DefaultSort     = FieldID
)

var sortable = map[string]bool{
	FieldID:               true,
	FieldUsername:         true,
	FieldName:             true,
	FieldSurname:          true,
	FieldEmail:            true,
	FieldFaculty:          true,
	FieldDepartment:       true,
	FieldInternshipStatus: true,
	FieldCreatedAt:        true,
	FieldUpdatedAt:        true,
}

// Sortable reports whether field may be used in ORDER BY.
func Sortable(field string) bool { return sortable[field] }

// Normalize clamps a page request: page >= 0, size in [1,100] (0 means the
// default), unknown sort fields fall back to id, direction to ascending.
func Normalize(req model.PageRequest) model.PageRequest {
	if req.Page < 0 {
		req.Page = 0
	}
	switch {
	case req.Size == 0:
		req.Size = DefaultPageSize
	case req.Size < 1:
		req.Size = 1
	case req.Size > MaxPageSize:
		req.Size = MaxPageSize
	}
	req.SortBy = strings.ToLower(strings.TrimSpace(req.SortBy))
	if !Sortable(req.SortBy) {
		req.SortBy = DefaultSort
	}
	if model.Direction(strings.ToLower(string(req.Direction))) == model.Desc {
		req.Direction = model.Desc
	} else {
		req.Direction = model.Asc
	}
	return req
}

// NewPage wraps content with metadata. req must be normalized.
func NewPage[T any](content []T, req model.PageRequest, total int64) model.Page[T] {
	if content == nil {
		content = []T{}
	}
	pages := 0
	if total > 0 {
		pages = int((total + int64(req.Size) - 1) / int64(req.Size))
	}
	return model.Page[T]{
		Content:       content,
		Page:          req.Page,
		Size:          req.Size,
		TotalElements: total,
		TotalPages:    pages,
		First:         req.Page == 0,
		Last:          req.Page >= pages-1,
		Empty:         len(content) == 0,
		HasNext:       req.Page < pages-1,
		HasPrevious:   req.Page > 0,
	}
}

// MapPage converts page content while keeping metadata.
func MapPage[T, R any](p model.Page[T], fn func(T) R) model.Page[R] {
	out := make([]R, 0, len(p.Content))
	for _, v := range p.Content {
		out = append(out, fn(v))
	}
	return model.Page[R]{
		Content:       out,
		Page:          p.Page,
		Size:          p.Size,
		TotalElements: p.TotalElements,
		TotalPages:    p.TotalPages,
		First:         p.First,
		Last:          p.Last,
		Empty:         p.Empty,
		HasNext:       p.HasNext,
		HasPrevious:   p.HasPrevious,
	}
}
