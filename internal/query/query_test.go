package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/lotus-core/internal/model"
)

func TestFromFilter_OnlyNonEmptyFields(t *testing.T) {
	t.Parallel()

	p := FromFilter("t1", model.Filter{Faculty: "Eng", InternshipStatus: " "})
	terms := p.Terms()
	require.Len(t, terms, 2)
	require.Equal(t, FieldTenant, terms[0].Field())
	require.Equal(t, "t1", terms[0].Value())
	require.Equal(t, FieldFaculty, terms[1].Field())

	require.True(t, p.Match(model.ProjectionRecord{TenantID: "t1", Faculty: "Eng", Department: "CS"}))
	require.False(t, p.Match(model.ProjectionRecord{TenantID: "t2", Faculty: "Eng"}))
	require.False(t, p.Match(model.ProjectionRecord{TenantID: "t1", Faculty: "Engineering"}), "exact match only")

	require.Len(t, FromFilter("t1", model.Filter{}).Terms(), 1)
	require.True(t, Predicate{}.Match(model.ProjectionRecord{}), "zero predicate matches all")
}

func TestAnd_Nested(t *testing.T) {
	t.Parallel()

	p := And(Eq(FieldFaculty, "Eng"), And(Eq(FieldDepartment, "CS"), Eq(FieldUsername, "jdoe")))
	require.Len(t, p.Terms(), 3)
	require.True(t, p.Match(model.ProjectionRecord{Faculty: "Eng", Department: "CS", Username: "jdoe"}))
	require.False(t, p.Match(model.ProjectionRecord{Faculty: "Eng", Department: "CS"}))
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		in   model.PageRequest
		want model.PageRequest
	}{
		{model.PageRequest{}, model.PageRequest{Size: 20, SortBy: "id", Direction: model.Asc}},
		{model.PageRequest{Page: -3, Size: -1}, model.PageRequest{Size: 1, SortBy: "id", Direction: model.Asc}},
		{model.PageRequest{Page: 2, Size: 500, SortBy: "Surname", Direction: "DESC"}, model.PageRequest{Page: 2, Size: 100, SortBy: "surname", Direction: model.Desc}},
		{model.PageRequest{Size: 5, SortBy: "password; drop table"}, model.PageRequest{Size: 5, SortBy: "id", Direction: model.Asc}},
	} {
		require.Equal(t, tc.want, Normalize(tc.in))
	}
}

func TestNewPage_OutOfRange(t *testing.T) {
	t.Parallel()

	req := Normalize(model.PageRequest{Page: 50, Size: 10})
	p := NewPage[model.ProjectionRecord](nil, req, 2)
	require.Empty(t, p.Content)
	require.NotNil(t, p.Content)
	require.Equal(t, int64(2), p.TotalElements)
	require.Equal(t, 1, p.TotalPages)
	require.False(t, p.HasNext)
	require.True(t, p.HasPrevious)
	require.True(t, p.Last)
	require.True(t, p.Empty)
}

func TestNewPage_Metadata(t *testing.T) {
	t.Parallel()

	req := Normalize(model.PageRequest{Page: 1, Size: 2})
	p := NewPage([]int{3, 4}, req, 5)
	require.Equal(t, 3, p.TotalPages)
	require.False(t, p.First)
	require.False(t, p.Last)
	require.True(t, p.HasNext)
	require.True(t, p.HasPrevious)

	empty := NewPage[int](nil, Normalize(model.PageRequest{}), 0)
	require.Equal(t, 0, empty.TotalPages)
	require.True(t, empty.First)
	require.True(t, empty.Last)
	require.False(t, empty.HasNext)

	m := MapPage(p, func(v int) string { return string(rune('a' + v)) })
	require.Equal(t, []string{"d", "e"}, m.Content)
	require.Equal(t, p.TotalElements, m.TotalElements)
}

func TestSortAndSlice(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recs := []model.ProjectionRecord{
		{ID: "c", Surname: "Adams", CreatedAt: t0.Add(2 * time.Hour)},
		{ID: "a", Surname: "Brown", CreatedAt: t0},
		{ID: "b", Surname: "Adams", CreatedAt: t0.Add(time.Hour)},
	}

	SortRecords(recs, Normalize(model.PageRequest{SortBy: "surname"}))
	require.Equal(t, []string{"b", "c", "a"}, ids(recs))

	SortRecords(recs, Normalize(model.PageRequest{SortBy: "created_at", Direction: model.Desc}))
	require.Equal(t, []string{"c", "b", "a"}, ids(recs))

	req := Normalize(model.PageRequest{Page: 1, Size: 2})
	require.Equal(t, []string{"a"}, ids(Slice(recs, req)))
	req.Page = 7
	require.Empty(t, Slice(recs, req))
}

func ids(recs []model.ProjectionRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}
