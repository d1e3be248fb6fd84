package query

import (
	"sort"

	"github.com/and161185/lotus-core/internal/model"
)

// SortRecords orders recs by req.SortBy, breaking ties by id so results are stable.
func SortRecords(recs []model.ProjectionRecord, req model.PageRequest) {
	sort.SliceStable(recs, func(i, j int) bool {
		c := compare(recs[i], recs[j], req.SortBy)
		if c == 0 {
			c = compareStrings(recs[i].ID, recs[j].ID)
		}
		if req.Direction == model.Desc {
			return c > 0
		}
		return c < 0
	})
}

// Slice returns the requested page window of recs.
func Slice[T any](recs []T, req model.PageRequest) []T {
	off := req.Offset()
	if off >= len(recs) {
		return []T{}
	}
	end := off + req.Size
	if end > len(recs) {
		end = len(recs)
	}
	return recs[off:end]
}

func compare(a, b model.ProjectionRecord, field string) int {
	switch field {
	case FieldCreatedAt:
		return a.CreatedAt.Compare(b.CreatedAt)
	case FieldUpdatedAt:
		return a.UpdatedAt.Compare(b.UpdatedAt)
	default:
		return compareStrings(FieldValue(a, field), FieldValue(b, field))
	}
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
