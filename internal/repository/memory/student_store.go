package memory

import (
	"context"
	"sync"

	"github.com/and161185/lotus-core/internal/errs"
	"github.com/and161185/lotus-core/internal/model"
	"github.com/and161185/lotus-core/internal/query"
)

// StructuredSinkName identifies the in-memory structured read model.
const StructuredSinkName = "structured"

type row struct {
	rec     model.ProjectionRecord
	deleted bool
}

// StudentStore is an in-memory repository.StudentStore.
type StudentStore struct {
	name string
	mu   sync.RWMutex
	rows map[string]row
}

// NewStudentStore returns an empty store named "structured".
func NewStudentStore() *StudentStore { return NewNamedStudentStore(StructuredSinkName) }

// NewNamedStudentStore returns an empty store reporting name as its sink name.
func NewNamedStudentStore(name string) *StudentStore {
	return &StudentStore{name: name, rows: make(map[string]row)}
}

// Name returns the sink name.
func (s *StudentStore) Name() string { return s.name }

// Watermark returns the last applied seq, tombstones included.
func (s *StudentStore) Watermark(_ context.Context, aggregateID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows[aggregateID].rec.LastAppliedSeq, nil
}

// Watermarks returns every watermark.
func (s *StudentStore) Watermarks(_ context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.rows))
	for id, r := range s.rows {
		out[id] = r.rec.LastAppliedSeq
	}
	return out, nil
}

// Get returns a live record of tenantID.
func (s *StudentStore) Get(_ context.Context, tenantID, aggregateID string) (*model.ProjectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[aggregateID]
	if !ok || r.deleted || r.rec.TenantID != tenantID {
		return nil, errs.ErrNotFound
	}
	rec := r.rec
	return &rec, nil
}

// Upsert writes rec unless a newer seq is already stored.
func (s *StudentStore) Upsert(_ context.Context, rec model.ProjectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.rows[rec.ID]; ok && cur.rec.LastAppliedSeq >= rec.LastAppliedSeq {
		return nil
	}
	s.rows[rec.ID] = row{rec: rec}
	return nil
}

// Delete replaces the record with a tombstone carrying seq.
func (s *StudentStore) Delete(_ context.Context, tenantID, aggregateID string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[aggregateID] = row{
		rec:     model.ProjectionRecord{ID: aggregateID, TenantID: tenantID, LastAppliedSeq: seq},
		deleted: true,
	}
	return nil
}

// Reset drops rows of tenantID, or everything when tenantID is empty.
func (s *StudentStore) Reset(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.rows {
		if tenantID == "" || r.rec.TenantID == tenantID {
			delete(s.rows, id)
		}
	}
	return nil
}

// Find evaluates pred in memory and returns one sorted page plus the total.
func (s *StudentStore) Find(
	_ context.Context, pred query.Predicate, page model.PageRequest,
) ([]model.ProjectionRecord, int64, error) {
	for _, t := range pred.Terms() {
		if !query.Filterable(t.Field()) {
			return nil, 0, errs.ErrValidation
		}
	}
	page = query.Normalize(page)

	s.mu.RLock()
	matched := make([]model.ProjectionRecord, 0, len(s.rows))
	for _, r := range s.rows {
		if !r.deleted && pred.Match(r.rec) {
			matched = append(matched, r.rec)
		}
	}
	s.mu.RUnlock()

	query.SortRecords(matched, page)
	return query.Slice(matched, page), int64(len(matched)), nil
}
