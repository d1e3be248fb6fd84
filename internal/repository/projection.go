package repository

import (
	"context"

	"github.com/and161185/lotus-core/internal/model"
	"github.com/and161185/lotus-core/internal/query"
)

// ProjectionSink is the write contract every read model offers to the projection engine.
// Records are keyed by aggregate id; each sink keeps its own watermark per aggregate.
type ProjectionSink interface {
	// Name identifies the sink in logs and gap reports.
	Name() string
	// Watermark returns the last applied sequence number, 0 when nothing was applied.
	Watermark(ctx context.Context, aggregateID string) (int64, error)
	// Watermarks returns all watermarks, tombstones included.
	Watermarks(ctx context.Context) (map[string]int64, error)
	// Get returns a live record or errs.ErrNotFound.
	Get(ctx context.Context, tenantID, aggregateID string) (*model.ProjectionRecord, error)
	// Upsert writes rec and sets its watermark to rec.LastAppliedSeq.
	Upsert(ctx context.Context, rec model.ProjectionRecord) error
	// Delete removes the record and keeps seq as a tombstone watermark.
	Delete(ctx context.Context, tenantID, aggregateID string, seq int64) error
	// Reset drops records and watermarks of tenantID (all tenants when empty) before a rebuild.
	Reset(ctx context.Context, tenantID string) error
}

// StudentStore is the structured read model answering equality queries.
type StudentStore interface {
	ProjectionSink
	// Find returns the page of live records matching pred plus the total match count.
	Find(ctx context.Context, pred query.Predicate, page model.PageRequest) ([]model.ProjectionRecord, int64, error)
}

// SearchIndex is the full-text read model.
type SearchIndex interface {
	ProjectionSink
	// Search runs a free-text query over name, surname, username, email, faculty and department.
	Search(ctx context.Context, tenantID, text string, page model.PageRequest) ([]model.ProjectionRecord, int64, error)
	// Suggest returns up to limit records whose indexed terms start with prefix.
	Suggest(ctx context.Context, tenantID, prefix string, limit int) ([]model.ProjectionRecord, error)
}
