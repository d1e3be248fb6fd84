package service

import (
	"context"
	"errors"

	"github.com/and161185/lotus-core/internal/model"
	"github.com/and161185/lotus-core/internal/query"
	"github.com/and161185/lotus-core/internal/repository"
	"github.com/and161185/lotus-core/internal/tenant"
)

// ErrSearchDisabled is returned by search reads when no index is configured.
var ErrSearchDisabled = errors.New("search index not configured")

// QueryService is the read contract over the projections. Every read is
// scoped to the tenant bound to ctx.
type QueryService struct {
	store  repository.StudentStore
	search repository.SearchIndex
}

// NewQueryService constructs the read service; search may be nil.
func NewQueryService(store repository.StudentStore, search repository.SearchIndex) *QueryService {
	return &QueryService{store: store, search: search}
}

// List returns one page of students matching the equality filter.
func (q *QueryService) List(ctx context.Context, f model.Filter, req model.PageRequest) (model.Page[model.ProjectionRecord], error) {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return model.Page[model.ProjectionRecord]{}, err
	}
	req = query.Normalize(req)
	recs, total, err := q.store.Find(ctx, query.FromFilter(tenantID, f), req)
	if err != nil {
		return model.Page[model.ProjectionRecord]{}, err
	}
	return query.NewPage(recs, req, total), nil
}

// Get returns one student of the current tenant.
func (q *QueryService) Get(ctx context.Context, id string) (*model.ProjectionRecord, error) {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	return q.store.Get(ctx, tenantID, id)
}

// Search runs a free-text query over the search index.
func (q *QueryService) Search(ctx context.Context, text string, req model.PageRequest) (model.Page[model.ProjectionRecord], error) {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return model.Page[model.ProjectionRecord]{}, err
	}
	if q.search == nil {
		return model.Page[model.ProjectionRecord]{}, ErrSearchDisabled
	}
	req = query.Normalize(req)
	recs, total, err := q.search.Search(ctx, tenantID, text, req)
	if err != nil {
		return model.Page[model.ProjectionRecord]{}, err
	}
	return query.NewPage(recs, req, total), nil
}

// Suggest returns up to limit prefix matches for autocompletion.
func (q *QueryService) Suggest(ctx context.Context, prefix string, limit int) ([]model.ProjectionRecord, error) {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	if q.search == nil {
		return nil, ErrSearchDisabled
	}
	return q.search.Suggest(ctx, tenantID, prefix, limit)
}
