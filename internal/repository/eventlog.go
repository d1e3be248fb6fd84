// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/lotus-core/internal/model"
)

// EventLog is the append-only, per-aggregate ordered source of truth.
type EventLog interface {
	// Append stores events atomically if the aggregate is still at expectedVersion.
	// It returns errs.ErrVersionConflict otherwise.
	Append(ctx context.Context, aggregateID string, expectedVersion int64, events []model.Event) error

	// Load returns all events of an aggregate ascending by sequence number.
	Load(ctx context.Context, aggregateID string) ([]model.Event, error)

	// LoadSince returns events with sequence number greater than afterSeq.
	LoadSince(ctx context.Context, aggregateID string, afterSeq int64) ([]model.Event, error)

	// HighWater returns the latest sequence number per aggregate.
	HighWater(ctx context.Context) (map[string]int64, error)

	// Aggregates lists aggregate ids owned by tenantID, or all when tenantID is empty.
	Aggregates(ctx context.Context, tenantID string) ([]string, error)
}
