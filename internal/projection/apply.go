// Package projection keeps read models consistent with the event log.
package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/lotus-core/internal/errs"
	"github.com/and161185/lotus-core/internal/model"
	"github.com/and161185/lotus-core/internal/repository"
)

// Apply folds one event into sink. Events at or below the sink's watermark are
// skipped, so redelivery is harmless. An event that does not directly follow the
// watermark, or an update for a record the sink never saw, yields a
// *errs.ProjectionGapError and leaves the sink untouched.
func Apply(ctx context.Context, sink repository.ProjectionSink, ev model.Event) error {
	wm, err := sink.Watermark(ctx, ev.AggregateID)
	if err != nil {
		return fmt.Errorf("%s watermark: %w", sink.Name(), err)
	}
	if ev.Seq <= wm {
		return nil
	}
	gap := &errs.ProjectionGapError{
		Sink: sink.Name(), TenantID: ev.TenantID, AggregateID: ev.AggregateID, Watermark: wm, Seq: ev.Seq,
	}
	if ev.Seq > wm+1 {
		return gap
	}

	switch ev.Type {
	case model.StudentCreated:
		return sink.Upsert(ctx, model.RecordFromEvent(ev))
	case model.StudentUpdated:
		cur, err := sink.Get(ctx, ev.TenantID, ev.AggregateID)
		if errors.Is(err, errs.ErrNotFound) {
			return gap
		}
		if err != nil {
			return err
		}
		rec := model.RecordFromEvent(ev)
		rec.CreatedAt = cur.CreatedAt
		return sink.Upsert(ctx, rec)
	case model.StudentDeleted:
		return sink.Delete(ctx, ev.TenantID, ev.AggregateID, ev.Seq)
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
}

// Gap is a detected divergence between a sink and the event log.
type Gap struct {
	Sink        string
	TenantID    string
	AggregateID string
	Watermark   int64 // last seq the sink applied
	Seq         int64 // seq that exposed the gap, or the log high-water mark
}

func gapOf(e *errs.ProjectionGapError) Gap {
	return Gap{Sink: e.Sink, TenantID: e.TenantID, AggregateID: e.AggregateID, Watermark: e.Watermark, Seq: e.Seq}
}
