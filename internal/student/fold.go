package student

import (
	"fmt"

	"github.com/and161185/lotus-core/internal/errs"
	"github.com/and161185/lotus-core/internal/model"
)

// Apply folds one event into s. It is pure and never fails; stream
// continuity is checked by Replay.
func Apply(s model.Student, ev model.Event) model.Student {
	switch ev.Type {
	case model.StudentCreated:
		s = model.Student{
			ID:        ev.AggregateID,
			TenantID:  ev.TenantID,
			Profile:   ev.Snapshot,
			CreatedAt: ev.Timestamp,
		}
	case model.StudentUpdated:
		s.Profile = ev.Snapshot
	case model.StudentDeleted:
		s.Deleted = true
	}
	s.Version = ev.Seq
	s.UpdatedAt = ev.Timestamp
	return s
}

// Replay rebuilds an aggregate from its ordered event stream, starting from
// the zero value.
func Replay(events []model.Event) (model.Student, error) {
	return ReplayFrom(model.Student{}, events)
}

// ReplayFrom continues folding events on top of a previously rebuilt state.
func ReplayFrom(s model.Student, events []model.Event) (model.Student, error) {
	for _, ev := range events {
		if ev.Seq != s.Version+1 {
			return model.Student{}, fmt.Errorf("%w: %s expected seq %d, got %d", errs.ErrCorruptStream, ev.AggregateID, s.Version+1, ev.Seq)
		}
		if s.Exists() && ev.AggregateID != s.ID {
			return model.Student{}, fmt.Errorf("%w: event for %s in stream of %s", errs.ErrCorruptStream, ev.AggregateID, s.ID)
		}
		if !s.Exists() && ev.Type != model.StudentCreated {
			return model.Student{}, fmt.Errorf("%w: %s stream starts with %s", errs.ErrCorruptStream, ev.AggregateID, ev.Type)
		}
		s = Apply(s, ev)
	}
	return s, nil
}
