// Package memory provides in-process implementations of repository interfaces
// for tests and the -store=memory mode.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/and161185/lotus-core/internal/errs"
	"github.com/and161185/lotus-core/internal/model"
)

// EventLog is a mutex-guarded event log. The version check and the append
// happen under one lock, so one of two racing appends always loses.
type EventLog struct {
	mu      sync.RWMutex
	streams map[string][]model.Event
	owners  map[string]string
}

// NewEventLog returns an empty log.
func NewEventLog() *EventLog {
	return &EventLog{streams: make(map[string][]model.Event), owners: make(map[string]string)}
}

// Append stores events if the aggregate is still at expectedVersion.
func (l *EventLog) Append(ctx context.Context, aggregateID string, expectedVersion int64, events []model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	stream := l.streams[aggregateID]
	if int64(len(stream)) != expectedVersion {
		return errs.ErrVersionConflict
	}
	for i, ev := range events {
		if want := expectedVersion + int64(i) + 1; ev.Seq != want || ev.AggregateID != aggregateID {
			return fmt.Errorf("event[%d] seq=%d want=%d: %w", i, ev.Seq, want, errs.ErrCorruptStream)
		}
	}
	if len(stream) == 0 {
		l.owners[aggregateID] = events[0].TenantID
	}
	l.streams[aggregateID] = append(stream, events...)
	return nil
}

// Load returns every event of the aggregate.
func (l *EventLog) Load(ctx context.Context, aggregateID string) ([]model.Event, error) {
	return l.LoadSince(ctx, aggregateID, 0)
}

// LoadSince returns a copy of events strictly after afterSeq.
func (l *EventLog) LoadSince(ctx context.Context, aggregateID string, afterSeq int64) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	stream := l.streams[aggregateID]
	if afterSeq < 0 {
		afterSeq = 0
	}
	if afterSeq >= int64(len(stream)) {
		return nil, nil
	}
	out := make([]model.Event, len(stream)-int(afterSeq))
	copy(out, stream[afterSeq:])
	return out, nil
}

// HighWater returns the current version of every aggregate.
func (l *EventLog) HighWater(ctx context.Context) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]int64, len(l.streams))
	for id, s := range l.streams {
		out[id] = int64(len(s))
	}
	return out, nil
}

// Aggregates lists aggregate ids of tenantID, or of every tenant when tenantID is empty.
func (l *EventLog) Aggregates(ctx context.Context, tenantID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []string
	for id, owner := range l.owners {
		if tenantID == "" || owner == tenantID {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}
