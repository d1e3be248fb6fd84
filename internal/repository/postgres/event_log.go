package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/lotus-core/internal/errs"
	"github.com/and161185/lotus-core/internal/model"
	"github.com/jackc/pgx/v5"
)

// EventLog implements repository.EventLog on top of the events and aggregates tables.
// The aggregates row holds the current version and is locked for the duration of an append.
type EventLog struct{ db *DB }

// NewEventLog constructs an event log.
func NewEventLog(db *DB) *EventLog { return &EventLog{db: db} }

// Append stores events if the aggregate is still at expectedVersion.
func (l *EventLog) Append(ctx context.Context, aggregateID string, expectedVersion int64, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	tenantID := events[0].TenantID
	newVer := expectedVersion + int64(len(events))

	const sel = `SELECT version FROM aggregates WHERE id=$1 FOR UPDATE`
	const insAgg = `INSERT INTO aggregates (id, tenant_id, version) VALUES ($1,$2,$3)`
	const updAgg = `UPDATE aggregates SET version=$2 WHERE id=$1`
	const insEv = `
INSERT INTO events (id, aggregate_id, tenant_id, seq, type, payload, idempotency_key, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	err := l.db.inTx(ctx, func(tx pgx.Tx) error {
		var curVer int64
		scanErr := tx.QueryRow(ctx, sel, aggregateID).Scan(&curVer)
		switch {
		case scanErr == nil:
			if curVer != expectedVersion {
				return errs.ErrVersionConflict
			}
			if _, err := tx.Exec(ctx, updAgg, aggregateID, newVer); err != nil {
				return err
			}
		case errors.Is(scanErr, pgx.ErrNoRows):
			if expectedVersion != 0 {
				return errs.ErrVersionConflict
			}
			if _, err := tx.Exec(ctx, insAgg, aggregateID, tenantID, newVer); err != nil {
				return err
			}
		default:
			return scanErr
		}

		for i, ev := range events {
			if want := expectedVersion + int64(i) + 1; ev.Seq != want || ev.AggregateID != aggregateID {
				return fmt.Errorf("event[%d] seq=%d want=%d: %w", i, ev.Seq, want, errs.ErrCorruptStream)
			}
			payload, err := json.Marshal(ev.Snapshot)
			if err != nil {
				return fmt.Errorf("encode event[%d]: %w", i, err)
			}
			if _, err := tx.Exec(ctx, insEv, ev.ID, aggregateID, ev.TenantID, ev.Seq, string(ev.Type),
				payload, ev.IdempotencyKey, ev.Timestamp.UTC()); err != nil {
				return err
			}
		}
		return nil
	})
	if isUniqueViolation(err) {
		// a concurrent first append inserted the aggregates row or the same seq
		return errs.ErrVersionConflict
	}
	return err
}

// Load returns every event of the aggregate.
func (l *EventLog) Load(ctx context.Context, aggregateID string) ([]model.Event, error) {
	return l.LoadSince(ctx, aggregateID, 0)
}

// LoadSince returns events strictly after afterSeq.
func (l *EventLog) LoadSince(ctx context.Context, aggregateID string, afterSeq int64) ([]model.Event, error) {
	const q = `
SELECT id, aggregate_id, tenant_id, seq, type, payload, idempotency_key, created_at
FROM events
WHERE aggregate_id=$1 AND seq>$2
ORDER BY seq ASC`
	rows, err := l.db.Pool.Query(ctx, q, aggregateID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var (
			ev      model.Event
			typ     string
			payload []byte
			ts      time.Time
		)
		if err = rows.Scan(&ev.ID, &ev.AggregateID, &ev.TenantID, &ev.Seq, &typ, &payload, &ev.IdempotencyKey, &ts); err != nil {
			return nil, err
		}
		if err = json.Unmarshal(payload, &ev.Snapshot); err != nil {
			return nil, fmt.Errorf("decode event %s/%d: %w", ev.AggregateID, ev.Seq, err)
		}
		ev.Type = model.EventType(typ)
		ev.Timestamp = ts.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

// HighWater returns the current version of every aggregate.
func (l *EventLog) HighWater(ctx context.Context) (map[string]int64, error) {
	const q = `SELECT id, version FROM aggregates`
	rows, err := l.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			id  string
			ver int64
		)
		if err = rows.Scan(&id, &ver); err != nil {
			return nil, err
		}
		out[id] = ver
	}
	return out, rows.Err()
}

// Aggregates lists aggregate ids of tenantID, or of every tenant when tenantID is empty.
func (l *EventLog) Aggregates(ctx context.Context, tenantID string) ([]string, error) {
	const q = `SELECT id FROM aggregates WHERE ($1 = '' OR tenant_id=$1) ORDER BY id`
	rows, err := l.db.Pool.Query(ctx, q, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
