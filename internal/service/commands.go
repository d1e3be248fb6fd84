// Package service contains the command and query application services.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/and161185/lotus-core/internal/dedup"
	"github.com/and161185/lotus-core/internal/errs"
	"github.com/and161185/lotus-core/internal/model"
	"github.com/and161185/lotus-core/internal/repository"
	"github.com/and161185/lotus-core/internal/student"
	"github.com/and161185/lotus-core/internal/tenant"
	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CommandService executes student commands.
type CommandService interface {
	// Dispatch runs cmd in the tenant bound to ctx and returns the appended events.
	Dispatch(ctx context.Context, cmd model.Command) (model.DispatchResult, error)
}

// Publisher receives events after they are durably appended.
type Publisher interface {
	Publish(events []model.Event)
}

// RouterOption configures optional CommandRouter collaborators.
type RouterOption func(*CommandRouter)

// WithDeduper enables idempotency keys.
func WithDeduper(d dedup.Deduper) RouterOption { return func(r *CommandRouter) { r.dedup = d } }

// WithSealer sets the credential sealer applied to validated passwords.
func WithSealer(seal func(string) (string, error)) RouterOption {
	return func(r *CommandRouter) { r.seal = seal }
}

// WithSnapshotCache enables reuse of recently rebuilt aggregates.
func WithSnapshotCache(c *SnapshotCache) RouterOption { return func(r *CommandRouter) { r.cache = c } }

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) RouterOption { return func(r *CommandRouter) { r.now = now } }

// CommandRouter loads the target aggregate, lets it decide, appends the result
// with an optimistic version check and hands the events to the projections.
type CommandRouter struct {
	log    repository.EventLog
	pub    Publisher
	logger *zap.Logger
	tracer trace.Tracer

	dedup dedup.Deduper
	seal  func(string) (string, error)
	cache *SnapshotCache
	now   func() time.Time
}

// NewCommandRouter constructs a router; pub may be nil when nothing projects.
func NewCommandRouter(log repository.EventLog, pub Publisher, logger *zap.Logger, opts ...RouterOption) *CommandRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &CommandRouter{
		log:    log,
		pub:    pub,
		logger: logger,
		tracer: otel.Tracer("github.com/and161185/lotus-core/internal/service"),
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Dispatch executes cmd. Every path either appends exactly one event or none.
func (r *CommandRouter) Dispatch(ctx context.Context, cmd model.Command) (res model.DispatchResult, err error) {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return model.DispatchResult{}, err
	}

	ctx, span := r.tracer.Start(ctx, "command.dispatch", trace.WithAttributes(
		attribute.String("command", string(cmd.Kind)),
		attribute.String("tenant_id", tenantID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "dispatch failed")
		}
		span.End()
	}()

	cmd.StudentID = strings.TrimSpace(cmd.StudentID)
	if cmd.StudentID == "" {
		if cmd.Kind != model.CreateStudent {
			var v errs.ValidationError
			v.Add("id", "must not be blank")
			return model.DispatchResult{}, &v
		}
		id, err := uuid.NewV4()
		if err != nil {
			return model.DispatchResult{}, err
		}
		cmd.StudentID = id.String()
	}
	span.SetAttributes(attribute.String("aggregate_id", cmd.StudentID))

	if key := strings.TrimSpace(cmd.IdempotencyKey); key != "" && r.dedup != nil {
		ok, derr := r.dedup.Claim(ctx, tenantID, key)
		if derr != nil {
			return model.DispatchResult{}, fmt.Errorf("claim idempotency key: %w", derr)
		}
		if !ok {
			return model.DispatchResult{}, errs.ErrDuplicateCommand
		}
		defer func() {
			if err == nil {
				return
			}
			if rerr := r.dedup.Release(context.WithoutCancel(ctx), tenantID, key); rerr != nil {
				r.logger.Warn("release idempotency key", zap.String("tenant_id", tenantID), zap.Error(rerr))
			}
		}()
	}

	state, err := r.load(ctx, cmd.StudentID)
	if err != nil {
		return model.DispatchResult{}, err
	}
	if state.Exists() && state.TenantID != tenantID {
		r.logger.Warn("cross-tenant command rejected",
			zap.String("security", "tenant_mismatch"),
			zap.String("command", string(cmd.Kind)),
			zap.String("aggregate_id", cmd.StudentID),
			zap.String("tenant_id", tenantID),
			zap.String("owner_tenant_id", state.TenantID),
		)
		return model.DispatchResult{}, &errs.TenantMismatchError{
			AggregateID: cmd.StudentID, Expected: state.TenantID, Actual: tenantID,
		}
	}

	ev, err := student.Decide(state, cmd, student.Env{TenantID: tenantID, Now: r.now(), Seal: r.seal})
	if err != nil {
		var ve *errs.ValidationError
		if errors.As(err, &ve) {
			r.logger.Info("command rejected",
				zap.String("command", string(cmd.Kind)),
				zap.String("aggregate_id", cmd.StudentID),
				zap.Strings("fields", ve.Fields()),
			)
		}
		return model.DispatchResult{}, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return model.DispatchResult{}, err
	}
	ev.ID = id.String()

	events := []model.Event{ev}
	if err = r.log.Append(ctx, cmd.StudentID, state.Version, events); err != nil {
		if errors.Is(err, errs.ErrVersionConflict) {
			r.logger.Info("append conflict",
				zap.String("aggregate_id", cmd.StudentID),
				zap.Int64("expected_version", state.Version),
			)
		}
		return model.DispatchResult{}, fmt.Errorf("append %s: %w", cmd.StudentID, err)
	}

	if r.cache != nil {
		r.cache.Put(student.Apply(state, ev))
	}
	if r.pub != nil {
		r.pub.Publish(events)
	}
	r.logger.Debug("command applied",
		zap.String("command", string(cmd.Kind)),
		zap.String("aggregate_id", cmd.StudentID),
		zap.Int64("version", ev.Seq),
	)
	return model.DispatchResult{AggregateID: cmd.StudentID, Version: ev.Seq, Events: events}, nil
}

// load rebuilds the aggregate, continuing from a cached snapshot when one exists.
func (r *CommandRouter) load(ctx context.Context, id string) (model.Student, error) {
	if r.cache != nil {
		if s, ok := r.cache.Get(id); ok {
			tail, err := r.log.LoadSince(ctx, id, s.Version)
			if err != nil {
				return model.Student{}, fmt.Errorf("load %s: %w", id, err)
			}
			return student.ReplayFrom(s, tail)
		}
	}
	events, err := r.log.Load(ctx, id)
	if err != nil {
		return model.Student{}, fmt.Errorf("load %s: %w", id, err)
	}
	s, err := student.Replay(events)
	if err != nil {
		return model.Student{}, err
	}
	if r.cache != nil && s.Exists() {
		r.cache.Put(s)
	}
	return s, nil
}
