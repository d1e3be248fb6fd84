package projection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/and161185/lotus-core/internal/errs"
	"github.com/and161185/lotus-core/internal/model"
	"github.com/and161185/lotus-core/internal/repository"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const maxRecordedGaps = 256

// Config tunes consumer retries.
type Config struct {
	MaxRetries uint64        // attempts after the first one
	Backoff    time.Duration // base of the exponential backoff
}

// DefaultConfig is used for zero fields of Config.
var DefaultConfig = Config{MaxRetries: 5, Backoff: 50 * time.Millisecond}

// Engine fans published events out to one consumer per sink. Each consumer
// owns a FIFO queue and a goroutine, so a slow sink never delays another sink
// or the command that produced the events.
type Engine struct {
	log       repository.EventLog
	consumers []*consumer
	cfg       Config
	logger    *zap.Logger
	tracer    trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	mu   sync.Mutex
	gaps []Gap
}

// New starts a consumer for every sink.
func New(log repository.EventLog, logger *zap.Logger, cfg Config, sinks ...repository.ProjectionSink) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultConfig.Backoff
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		log:    log,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("github.com/and161185/lotus-core/internal/projection"),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, s := range sinks {
		c := newConsumer(e, s)
		e.consumers = append(e.consumers, c)
		go c.run()
	}
	return e
}

// Publish queues events for every sink and returns immediately.
func (e *Engine) Publish(events []model.Event) {
	if len(events) == 0 {
		return
	}
	for _, c := range e.consumers {
		ts := make([]task, 0, len(events))
		for _, ev := range events {
			ts = append(ts, task{ev: ev})
		}
		c.enqueue(ts...)
	}
}

// Flush waits until every queue is drained or ctx is done.
func (e *Engine) Flush(ctx context.Context) error {
	for _, c := range e.consumers {
		if err := c.waitIdle(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close stops consumers after their current task and waits for them to exit.
// Queued tasks are dropped; Flush first to drain them.
func (e *Engine) Close() {
	e.once.Do(func() {
		e.cancel()
		for _, c := range e.consumers {
			<-c.done
		}
	})
}

// Gaps returns the most recent gaps observed by consumers.
func (e *Engine) Gaps() []Gap {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Gap, len(e.gaps))
	copy(out, e.gaps)
	return out
}

func (e *Engine) recordGap(g Gap) {
	e.logger.Warn("projection gap",
		zap.String("sink", g.Sink),
		zap.String("tenant_id", g.TenantID),
		zap.String("aggregate_id", g.AggregateID),
		zap.Int64("watermark", g.Watermark),
		zap.Int64("seq", g.Seq),
	)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gaps = append(e.gaps, g)
	if len(e.gaps) > maxRecordedGaps {
		e.gaps = e.gaps[len(e.gaps)-maxRecordedGaps:]
	}
}

// DetectGaps compares every sink's watermarks with the log's high-water marks.
func (e *Engine) DetectGaps(ctx context.Context) ([]Gap, error) {
	hw, err := e.log.HighWater(ctx)
	if err != nil {
		return nil, fmt.Errorf("high water: %w", err)
	}
	var out []Gap
	for _, c := range e.consumers {
		wms, err := c.sink.Watermarks(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s watermarks: %w", c.sink.Name(), err)
		}
		for id, seq := range hw {
			if wm := wms[id]; wm < seq {
				out = append(out, Gap{Sink: c.sink.Name(), AggregateID: id, Watermark: wm, Seq: seq})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sink != out[j].Sink {
			return out[i].Sink < out[j].Sink
		}
		return out[i].AggregateID < out[j].AggregateID
	})
	return out, nil
}

// Reconcile schedules a catch-up for every detected gap on the owning
// consumer and waits for the queues to drain. It returns the gaps it found.
func (e *Engine) Reconcile(ctx context.Context) ([]Gap, error) {
	gaps, err := e.DetectGaps(ctx)
	if err != nil {
		return nil, err
	}
	for _, g := range gaps {
		for _, c := range e.consumers {
			if c.sink.Name() == g.Sink {
				c.enqueue(task{catchUp: g.AggregateID})
			}
		}
	}
	if len(gaps) > 0 {
		e.logger.Info("projection reconcile scheduled", zap.Int("gaps", len(gaps)))
	}
	return gaps, e.Flush(ctx)
}

// Rebuild drops the read models of tenantID (every tenant when empty) and
// replays the log into all sinks on the caller's goroutine.
func (e *Engine) Rebuild(ctx context.Context, tenantID string) (int, error) {
	ctx, span := e.tracer.Start(ctx, "projection.rebuild", trace.WithAttributes(attribute.String("tenant_id", tenantID)))
	defer span.End()

	if err := e.Flush(ctx); err != nil {
		return 0, err
	}
	ids, err := e.log.Aggregates(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("list aggregates: %w", err)
	}
	for _, c := range e.consumers {
		if err := c.sink.Reset(ctx, tenantID); err != nil {
			return 0, fmt.Errorf("%s reset: %w", c.sink.Name(), err)
		}
	}
	for _, id := range ids {
		events, err := e.log.Load(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("load %s: %w", id, err)
		}
		for _, c := range e.consumers {
			for _, ev := range events {
				if err := Apply(ctx, c.sink, ev); err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, "rebuild failed")
					return 0, err
				}
			}
		}
	}
	e.logger.Info("projections rebuilt", zap.String("tenant_id", tenantID), zap.Int("aggregates", len(ids)))
	return len(ids), nil
}

// task is either an event to apply or an aggregate to catch up from the log.
type task struct {
	ev      model.Event
	catchUp string
}

type consumer struct {
	eng  *Engine
	sink repository.ProjectionSink

	mu      sync.Mutex
	queue   []task
	pending int           // queued plus in flight
	idle    chan struct{} // closed when pending drops to 0
	wake    chan struct{}
	done    chan struct{}
}

func newConsumer(e *Engine, s repository.ProjectionSink) *consumer {
	return &consumer{
		eng:  e,
		sink: s,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (c *consumer) enqueue(ts ...task) {
	c.mu.Lock()
	if c.pending == 0 {
		c.idle = make(chan struct{})
	}
	c.queue = append(c.queue, ts...)
	c.pending += len(ts)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *consumer) waitIdle(ctx context.Context) error {
	c.mu.Lock()
	if c.pending == 0 {
		c.mu.Unlock()
		return nil
	}
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("%s consumer stopped", c.sink.Name())
	}
}

func (c *consumer) next() (task, bool) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			t := c.queue[0]
			c.queue[0] = task{}
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return t, true
		}
		c.mu.Unlock()

		select {
		case <-c.wake:
		case <-c.eng.ctx.Done():
			return task{}, false
		}
	}
}

func (c *consumer) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending--
	if c.pending == 0 {
		close(c.idle)
	}
}

func (c *consumer) run() {
	defer close(c.done)
	for {
		t, ok := c.next()
		if !ok {
			return
		}
		if t.catchUp != "" {
			c.catchUp(t.catchUp)
		} else {
			c.process(t.ev)
		}
		c.finish()
	}
}

// process applies ev with backoff. Gaps are not retried: they are recorded and
// repaired from the log right away.
func (c *consumer) process(ev model.Event) {
	ctx, span := c.eng.tracer.Start(c.eng.ctx, "projection.apply", trace.WithAttributes(
		attribute.String("sink", c.sink.Name()),
		attribute.String("aggregate_id", ev.AggregateID),
		attribute.Int64("seq", ev.Seq),
	))
	defer span.End()

	err := c.applyWithRetry(ctx, ev)
	if err == nil {
		return
	}
	var gap *errs.ProjectionGapError
	if errors.As(err, &gap) {
		c.eng.recordGap(gapOf(gap))
		c.catchUp(ev.AggregateID)
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "apply failed")
	// the watermark did not move; the next Reconcile pass picks the event up again
	c.eng.logger.Error("projection apply failed",
		zap.String("sink", c.sink.Name()),
		zap.String("aggregate_id", ev.AggregateID),
		zap.Int64("seq", ev.Seq),
		zap.Error(err),
	)
}

func (c *consumer) applyWithRetry(ctx context.Context, ev model.Event) error {
	b := retry.WithMaxRetries(c.eng.cfg.MaxRetries, retry.NewExponential(c.eng.cfg.Backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := Apply(ctx, c.sink, ev)
		if err == nil || errors.Is(err, errs.ErrProjectionGap) {
			return err
		}
		return retry.RetryableError(err)
	})
}

// catchUp applies everything the log holds past the sink's watermark.
func (c *consumer) catchUp(aggregateID string) {
	ctx := c.eng.ctx
	wm, err := c.sink.Watermark(ctx, aggregateID)
	if err == nil {
		var events []model.Event
		events, err = c.eng.log.LoadSince(ctx, aggregateID, wm)
		for _, ev := range events {
			if err != nil {
				break
			}
			err = c.applyWithRetry(ctx, ev)
		}
	}
	if err != nil {
		c.eng.logger.Error("projection catch-up failed",
			zap.String("sink", c.sink.Name()),
			zap.String("aggregate_id", aggregateID),
			zap.Error(err),
		)
	}
}
