package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-imagepipeline/pkg/logging"
	"github.com/zoff-tech/go-imagepipeline/pkg/telemetry"
	"github.com/zoff-tech/go-imagepipeline/schema"
)

// ErrDispatcherClosed is returned by Publish after Shutdown started.
var ErrDispatcherClosed = errors.New("event dispatcher closed")

// Handler processes one event.
type Handler func(ctx context.Context, event schema.Event) error

// FailureHandler receives the event and error of a failed (or panicking) handler.
type FailureHandler func(ctx context.Context, event schema.Event, err error)

// Subscription describes a registered handler.
type Subscription struct {
	EventType string
	Name      string
	Async     bool

	handler   Handler
	onFailure FailureHandler
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*Subscription)

// Async runs the handler on the worker pool instead of the publishing goroutine.
func Async() SubscribeOption {
	return func(s *Subscription) { s.Async = true }
}

// OnFailure routes handler errors to fn instead of the log.
func OnFailure(fn FailureHandler) SubscribeOption {
	return func(s *Subscription) { s.onFailure = fn }
}

// Named labels the subscription in logs and spans.
func Named(name string) SubscribeOption {
	return func(s *Subscription) { s.Name = name }
}

type job struct {
	ctx   context.Context
	sub   *Subscription
	event schema.Event
}

type workerKey struct{}

// Dispatcher routes events to subscribers, running async ones on a fixed pool of workers.
type Dispatcher struct {
	logger *zap.Logger

	subsMu sync.RWMutex
	subs   []*Subscription

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	pending  atomic.Int64

	queue    chan job
	stop     chan struct{}
	stopOnce sync.Once
	waitOnce sync.Once
	workers  *pool.Pool
}

// NewDispatcher starts workers goroutines consuming a queue of queueSize jobs.
func NewDispatcher(workers, queueSize int, logger *zap.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	d := &Dispatcher{
		logger:  logging.OrNop(logger),
		queue:   make(chan job, queueSize),
		stop:    make(chan struct{}),
		workers: pool.New().WithMaxGoroutines(workers),
	}
	for i := 0; i < workers; i++ {
		d.workers.Go(d.work)
	}
	return d
}

// Subscribe registers handler for eventType. Subscriptions are expected to be set up before the first Publish.
func (d *Dispatcher) Subscribe(eventType string, handler Handler, opts ...SubscribeOption) {
	sub := &Subscription{EventType: eventType, Name: eventType, handler: handler}
	for _, opt := range opts {
		opt(sub)
	}

	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	d.subs = append(d.subs, sub)
}

// Subscriptions returns the registered subscriptions in registration order.
func (d *Dispatcher) Subscriptions() []Subscription {
	d.subsMu.RLock()
	defer d.subsMu.RUnlock()

	out := make([]Subscription, len(d.subs))
	for i, sub := range d.subs {
		out[i] = Subscription{EventType: sub.EventType, Name: sub.Name, Async: sub.Async}
	}
	return out
}

// Publish runs sync handlers inline and schedules async ones. Handler failures never surface here;
// an error means scheduling failed because the dispatcher is closed or ctx ended while the queue was full.
func (d *Dispatcher) Publish(ctx context.Context, event schema.Event) error {
	ctx, span := tracer().Start(ctx, "Publish", trace.WithAttributes(
		attribute.String("event.type", event.EventType()),
		attribute.String("event.id", event.Meta().EventID),
	))
	defer span.End()

	for _, sub := range d.subscribers(event.EventType()) {
		if !sub.Async {
			d.run(ctx, job{ctx: ctx, sub: sub, event: event})
			continue
		}
		if err := d.enqueue(ctx, job{ctx: context.WithoutCancel(ctx), sub: sub, event: event}); err != nil {
			span.RecordError(err)
			return fmt.Errorf("schedule %s for %s: %w", event.EventType(), sub.Name, err)
		}
	}
	return nil
}

// Pending returns the number of scheduled async jobs not yet finished.
func (d *Dispatcher) Pending() int64 {
	return d.pending.Load()
}

// Shutdown stops accepting events from outside the workers, drains the queue and waits
// for in-flight handlers or ctx, whichever comes first. Calling it again is safe.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		d.stopOnce.Do(func() { close(d.stop) })
		d.waitOnce.Do(d.workers.Wait)
		return nil
	case <-ctx.Done():
		d.stopOnce.Do(func() { close(d.stop) })
		return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}
}

func (d *Dispatcher) subscribers(eventType string) []*Subscription {
	d.subsMu.RLock()
	defer d.subsMu.RUnlock()

	var out []*Subscription
	for _, sub := range d.subs {
		if sub.EventType == eventType {
			out = append(out, sub)
		}
	}
	return out
}

func (d *Dispatcher) enqueue(ctx context.Context, j job) error {
	fromWorker := ctx.Value(workerKey{}) != nil

	// handlers publishing follow-up events keep working while the dispatcher drains
	d.mu.Lock()
	if d.closed && !fromWorker {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.inflight.Add(1)
	d.pending.Add(1)
	d.mu.Unlock()

	select {
	case d.queue <- j:
		return nil
	default:
	}

	if fromWorker {
		// every worker may be blocked here on a full queue, so run the job on this one
		d.execute(j)
		return nil
	}

	select {
	case d.queue <- j:
		return nil
	case <-ctx.Done():
		d.done()
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	for {
		select {
		case j := <-d.queue:
			d.execute(j)
		case <-d.stop:
			return
		}
	}
}

func (d *Dispatcher) execute(j job) {
	defer d.done()

	ctx, span := tracer().Start(context.WithValue(j.ctx, workerKey{}, true), "Handle", trace.WithAttributes(
		attribute.String("event.type", j.event.EventType()),
		attribute.String("subscription", j.sub.Name),
	))
	defer span.End()

	d.run(ctx, job{ctx: ctx, sub: j.sub, event: j.event})
}

func (d *Dispatcher) done() {
	d.pending.Add(-1)
	d.inflight.Done()
}

func (d *Dispatcher) run(ctx context.Context, j job) {
	err := d.invoke(ctx, j)
	if err == nil {
		return
	}
	trace.SpanFromContext(ctx).RecordError(err)

	if j.sub.onFailure == nil {
		logging.FromContext(ctx, d.logger).Error("Event handler failed",
			zap.String("subscription", j.sub.Name),
			zap.String("event_type", j.event.EventType()),
			zap.String("event_id", j.event.Meta().EventID),
			zap.Error(err))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logging.FromContext(ctx, d.logger).Error("Failure handler panicked",
				zap.String("subscription", j.sub.Name),
				zap.Any("panic", r))
		}
	}()
	j.sub.onFailure(ctx, j.event, err)
}

func (d *Dispatcher) invoke(ctx context.Context, j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", j.sub.Name, r)
		}
	}()
	return j.sub.handler(ctx, j.event)
}

func tracer() trace.Tracer {
	return otel.Tracer(telemetry.TracerName)
}
