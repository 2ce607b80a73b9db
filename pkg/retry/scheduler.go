package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zoff-tech/go-imagepipeline/pkg/cache"
	"github.com/zoff-tech/go-imagepipeline/pkg/logging"
	"github.com/zoff-tech/go-imagepipeline/pkg/telemetry"
	"github.com/zoff-tech/go-imagepipeline/schema"
)

const (
	DefaultMaxAttempts  = 3
	DefaultBaseDelay    = 5 * time.Minute
	DefaultTickInterval = time.Minute
)

// ErrRetryLimitExceeded is returned by Enqueue once a product used up its slow retries.
var ErrRetryLimitExceeded = errors.New("slow retry limit exceeded")

// MissingRequestReason is the failure reason used when a due ticket has no cached request left.
const MissingRequestReason = "original upload request is no longer cached"

// RetryTicket is a scheduled slow retry. The payload stays in the request cache.
type RetryTicket struct {
	ProductID          string
	FailureReason      string
	ScheduledRetryTime time.Time
	AttemptCount       int
}

// Due reports whether the ticket may run at now.
func (t RetryTicket) Due(now time.Time) bool {
	return !now.Before(t.ScheduledRetryTime)
}

// Publisher re-emits the cached request.
type Publisher interface {
	Publish(ctx context.Context, event schema.Event) error
}

// Abandoner gives up on a product for good.
type Abandoner interface {
	Abandon(ctx context.Context, productID, reason string) error
}

type Option func(*Scheduler)

// WithPolicy overrides the attempt cap and the per-attempt delay.
func WithPolicy(maxAttempts int, baseDelay time.Duration) Option {
	return func(s *Scheduler) {
		s.maxAttempts = maxAttempts
		s.baseDelay = baseDelay
	}
}

func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = interval }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// Scheduler is the process-local slow retry queue. Ticket n of a product runs baseDelay*n after it was enqueued.
type Scheduler struct {
	cache     cache.RequestCache
	publisher Publisher
	abandoner Abandoner

	maxAttempts  int
	baseDelay    time.Duration
	tickInterval time.Duration
	now          func() time.Time
	metrics      *telemetry.Metrics
	logger       *zap.Logger

	mu       sync.Mutex
	queue    []RetryTicket
	attempts map[string]int

	tickMu sync.Mutex
}

func NewScheduler(c cache.RequestCache, publisher Publisher, opts ...Option) *Scheduler {
	s := &Scheduler{
		cache:        c,
		publisher:    publisher,
		maxAttempts:  DefaultMaxAttempts,
		baseDelay:    DefaultBaseDelay,
		tickInterval: DefaultTickInterval,
		now:          time.Now,
		attempts:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger)
	return s
}

// SetAbandoner wires the component that marks products failed. It must be set before Run or Tick.
func (s *Scheduler) SetAbandoner(a Abandoner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandoner = a
}

// Enqueue schedules the next slow retry of productID.
func (s *Scheduler) Enqueue(ctx context.Context, productID, reason string) (RetryTicket, error) {
	s.mu.Lock()
	attempt := s.attempts[productID] + 1
	if attempt > s.maxAttempts {
		delete(s.attempts, productID)
		s.mu.Unlock()
		s.logger.Error("Slow retry limit exceeded", zap.String("product_id", productID), zap.Int("max_attempts", s.maxAttempts))
		return RetryTicket{}, fmt.Errorf("%w: product %s after %d attempts", ErrRetryLimitExceeded, productID, s.maxAttempts)
	}
	s.attempts[productID] = attempt

	ticket := RetryTicket{
		ProductID:          productID,
		FailureReason:      reason,
		ScheduledRetryTime: s.now().Add(s.baseDelay * time.Duration(attempt)),
		AttemptCount:       attempt,
	}
	s.queue = append(s.queue, ticket)
	s.mu.Unlock()

	s.metrics.RetryEnqueued(ctx, attempt)
	logging.FromContext(ctx, s.logger).Info("Scheduled slow retry",
		zap.String("product_id", productID),
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", s.maxAttempts),
		zap.Time("scheduled_for", ticket.ScheduledRetryTime),
		zap.String("reason", reason))
	return ticket, nil
}

// Tick processes due tickets in arrival order, stopping at the first one not yet due,
// and returns how many were processed. Concurrent calls run one after the other.
func (s *Scheduler) Tick(ctx context.Context) int {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	due := s.popDue(s.now())
	if len(due) == 0 {
		return 0
	}

	s.logger.Info("Processing slow retries", zap.Int("count", len(due)))
	for _, ticket := range due {
		s.process(ctx, ticket)
	}
	return len(due)
}

// Run ticks every tick interval until ctx is cancelled. A slow tick delays the next one.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.safeTick(ctx)
		}
	}
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Slow retry tick panicked", zap.Any("panic", r))
		}
	}()
	s.Tick(ctx)
}

// Forget drops the attempt bookkeeping and any queued ticket of productID.
func (s *Scheduler) Forget(productID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.attempts, productID)
	kept := s.queue[:0]
	for _, ticket := range s.queue {
		if ticket.ProductID != productID {
			kept = append(kept, ticket)
		}
	}
	s.queue = kept
}

// AttemptCount returns how many slow retries productID has been scheduled for.
func (s *Scheduler) AttemptCount(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[productID]
}

// QueueSize returns the number of queued tickets.
func (s *Scheduler) QueueSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Tickets returns a snapshot of the queue in arrival order.
func (s *Scheduler) Tickets() []RetryTicket {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RetryTicket, len(s.queue))
	copy(out, s.queue)
	return out
}

func (s *Scheduler) popDue(now time.Time) []RetryTicket {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for n < len(s.queue) && s.queue[n].Due(now) {
		n++
	}
	due := make([]RetryTicket, n)
	copy(due, s.queue[:n])
	s.queue = append(s.queue[:0], s.queue[n:]...)
	return due
}

func (s *Scheduler) process(ctx context.Context, ticket RetryTicket) {
	log := logging.FromContext(ctx, s.logger).With(
		zap.String("product_id", ticket.ProductID),
		zap.Int("attempt", ticket.AttemptCount))

	request, ok := s.cache.Get(ticket.ProductID)
	if !ok {
		log.Warn("Cannot retry image upload, original request not found in cache")
		s.abandon(ctx, ticket.ProductID, MissingRequestReason)
		return
	}

	log.Info("Retrying image upload")
	if err := s.publisher.Publish(ctx, request); err != nil {
		log.Error("Failed to publish retry event", zap.Error(err))
		reason := "Retry publication failed: " + err.Error()
		if _, err := s.Enqueue(ctx, ticket.ProductID, reason); err != nil {
			s.abandon(ctx, ticket.ProductID, reason)
		}
	}
}

func (s *Scheduler) abandon(ctx context.Context, productID, reason string) {
	s.mu.Lock()
	abandoner := s.abandoner
	s.mu.Unlock()

	if abandoner == nil {
		s.logger.Error("No abandoner configured, dropping product", zap.String("product_id", productID))
		return
	}
	if err := abandoner.Abandon(ctx, productID, reason); err != nil {
		logging.FromContext(ctx, s.logger).Error("Failed to abandon product", zap.String("product_id", productID), zap.Error(err))
	}
}
