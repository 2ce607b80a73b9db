package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-imagepipeline/pkg/logging"
	"github.com/zoff-tech/go-imagepipeline/pkg/store"
	"github.com/zoff-tech/go-imagepipeline/schema"
)

// ErrTrackerNotFound is returned when a product has no creation tracker.
var ErrTrackerNotFound = store.ErrTrackerNotFound

// ErrTrackerExists is returned by Start when the product is already tracked.
var ErrTrackerExists = errors.New("creation tracker already exists")

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides the correlation id source (time-ordered UUIDs by default).
func WithIDGenerator(fn func() (string, error)) Option {
	return func(s *Service) { s.newID = fn }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// Service owns every write to creation trackers. Transitions are checked against the persisted row.
type Service struct {
	repo   store.TrackerRepository
	now    func() time.Time
	newID  func() (string, error)
	logger *zap.Logger
	locks  keyedMutex
}

func NewService(repo store.TrackerRepository, opts ...Option) *Service {
	s := &Service{
		repo:  repo,
		now:   func() time.Time { return time.Now().UTC() },
		newID: newCorrelationID,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger)
	return s
}

func newCorrelationID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Start persists a new REGISTERING tracker with a fresh correlation id.
func (s *Service) Start(ctx context.Context, productID string) (schema.CreationTracker, error) {
	correlationID, err := s.newID()
	if err != nil {
		return schema.CreationTracker{}, fmt.Errorf("generate correlation id: %w", err)
	}

	unlock := s.locks.Lock(productID)
	defer unlock()

	existing, err := s.repo.FindByProductID(ctx, productID)
	switch {
	case err == nil:
		return existing, fmt.Errorf("%w: product %s", ErrTrackerExists, productID)
	case !errors.Is(err, store.ErrTrackerNotFound):
		return schema.CreationTracker{}, err
	}

	saved, err := s.repo.Save(ctx, schema.NewCreationTracker(productID, correlationID, s.now()))
	if err != nil {
		return schema.CreationTracker{}, err
	}
	logging.FromContext(ctx, s.logger).Info("Started creation tracking",
		zap.String("product_id", productID),
		zap.String("correlation_id", correlationID))
	return saved, nil
}

// Advance moves the persisted tracker of tracker.ProductID to status.
func (s *Service) Advance(ctx context.Context, tracker schema.CreationTracker, status schema.CreationStatus) (schema.CreationTracker, error) {
	return s.transition(ctx, tracker.ProductID, func(current schema.CreationTracker, now time.Time) (schema.CreationTracker, error) {
		return current.WithStatus(status, now)
	})
}

func (s *Service) Complete(ctx context.Context, tracker schema.CreationTracker) (schema.CreationTracker, error) {
	return s.CompleteProduct(ctx, tracker.ProductID)
}

func (s *Service) Fail(ctx context.Context, tracker schema.CreationTracker, reason string) (schema.CreationTracker, error) {
	return s.FailProduct(ctx, tracker.ProductID, reason)
}

func (s *Service) CompleteProduct(ctx context.Context, productID string) (schema.CreationTracker, error) {
	return s.transition(ctx, productID, func(current schema.CreationTracker, now time.Time) (schema.CreationTracker, error) {
		return current.MarkCompleted(now)
	})
}

func (s *Service) FailProduct(ctx context.Context, productID, reason string) (schema.CreationTracker, error) {
	return s.transition(ctx, productID, func(current schema.CreationTracker, now time.Time) (schema.CreationTracker, error) {
		return current.MarkFailed(reason, now)
	})
}

// Get returns the persisted tracker of productID.
func (s *Service) Get(ctx context.Context, productID string) (schema.CreationTracker, error) {
	return s.repo.FindByProductID(ctx, productID)
}

func (s *Service) StatusByProductID(ctx context.Context, productID string) (CreationStatusView, error) {
	tracker, err := s.repo.FindByProductID(ctx, productID)
	if err != nil {
		return CreationStatusView{}, err
	}
	return NewStatusView(tracker), nil
}

func (s *Service) StatusByCorrelationID(ctx context.Context, correlationID string) (CreationStatusView, error) {
	tracker, err := s.repo.FindByCorrelationID(ctx, correlationID)
	if err != nil {
		return CreationStatusView{}, err
	}
	return NewStatusView(tracker), nil
}

func (s *Service) transition(ctx context.Context, productID string, next func(schema.CreationTracker, time.Time) (schema.CreationTracker, error)) (schema.CreationTracker, error) {
	unlock := s.locks.Lock(productID)
	defer unlock()

	current, err := s.repo.FindByProductID(ctx, productID)
	if err != nil {
		return schema.CreationTracker{}, err
	}

	updated, err := next(current, s.now())
	if err != nil {
		return current, err
	}

	saved, err := s.repo.Save(ctx, updated)
	if err != nil {
		return current, err
	}
	logging.FromContext(ctx, s.logger).Info("Creation status changed",
		zap.String("product_id", productID),
		zap.String("from", string(current.Status)),
		zap.String("to", string(saved.Status)))
	return saved, nil
}

// keyedMutex serialises work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
