package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zoff-tech/go-imagepipeline/pkg/logging"
)

// DefaultSweepInterval is how often expired requests are reclaimed.
const DefaultSweepInterval = 10 * time.Minute

// Sweeper periodically evicts expired entries from a RequestCache.
type Sweeper struct {
	cache    RequestCache
	interval time.Duration
	logger   *zap.Logger
}

func NewSweeper(cache RequestCache, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{cache: cache, interval: interval, logger: logging.OrNop(logger)}
}

// Run sweeps on every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.cache.Sweep(); removed > 0 {
				s.logger.Info("Swept expired upload requests", zap.Int("removed", removed), zap.Int("remaining", s.cache.Len()))
			}
		}
	}
}
