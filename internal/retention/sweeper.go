// Package retention periodically removes finished jobs past their retention horizon.
package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/vault-pipeline/internal/domain"
)

const defaultInterval = 24 * time.Hour

// Purger deletes expired jobs. It must never remove a job that has not finished.
type Purger interface {
	PurgeExpired(ctx context.Context) (map[domain.DataTier]int64, error)
}

// Config holds sweeper configuration
type Config struct {
	Logger   *slog.Logger
	Store    Purger
	Interval time.Duration
}

// Sweeper runs the retention purge on an interval or on demand
type Sweeper struct {
	logger   *slog.Logger
	store    Purger
	interval time.Duration

	// serializes on-demand runs with the periodic one
	mu sync.Mutex
}

// NewSweeper creates a new retention sweeper
func NewSweeper(cfg *Config) *Sweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Sweeper{
		logger:   cfg.Logger.With(slog.String("component", "retention")),
		store:    cfg.Store,
		interval: interval,
	}
}

// Run purges expired jobs once and returns the number removed per tier
func (s *Sweeper) Run(ctx context.Context) (map[domain.DataTier]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	purged, err := s.store.PurgeExpired(ctx)
	if err != nil {
		s.logger.Error("Retention sweep failed",
			slog.Any("error", err),
		)
		return purged, err
	}

	var total int64
	for _, n := range purged {
		total += n
	}
	s.logger.Info("Retention sweep completed",
		slog.Int64("compact", purged[domain.DataTierCompact]),
		slog.Int64("full", purged[domain.DataTierFull]),
		slog.Int64("total", total),
		slog.Duration("elapsed", time.Since(start)),
	)

	return purged, nil
}

// Start sweeps immediately and then on every interval until ctx is done
func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info("Starting retention sweeper",
		slog.Duration("interval", s.interval),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		// errors are logged by Run; the next tick tries again
		_, _ = s.Run(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("Retention sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}
