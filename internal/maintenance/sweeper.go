// Package maintenance runs the background upkeep of the credit store: the
// expiry sweep, the wallet drift auditor and the reconciler.
package maintenance

import (
	"context"
	"log/slog"
	"time"
)

// ExpirySweeper releases holds past their expiry
type ExpirySweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Sweeper calls the expiry sweep on a fixed interval
type Sweeper struct {
	engine   ExpirySweeper
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(engine ExpirySweeper, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		engine:   engine,
		interval: interval,
		logger:   logger,
	}
}

// Start sweeps on every tick until ctx is cancelled
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("Starting reservation sweeper", "interval", s.interval.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Reservation sweeper stopping due to context cancellation.")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("Error during reservation sweep", "error", err)
			}
		}
	}
}

func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	count, err := s.engine.SweepExpired(ctx)
	if err != nil {
		return count, err
	}
	if count > 0 {
		s.logger.Info("Reservation sweep finished", "released", count)
	} else {
		s.logger.Debug("Reservation sweep found nothing to release")
	}
	return count, nil
}
